package crawler

import (
	"context"
	"time"
)

// PolicyGate decides whether a URL may be fetched.
type PolicyGate interface {
	Allow(ctx context.Context, rawURL string, redirects int) Decision
}

// RateLimiter grants fetch permits under the configured budgets.
type RateLimiter interface {
	Acquire(ctx context.Context) (Permit, error)
}

// Fetcher retrieves a URL. Failures are reported inside the result.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) FetchResult
}

// ContentCache stores fetched bodies keyed by normalized URL.
type ContentCache interface {
	Get(ctx context.Context, rawURL string) (CachedPage, bool)
	Put(ctx context.Context, page RawPage) error
}

// Extractor converts a raw page into a document. A rejected page still
// returns its outbound links alongside a *RejectionError.
type Extractor interface {
	Extract(page RawPage) (Extraction, error)
}

// Chunker splits document text into overlapping windows.
type Chunker interface {
	Chunk(doc Document) []Chunk
}

// Embedder maps text to fixed-length vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	EmbedBatch(ctx context.Context, texts []string) ([]Vector, error)
	Dimensions() int
}

// VectorIndex stores vectors by chunk ID and answers similarity queries.
// Insert is an upsert.
type VectorIndex interface {
	Insert(ctx context.Context, chunkID string, vec Vector, meta Metadata) error
	Query(ctx context.Context, vec Vector, k int) ([]Hit, error)
	Delete(ctx context.Context, chunkID string) error
	Len(ctx context.Context) (int, error)
	Close() error
}

// Publisher pushes indexing notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for content addressing.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper waits for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces session IDs.
type IDGenerator interface {
	NewID() (string, error)
}
