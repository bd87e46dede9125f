package crawler

import (
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"
)

// Target is a URL admitted to the crawl frontier.
type Target struct {
	URL string
	// Depth counts link hops from the seed that produced the target.
	Depth int
	// Referrer is the page the link was discovered on; empty for seeds.
	Referrer string
}

// DenyReason names why the policy gate refused a URL.
type DenyReason string

// Deny reasons reported by the policy gate.
const (
	DenyInvalidURL        DenyReason = "invalid-url"
	DenyUnsupportedScheme DenyReason = "unsupported-scheme"
	DenyTLSRequired       DenyReason = "tls-required"
	DenyBlockedDomain     DenyReason = "blocked-domain"
	DenyNotAllowedDomain  DenyReason = "not-allowed-domain"
	DenyTooManyRedirects  DenyReason = "too-many-redirects"
	DenyRobots            DenyReason = "robots-disallowed"
	DenyHostForbidden     DenyReason = "host-forbidden"
)

// Decision is the outcome of a policy check.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

// Allow is the affirmative decision.
func Allow() Decision { return Decision{Allowed: true} }

// Deny builds a negative decision with the supplied reason.
func Deny(reason DenyReason) Decision { return Decision{Reason: reason} }

// Permit is granted by the rate limiter before a network fetch.
type Permit struct {
	GrantedAt time.Time
	Waited    time.Duration
}

// FailureReason classifies a failed fetch.
type FailureReason string

// Fetch failure reasons.
const (
	FailureNetwork        FailureReason = "network-error"
	FailureTimeout        FailureReason = "timeout"
	FailureSizeExceeded   FailureReason = "size-exceeded"
	FailurePolicyRejected FailureReason = "policy-rejected"
)

// FetchResult is either a fetched response or a classified failure.
// A result with an empty Failure is Fetched.
type FetchResult struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Failure    FailureReason
	Err        error
	Attempts   int
	Duration   time.Duration
}

// Fetched reports whether the fetch produced a response.
func (r FetchResult) Fetched() bool {
	return r.Failure == ""
}

// OK reports whether the response carries a 2xx status.
func (r FetchResult) OK() bool {
	return r.Fetched() && r.StatusCode >= 200 && r.StatusCode < 300
}

// ContentType returns the media type of the response without parameters.
func (r FetchResult) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return MediaType(r.Headers.Get("Content-Type"))
}

// MediaType strips parameters from a Content-Type header value.
func MediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		base, _, _ := strings.Cut(contentType, ";")
		return strings.ToLower(strings.TrimSpace(base))
	}
	return mediaType
}

// RawPage is a fetched or cached body handed to the extractor.
type RawPage struct {
	URL         string
	FinalURL    string
	ContentType string
	Body        []byte
}

// CachedPage is a cached fetch result keyed by normalized URL.
type CachedPage struct {
	URL         string        `json:"url"`
	FinalURL    string        `json:"final_url,omitempty"`
	Content     []byte        `json:"content"`
	ContentType string        `json:"content_type"`
	FetchedAt   time.Time     `json:"fetched_at"`
	TTL         time.Duration `json:"ttl"`
}

// Fresh reports whether the entry is still within its TTL at now.
func (p CachedPage) Fresh(now time.Time) bool {
	return now.Sub(p.FetchedAt) <= p.TTL
}

// RawPage converts the cache entry back into extractor input.
func (p CachedPage) RawPage() RawPage {
	return RawPage{URL: p.URL, FinalURL: p.FinalURL, ContentType: p.ContentType, Body: p.Content}
}

// Document is normalized text extracted from a page.
type Document struct {
	ID          string
	URL         string
	Title       string
	Text        string
	ExtractedAt time.Time
}

// Extraction pairs a document with the outbound links found on its page.
type Extraction struct {
	Document Document
	Links    []string
}

// Chunk is a contiguous window of document text. Offsets count runes.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Text       string
	CharStart  int
	CharEnd    int
}

// ChunkID derives the stable identifier of the index-th chunk of a document.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s-%d", documentID, index)
}

// Vector is a dense embedding.
type Vector []float32

// Metadata is stored alongside each vector.
type Metadata map[string]string

// Metadata keys written by the indexer.
const (
	MetaURL         = "url"
	MetaTitle       = "title"
	MetaDocumentID  = "document_id"
	MetaChunkIndex  = "chunk_index"
	MetaCharStart   = "char_start"
	MetaCharEnd     = "char_end"
	MetaText        = "text"
	MetaExtractedAt = "extracted_at"
)

// Clone returns an independent copy of m.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Hit is a raw nearest-neighbour match returned by a vector index.
type Hit struct {
	ChunkID  string
	Score    float64
	Metadata Metadata
}

// ScoredChunk is a retrieval result entry.
type ScoredChunk struct {
	ChunkID    string   `json:"chunk_id"`
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Metadata   Metadata `json:"metadata"`
}

// RetrievalResult lists matches in descending score order.
type RetrievalResult struct {
	Query   string        `json:"query"`
	Results []ScoredChunk `json:"results"`
}

// Stage names the pipeline step where a target failed.
type Stage string

// Pipeline stages recorded on target errors.
const (
	StagePolicy  Stage = "policy"
	StageFetch   Stage = "fetch"
	StageExtract Stage = "extract"
	StageEmbed   Stage = "embed"
	StageIndex   Stage = "index"
)

// TargetError records a per-target failure that did not abort the crawl.
type TargetError struct {
	URL   string `json:"url"`
	Stage Stage  `json:"stage"`
	Error string `json:"error"`
}

// Summary reports the outcome of one crawl call.
type Summary struct {
	SessionID       string        `json:"session_id"`
	PagesDiscovered int           `json:"pages_discovered"`
	PagesDenied     int           `json:"pages_denied"`
	PagesFetched    int           `json:"pages_fetched"`
	CacheHits       int           `json:"cache_hits"`
	PagesFailed     int           `json:"pages_failed"`
	PagesRejected   int           `json:"pages_rejected"`
	PagesIndexed    int           `json:"pages_indexed"`
	ChunksIndexed   int           `json:"chunks_indexed"`
	Errors          []TargetError `json:"errors,omitempty"`
	Duration        time.Duration `json:"duration"`
}
