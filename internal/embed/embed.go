// Package embed wraps embedding backends with the checks every backend
// shares: batching, result-count and dimension validation, error
// classification and latency metrics.
package embed

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-researcher/internal/crawler"
	"github.com/JakeFAU/web-researcher/internal/metrics"
)

// Backend produces raw embeddings. Implementations need not validate
// vector lengths.
type Backend interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// Config tunes the guard.
type Config struct {
	// Provider labels metrics, e.g. "ollama".
	Provider  string
	Dimension int
	// BatchSize caps texts per backend call; zero sends everything at once.
	BatchSize int
}

// Embedder implements crawler.Embedder on top of a Backend.
type Embedder struct {
	backend Backend
	cfg     Config
	logger  *zap.Logger
}

// New wraps backend. The configured dimension is enforced on every result.
func New(backend Backend, cfg Config, logger *zap.Logger) (*Embedder, error) {
	if backend == nil {
		return nil, crawler.InvalidConfigf("embedding backend is required")
	}
	if cfg.Dimension <= 0 {
		return nil, crawler.InvalidConfigf("embedding dimension must be > 0")
	}
	if cfg.BatchSize < 0 {
		return nil, crawler.InvalidConfigf("embedding batch size must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{backend: backend, cfg: cfg, logger: logger}, nil
}

// Dimensions returns the enforced vector length.
func (e *Embedder) Dimensions() int {
	return e.cfg.Dimension
}

// Embed embeds a single text.
func (e *Embedder) Embed(ctx context.Context, text string) (crawler.Vector, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([]crawler.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	size := e.cfg.BatchSize
	if size <= 0 {
		size = len(texts)
	}
	out := make([]crawler.Vector, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		batch, err := e.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (e *Embedder) embed(ctx context.Context, texts []string) ([]crawler.Vector, error) {
	start := time.Now()
	raw, err := e.backend.EmbedBatch(ctx, texts)
	metrics.ObserveEmbedding(e.cfg.Provider, time.Since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("embed: %w", ctxErr)
		}
		e.logger.Warn("embedding backend failed",
			zap.String("provider", e.cfg.Provider),
			zap.String("model", e.backend.ModelName()),
			zap.Int("texts", len(texts)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", crawler.ErrEmbedderUnavailable, e.backend.ModelName(), err)
	}
	if len(raw) != len(texts) {
		return nil, fmt.Errorf("%w: %s returned %d vectors for %d texts",
			crawler.ErrEmbedderUnavailable, e.backend.ModelName(), len(raw), len(texts))
	}
	vectors := make([]crawler.Vector, len(raw))
	for i, v := range raw {
		if len(v) != e.cfg.Dimension {
			return nil, &crawler.DimensionError{Want: e.cfg.Dimension, Got: len(v)}
		}
		vectors[i] = crawler.Vector(v)
	}
	return vectors, nil
}

var _ crawler.Embedder = (*Embedder)(nil)
