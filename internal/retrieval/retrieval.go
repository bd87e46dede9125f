// Package retrieval answers natural-language queries against the vector
// index, filtering matches by similarity and confidence.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-researcher/internal/clock/system"
	"github.com/JakeFAU/web-researcher/internal/crawler"
	"github.com/JakeFAU/web-researcher/internal/metrics"
)

// Config holds the retrieval thresholds.
type Config struct {
	MaxResults          int
	SimilarityThreshold float64
	ConfidenceThreshold float64
	// RecencyWeight in [0,1] blends an age decay into confidence. Zero makes
	// confidence equal to the similarity score.
	RecencyWeight   float64
	RecencyHalfLife time.Duration
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the clock used to age chunks.
func WithClock(c crawler.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer overrides the tracer; the global provider is used otherwise.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// Engine implements the query side of the pipeline.
type Engine struct {
	cfg      Config
	embedder crawler.Embedder
	index    crawler.VectorIndex
	clock    crawler.Clock
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New validates cfg and builds an Engine.
func New(embedder crawler.Embedder, index crawler.VectorIndex, cfg Config, opts ...Option) (*Engine, error) {
	if embedder == nil || index == nil {
		return nil, crawler.InvalidConfigf("retrieval requires an embedder and a vector index")
	}
	if cfg.MaxResults <= 0 {
		return nil, crawler.InvalidConfigf("max search results must be > 0")
	}
	for name, v := range map[string]float64{
		"similarity threshold": cfg.SimilarityThreshold,
		"confidence threshold": cfg.ConfidenceThreshold,
		"recency weight":       cfg.RecencyWeight,
	} {
		if v < 0 || v > 1 {
			return nil, crawler.InvalidConfigf("%s must be within [0,1], got %v", name, v)
		}
	}
	if cfg.RecencyWeight > 0 && cfg.RecencyHalfLife <= 0 {
		return nil, crawler.InvalidConfigf("recency half-life must be > 0 when recency weight is set")
	}
	e := &Engine{
		cfg:      cfg,
		embedder: embedder,
		index:    index,
		clock:    system.New(),
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("github.com/JakeFAU/web-researcher/internal/retrieval"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Query embeds text and returns at most k matches passing both thresholds,
// best first. k <= 0 or k above the configured maximum means the maximum.
func (e *Engine) Query(ctx context.Context, text string, k int) (crawler.RetrievalResult, error) {
	ctx, span := e.tracer.Start(ctx, "retrieval.Query", trace.WithAttributes(attribute.Int("retrieval.k", k)))
	defer span.End()

	result, err := e.query(ctx, text, k)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ObserveRetrieval("error", 0)
		return result, err
	}
	span.SetAttributes(attribute.Int("retrieval.results", len(result.Results)))
	metrics.ObserveRetrieval("ok", len(result.Results))
	return result, nil
}

func (e *Engine) query(ctx context.Context, text string, k int) (crawler.RetrievalResult, error) {
	result := crawler.RetrievalResult{Query: text, Results: []crawler.ScoredChunk{}}
	if strings.TrimSpace(text) == "" {
		return result, crawler.ErrEmptyQuery
	}
	if k <= 0 || k > e.cfg.MaxResults {
		k = e.cfg.MaxResults
	}

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return result, fmt.Errorf("embed query: %w", err)
	}
	hits, err := e.index.Query(ctx, vec, max(k, e.cfg.MaxResults))
	if err != nil {
		return result, fmt.Errorf("query index: %w", err)
	}

	now := e.clock.Now()
	for _, hit := range hits {
		if hit.Score < e.cfg.SimilarityThreshold {
			continue
		}
		confidence := e.Confidence(hit.Score, hit.Metadata, now)
		if confidence < e.cfg.ConfidenceThreshold {
			continue
		}
		result.Results = append(result.Results, crawler.ScoredChunk{
			ChunkID:    hit.ChunkID,
			Score:      hit.Score,
			Confidence: confidence,
			Metadata:   hit.Metadata.Clone(),
		})
	}
	sort.SliceStable(result.Results, func(i, j int) bool {
		a, b := result.Results[i], result.Results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.ChunkID < b.ChunkID
	})
	if len(result.Results) > k {
		result.Results = result.Results[:k]
	}

	e.logger.Debug("retrieval complete",
		zap.Int("candidates", len(hits)),
		zap.Int("results", len(result.Results)),
		zap.Int("k", k),
	)
	return result, nil
}

// Confidence scales score by an exponential age decay of the chunk's
// extraction time. Chunks without a parseable timestamp are not decayed.
func (e *Engine) Confidence(score float64, meta crawler.Metadata, now time.Time) float64 {
	w := e.cfg.RecencyWeight
	if w == 0 {
		return score
	}
	extractedAt, err := time.Parse(time.RFC3339Nano, meta[crawler.MetaExtractedAt])
	if err != nil {
		return score
	}
	age := now.Sub(extractedAt)
	if age < 0 {
		age = 0
	}
	decay := math.Pow(0.5, age.Hours()/e.cfg.RecencyHalfLife.Hours())
	return score * ((1 - w) + w*decay)
}
