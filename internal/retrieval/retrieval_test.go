package retrieval

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JakeFAU/web-researcher/internal/clock/fake"
	"github.com/JakeFAU/web-researcher/internal/crawler"
	"github.com/JakeFAU/web-researcher/internal/index/memory"
)

type stubEmbedder struct {
	vec crawler.Vector
	err error
}

func (s stubEmbedder) Embed(context.Context, string) (crawler.Vector, error) { return s.vec, s.err }

func (s stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]crawler.Vector, error) {
	out := make([]crawler.Vector, len(texts))
	for i := range texts {
		v, err := s.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s stubEmbedder) Dimensions() int { return len(s.vec) }

// seededIndex stores unit vectors whose cosine with {1,0} equals the given score.
func seededIndex(t *testing.T, scores map[string]float64, meta map[string]crawler.Metadata) *memory.Index {
	t.Helper()
	idx := memory.New(2)
	for id, s := range scores {
		v := crawler.Vector{float32(s), float32(math.Sqrt(1 - s*s))}
		require.NoError(t, idx.Insert(context.Background(), id, v, meta[id]))
	}
	return idx
}

func defaultConfig() Config {
	return Config{MaxResults: 3, SimilarityThreshold: 0.7, ConfidenceThreshold: 0.6}
}

func TestQueryFiltersAndOrders(t *testing.T) {
	t.Parallel()

	idx := seededIndex(t, map[string]float64{"a-0": 0.95, "b-0": 0.8, "c-0": 0.72, "d-0": 0.5, "e-0": 0.9}, nil)
	e, err := New(stubEmbedder{vec: crawler.Vector{1, 0}}, idx, defaultConfig())
	require.NoError(t, err)

	res, err := e.Query(context.Background(), "solar power", 0)
	require.NoError(t, err)
	require.Len(t, res.Results, 3)
	assert.Equal(t, []string{"a-0", "e-0", "b-0"}, ids(res))
	for _, r := range res.Results {
		assert.InDelta(t, r.Score, r.Confidence, 1e-12)
		assert.GreaterOrEqual(t, r.Score, 0.7)
	}
	assert.Equal(t, "solar power", res.Query)
}

func TestQueryNothingAboveThresholdIsEmpty(t *testing.T) {
	t.Parallel()

	idx := seededIndex(t, map[string]float64{"a-0": 0.3, "b-0": 0.69}, nil)
	e, err := New(stubEmbedder{vec: crawler.Vector{1, 0}}, idx, defaultConfig())
	require.NoError(t, err)

	res, err := e.Query(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.NotNil(t, res.Results)
	assert.Empty(t, res.Results)
}

func TestQueryEmptyIndex(t *testing.T) {
	t.Parallel()

	idx := memory.New(2)
	e, err := New(stubEmbedder{vec: crawler.Vector{1, 0}}, idx, defaultConfig())
	require.NoError(t, err)

	res, err := e.Query(context.Background(), "anything", 1)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
}

func TestQueryClampsK(t *testing.T) {
	t.Parallel()

	idx := seededIndex(t, map[string]float64{"a-0": 0.99, "b-0": 0.98, "c-0": 0.97, "d-0": 0.96}, nil)
	e, err := New(stubEmbedder{vec: crawler.Vector{1, 0}}, idx, defaultConfig())
	require.NoError(t, err)

	res, err := e.Query(context.Background(), "q", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-0"}, ids(res))

	res, err = e.Query(context.Background(), "q", 50)
	require.NoError(t, err)
	assert.Len(t, res.Results, 3)

	res, err = e.Query(context.Background(), "q", -1)
	require.NoError(t, err)
	assert.Len(t, res.Results, 3)
}

func TestQueryEmbedderFailure(t *testing.T) {
	t.Parallel()

	idx := memory.New(2)
	cause := errors.New("connection refused")
	e, err := New(stubEmbedder{err: errors.Join(crawler.ErrEmbedderUnavailable, cause)}, idx, defaultConfig())
	require.NoError(t, err)

	_, err = e.Query(context.Background(), "q", 1)
	require.ErrorIs(t, err, crawler.ErrEmbedderUnavailable)
}

func TestQueryDimensionMismatch(t *testing.T) {
	t.Parallel()

	idx := memory.New(2)
	e, err := New(stubEmbedder{vec: crawler.Vector{1, 0, 0}}, idx, defaultConfig())
	require.NoError(t, err)

	_, err = e.Query(context.Background(), "q", 1)
	require.ErrorIs(t, err, crawler.ErrDimensionMismatch)
}

func TestQueryBlankText(t *testing.T) {
	t.Parallel()

	idx := memory.New(2)
	e, err := New(stubEmbedder{vec: crawler.Vector{1, 0}}, idx, defaultConfig())
	require.NoError(t, err)

	_, err = e.Query(context.Background(), "   ", 1)
	require.ErrorIs(t, err, crawler.ErrEmptyQuery)
}

func TestRecencyDecaysConfidence(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	meta := map[string]crawler.Metadata{
		"fresh-0": {crawler.MetaExtractedAt: now.Format(time.RFC3339)},
		"stale-0": {crawler.MetaExtractedAt: now.Add(-48 * time.Hour).Format(time.RFC3339)},
	}
	idx := seededIndex(t, map[string]float64{"fresh-0": 0.8, "stale-0": 0.9}, meta)
	cfg := Config{
		MaxResults:          5,
		SimilarityThreshold: 0.5,
		ConfidenceThreshold: 0.6,
		RecencyWeight:       0.5,
		RecencyHalfLife:     24 * time.Hour,
	}
	e, err := New(stubEmbedder{vec: crawler.Vector{1, 0}}, idx, cfg, WithClock(fake.New(now)))
	require.NoError(t, err)

	res, err := e.Query(context.Background(), "q", 5)
	require.NoError(t, err)
	// stale: 0.9 * (0.5 + 0.5*0.25) = 0.5625, below the confidence threshold.
	require.Equal(t, []string{"fresh-0"}, ids(res))
	assert.InDelta(t, 0.8, res.Results[0].Confidence, 1e-6)

	assert.InDelta(t, 0.5625, e.Confidence(0.9, meta["stale-0"], now), 1e-9)
	assert.InDelta(t, 0.9, e.Confidence(0.9, nil, now), 1e-9)
	older := e.Confidence(0.9, crawler.Metadata{crawler.MetaExtractedAt: now.Add(-96 * time.Hour).Format(time.RFC3339)}, now)
	assert.Less(t, older, 0.5625)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	idx := memory.New(2)
	emb := stubEmbedder{vec: crawler.Vector{1, 0}}

	_, err := New(nil, idx, defaultConfig())
	require.ErrorIs(t, err, crawler.ErrInvalidConfig)
	_, err = New(emb, idx, Config{})
	require.ErrorIs(t, err, crawler.ErrInvalidConfig)
	_, err = New(emb, idx, Config{MaxResults: 1, SimilarityThreshold: 1.5})
	require.ErrorIs(t, err, crawler.ErrInvalidConfig)
	_, err = New(emb, idx, Config{MaxResults: 1, RecencyWeight: 0.3})
	require.ErrorIs(t, err, crawler.ErrInvalidConfig)
}

func ids(res crawler.RetrievalResult) []string {
	out := make([]string, len(res.Results))
	for i, r := range res.Results {
		out[i] = r.ChunkID
	}
	return out
}

func TestQueryRecordsSpan(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	idx := seededIndex(t, map[string]float64{"a": 0.9}, nil)
	e, err := New(stubEmbedder{vec: crawler.Vector{1, 0}}, idx, defaultConfig(), WithTracer(tp.Tracer("test")))
	require.NoError(t, err)

	_, err = e.Query(context.Background(), "q", 1)
	require.NoError(t, err)
	_, err = e.Query(context.Background(), " ", 1)
	require.ErrorIs(t, err, crawler.ErrEmptyQuery)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "retrieval.Query", spans[0].Name)
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
}
