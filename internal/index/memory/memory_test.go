package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-researcher/internal/crawler"
)

func TestInsertQueryDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	x := New(3)
	require.NoError(t, x.Insert(ctx, "a", crawler.Vector{1, 0, 0}, crawler.Metadata{"url": "https://a"}))
	require.NoError(t, x.Insert(ctx, "b", crawler.Vector{0.7, 0.7, 0}, crawler.Metadata{"url": "https://b"}))
	require.NoError(t, x.Insert(ctx, "c", crawler.Vector{0, 0, 1}, nil))

	hits, err := x.Query(ctx, crawler.Vector{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "b", hits[1].ChunkID)
	assert.Equal(t, "https://b", hits[1].Metadata["url"])

	require.NoError(t, x.Delete(ctx, "a"))
	require.NoError(t, x.Delete(ctx, "missing"))
	n, err := x.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestInsertIsUpsert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	x := New(2)
	require.NoError(t, x.Insert(ctx, "a", crawler.Vector{1, 0}, crawler.Metadata{"v": "1"}))
	require.NoError(t, x.Insert(ctx, "a", crawler.Vector{0, 1}, crawler.Metadata{"v": "2"}))

	n, err := x.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	vec, meta, ok := x.Get("a")
	require.True(t, ok)
	assert.Equal(t, crawler.Vector{0, 1}, vec)
	assert.Equal(t, "2", meta["v"])
}

func TestStoredDataIsIsolatedFromCallers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	x := New(2)
	vec := crawler.Vector{1, 0}
	meta := crawler.Metadata{"k": "v"}
	require.NoError(t, x.Insert(ctx, "a", vec, meta))
	vec[0] = 9
	meta["k"] = "mutated"

	got, gotMeta, _ := x.Get("a")
	assert.Equal(t, crawler.Vector{1, 0}, got)
	assert.Equal(t, "v", gotMeta["k"])
}

func TestDimensionChecks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	x := New(2)
	require.ErrorIs(t, x.Insert(ctx, "a", crawler.Vector{1, 2, 3}, nil), crawler.ErrDimensionMismatch)
	_, err := x.Query(ctx, crawler.Vector{1}, 1)
	require.ErrorIs(t, err, crawler.ErrDimensionMismatch)
}

func TestEmptyIndexAndZeroK(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	x := New(2)
	hits, err := x.Query(ctx, crawler.Vector{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, x.Insert(ctx, "a", crawler.Vector{1, 0}, nil))
	hits, err = x.Query(ctx, crawler.Vector{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestConcurrentInserts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	x := New(2)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = x.Insert(ctx, fmt.Sprintf("c-%d", i), crawler.Vector{float32(i), 1}, nil)
			_, _ = x.Query(ctx, crawler.Vector{1, 1}, 3)
		}()
	}
	wg.Wait()
	n, err := x.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
}
