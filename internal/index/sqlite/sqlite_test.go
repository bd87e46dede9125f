package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-researcher/internal/crawler"
)

func TestPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "vectors.db")

	x, err := Open(ctx, path, 3)
	require.NoError(t, err)
	require.NoError(t, x.Insert(ctx, "doc-0", crawler.Vector{1, 0, 0}, crawler.Metadata{"url": "https://a.example"}))
	require.NoError(t, x.Insert(ctx, "doc-1", crawler.Vector{0, 1, 0}, nil))
	require.NoError(t, x.Insert(ctx, "doc-1", crawler.Vector{0, 0.5, 0.5}, crawler.Metadata{"v": "2"}))
	require.NoError(t, x.Insert(ctx, "doc-2", crawler.Vector{0, 0, 1}, nil))
	require.NoError(t, x.Delete(ctx, "doc-2"))
	require.NoError(t, x.Close())

	reopened, err := Open(ctx, path, 3)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	n, err := reopened.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hits, err := reopened.Query(ctx, crawler.Vector{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "doc-0", hits[0].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "https://a.example", hits[0].Metadata["url"])
	assert.Equal(t, "2", hits[1].Metadata["v"])
}

func TestRefusesDimensionChange(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.db")
	x, err := Open(ctx, path, 4)
	require.NoError(t, err)
	require.NoError(t, x.Close())

	_, err = Open(ctx, path, 8)
	require.ErrorIs(t, err, crawler.ErrInvalidConfig)
}

func TestInsertChecksDimension(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	x, err := Open(ctx, filepath.Join(t.TempDir(), "vectors.db"), 2)
	require.NoError(t, err)
	defer func() { _ = x.Close() }()

	require.ErrorIs(t, x.Insert(ctx, "a", crawler.Vector{1}, nil), crawler.ErrDimensionMismatch)
}

func TestWriteAfterCloseIsUnavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	x, err := Open(ctx, filepath.Join(t.TempDir(), "vectors.db"), 2)
	require.NoError(t, err)
	require.NoError(t, x.Close())

	require.ErrorIs(t, x.Insert(ctx, "a", crawler.Vector{1, 0}, nil), crawler.ErrIndexUnavailable)
}

func TestVectorCodecRoundTrip(t *testing.T) {
	t.Parallel()

	v := crawler.Vector{0, -1.5, 3.25, 1e-7}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
}
