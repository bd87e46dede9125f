package embed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-researcher/internal/crawler"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	vectors, _ := args.Get(0).([][]float32)
	return vectors, args.Error(1) //nolint:wrapcheck
}

func (m *mockBackend) ModelName() string { return "mock-model" }

func TestEmbedBatchSplitsByBatchSize(t *testing.T) {
	t.Parallel()

	backend := &mockBackend{}
	backend.On("EmbedBatch", mock.Anything, []string{"a", "b"}).
		Return([][]float32{{1, 0}, {0, 1}}, nil).Once()
	backend.On("EmbedBatch", mock.Anything, []string{"c"}).
		Return([][]float32{{1, 1}}, nil).Once()

	e, err := New(backend, Config{Provider: "mock", Dimension: 2, BatchSize: 2}, nil)
	require.NoError(t, err)

	got, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []crawler.Vector{{1, 0}, {0, 1}, {1, 1}}, got)
	backend.AssertExpectations(t)
}

func TestDimensionMismatchIsFatal(t *testing.T) {
	t.Parallel()

	backend := &mockBackend{}
	backend.On("EmbedBatch", mock.Anything, mock.Anything).Return([][]float32{{1, 2, 3}}, nil)

	e, err := New(backend, Config{Dimension: 4}, nil)
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "text")
	require.ErrorIs(t, err, crawler.ErrDimensionMismatch)
	var dimErr *crawler.DimensionError
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 4, dimErr.Want)
	assert.Equal(t, 3, dimErr.Got)
}

func TestBackendFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	backend := &mockBackend{}
	backend.On("EmbedBatch", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	e, err := New(backend, Config{Dimension: 2}, nil)
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "text")
	require.ErrorIs(t, err, crawler.ErrEmbedderUnavailable)
	assert.Contains(t, err.Error(), "mock-model")
}

func TestCountMismatchIsUnavailable(t *testing.T) {
	t.Parallel()

	backend := &mockBackend{}
	backend.On("EmbedBatch", mock.Anything, mock.Anything).Return([][]float32{{1, 2}}, nil)

	e, err := New(backend, Config{Dimension: 2}, nil)
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.ErrorIs(t, err, crawler.ErrEmbedderUnavailable)
}

func TestCanceledContextNotReportedAsUnavailable(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	backend := &mockBackend{}
	backend.On("EmbedBatch", mock.Anything, mock.Anything).Return(nil, context.Canceled)

	e, err := New(backend, Config{Dimension: 2}, nil)
	require.NoError(t, err)

	_, err = e.Embed(ctx, "text")
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, crawler.ErrEmbedderUnavailable)
}

func TestEmptyBatchSkipsBackend(t *testing.T) {
	t.Parallel()

	backend := &mockBackend{}
	e, err := New(backend, Config{Dimension: 2}, nil)
	require.NoError(t, err)

	got, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	backend.AssertNotCalled(t, "EmbedBatch", mock.Anything, mock.Anything)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Dimension: 2}, nil)
	require.ErrorIs(t, err, crawler.ErrInvalidConfig)
	_, err = New(&mockBackend{}, Config{Dimension: 0}, nil)
	require.ErrorIs(t, err, crawler.ErrInvalidConfig)
	_, err = New(&mockBackend{}, Config{Dimension: 2, BatchSize: -1}, nil)
	require.ErrorIs(t, err, crawler.ErrInvalidConfig)
}
