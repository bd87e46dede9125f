package pgvector

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-researcher/internal/crawler"
)

func newMockIndex(t *testing.T) (*Index, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	x, err := NewWithPool(mock, "research_chunks", 3)
	require.NoError(t, err)
	return x, mock
}

func TestInsertUpserts(t *testing.T) {
	t.Parallel()

	x, mock := newMockIndex(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO research_chunks (id, embedding, metadata) VALUES ($1, $2::vector, $3)")).
		WithArgs("doc-0", "[0.5,-1,0.25]", []byte(`{"url":"https://example.com"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := x.Insert(context.Background(), "doc-0", crawler.Vector{0.5, -1, 0.25}, crawler.Metadata{"url": "https://example.com"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryReturnsHits(t *testing.T) {
	t.Parallel()

	x, mock := newMockIndex(t)
	rows := pgxmock.NewRows([]string{"id", "score", "metadata"}).
		AddRow("doc-0", 0.93, []byte(`{"title":"Solar"}`)).
		AddRow("doc-1", 0.41, []byte(`{}`))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, 1 - (embedding <=> $1::vector) AS score, metadata")).
		WithArgs("[1,0,0]", 2).
		WillReturnRows(rows)

	hits, err := x.Query(context.Background(), crawler.Vector{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "doc-0", hits[0].ChunkID)
	assert.InDelta(t, 0.93, hits[0].Score, 1e-9)
	assert.Equal(t, "Solar", hits[0].Metadata["title"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLenAndDelete(t *testing.T) {
	t.Parallel()

	x, mock := newMockIndex(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM research_chunks WHERE id = $1")).
		WithArgs("doc-0").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM research_chunks")).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(7)))

	require.NoError(t, x.Delete(context.Background(), "doc-0"))
	n, err := x.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionErrorsAreUnavailable(t *testing.T) {
	t.Parallel()

	x, mock := newMockIndex(t)
	mock.ExpectExec("INSERT INTO research_chunks").
		WillReturnError(errors.New("dial tcp: connection refused"))

	err := x.Insert(context.Background(), "doc-0", crawler.Vector{1, 0, 0}, nil)
	require.ErrorIs(t, err, crawler.ErrIndexUnavailable)
}

func TestServerErrorsAreNotRetryable(t *testing.T) {
	t.Parallel()

	x, mock := newMockIndex(t)
	mock.ExpectExec("INSERT INTO research_chunks").
		WillReturnError(&pgconn.PgError{Code: "22000", Message: "expected 3 dimensions, not 4"})

	err := x.Insert(context.Background(), "doc-0", crawler.Vector{1, 0, 0}, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, crawler.ErrIndexUnavailable)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	x, mock := newMockIndex(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE EXTENSION IF NOT EXISTS vector")).
		WillReturnResult(pgxmock.NewResult("CREATE EXTENSION", 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS research_chunks")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS research_chunks_embedding_idx")).
		WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))

	require.NoError(t, x.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidates(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(nil, "t", 3)
	require.Error(t, err)
	_, err = NewWithPool(mock, "bad;table", 3)
	require.ErrorIs(t, err, crawler.ErrInvalidConfig)
	_, err = NewWithPool(mock, "t", 0)
	require.ErrorIs(t, err, crawler.ErrInvalidConfig)
	_, err = New(context.Background(), Config{})
	require.ErrorIs(t, err, crawler.ErrInvalidConfig)
}

func TestLiteral(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[]", Literal(nil))
	assert.Equal(t, "[0.1,2,-3.5]", Literal(crawler.Vector{0.1, 2, -3.5}))
}
