// Package pgvector is a vector index stored in Postgres with the pgvector
// extension. Similarity is cosine, computed by the database.
package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/web-researcher/internal/crawler"
	"github.com/JakeFAU/web-researcher/internal/index"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN       string
	Table     string
	MaxConns  int32
	Dimension int
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Index implements crawler.VectorIndex over pgvector.
type Index struct {
	pool  pool
	table string
	dim   int
}

// New connects to Postgres and ensures the extension and table exist.
func New(ctx context.Context, cfg Config) (*Index, error) {
	if cfg.DSN == "" {
		return nil, crawler.InvalidConfigf("postgres url is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect postgres: %w", crawler.ErrIndexUnavailable, err)
	}
	x, err := NewWithPool(p, cfg.Table, cfg.Dimension)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := x.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return x, nil
}

// NewWithPool constructs an index from an existing pool (primarily for testing).
func NewWithPool(p pool, table string, dim int) (*Index, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "chunks"
	}
	if !validTableName.MatchString(table) {
		return nil, crawler.InvalidConfigf("invalid table name %q", table)
	}
	if dim <= 0 {
		return nil, crawler.InvalidConfigf("vector dimension must be > 0")
	}
	return &Index{pool: p, table: table, dim: dim}, nil
}

// EnsureSchema creates the extension, table and HNSW cosine index.
func (x *Index) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, x.table, x.dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, x.table, x.table),
	}
	for _, stmt := range stmts {
		if _, err := x.pool.Exec(ctx, stmt); err != nil {
			return x.wrap("ensure schema", err)
		}
	}
	return nil
}

// Insert upserts the vector for chunkID.
func (x *Index) Insert(ctx context.Context, chunkID string, vec crawler.Vector, meta crawler.Metadata) error {
	if err := index.CheckDimension(x.dim, vec); err != nil {
		return err
	}
	if meta == nil {
		meta = crawler.Metadata{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, embedding, metadata) VALUES ($1, $2::vector, $3)
ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata, updated_at = now()`, x.table)
	if _, err := x.pool.Exec(ctx, query, chunkID, Literal(vec), metaJSON); err != nil {
		return x.wrap("upsert "+chunkID, err)
	}
	return nil
}

// Query returns the k nearest chunks by cosine distance.
func (x *Index) Query(ctx context.Context, vec crawler.Vector, k int) ([]crawler.Hit, error) {
	if err := index.CheckDimension(x.dim, vec); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT id, 1 - (embedding <=> $1::vector) AS score, metadata
FROM %s ORDER BY embedding <=> $1::vector LIMIT $2`, x.table)
	rows, err := x.pool.Query(ctx, query, Literal(vec), k)
	if err != nil {
		return nil, x.wrap("query", err)
	}
	defer rows.Close()

	var hits []crawler.Hit
	for rows.Next() {
		var (
			hit      crawler.Hit
			metaJSON []byte
		)
		if err := rows.Scan(&hit.ChunkID, &hit.Score, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &hit.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", hit.ChunkID, err)
			}
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, x.wrap("query", err)
	}
	return hits, nil
}

// Delete removes chunkID.
func (x *Index) Delete(ctx context.Context, chunkID string) error {
	if _, err := x.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, x.table), chunkID); err != nil {
		return x.wrap("delete "+chunkID, err)
	}
	return nil
}

// Len counts stored vectors.
func (x *Index) Len(ctx context.Context) (int, error) {
	var n int64
	if err := x.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, x.table)).Scan(&n); err != nil {
		return 0, x.wrap("count", err)
	}
	return int(n), nil
}

// Close releases the pool.
func (x *Index) Close() error {
	x.pool.Close()
	return nil
}

// wrap marks connectivity failures as retryable; errors reported by the
// server itself are returned as-is.
func (x *Index) wrap(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("pgvector %s: %w", op, err)
	}
	return fmt.Errorf("%w: pgvector %s: %w", crawler.ErrIndexUnavailable, op, err)
}

// Literal renders v in pgvector's text input format.
func Literal(v crawler.Vector) string {
	var b strings.Builder
	b.Grow(len(v) * 8)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

var _ crawler.VectorIndex = (*Index)(nil)
