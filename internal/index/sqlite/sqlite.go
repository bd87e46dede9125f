// Package sqlite is a vector index persisted to a local SQLite file. Vectors
// are loaded into memory on open and queried exactly; writes go to the file
// first so the two never disagree.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/web-researcher/internal/crawler"
	"github.com/JakeFAU/web-researcher/internal/index"
	"github.com/JakeFAU/web-researcher/internal/index/memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	id       TEXT PRIMARY KEY,
	vector   BLOB NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS index_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// Index implements crawler.VectorIndex over SQLite.
type Index struct {
	db   *sql.DB
	mem  *memory.Index
	dim  int
	path string
}

// Open opens or creates the index file at path. A file created with a
// different dimension is refused.
func Open(ctx context.Context, path string, dim int) (*Index, error) {
	if dim <= 0 {
		return nil, crawler.InvalidConfigf("vector dimension must be > 0")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	x := &Index{db: db, mem: memory.New(dim), dim: dim, path: path}
	if err := x.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return x, nil
}

func (x *Index) init(ctx context.Context) error {
	if _, err := x.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	var stored string
	err := x.db.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = 'dimension'`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := x.db.ExecContext(ctx,
			`INSERT INTO index_meta (key, value) VALUES ('dimension', ?)`, strconv.Itoa(x.dim)); err != nil {
			return fmt.Errorf("recording dimension: %w", err)
		}
	case err != nil:
		return fmt.Errorf("reading dimension: %w", err)
	case stored != strconv.Itoa(x.dim):
		return crawler.InvalidConfigf("index %s holds %s-dimensional vectors, configured %d", x.path, stored, x.dim)
	}

	return x.load(ctx)
}

func (x *Index) load(ctx context.Context) error {
	rows, err := x.db.QueryContext(ctx, `SELECT id, vector, metadata FROM chunks`)
	if err != nil {
		return fmt.Errorf("loading vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			id       string
			blob     []byte
			metaJSON string
		)
		if err := rows.Scan(&id, &blob, &metaJSON); err != nil {
			return fmt.Errorf("scanning vector: %w", err)
		}
		var meta crawler.Metadata
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			return fmt.Errorf("decoding metadata for %s: %w", id, err)
		}
		if err := x.mem.Insert(ctx, id, decodeVector(blob), meta); err != nil {
			return fmt.Errorf("loading %s: %w", id, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating vectors: %w", err)
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
		return fmt.Errorf("encoding metadata: %w", err)
	}
	_, err = x.db.ExecContext(ctx, `
		INSERT INTO chunks (id, vector, metadata) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET vector = excluded.vector, metadata = excluded.metadata`,
		chunkID, encodeVector(vec), string(metaJSON))
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %w", crawler.ErrIndexUnavailable, chunkID, err)
	}
	return x.mem.Insert(ctx, chunkID, vec, meta) //nolint:wrapcheck
}

// Query answers from the in-memory copy.
func (x *Index) Query(ctx context.Context, vec crawler.Vector, k int) ([]crawler.Hit, error) {
	return x.mem.Query(ctx, vec, k) //nolint:wrapcheck
}

// Delete removes chunkID from the file and memory.
func (x *Index) Delete(ctx context.Context, chunkID string) error {
	if _, err := x.db.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, chunkID); err != nil {
		return fmt.Errorf("%w: delete %s: %w", crawler.ErrIndexUnavailable, chunkID, err)
	}
	return x.mem.Delete(ctx, chunkID) //nolint:wrapcheck
}

// Len returns the number of stored vectors.
func (x *Index) Len(ctx context.Context) (int, error) {
	return x.mem.Len(ctx) //nolint:wrapcheck
}

// Close closes the database.
func (x *Index) Close() error {
	if err := x.db.Close(); err != nil {
		return fmt.Errorf("closing index: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (x *Index) Path() string {
	return x.path
}

func encodeVector(v crawler.Vector) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) crawler.Vector {
	v := make(crawler.Vector, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}

var _ crawler.VectorIndex = (*Index)(nil)
