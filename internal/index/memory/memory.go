// Package memory is an exact in-process vector index.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/web-researcher/internal/crawler"
	"github.com/JakeFAU/web-researcher/internal/index"
)

type entry struct {
	vec  crawler.Vector
	norm float64
	meta crawler.Metadata
}

// Index scans every stored vector on each query.
type Index struct {
	mu      sync.RWMutex
	dim     int
	entries map[string]entry
}

// New returns an empty index accepting vectors of length dim.
func New(dim int) *Index {
	return &Index{dim: dim, entries: make(map[string]entry)}
}

// Insert stores or replaces the vector for chunkID.
func (x *Index) Insert(_ context.Context, chunkID string, vec crawler.Vector, meta crawler.Metadata) error {
	if err := index.CheckDimension(x.dim, vec); err != nil {
		return err
	}
	stored := append(crawler.Vector(nil), vec...)
	x.mu.Lock()
	x.entries[chunkID] = entry{vec: stored, norm: index.Norm(stored), meta: meta.Clone()}
	x.mu.Unlock()
	return nil
}

// Query returns the k entries most similar to vec by cosine similarity.
func (x *Index) Query(_ context.Context, vec crawler.Vector, k int) ([]crawler.Hit, error) {
	if err := index.CheckDimension(x.dim, vec); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	norm := index.Norm(vec)

	x.mu.RLock()
	hits := make([]crawler.Hit, 0, len(x.entries))
	for id, e := range x.entries {
		hits = append(hits, crawler.Hit{
			ChunkID:  id,
			Score:    index.CosineWithNorms(vec, norm, e.vec, e.norm),
			Metadata: e.meta.Clone(),
		})
	}
	x.mu.RUnlock()

	return index.TopK(hits, k), nil
}

// Get returns the stored vector and metadata for chunkID.
func (x *Index) Get(chunkID string) (crawler.Vector, crawler.Metadata, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.entries[chunkID]
	if !ok {
		return nil, nil, false
	}
	return append(crawler.Vector(nil), e.vec...), e.meta.Clone(), true
}

// Delete removes chunkID. Deleting a missing ID is not an error.
func (x *Index) Delete(_ context.Context, chunkID string) error {
	x.mu.Lock()
	delete(x.entries, chunkID)
	x.mu.Unlock()
	return nil
}

// Len returns the number of stored vectors.
func (x *Index) Len(context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries), nil
}

// Close is a no-op.
func (x *Index) Close() error { return nil }

var _ crawler.VectorIndex = (*Index)(nil)
