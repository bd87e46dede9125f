// Package index holds helpers shared by the vector index backends.
package index

import (
	"math"
	"sort"

	"github.com/JakeFAU/web-researcher/internal/crawler"
)

// Norm returns the Euclidean length of v.
func Norm(v crawler.Vector) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b crawler.Vector) float64 {
	return CosineWithNorms(a, Norm(a), b, Norm(b))
}

// CosineWithNorms is Cosine with precomputed norms.
func CosineWithNorms(a crawler.Vector, normA float64, b crawler.Vector, normB float64) float64 {
	if len(a) != len(b) || normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}

// TopK sorts hits by descending score, breaking ties by chunk ID, and keeps
// at most k. k <= 0 yields no hits.
func TopK(hits []crawler.Hit, k int) []crawler.Hit {
	if k <= 0 {
		return nil
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// CheckDimension reports a vector of unexpected length. A non-positive want
// disables the check.
func CheckDimension(want int, v crawler.Vector) error {
	if want > 0 && len(v) != want {
		return &crawler.DimensionError{Want: want, Got: len(v)}
	}
	return nil
}
