// Package hash is an offline embedding backend based on feature hashing.
// Texts sharing words land near each other, which is enough for local
// development and tests without a model server.
package hash

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// ModelName identifies vectors produced by this backend.
const ModelName = "feature-hash-v1"

// Backend hashes word unigrams and bigrams into a fixed number of signed
// buckets and L2-normalizes the result.
type Backend struct {
	dim int
}

// New returns a backend emitting vectors of length dim.
func New(dim int) *Backend {
	return &Backend{dim: dim}
}

// ModelName implements embed.Backend.
func (b *Backend) ModelName() string {
	return ModelName
}

// EmbedBatch implements embed.Backend.
func (b *Backend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err //nolint:wrapcheck
		}
		out[i] = b.vector(text)
	}
	return out, nil
}

func (b *Backend) vector(text string) []float32 {
	if b.dim <= 0 {
		return []float32{}
	}
	acc := make([]float64, b.dim)
	tokens := tokenize(text)
	for i, tok := range tokens {
		b.add(acc, tok, 1)
		if i > 0 {
			b.add(acc, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	out := make([]float32, b.dim)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out
}

func (b *Backend) add(acc []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	bucket := sum % uint64(b.dim)
	if sum>>63 == 1 {
		weight = -weight
	}
	acc[bucket] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
