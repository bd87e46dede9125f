// Package chunk splits document text into fixed-size overlapping windows.
package chunk

import (
	"github.com/JakeFAU/web-researcher/internal/crawler"
)

// Chunker implements crawler.Chunker. Sizes and offsets count runes.
type Chunker struct {
	size    int
	overlap int
}

// New validates the window geometry.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, crawler.InvalidConfigf("chunk size must be > 0, got %d", size)
	}
	if overlap < 0 {
		return nil, crawler.InvalidConfigf("chunk overlap must be >= 0, got %d", overlap)
	}
	if overlap >= size {
		return nil, crawler.InvalidConfigf("chunk overlap %d must be smaller than chunk size %d", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Chunk returns windows [i*step, i*step+size) clipped to the text, where
// step is size-overlap. The last window always ends at the end of the text.
func (c *Chunker) Chunk(doc crawler.Document) []crawler.Chunk {
	runes := []rune(doc.Text)
	n := len(runes)
	if n == 0 {
		return nil
	}
	step := c.size - c.overlap
	chunks := make([]crawler.Chunk, 0, (n+step-1)/step)
	for start := 0; ; start += step {
		end := min(start+c.size, n)
		index := len(chunks)
		chunks = append(chunks, crawler.Chunk{
			ID:         crawler.ChunkID(doc.ID, index),
			DocumentID: doc.ID,
			Index:      index,
			Text:       string(runes[start:end]),
			CharStart:  start,
			CharEnd:    end,
		})
		if end == n {
			return chunks
		}
	}
}

var _ crawler.Chunker = (*Chunker)(nil)
