// Package sha256 provides the content-addressing hasher used for document
// IDs and cache object names.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct {
	size int
}

// New returns a hasher emitting the full 64-character hex digest.
func New() *Hasher {
	return &Hasher{}
}

// NewTruncated returns a hasher emitting the first n hex characters of the
// digest. Values outside (0, 64) keep the full digest.
func NewTruncated(n int) *Hasher {
	return &Hasher{size: n}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.size > 0 && h.size < len(digest) {
		return digest[:h.size], nil
	}
	return digest, nil
}
