// Package storage defines the blob store abstraction shared by the cache
// backends (local filesystem, memory, Google Cloud Storage).
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound reports a missing object.
var ErrNotFound = errors.New("object not found")

// BlobStore reads and writes opaque objects by path.
type BlobStore interface {
	// PutObject writes data at path and returns a URI for the object.
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	// GetObject returns the object at path or an error wrapping ErrNotFound.
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// ParseGSURI splits gs://bucket/prefix into its bucket and prefix.
func ParseGSURI(uri string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// uri: %q", uri)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("bucket missing in %q", uri)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}
