package crawler

import (
	"errors"
	"fmt"
)

// Sentinel errors matched with errors.Is across the pipeline.
var (
	ErrPolicyDenied        = errors.New("policy denied")
	ErrTransientFetch      = errors.New("transient fetch failure")
	ErrFetchFailed         = errors.New("fetch failed")
	ErrContentRejected     = errors.New("content rejected")
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
	ErrEmbedderUnavailable = errors.New("embedder unavailable")
	ErrIndexUnavailable    = errors.New("vector index unavailable")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrEmptyQuery          = errors.New("query text is empty")
)

// PolicyError carries the gate's deny reason.
type PolicyError struct {
	URL    string
	Reason DenyReason
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy denied %s: %s", e.URL, e.Reason)
}

// Unwrap exposes ErrPolicyDenied.
func (e *PolicyError) Unwrap() error { return ErrPolicyDenied }

// RejectionReason names why extracted content was refused.
type RejectionReason string

// Content rejection reasons.
const (
	RejectTooShort    RejectionReason = "too-short"
	RejectTooLong     RejectionReason = "too-long"
	RejectUnsupported RejectionReason = "unsupported"
)

// RejectionError reports extractor output outside the configured bounds.
type RejectionError struct {
	Reason RejectionReason
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("content rejected: %s", e.Reason)
	}
	return fmt.Sprintf("content rejected: %s (%s)", e.Reason, e.Detail)
}

// Unwrap exposes ErrContentRejected.
func (e *RejectionError) Unwrap() error { return ErrContentRejected }

// DimensionError reports an embedding of unexpected length.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// Unwrap exposes ErrDimensionMismatch.
func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }

// InvalidConfigf wraps a formatted message with ErrInvalidConfig.
func InvalidConfigf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
