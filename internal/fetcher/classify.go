// Package fetcher holds the retry loop and failure classification shared by
// the colly and headless fetchers.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/JakeFAU/web-researcher/internal/crawler"
)

// ErrBodyTooLarge reports a response larger than the configured page size.
var ErrBodyTooLarge = errors.New("response body exceeds max page size")

// StatusError reports a retryable HTTP status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.Code)
}

// Unwrap exposes ErrTransientFetch.
func (e *StatusError) Unwrap() error { return crawler.ErrTransientFetch }

// TransientStatus reports whether a response status is worth retrying.
func TransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Transient reports whether err is a failure a retry could cure.
func Transient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, crawler.ErrPolicyDenied), errors.Is(err, ErrBodyTooLarge):
		return false
	case errors.Is(err, crawler.ErrTransientFetch):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED):
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Classify maps err onto a fetch failure reason.
func Classify(err error) crawler.FailureReason {
	if errors.Is(err, crawler.ErrPolicyDenied) {
		return crawler.FailurePolicyRejected
	}
	if errors.Is(err, ErrBodyTooLarge) {
		return crawler.FailureSizeExceeded
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return crawler.FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return crawler.FailureTimeout
	}
	return crawler.FailureNetwork
}
