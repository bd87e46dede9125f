package fetcher

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Retry defaults.
const (
	DefaultMaxRetries = 2
	DefaultBaseDelay  = 250 * time.Millisecond
	DefaultMaxDelay   = 5 * time.Second
)

// RetryPolicy bounds retries of transient failures with jittered
// exponential backoff.
type RetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewRetryPolicy builds a policy. Non-positive delays fall back to defaults.
func NewRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &RetryPolicy{maxRetries: maxRetries, baseDelay: baseDelay, maxDelay: maxDelay}
}

// DefaultRetryPolicy allows two retries (three attempts).
func DefaultRetryPolicy() *RetryPolicy {
	return NewRetryPolicy(DefaultMaxRetries, DefaultBaseDelay, DefaultMaxDelay)
}

// MaxAttempts is the total number of attempts including the first.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxRetries + 1
}

// ShouldRetry decides whether another attempt follows attempt (1-based)
// failing with err.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts() {
		return false
	}
	return Transient(err)
}

// Backoff returns the wait before the attempt following attempt (1-based).
// The result lies in [d/2, d) where d doubles per attempt up to maxDelay.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
