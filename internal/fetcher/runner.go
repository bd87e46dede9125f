package fetcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-researcher/internal/clock/system"
	"github.com/JakeFAU/web-researcher/internal/crawler"
	"github.com/JakeFAU/web-researcher/internal/metrics"
)

// AttemptFunc performs one fetch attempt. A returned error means no
// response was obtained; response statuses are reported in the result.
type AttemptFunc func(ctx context.Context) (crawler.FetchResult, error)

// Runner drives attempts through the retry policy.
type Runner struct {
	Policy  *RetryPolicy
	Sleeper crawler.Sleeper
	// Timeout bounds each attempt; zero disables the bound.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Run fetches rawURL, retrying transient failures. Each attempt first takes
// a permit when ctx carries one (see WithPermits). Exhausted status retries
// return the last response; exhausted error retries return a failure
// wrapping crawler.ErrFetchFailed. Cancellation of ctx is never retried.
func (r Runner) Run(ctx context.Context, rawURL string, attempt AttemptFunc) crawler.FetchResult {
	policy := r.Policy
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	sleeper := r.Sleeper
	if sleeper == nil {
		sleeper = system.New()
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	start := time.Now()
	for n := 1; ; n++ {
		if err := acquirePermit(ctx); err != nil {
			metrics.ObserveFetchAttempt("canceled")
			return failed(rawURL, crawler.FailureNetwork, fmt.Errorf("%w: %w", crawler.ErrFetchFailed, err), n-1, start)
		}
		result, err := r.once(ctx, attempt)
		result.URL = rawURL
		result.Attempts = n
		result.Duration = time.Since(start)

		if ctx.Err() != nil {
			metrics.ObserveFetchAttempt("canceled")
			return failed(rawURL, crawler.FailureNetwork, fmt.Errorf("%w: %w", crawler.ErrFetchFailed, ctx.Err()), n, start)
		}

		retryErr := err
		if err == nil && TransientStatus(result.StatusCode) {
			retryErr = &StatusError{Code: result.StatusCode}
		}
		if retryErr == nil {
			metrics.ObserveFetchAttempt("ok")
			return result
		}

		if policy.ShouldRetry(retryErr, n) {
			metrics.ObserveFetchAttempt("retry")
			backoff := policy.Backoff(n)
			logger.Debug("retrying fetch",
				zap.String("url", rawURL),
				zap.Int("attempt", n),
				zap.Duration("backoff", backoff),
				zap.Error(retryErr))
			if sleepErr := sleeper.Sleep(ctx, backoff); sleepErr != nil {
				return failed(rawURL, crawler.FailureNetwork, fmt.Errorf("%w: %w", crawler.ErrFetchFailed, sleepErr), n, start)
			}
			continue
		}

		if err == nil {
			// Status retries exhausted: the response itself is the outcome.
			metrics.ObserveFetchAttempt("status")
			return result
		}
		metrics.ObserveFetchAttempt("failed")
		if Transient(err) {
			err = fmt.Errorf("%w after %d attempts: %w", crawler.ErrFetchFailed, n, err)
		} else {
			err = fmt.Errorf("%w: %w", crawler.ErrFetchFailed, err)
		}
		return failed(rawURL, Classify(err), err, n, start)
	}
}

func (r Runner) once(ctx context.Context, attempt AttemptFunc) (crawler.FetchResult, error) {
	if r.Timeout <= 0 {
		return attempt(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	return attempt(attemptCtx)
}

func failed(rawURL string, reason crawler.FailureReason, err error, attempts int, start time.Time) crawler.FetchResult {
	return crawler.FetchResult{
		URL:      rawURL,
		Failure:  reason,
		Err:      err,
		Attempts: attempts,
		Duration: time.Since(start),
	}
}
