package fetcher

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/JakeFAU/web-researcher/internal/crawler"
)

type permitsKey struct{}

type permits struct {
	limiter crawler.RateLimiter
	prepaid atomic.Bool
}

// WithPermits makes every network attempt started under ctx take its own
// permit from limiter, retries and headless re-fetches included. When
// prepaid is set the first attempt uses a permit the caller already holds.
func WithPermits(ctx context.Context, limiter crawler.RateLimiter, prepaid bool) context.Context {
	if limiter == nil {
		return ctx
	}
	p := &permits{limiter: limiter}
	p.prepaid.Store(prepaid)
	return context.WithValue(ctx, permitsKey{}, p)
}

// acquirePermit blocks until the limiter attached to ctx grants an attempt.
// Contexts without a limiter are not paced.
func acquirePermit(ctx context.Context) error {
	p, ok := ctx.Value(permitsKey{}).(*permits)
	if !ok {
		return nil
	}
	if p.prepaid.CompareAndSwap(true, false) {
		return nil
	}
	if _, err := p.limiter.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire permit: %w", err)
	}
	return nil
}
