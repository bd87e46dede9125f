// Package ratelimit implements the process-wide fetch rate limiter: sliding
// per-minute and per-hour budgets plus a minimum delay between permits.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/web-researcher/internal/clock/system"
	"github.com/JakeFAU/web-researcher/internal/crawler"
	"github.com/JakeFAU/web-researcher/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	PerMinute int
	PerHour   int
	// Delay is the minimum spacing between consecutive permits.
	Delay time.Duration
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock injects the time source and sleeper, typically a fake in tests.
func WithClock(clock crawler.Clock, sleeper crawler.Sleeper) Option {
	return func(l *Limiter) {
		if clock != nil {
			l.clock = clock
		}
		if sleeper != nil {
			l.sleeper = sleeper
		}
	}
}

// Limiter implements crawler.RateLimiter. Callers queue on a single-slot
// turnstile so permits are granted in arrival order; window state is only
// touched by the turnstile holder.
type Limiter struct {
	turn    chan struct{}
	minute  *window
	hour    *window
	pacer   *rate.Limiter
	clock   crawler.Clock
	sleeper crawler.Sleeper
}

// New creates a new Limiter.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if cfg.PerMinute <= 0 {
		return nil, crawler.InvalidConfigf("requests per minute must be > 0")
	}
	if cfg.PerHour <= 0 {
		return nil, crawler.InvalidConfigf("requests per hour must be > 0")
	}
	if cfg.Delay < 0 {
		return nil, crawler.InvalidConfigf("request delay must be >= 0")
	}
	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}
	clk := system.New()
	l := &Limiter{
		turn:    make(chan struct{}, 1),
		minute:  newWindow(time.Minute, cfg.PerMinute),
		hour:    newWindow(time.Hour, cfg.PerHour),
		pacer:   rate.NewLimiter(limit, 1),
		clock:   clk,
		sleeper: clk,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Acquire blocks until a fetch may start. It only fails when ctx ends.
func (l *Limiter) Acquire(ctx context.Context) (crawler.Permit, error) {
	start := l.clock.Now()
	select {
	case l.turn <- struct{}{}:
	case <-ctx.Done():
		return crawler.Permit{}, fmt.Errorf("rate limit wait: %w", ctx.Err())
	}
	defer func() { <-l.turn }()

	for {
		now := l.clock.Now()
		wait := max(l.minute.wait(now), l.hour.wait(now))
		if wait <= 0 {
			reservation := l.pacer.ReserveN(now, 1)
			wait = reservation.DelayFrom(now)
			if wait <= 0 {
				l.minute.record(now)
				l.hour.record(now)
				waited := now.Sub(start)
				if waited > 0 {
					metrics.ObserveRateLimitWait(waited)
				}
				return crawler.Permit{GrantedAt: now, Waited: waited}, nil
			}
			reservation.CancelAt(now)
		}
		if err := l.sleeper.Sleep(ctx, wait); err != nil {
			return crawler.Permit{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}
}

// window is a sliding log of grant times within span.
type window struct {
	span   time.Duration
	limit  int
	grants []time.Time
}

func newWindow(span time.Duration, limit int) *window {
	return &window{span: span, limit: limit, grants: make([]time.Time, 0, limit)}
}

func (w *window) prune(now time.Time) {
	drop := 0
	for drop < len(w.grants) && now.Sub(w.grants[drop]) >= w.span {
		drop++
	}
	if drop > 0 {
		w.grants = append(w.grants[:0], w.grants[drop:]...)
	}
}

// wait returns how long until the window has headroom at now.
func (w *window) wait(now time.Time) time.Duration {
	w.prune(now)
	if len(w.grants) < w.limit {
		return 0
	}
	return w.grants[len(w.grants)-w.limit].Add(w.span).Sub(now)
}

func (w *window) record(now time.Time) {
	w.grants = append(w.grants, now)
}
