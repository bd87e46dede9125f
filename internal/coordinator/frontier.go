package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/web-researcher/internal/crawler"
)

// errFrontierDrained is returned by Dequeue once every admitted target has
// been finished or the frontier was closed.
var errFrontierDrained = errors.New("frontier drained")

// frontier is the FIFO of admitted targets. It tracks outstanding work
// (queued plus in-flight) and closes itself when that count reaches zero,
// so link discovery can keep feeding it until the crawl runs dry.
type frontier struct {
	mu      sync.Mutex
	items   []crawler.Target
	pending int
	closed  bool
	ready   chan struct{}
	done    chan struct{}
}

func newFrontier() *frontier {
	return &frontier{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Enqueue adds t and reports false once the frontier is closed.
func (f *frontier) Enqueue(t crawler.Target) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.items = append(f.items, t)
	f.pending++
	f.signal()
	return true
}

// Dequeue blocks until a target is available, the frontier drains or ctx
// ends. Every dequeued target must be finished with Done.
func (f *frontier) Dequeue(ctx context.Context) (crawler.Target, error) {
	for {
		if err := ctx.Err(); err != nil {
			return crawler.Target{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		f.mu.Lock()
		if len(f.items) > 0 {
			t := f.items[0]
			f.items[0] = crawler.Target{}
			f.items = f.items[1:]
			if len(f.items) > 0 {
				f.signal()
			}
			f.mu.Unlock()
			return t, nil
		}
		closed := f.closed
		f.mu.Unlock()
		if closed {
			return crawler.Target{}, errFrontierDrained
		}

		select {
		case <-ctx.Done():
			return crawler.Target{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-f.done:
		case <-f.ready:
		}
	}
}

// Done marks one dequeued target finished.
func (f *frontier) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending > 0 {
		f.pending--
	}
	if f.pending == 0 {
		f.closeLocked()
	}
}

// Close stops intake; queued targets are discarded.
func (f *frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = nil
	f.closeLocked()
}

// Len reports queued targets.
func (f *frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func (f *frontier) closeLocked() {
	if f.closed {
		return
	}
	f.closed = true
	close(f.done)
}

func (f *frontier) signal() {
	select {
	case f.ready <- struct{}{}:
	default:
	}
}
