package coordinator

import (
	"strings"
	"sync"

	"github.com/JakeFAU/web-researcher/internal/crawler"
)

const defaultForbiddenThreshold = 3

// visitTracker dedupes targets by normalized URL within one crawl.
type visitTracker struct {
	seen sync.Map
}

// MarkIfNew records rawURL and reports whether it was unseen. URLs that fail
// normalization are tracked verbatim so the gate can still deny them once.
func (t *visitTracker) MarkIfNew(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	key, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		key = rawURL
	}
	_, loaded := t.seen.LoadOrStore(key, struct{}{})
	return !loaded
}

// domainBlocker stops fetching from hosts that keep answering 403.
type domainBlocker struct {
	mu        sync.Mutex
	threshold int
	counts    map[string]int
	blocked   map[string]struct{}
}

func newDomainBlocker(threshold int) *domainBlocker {
	if threshold <= 0 {
		threshold = defaultForbiddenThreshold
	}
	return &domainBlocker{
		threshold: threshold,
		counts:    make(map[string]int),
		blocked:   make(map[string]struct{}),
	}
}

// IsBlocked reports whether host reached the threshold.
func (b *domainBlocker) IsBlocked(host string) bool {
	if host == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blocked[strings.ToLower(host)]
	return ok
}

// MarkForbidden counts a 403 for host and reports whether the host is now
// blocked.
func (b *domainBlocker) MarkForbidden(host string) bool {
	if host == "" {
		return false
	}
	key := strings.ToLower(host)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.blocked[key]; ok {
		return true
	}
	b.counts[key]++
	if b.counts[key] >= b.threshold {
		b.blocked[key] = struct{}{}
		return true
	}
	return false
}
