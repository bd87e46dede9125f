package coordinator

import (
	"sync"

	"github.com/JakeFAU/web-researcher/internal/crawler"
)

// session is the mutable state of one Crawl call.
type session struct {
	id          string
	depthBudget int
	maxPages    int

	frontier *frontier
	visits   visitTracker
	blocker  *domainBlocker

	mu      sync.Mutex
	summary crawler.Summary
	taken   int
}

func newSession(id string, depthBudget, maxPages, forbiddenThreshold int) *session {
	return &session{
		id:          id,
		depthBudget: depthBudget,
		maxPages:    maxPages,
		frontier:    newFrontier(),
		blocker:     newDomainBlocker(forbiddenThreshold),
		summary:     crawler.Summary{SessionID: id},
	}
}

// admit enqueues t unless its URL was already seen in this session.
func (s *session) admit(t crawler.Target) bool {
	if !s.visits.MarkIfNew(t.URL) {
		return false
	}
	if !s.frontier.Enqueue(t) {
		return false
	}
	s.update(func(sum *crawler.Summary) { sum.PagesDiscovered++ })
	return true
}

// takePage consumes one unit of the page budget. Zero means unlimited.
func (s *session) takePage() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxPages > 0 && s.taken >= s.maxPages {
		return false
	}
	s.taken++
	return true
}

func (s *session) update(fn func(*crawler.Summary)) {
	s.mu.Lock()
	fn(&s.summary)
	s.mu.Unlock()
}

func (s *session) fail(url string, stage crawler.Stage, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch stage {
	case crawler.StagePolicy:
		s.summary.PagesDenied++
	case crawler.StageExtract:
		s.summary.PagesRejected++
	default:
		s.summary.PagesFailed++
	}
	s.summary.Errors = append(s.summary.Errors, crawler.TargetError{URL: url, Stage: stage, Error: err.Error()})
}

func (s *session) snapshot() crawler.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.summary
	out.Errors = append([]crawler.TargetError(nil), s.summary.Errors...)
	return out
}
