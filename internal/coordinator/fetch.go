package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-researcher/internal/crawler"
	"github.com/JakeFAU/web-researcher/internal/fetcher"
	"github.com/JakeFAU/web-researcher/internal/metrics"
	"github.com/JakeFAU/web-researcher/internal/progress"
)

// errCrawlAborted marks documents dropped after a fatal indexing error.
var errCrawlAborted = errors.New("document not indexed: crawl aborted")

func (c *Coordinator) fetchWorker(
	ctx context.Context,
	s *session,
	docs chan<- crawler.Extraction,
	abort <-chan struct{},
	logger *zap.Logger,
) {
	metrics.IncActiveWorkers("fetch")
	defer metrics.DecActiveWorkers("fetch")
	for {
		target, err := s.frontier.Dequeue(ctx)
		if err != nil {
			return
		}
		c.processTarget(ctx, s, target, docs, abort, logger.With(zap.String("url", target.URL), zap.Int("depth", target.Depth)))
		s.frontier.Done()
	}
}

// processTarget runs one target through gate, cache or limiter and fetch,
// and extraction. Discovered links re-enter the frontier before the
// document is handed to the index pool. The hand-off waits out cancellation
// of ctx and gives up only when abort closes.
func (c *Coordinator) processTarget(
	ctx context.Context,
	s *session,
	target crawler.Target,
	docs chan<- crawler.Extraction,
	abort <-chan struct{},
	logger *zap.Logger,
) {
	host := crawler.Hostname(target.URL)
	if s.blocker.IsBlocked(host) {
		c.deny(s, target, crawler.DenyHostForbidden, logger)
		return
	}
	if decision := c.deps.Gate.Allow(ctx, target.URL, 0); !decision.Allowed {
		c.deny(s, target, decision.Reason, logger)
		return
	}
	if !s.takePage() {
		logger.Debug("page budget exhausted, skipping target")
		return
	}

	page, ok := c.load(ctx, s, target, host, logger)
	if !ok {
		return
	}

	extraction, err := c.deps.Extractor.Extract(page)
	if target.Depth < s.depthBudget {
		for _, link := range extraction.Links {
			s.admit(crawler.Target{URL: link, Depth: target.Depth + 1, Referrer: target.URL})
		}
	}
	if err != nil {
		reason := "extract-error"
		var rejection *crawler.RejectionError
		if errors.As(err, &rejection) {
			reason = string(rejection.Reason)
		}
		s.fail(target.URL, crawler.StageExtract, err)
		metrics.ObservePage(target.URL, "rejected", 0)
		c.deps.Events.Emit(progress.Event{
			SessionID: s.id, Stage: progress.StageTargetRejected,
			URL: target.URL, Host: host, Depth: target.Depth, Reason: reason,
		})
		logger.Debug("content rejected", zap.String("reason", reason), zap.Int("links", len(extraction.Links)))
		return
	}

	select {
	case docs <- extraction:
	case <-abort:
		s.fail(target.URL, crawler.StageIndex, errCrawlAborted)
	}
}

// load returns the page body from the cache or the network.
func (c *Coordinator) load(
	ctx context.Context,
	s *session,
	target crawler.Target,
	host string,
	logger *zap.Logger,
) (crawler.RawPage, bool) {
	if cached, hit := c.deps.Cache.Get(ctx, target.URL); hit {
		s.update(func(sum *crawler.Summary) { sum.CacheHits++ })
		c.deps.Events.Emit(progress.Event{
			SessionID: s.id, Stage: progress.StageFetchDone, URL: target.URL, Host: host,
			Depth: target.Depth, StatusClass: progress.StatusCache, Bytes: int64(len(cached.Content)),
		})
		logger.Debug("cache hit")
		page := cached.RawPage()
		page.URL = target.URL
		return page, true
	}

	if _, err := c.deps.Limiter.Acquire(ctx); err != nil {
		s.fail(target.URL, crawler.StageFetch, err)
		return crawler.RawPage{}, false
	}
	// Retries and headless re-fetches pay for their own permits.
	res := c.deps.Fetcher.Fetch(fetcher.WithPermits(ctx, c.deps.Limiter, true), target.URL)

	if !res.Fetched() {
		err := res.Err
		if err == nil {
			err = fmt.Errorf("%w: %s", crawler.ErrFetchFailed, res.Failure)
		}
		c.fetchFailed(s, target, host, string(res.Failure), err, res, logger)
		return crawler.RawPage{}, false
	}
	c.deps.Events.Emit(progress.Event{
		SessionID: s.id, Stage: progress.StageFetchDone, URL: target.URL, Host: host, Depth: target.Depth,
		StatusClass: progress.ClassifyStatus(res.StatusCode), Bytes: int64(len(res.Body)), Dur: res.Duration,
	})
	if !res.OK() {
		if res.StatusCode == http.StatusForbidden && s.blocker.MarkForbidden(host) {
			logger.Warn("host blocked after repeated 403 responses", zap.String("host", host))
		}
		err := fmt.Errorf("%w: status %d", crawler.ErrFetchFailed, res.StatusCode)
		c.fetchFailed(s, target, host, fmt.Sprintf("status-%d", res.StatusCode), err, res, logger)
		return crawler.RawPage{}, false
	}

	s.update(func(sum *crawler.Summary) { sum.PagesFetched++ })
	metrics.ObservePage(target.URL, "fetched", len(res.Body))
	page := crawler.RawPage{
		URL:         target.URL,
		FinalURL:    res.FinalURL,
		ContentType: res.Headers.Get("Content-Type"),
		Body:        res.Body,
	}
	if err := c.deps.Cache.Put(ctx, page); err != nil {
		logger.Warn("cache put failed", zap.Error(err))
	}
	logger.Debug("page fetched", zap.Int("status", res.StatusCode), zap.Int("attempts", res.Attempts), zap.Int("bytes", len(res.Body)))
	return page, true
}

func (c *Coordinator) fetchFailed(
	s *session,
	target crawler.Target,
	host, reason string,
	err error,
	res crawler.FetchResult,
	logger *zap.Logger,
) {
	s.fail(target.URL, crawler.StageFetch, err)
	metrics.ObservePage(target.URL, "failed", 0)
	c.deps.Events.Emit(progress.Event{
		SessionID: s.id, Stage: progress.StageTargetFailed, URL: target.URL, Host: host,
		Depth: target.Depth, Reason: reason, Dur: res.Duration,
	})
	logger.Warn("fetch failed", zap.String("reason", reason), zap.Int("attempts", res.Attempts), zap.Error(err))
}

func (c *Coordinator) deny(s *session, target crawler.Target, reason crawler.DenyReason, logger *zap.Logger) {
	s.fail(target.URL, crawler.StagePolicy, &crawler.PolicyError{URL: target.URL, Reason: reason})
	metrics.ObservePage(target.URL, "denied", 0)
	c.deps.Events.Emit(progress.Event{
		SessionID: s.id, Stage: progress.StageTargetDenied, URL: target.URL,
		Host: crawler.Hostname(target.URL), Depth: target.Depth, Reason: string(reason),
	})
	logger.Info("target denied", zap.String("reason", string(reason)))
}
