// Package coordinator drives a crawl: it walks the frontier through the
// policy gate, cache, rate limiter and fetcher, then hands extracted
// documents to an index pool that chunks, embeds and stores them.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/web-researcher/internal/clock/system"
	"github.com/JakeFAU/web-researcher/internal/crawler"
	"github.com/JakeFAU/web-researcher/internal/fetcher"
	"github.com/JakeFAU/web-researcher/internal/progress"
	"github.com/JakeFAU/web-researcher/internal/telemetry"
)

// Config bounds one crawl.
type Config struct {
	// MaxPages caps targets admitted past the policy gate. Zero is unlimited.
	MaxPages int
	// Timeout is the wall-clock budget per Crawl call. Zero is unlimited.
	Timeout            time.Duration
	FetchWorkers       int
	IndexWorkers       int
	DocumentBuffer     int
	IndexMaxRetries    int
	IndexBackoff       time.Duration
	ForbiddenThreshold int
	// NotifyTopic receives one message per indexed document when a
	// publisher is configured.
	NotifyTopic string
}

// Deps are the pipeline components. Publisher, Events, IDs, Clock, Sleeper,
// Tracer and Logger are optional.
type Deps struct {
	Gate      crawler.PolicyGate
	Limiter   crawler.RateLimiter
	Fetcher   crawler.Fetcher
	Cache     crawler.ContentCache
	Extractor crawler.Extractor
	Chunker   crawler.Chunker
	Embedder  crawler.Embedder
	Index     crawler.VectorIndex
	Publisher crawler.Publisher
	Events    progress.Emitter
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
	Sleeper   crawler.Sleeper
	Tracer    trace.Tracer
	Logger    *zap.Logger
}

// Coordinator implements the crawl operation.
type Coordinator struct {
	cfg        Config
	deps       Deps
	indexRetry *fetcher.RetryPolicy
	logger     *zap.Logger
}

// New validates cfg and deps.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	switch {
	case deps.Gate == nil, deps.Limiter == nil, deps.Fetcher == nil, deps.Cache == nil,
		deps.Extractor == nil, deps.Chunker == nil, deps.Embedder == nil, deps.Index == nil:
		return nil, crawler.InvalidConfigf("coordinator is missing a pipeline component")
	case cfg.FetchWorkers <= 0:
		return nil, crawler.InvalidConfigf("fetch workers must be > 0")
	case cfg.MaxPages < 0, cfg.Timeout < 0, cfg.DocumentBuffer < 0, cfg.IndexMaxRetries < 0:
		return nil, crawler.InvalidConfigf("crawl budgets must be >= 0")
	}
	if cfg.IndexWorkers <= 0 {
		cfg.IndexWorkers = cfg.FetchWorkers
	}
	if cfg.IndexBackoff <= 0 {
		cfg.IndexBackoff = 200 * time.Millisecond
	}
	if deps.Events == nil {
		deps.Events = progress.Discard
	}
	if deps.IDs == nil {
		deps.IDs = seqIDs{}
	}
	clock := system.New()
	if deps.Clock == nil {
		deps.Clock = clock
	}
	if deps.Sleeper == nil {
		deps.Sleeper = clock
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("github.com/JakeFAU/web-researcher/internal/coordinator")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:        cfg,
		deps:       deps,
		indexRetry: fetcher.NewRetryPolicy(cfg.IndexMaxRetries, cfg.IndexBackoff, 32*cfg.IndexBackoff),
		logger:     deps.Logger,
	}, nil
}

// Crawl visits seeds and every link discovered up to depthBudget hops away,
// indexing the documents it extracts. Per-target failures are recorded in
// the summary. An embedding dimension mismatch aborts the crawl and is
// returned; so is cancellation of ctx. Exhausting the crawl timeout or page
// budget ends the crawl normally.
func (c *Coordinator) Crawl(ctx context.Context, seeds []string, depthBudget int) (crawler.Summary, error) {
	if depthBudget < 0 {
		return crawler.Summary{}, crawler.InvalidConfigf("depth budget must be >= 0")
	}
	sessionID, err := c.deps.IDs.NewID()
	if err != nil {
		return crawler.Summary{}, fmt.Errorf("session id: %w", err)
	}
	ctx, span := c.deps.Tracer.Start(ctx, "coordinator.Crawl", trace.WithAttributes(
		attribute.String("crawl.session_id", sessionID),
		attribute.Int("crawl.seeds", len(seeds)),
		attribute.Int("crawl.depth", depthBudget),
	))
	defer span.End()

	start := c.deps.Clock.Now()
	logger := c.logger.With(zap.String("session_id", sessionID)).With(telemetry.TraceFields(ctx)...)
	s := newSession(sessionID, depthBudget, c.cfg.MaxPages, c.cfg.ForbiddenThreshold)

	c.deps.Events.Emit(progress.Event{SessionID: sessionID, Stage: progress.StageCrawlStart, Note: fmt.Sprintf("%d seeds", len(seeds))})
	logger.Info("crawl started", zap.Int("seeds", len(seeds)), zap.Int("depth", depthBudget))

	for _, seed := range seeds {
		s.admit(crawler.Target{URL: seed})
	}
	if s.frontier.Len() == 0 {
		s.frontier.Close()
	}

	crawlCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		crawlCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	fetchCtx, cancelFetch := context.WithCancel(crawlCtx)
	defer cancelFetch()

	// Documents already extracted are indexed even if the crawl is canceled.
	// indexCtx ends only when an index worker fails fatally.
	indexGroup, indexCtx := errgroup.WithContext(context.WithoutCancel(ctx))
	docs := make(chan crawler.Extraction, c.cfg.DocumentBuffer)
	for range c.cfg.IndexWorkers {
		indexGroup.Go(func() error {
			if err := c.indexWorker(indexCtx, s, docs); err != nil {
				cancelFetch()
				return err
			}
			return nil
		})
	}

	var fetchGroup errgroup.Group
	for range c.cfg.FetchWorkers {
		fetchGroup.Go(func() error {
			c.fetchWorker(fetchCtx, s, docs, indexCtx.Done(), logger)
			return nil
		})
	}
	_ = fetchGroup.Wait()
	close(docs)
	fatal := indexGroup.Wait()

	summary := s.snapshot()
	summary.Duration = c.deps.Clock.Now().Sub(start)

	switch {
	case fatal != nil:
		err = fatal
	case ctx.Err() != nil:
		err = fmt.Errorf("crawl canceled: %w", ctx.Err())
	case errors.Is(crawlCtx.Err(), context.DeadlineExceeded):
		logger.Warn("crawl timeout reached", zap.Duration("timeout", c.cfg.Timeout))
	}

	evt := progress.Event{SessionID: sessionID, Stage: progress.StageCrawlDone, Dur: summary.Duration}
	if err != nil {
		evt.Stage = progress.StageCrawlError
		evt.Note = err.Error()
		logger.Error("crawl aborted", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.Int("crawl.pages_fetched", summary.PagesFetched),
		attribute.Int("crawl.pages_indexed", summary.PagesIndexed),
		attribute.Int("crawl.chunks_indexed", summary.ChunksIndexed),
	)
	c.deps.Events.Emit(evt)
	logger.Info("crawl finished",
		zap.Int("discovered", summary.PagesDiscovered),
		zap.Int("denied", summary.PagesDenied),
		zap.Int("fetched", summary.PagesFetched),
		zap.Int("cache_hits", summary.CacheHits),
		zap.Int("failed", summary.PagesFailed),
		zap.Int("rejected", summary.PagesRejected),
		zap.Int("indexed", summary.PagesIndexed),
		zap.Int("chunks", summary.ChunksIndexed),
		zap.Duration("duration", summary.Duration),
	)
	return summary, err
}

// seqIDs is the fallback session ID source when none is injected.
type seqIDs struct{}

func (seqIDs) NewID() (string, error) {
	return fmt.Sprintf("session-%d", time.Now().UnixNano()), nil
}
