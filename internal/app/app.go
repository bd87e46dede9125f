// Package app initializes and holds the long-lived research services, acting
// as the dependency injection container behind the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-researcher/internal/cache"
	"github.com/JakeFAU/web-researcher/internal/chunk"
	"github.com/JakeFAU/web-researcher/internal/clock/system"
	"github.com/JakeFAU/web-researcher/internal/config"
	"github.com/JakeFAU/web-researcher/internal/coordinator"
	"github.com/JakeFAU/web-researcher/internal/crawler"
	"github.com/JakeFAU/web-researcher/internal/embed"
	"github.com/JakeFAU/web-researcher/internal/embed/hash"
	"github.com/JakeFAU/web-researcher/internal/embed/ollama"
	"github.com/JakeFAU/web-researcher/internal/embed/openai"
	"github.com/JakeFAU/web-researcher/internal/extract"
	"github.com/JakeFAU/web-researcher/internal/fetcher"
	collyfetcher "github.com/JakeFAU/web-researcher/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/web-researcher/internal/fetcher/headless"
	"github.com/JakeFAU/web-researcher/internal/fetcher/promote"
	"github.com/JakeFAU/web-researcher/internal/id/uuid"
	"github.com/JakeFAU/web-researcher/internal/index/memory"
	"github.com/JakeFAU/web-researcher/internal/index/pgvector"
	"github.com/JakeFAU/web-researcher/internal/index/pinecone"
	"github.com/JakeFAU/web-researcher/internal/index/sqlite"
	"github.com/JakeFAU/web-researcher/internal/policy/gate"
	"github.com/JakeFAU/web-researcher/internal/policy/ratelimit"
	"github.com/JakeFAU/web-researcher/internal/progress"
	"github.com/JakeFAU/web-researcher/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/web-researcher/internal/publisher/pubsub"
	"github.com/JakeFAU/web-researcher/internal/retrieval"
	"github.com/JakeFAU/web-researcher/internal/storage"
	"github.com/JakeFAU/web-researcher/internal/storage/gcs"
	"github.com/JakeFAU/web-researcher/internal/storage/local"
	"github.com/JakeFAU/web-researcher/internal/telemetry"
)

// SQLiteFile is the database file created under vector_db.path.
const SQLiteFile = "vectors.db"

// Option customizes App construction.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	publisher  crawler.Publisher
	tracing    []sdktrace.TracerProviderOption
}

// WithRegisterer registers the progress collectors against reg instead of
// the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithPublisher replaces the Pub/Sub publisher built from notify settings.
func WithPublisher(p crawler.Publisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

// WithTracing passes extra options, such as span exporters, to the tracer
// provider.
func WithTracing(opts ...sdktrace.TracerProviderOption) Option {
	return func(o *options) {
		o.tracing = append(o.tracing, opts...)
	}
}

// App holds the services shared by crawl and retrieve for one process. The
// vector index and embedding backend are fixed for its lifetime.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	index       crawler.VectorIndex
	coordinator *coordinator.Coordinator
	retriever   *retrieval.Engine
	hub         *progress.Hub
	closers     []func() error
}

// New builds every pipeline component from cfg. It fails fast when a
// backend cannot be initialized; anything already opened is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	a = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()
	logger.Info("initializing research services",
		zap.String("vector_db", cfg.VectorDB.Type),
		zap.String("embedding_provider", cfg.Embedding.Provider),
	)

	tp, err := telemetry.NewTracerProvider(ctx, telemetry.ServiceName, o.tracing...)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() error {
		return tp.Shutdown(context.WithoutCancel(ctx))
	})
	telemetry.InstallGlobal(tp)

	clock := system.New()
	embedder, err := a.buildEmbedder()
	if err != nil {
		return nil, err
	}
	if a.index, err = a.buildIndex(ctx); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.index.Close)

	policy, err := gate.New(gate.Config{
		AllowedDomains: cfg.Security.AllowedDomains,
		BlockedDomains: cfg.Security.BlockedDomains,
		MaxRedirects:   cfg.Security.MaxRedirects,
		RespectRobots:  cfg.Scraping.RespectRobotsTxt,
		RequireTLS:     cfg.Security.RequireTLS,
		VerifySSL:      cfg.Security.VerifySSL,
		UserAgent:      cfg.Scraping.UserAgent,
	}, gate.WithLogger(logger.Named("gate")))
	if err != nil {
		return nil, fmt.Errorf("init policy gate: %w", err)
	}
	limiter, err := ratelimit.New(ratelimit.Config{
		PerMinute: cfg.RateLimit.RequestsPerMinute,
		PerHour:   cfg.RateLimit.RequestsPerHour,
		Delay:     cfg.RequestDelay(),
	})
	if err != nil {
		return nil, fmt.Errorf("init rate limiter: %w", err)
	}
	fetch, err := a.buildFetcher(policy)
	if err != nil {
		return nil, err
	}
	pages, err := a.buildCache(ctx)
	if err != nil {
		return nil, err
	}
	extractor, err := extract.New(extract.Config{
		MinContentLength: cfg.Content.MinContentLength,
		MaxContentLength: cfg.Content.MaxContentLength,
	})
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}
	chunker, err := chunk.New(cfg.Content.MaxChunkSize, cfg.Content.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("init chunker: %w", err)
	}
	publisher := o.publisher
	if publisher == nil && cfg.Notify.Topic != "" {
		ps, err := pubsubpublisher.Dial(ctx, cfg.Notify.ProjectID, cfg.Notify.Topic, logger.Named("pubsub"))
		if err != nil {
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		a.closers = append(a.closers, ps.Close)
		publisher = ps
	}
	if err := a.buildEvents(o.registerer); err != nil {
		return nil, err
	}

	a.coordinator, err = coordinator.New(coordinator.Config{
		MaxPages:           cfg.Crawl.MaxPages,
		Timeout:            cfg.CrawlBudget(),
		FetchWorkers:       cfg.Scraping.MaxConcurrentRequests,
		IndexWorkers:       cfg.Crawl.IndexWorkers,
		DocumentBuffer:     cfg.Crawl.DocumentBuffer,
		IndexMaxRetries:    cfg.Crawl.IndexMaxRetries,
		IndexBackoff:       time.Duration(cfg.Crawl.IndexBackoffMs) * time.Millisecond,
		ForbiddenThreshold: cfg.Crawl.ForbiddenThreshold,
		NotifyTopic:        cfg.Notify.Topic,
	}, coordinator.Deps{
		Gate:      policy,
		Limiter:   limiter,
		Fetcher:   fetch,
		Cache:     pages,
		Extractor: extractor,
		Chunker:   chunker,
		Embedder:  embedder,
		Index:     a.index,
		Publisher: publisher,
		Events:    a.hub,
		IDs:       uuid.New(),
		Clock:     clock,
		Sleeper:   clock,
		Tracer:    tp.Tracer("github.com/JakeFAU/web-researcher/internal/coordinator"),
		Logger:    logger.Named("coordinator"),
	})
	if err != nil {
		return nil, fmt.Errorf("init coordinator: %w", err)
	}

	a.retriever, err = retrieval.New(embedder, a.index, retrieval.Config{
		MaxResults:          cfg.Retrieval.MaxSearchResults,
		SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
		ConfidenceThreshold: cfg.Retrieval.ConfidenceThreshold,
		RecencyWeight:       cfg.Retrieval.RecencyWeight,
		RecencyHalfLife:     cfg.RecencyHalfLife(),
	},
		retrieval.WithClock(clock),
		retrieval.WithLogger(logger.Named("retrieval")),
		retrieval.WithTracer(tp.Tracer("github.com/JakeFAU/web-researcher/internal/retrieval")),
	)
	if err != nil {
		return nil, fmt.Errorf("init retrieval: %w", err)
	}

	logger.Info("research services initialized")
	return a, nil
}

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Crawl runs one crawl session.
func (a *App) Crawl(ctx context.Context, seeds []string, depth int) (crawler.Summary, error) {
	return a.coordinator.Crawl(ctx, seeds, depth) //nolint:wrapcheck
}

// Retrieve answers query with up to k chunks from the index.
func (a *App) Retrieve(ctx context.Context, query string, k int) (crawler.RetrievalResult, error) {
	return a.retriever.Query(ctx, query, k) //nolint:wrapcheck
}

// IndexSize reports the number of stored chunks.
func (a *App) IndexSize(ctx context.Context) (int, error) {
	return a.index.Len(ctx) //nolint:wrapcheck
}

// Close flushes progress events and releases every backend.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("shutting down research services")
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
		a.hub = nil
	}
	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) buildEmbedder() (*embed.Embedder, error) {
	cfg := a.cfg.Embedding
	var backend embed.Backend
	switch cfg.Provider {
	case config.EmbeddingHash:
		backend = hash.New(cfg.Dimension)
	case config.EmbeddingOllama:
		backend = ollama.New(ollama.Config{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: a.cfg.EmbeddingTimeout(),
		})
	case config.EmbeddingOpenAI:
		baseURL := a.cfg.OpenAI.BaseURL
		if baseURL == "" {
			baseURL = cfg.BaseURL
		}
		b, err := openai.New(openai.Config{
			APIKey:     a.cfg.OpenAI.APIKey,
			BaseURL:    baseURL,
			Model:      cfg.Model,
			Timeout:    a.cfg.EmbeddingTimeout(),
			Dimensions: cfg.Dimension,
			MaxRetries: a.cfg.Scraping.MaxRetries,
		})
		if err != nil {
			return nil, crawler.InvalidConfigf("%v", err)
		}
		backend = b
	default:
		return nil, crawler.InvalidConfigf("unknown embedding provider %q", cfg.Provider)
	}
	e, err := embed.New(backend, embed.Config{
		Provider:  cfg.Provider,
		Dimension: cfg.Dimension,
		BatchSize: cfg.BatchSize,
	}, a.logger.Named("embed"))
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	return e, nil
}

func (a *App) buildIndex(ctx context.Context) (crawler.VectorIndex, error) {
	dim := a.cfg.Embedding.Dimension
	switch a.cfg.VectorDB.Type {
	case config.VectorDBMemory:
		return memory.New(dim), nil
	case config.VectorDBSQLite, config.VectorDBFaiss, config.VectorDBLocal:
		path := filepath.Join(a.cfg.VectorDB.Path, SQLiteFile)
		x, err := sqlite.Open(ctx, path, dim)
		if err != nil {
			return nil, fmt.Errorf("open vector index %s: %w", path, err)
		}
		a.logger.Info("using sqlite vector index", zap.String("path", path))
		return x, nil
	case config.VectorDBPgvector:
		x, err := pgvector.New(ctx, pgvector.Config{
			DSN:       a.cfg.Postgres.URL,
			Table:     a.cfg.Postgres.Table,
			MaxConns:  int32(min(max(a.cfg.Postgres.MaxConns, 0), 1<<16)), //nolint:gosec // clamped
			Dimension: dim,
		})
		if err != nil {
			return nil, fmt.Errorf("connect pgvector: %w", err)
		}
		a.logger.Info("using pgvector index", zap.String("table", a.cfg.Postgres.Table))
		return x, nil
	case config.VectorDBPinecone:
		x, err := pinecone.New(ctx, pinecone.Config{
			APIKey:      a.cfg.Pinecone.APIKey,
			IndexName:   a.cfg.Pinecone.IndexName,
			Host:        a.cfg.Pinecone.Host,
			Environment: a.cfg.Pinecone.Environment,
			Namespace:   a.cfg.Pinecone.Namespace,
			Dimension:   dim,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("connect pinecone: %w", err)
		}
		a.logger.Info("using pinecone index", zap.String("index", a.cfg.Pinecone.IndexName))
		return x, nil
	default:
		return nil, crawler.InvalidConfigf("unknown vector_db.type %q", a.cfg.VectorDB.Type)
	}
}

// buildFetcher returns the colly fetcher, wrapped with headless promotion
// when the browser is enabled.
func (a *App) buildFetcher(policy crawler.PolicyGate) (crawler.Fetcher, error) {
	cfg := a.cfg
	retry := fetcher.NewRetryPolicy(
		cfg.Scraping.MaxRetries,
		time.Duration(cfg.Scraping.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.Scraping.BackoffMaxMs)*time.Millisecond,
	)
	primary, err := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Scraping.UserAgent,
		Timeout:       cfg.FetchTimeout(),
		MaxPageSize:   cfg.Scraping.MaxPageSize,
		MaxConcurrent: cfg.Scraping.MaxConcurrentRequests,
		VerifySSL:     cfg.Security.VerifySSL,
		MaxRedirects:  cfg.Security.MaxRedirects,
		Retry:         retry,
	}, collyfetcher.WithRedirectGate(policy), collyfetcher.WithLogger(a.logger.Named("fetcher")))
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}
	if !cfg.Browser.Enabled {
		return primary, nil
	}

	browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       max(1, cfg.Scraping.MaxConcurrentRequests/2),
		UserAgent:         cfg.Scraping.UserAgent,
		NavigationTimeout: cfg.FetchTimeout(),
		Headless:          cfg.Browser.Headless,
		ViewportWidth:     cfg.Browser.ViewportWidth,
		ViewportHeight:    cfg.Browser.ViewportHeight,
		MaxPageSize:       cfg.Scraping.MaxPageSize,
		Retry:             retry,
	}, headlessfetcher.WithRedirectGate(policy), headlessfetcher.WithLogger(a.logger.Named("headless")))
	if err != nil {
		a.logger.Warn("headless fetcher unavailable, using plain HTTP only", zap.Error(err))
		return primary, nil
	}
	a.closers = append(a.closers, browser.Close)
	return promote.New(primary, browser, promote.NewHeuristic(0), a.logger.Named("promote")), nil
}

// buildCache persists entries under cache.path: a gs:// URI selects Cloud
// Storage, anything else the local filesystem.
func (a *App) buildCache(ctx context.Context) (*cache.Cache, error) {
	cfg := a.cfg
	opts := []cache.Option{cache.WithLogger(a.logger.Named("cache"))}
	if cfg.Cache.Enabled && cfg.Cache.Path != "" {
		var (
			store storage.BlobStore
			err   error
		)
		if cfg.RemoteCache() {
			bucket, prefix, perr := storage.ParseGSURI(cfg.Cache.Path)
			if perr != nil {
				return nil, crawler.InvalidConfigf("cache.path: %v", perr)
			}
			gs, derr := gcs.Dial(ctx, gcs.Config{Bucket: bucket, Prefix: prefix}, a.logger.Named("gcs"))
			if derr != nil {
				return nil, fmt.Errorf("init gcs cache: %w", derr)
			}
			a.closers = append(a.closers, gs.Close)
			store = gs
		} else {
			store, err = local.New(local.Config{BaseDir: cfg.Cache.Path})
			if err != nil {
				return nil, fmt.Errorf("init disk cache: %w", err)
			}
		}
		opts = append(opts, cache.WithBlobStore(store))
	}
	c, err := cache.New(cache.Config{Enabled: cfg.Cache.Enabled, TTL: cfg.CacheTTL()}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	return c, nil
}

func (a *App) buildEvents(reg prometheus.Registerer) error {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return fmt.Errorf("init progress metrics: %w", err)
		}
		a.logger.Debug("progress collectors already registered; metrics sink disabled")
		promSink = nil
	}
	var metricsSink progress.Sink
	if promSink != nil {
		metricsSink = promSink
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress")},
		sinks.NewLogSink(a.logger.Named("events")),
		metricsSink,
	)
	return nil
}
