// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/web-researcher/internal/crawler"
	"github.com/JakeFAU/web-researcher/internal/fetcher"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	Timeout       time.Duration
	MaxPageSize   int64
	MaxConcurrent int
	VerifySSL     bool
	// MaxRedirects applies when no redirect gate is configured.
	MaxRedirects int
	Retry        *fetcher.RetryPolicy
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithRedirectGate re-checks every redirect hop against gate.
func WithRedirectGate(gate crawler.PolicyGate) Option {
	return func(f *Fetcher) {
		f.gate = gate
	}
}

// WithSleeper replaces the sleeper used between retries.
func WithSleeper(s crawler.Sleeper) Option {
	return func(f *Fetcher) {
		f.sleeper = s
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	sem           *semaphore.Weighted
	gate          crawler.PolicyGate
	sleeper       crawler.Sleeper
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponseHeaders(colly.ResponseHeadersCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, opts ...Option) (*Fetcher, error) {
	if cfg.MaxConcurrent <= 0 {
		return nil, crawler.InvalidConfigf("max concurrent requests must be > 0")
	}
	if cfg.MaxPageSize <= 0 {
		return nil, crawler.InvalidConfigf("max page size must be > 0")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = fetcher.DefaultRetryPolicy()
	}
	f := &Fetcher{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	// One extra byte distinguishes an exact fit from a truncated body.
	c.MaxBodySize = int(cfg.MaxPageSize) + 1
	c.WithTransport(newHTTPTransport(cfg.VerifySSL))
	c.SetRequestTimeout(cfg.Timeout)
	c.SetRedirectHandler(f.checkRedirect)
	f.baseCollector = c
	return f, nil
}

// Fetch retrieves rawURL, retrying transient failures.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) crawler.FetchResult {
	runner := fetcher.Runner{
		Policy:  f.cfg.Retry,
		Sleeper: f.sleeper,
		Timeout: f.cfg.Timeout,
		Logger:  f.logger,
	}
	return runner.Run(ctx, rawURL, func(attemptCtx context.Context) (crawler.FetchResult, error) {
		return f.attempt(attemptCtx, rawURL)
	})
}

func (f *Fetcher) attempt(ctx context.Context, rawURL string) (crawler.FetchResult, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return crawler.FetchResult{}, fmt.Errorf("acquire fetch slot: %w", err)
	}
	defer f.sem.Release(1)

	var (
		result   crawler.FetchResult
		fetchErr error
		oversize bool
	)
	collector := f.buildCollector(ctx)
	f.configureCollectorHooks(collector, &result, &fetchErr, &oversize)

	err := f.runCollector(ctx, collector, rawURL, &fetchErr)
	if oversize {
		return crawler.FetchResult{}, fmt.Errorf("fetch %s: %w", rawURL, fetcher.ErrBodyTooLarge)
	}
	if err != nil {
		return crawler.FetchResult{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(ctx context.Context) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	result *crawler.FetchResult,
	fetchErr *error,
	oversize *bool,
) {
	limit := f.cfg.MaxPageSize

	hooks.OnResponseHeaders(func(r *colly.Response) {
		if r.Headers == nil {
			return
		}
		if length := contentLength(*r.Headers); length > limit {
			*oversize = true
			r.Request.Abort()
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		if int64(len(r.Body)) > limit {
			*oversize = true
			return
		}
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = crawler.FetchResult{
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		// The collector shares ctx, so Visit unwinds promptly.
		<-done
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// checkRedirect runs on the shared backend client for every clone. via holds
// the requests already made, so len(via) is the redirect count of req.
func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	redirects := len(via)
	if f.gate != nil {
		decision := f.gate.Allow(req.Context(), req.URL.String(), redirects)
		if !decision.Allowed {
			return &crawler.PolicyError{URL: req.URL.String(), Reason: decision.Reason}
		}
		return nil
	}
	if redirects > f.cfg.MaxRedirects {
		return &crawler.PolicyError{URL: req.URL.String(), Reason: crawler.DenyTooManyRedirects}
	}
	return nil
}

func contentLength(h http.Header) int64 {
	raw := h.Get("Content-Length")
	if raw == "" {
		return -1
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

func newHTTPTransport(verifySSL bool) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !verifySSL, //nolint:gosec // operator opt-out via security.verify_ssl
		},
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

var _ crawler.Fetcher = (*Fetcher)(nil)
