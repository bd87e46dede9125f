// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-researcher/internal/crawler"
	"github.com/JakeFAU/web-researcher/internal/fetcher"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Headless false shows the browser window, useful when debugging.
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	MaxPageSize    int64
	Retry          *fetcher.RetryPolicy
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithRedirectGate checks the landing URL of every navigation against gate.
func WithRedirectGate(gate crawler.PolicyGate) Option {
	return func(f *Fetcher) {
		f.gate = gate
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

// Fetcher implements crawler.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	gate        crawler.PolicyGate
	logger      *zap.Logger
}

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config, opts ...Option) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, crawler.InvalidConfigf("max parallel must be >= 0")
	}
	if cfg.ViewportWidth < 0 || cfg.ViewportHeight < 0 {
		return nil, crawler.InvalidConfigf("viewport dimensions must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = fetcher.DefaultRetryPolicy()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	var headlessFlag any = false
	if cfg.Headless {
		headlessFlag = "new"
	}
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headlessFlag),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)

	f := &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Close cancels the allocator context, shutting the browser down.
func (f *Fetcher) Close() error {
	f.allocCancel()
	return nil
}

// Fetch navigates with a browser and returns the rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) crawler.FetchResult {
	runner := fetcher.Runner{
		Policy:  f.cfg.Retry,
		Timeout: f.navTimeout(),
		Logger:  f.logger,
	}
	return runner.Run(ctx, rawURL, func(attemptCtx context.Context) (crawler.FetchResult, error) {
		return f.attempt(attemptCtx, rawURL)
	})
}

func (f *Fetcher) attempt(ctx context.Context, rawURL string) (crawler.FetchResult, error) {
	if err := f.acquire(ctx); err != nil {
		return crawler.FetchResult{}, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	// Tie the browser tab to the attempt deadline and caller cancellation.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	html, finalURL, err := f.runHeadless(taskCtx, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.FetchResult{}, fmt.Errorf("headless fetch: %w", ctx.Err())
		}
		return crawler.FetchResult{}, err
	}
	if f.cfg.MaxPageSize > 0 && int64(len(html)) > f.cfg.MaxPageSize {
		return crawler.FetchResult{}, fmt.Errorf("render %s: %w", rawURL, fetcher.ErrBodyTooLarge)
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(rawURL, finalURL)
	if headers == nil {
		headers = http.Header{}
	}
	if f.gate != nil && responseURL != rawURL {
		decision := f.gate.Allow(ctx, responseURL, meta.redirectCount())
		if !decision.Allowed {
			return crawler.FetchResult{}, &crawler.PolicyError{URL: responseURL, Reason: decision.Reason}
		}
	}
	// The serialized DOM is HTML regardless of the original response type.
	headers.Set("Content-Type", "text/html; charset=utf-8")

	return crawler.FetchResult{
		FinalURL:   responseURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
	}, nil
}

func (f *Fetcher) runHeadless(ctx context.Context, rawURL string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		f.networkSetupAction(),
	}
	if f.cfg.ViewportWidth > 0 && f.cfg.ViewportHeight > 0 {
		actions = append(actions, chromedp.EmulateViewport(int64(f.cfg.ViewportWidth), int64(f.cfg.ViewportHeight)))
	}
	actions = append(actions,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

type responseMeta struct {
	mu        sync.RWMutex
	status    int
	headers   http.Header
	url       string
	redirects int
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureRedirect(event *network.EventRequestWillBeSent) {
	if event.Type != network.ResourceTypeDocument || event.RedirectResponse == nil {
		return
	}
	m.mu.Lock()
	m.redirects++
	m.mu.Unlock()
}

func (m *responseMeta) redirectCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.redirects
}

func (m *responseMeta) snapshot() (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.headers.Clone(), m.url
}

func (m *responseMeta) captureEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		m.capture(e)
	case *network.EventRequestWillBeSent:
		m.captureRedirect(e)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	status, headers, url := m.snapshot()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}

	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

var _ crawler.Fetcher = (*Fetcher)(nil)
