// Package promote layers a headless browser fetch over a plain HTTP fetch,
// re-fetching pages whose markup suggests client-side rendering.
package promote

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-researcher/internal/crawler"
)

// Detector decides whether a plain fetch needs a browser.
type Detector interface {
	ShouldPromote(res crawler.FetchResult) bool
}

// Fetcher implements crawler.Fetcher.
type Fetcher struct {
	primary  crawler.Fetcher
	headless crawler.Fetcher
	detector Detector
	logger   *zap.Logger
}

// New combines primary and headless. A nil detector selects NewHeuristic(0).
func New(primary, headless crawler.Fetcher, detector Detector, logger *zap.Logger) *Fetcher {
	if detector == nil {
		detector = NewHeuristic(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{primary: primary, headless: headless, detector: detector, logger: logger}
}

// Fetch runs the primary fetch and promotes when the detector asks for it.
// A failed promotion falls back to the primary result.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) crawler.FetchResult {
	res := f.primary.Fetch(ctx, rawURL)
	if f.headless == nil || !f.detector.ShouldPromote(res) {
		return res
	}
	target := res.FinalURL
	if target == "" {
		target = rawURL
	}
	rendered := f.headless.Fetch(ctx, target)
	if !rendered.OK() {
		f.logger.Warn("headless promotion failed",
			zap.String("url", rawURL),
			zap.String("reason", string(rendered.Failure)),
			zap.Int("status", rendered.StatusCode),
			zap.Error(rendered.Err),
		)
		return res
	}
	f.logger.Debug("headless promotion applied", zap.String("url", rawURL))
	rendered.URL = rawURL
	rendered.Attempts += res.Attempts
	rendered.Duration += res.Duration
	return rendered
}

var _ crawler.Fetcher = (*Fetcher)(nil)
