package gate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const maxRobotsBytes = 1 << 20

// robotsEnforcer enforces robots.txt directives per host. Parsed files are
// cached for the life of the enforcer; failed fetches are not cached and
// fail open.
type robotsEnforcer struct {
	client    *http.Client
	cache     sync.Map
	group     singleflight.Group
	userAgent string
	logger    *zap.Logger
}

func newRobotsEnforcer(client *http.Client, userAgent string, logger *zap.Logger) *robotsEnforcer {
	return &robotsEnforcer{
		client:    client,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Allowed reports whether the user agent may fetch parsed.
func (r *robotsEnforcer) Allowed(ctx context.Context, parsed *url.URL) bool {
	data, err := r.load(ctx, parsed)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access",
			zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	return data.TestAgent(parsed.RequestURI(), r.userAgent)
}

func (r *robotsEnforcer) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	if data, ok := r.cache.Load(hostKey); ok {
		cached, assertOK := data.(*robotstxt.RobotsData)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", data)
		}
		return cached, nil
	}

	result, err, _ := r.group.Do(hostKey, func() (any, error) {
		data, err := r.fetch(ctx, parsed)
		if err != nil {
			return nil, err
		}
		r.cache.Store(hostKey, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	data, ok := result.(*robotstxt.RobotsData)
	if !ok {
		return nil, fmt.Errorf("robots result type mismatch: %T", result)
	}
	return data, nil
}

func (r *robotsEnforcer) fetch(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()
	// A failing server is treated like an unreachable one.
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("fetch robots: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}
