// Package gate implements the crawl policy gate: scheme and TLS checks,
// domain allow/block lists, redirect limits and robots.txt compliance.
package gate

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-researcher/internal/crawler"
)

const defaultRobotsTimeout = 10 * time.Second

// Config drives gate decisions.
type Config struct {
	AllowedDomains []string
	BlockedDomains []string
	MaxRedirects   int
	RespectRobots  bool
	RequireTLS     bool
	VerifySSL      bool
	UserAgent      string
	RobotsTimeout  time.Duration
}

// Option customizes a Gate.
type Option func(*Gate)

// WithHTTPClient overrides the client used to fetch robots.txt.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gate) {
		if client != nil {
			g.client = client
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Gate implements crawler.PolicyGate. It is safe for concurrent use.
type Gate struct {
	cfg     Config
	allowed *domainMatcher
	blocked *domainMatcher
	robots  *robotsEnforcer
	client  *http.Client
	logger  *zap.Logger
}

// New builds a Gate.
func New(cfg Config, opts ...Option) (*Gate, error) {
	if cfg.MaxRedirects < 0 {
		return nil, crawler.InvalidConfigf("max redirects must be >= 0")
	}
	if cfg.RobotsTimeout <= 0 {
		cfg.RobotsTimeout = defaultRobotsTimeout
	}
	g := &Gate{
		cfg:     cfg,
		allowed: newDomainMatcher(cfg.AllowedDomains),
		blocked: newDomainMatcher(cfg.BlockedDomains),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.client == nil {
		g.client = &http.Client{
			Timeout: cfg.RobotsTimeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				//nolint:gosec // verification is a user-facing setting
				TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifySSL},
			},
		}
	}
	if cfg.RespectRobots {
		g.robots = newRobotsEnforcer(g.client, cfg.UserAgent, g.logger)
	}
	return g, nil
}

// Allow decides whether rawURL may be fetched after redirects hops. The
// blocked list is consulted before anything that needs the network.
func (g *Gate) Allow(ctx context.Context, rawURL string, redirects int) crawler.Decision {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Hostname() == "" {
		return g.deny(rawURL, crawler.DenyInvalidURL)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "https":
	case "http":
		if g.cfg.RequireTLS {
			return g.deny(rawURL, crawler.DenyTLSRequired)
		}
	default:
		return g.deny(rawURL, crawler.DenyUnsupportedScheme)
	}

	host := parsed.Hostname()
	if g.blocked.Match(host, false) {
		return g.deny(rawURL, crawler.DenyBlockedDomain)
	}
	if g.allowed != nil && !g.allowed.Match(host, true) {
		return g.deny(rawURL, crawler.DenyNotAllowedDomain)
	}
	if redirects > g.cfg.MaxRedirects {
		return g.deny(rawURL, crawler.DenyTooManyRedirects)
	}
	if g.robots != nil && !g.robots.Allowed(ctx, parsed) {
		return g.deny(rawURL, crawler.DenyRobots)
	}
	return crawler.Allow()
}

func (g *Gate) deny(rawURL string, reason crawler.DenyReason) crawler.Decision {
	g.logger.Debug("policy denied url", zap.String("url", rawURL), zap.String("reason", string(reason)))
	return crawler.Deny(reason)
}
