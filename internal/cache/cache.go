// Package cache implements the content cache: fetched bodies keyed by
// normalized URL with a TTL, held in memory and optionally persisted to a
// blob store so a later session can reuse them.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-researcher/internal/clock/system"
	"github.com/JakeFAU/web-researcher/internal/crawler"
	"github.com/JakeFAU/web-researcher/internal/hash/sha256"
	"github.com/JakeFAU/web-researcher/internal/metrics"
	"github.com/JakeFAU/web-researcher/internal/storage"
)

// Config controls the cache.
type Config struct {
	Enabled bool
	TTL     time.Duration
}

// Option customizes a Cache.
type Option func(*Cache)

// WithBlobStore persists entries to store in addition to memory.
func WithBlobStore(store storage.BlobStore) Option {
	return func(c *Cache) {
		c.blobs = store
	}
}

// WithClock overrides the time source used for FetchedAt and freshness.
func WithClock(clock crawler.Clock) Option {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Cache implements crawler.ContentCache.
type Cache struct {
	cfg     Config
	mu      sync.RWMutex
	entries map[string]crawler.CachedPage
	blobs   storage.BlobStore
	hasher  crawler.Hasher
	clock   crawler.Clock
	logger  *zap.Logger
}

// New builds a cache. A disabled cache always misses and drops writes.
func New(cfg Config, opts ...Option) (*Cache, error) {
	if cfg.Enabled && cfg.TTL <= 0 {
		return nil, crawler.InvalidConfigf("cache ttl must be > 0")
	}
	c := &Cache{
		cfg:     cfg,
		entries: make(map[string]crawler.CachedPage),
		hasher:  sha256.New(),
		clock:   system.New(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the fresh entry for rawURL.
func (c *Cache) Get(ctx context.Context, rawURL string) (crawler.CachedPage, bool) {
	if !c.cfg.Enabled {
		return crawler.CachedPage{}, false
	}
	key, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		metrics.ObserveCacheLookup(false)
		return crawler.CachedPage{}, false
	}

	page, ok := c.lookup(ctx, key)
	if !ok {
		metrics.ObserveCacheLookup(false)
		return crawler.CachedPage{}, false
	}
	if !page.Fresh(c.clock.Now()) {
		c.evict(key, page)
		metrics.ObserveCacheLookup(false)
		return crawler.CachedPage{}, false
	}
	metrics.ObserveCacheLookup(true)
	return page, true
}

// evict drops key only while it still holds stale, so an entry written by a
// concurrent Put survives.
func (c *Cache) evict(key string, stale crawler.CachedPage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.entries[key]; ok && current.FetchedAt.Equal(stale.FetchedAt) {
		delete(c.entries, key)
	}
}

// Put stores page under its normalized URL, stamped with the current time.
func (c *Cache) Put(ctx context.Context, page crawler.RawPage) error {
	if !c.cfg.Enabled {
		return nil
	}
	key, err := crawler.NormalizeURL(page.URL)
	if err != nil {
		return fmt.Errorf("cache key: %w", err)
	}
	entry := crawler.CachedPage{
		URL:         key,
		FinalURL:    page.FinalURL,
		Content:     append([]byte(nil), page.Body...),
		ContentType: page.ContentType,
		FetchedAt:   c.clock.Now(),
		TTL:         c.cfg.TTL,
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()

	if c.blobs == nil {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	name, err := c.objectName(key)
	if err != nil {
		return err
	}
	if _, err := c.blobs.PutObject(ctx, name, "application/json", bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("persist cache entry: %w", err)
	}
	return nil
}

// Len returns the number of entries held in memory.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) lookup(ctx context.Context, key string) (crawler.CachedPage, bool) {
	c.mu.RLock()
	page, ok := c.entries[key]
	c.mu.RUnlock()
	if ok || c.blobs == nil {
		return page, ok
	}

	name, err := c.objectName(key)
	if err != nil {
		return crawler.CachedPage{}, false
	}
	data, err := c.blobs.GetObject(ctx, name)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("cache read failed", zap.String("url", key), zap.Error(err))
		}
		return crawler.CachedPage{}, false
	}
	if err := json.Unmarshal(data, &page); err != nil {
		c.logger.Warn("cache entry corrupt", zap.String("url", key), zap.Error(err))
		return crawler.CachedPage{}, false
	}
	if page.URL != key {
		return crawler.CachedPage{}, false
	}

	c.mu.Lock()
	c.entries[key] = page
	c.mu.Unlock()
	return page, true
}

// objectName spreads entries across 256 directories by digest prefix.
func (c *Cache) objectName(key string) (string, error) {
	digest, err := c.hasher.Hash([]byte(key))
	if err != nil {
		return "", fmt.Errorf("hash cache key: %w", err)
	}
	return fmt.Sprintf("pages/%s/%s.json", digest[:2], digest), nil
}

var _ crawler.ContentCache = (*Cache)(nil)
