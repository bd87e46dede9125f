// Package config loads and validates researcher configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/web-researcher/internal/crawler"
)

// EnvPrefix is prepended to every configuration key read from the environment.
const EnvPrefix = "RESEARCHER"

// Vector index backends.
const (
	VectorDBMemory   = "memory"
	VectorDBSQLite   = "sqlite"
	VectorDBFaiss    = "faiss"
	VectorDBLocal    = "local"
	VectorDBPgvector = "pgvector"
	VectorDBPinecone = "pinecone"
)

// Embedding providers.
const (
	EmbeddingHash   = "hash"
	EmbeddingOllama = "ollama"
	EmbeddingOpenAI = "openai"
)

// Config captures all researcher configuration knobs loaded via Viper.
type Config struct {
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	VectorDB  VectorDBConfig  `mapstructure:"vector_db"`
	Pinecone  PineconeConfig  `mapstructure:"pinecone"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Scraping  ScrapingConfig  `mapstructure:"scraping"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Content   ContentConfig   `mapstructure:"content"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Security  SecurityConfig  `mapstructure:"security"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// OpenAIConfig holds credentials for the OpenAI embeddings API.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// EmbeddingConfig selects and tunes the embedding backend.
type EmbeddingConfig struct {
	Provider       string `mapstructure:"provider"`
	Model          string `mapstructure:"model"`
	Dimension      int    `mapstructure:"dimension"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	BatchSize      int    `mapstructure:"batch_size"`
}

// VectorDBConfig selects the vector index backend.
type VectorDBConfig struct {
	Type string `mapstructure:"type"`
	Path string `mapstructure:"path"`
}

// PineconeConfig addresses a Pinecone index.
type PineconeConfig struct {
	APIKey      string `mapstructure:"api_key"`
	Environment string `mapstructure:"environment"`
	IndexName   string `mapstructure:"index_name"`
	Host        string `mapstructure:"host"`
	Namespace   string `mapstructure:"namespace"`
}

// PostgresConfig controls the pgvector connection pool.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Table    string `mapstructure:"table"`
	MaxConns int    `mapstructure:"max_conns"`
}

// ScrapingConfig governs the HTTP fetcher.
type ScrapingConfig struct {
	MaxConcurrentRequests int     `mapstructure:"max_concurrent_requests"`
	RequestDelaySeconds   float64 `mapstructure:"request_delay"`
	UserAgent             string  `mapstructure:"user_agent"`
	RespectRobotsTxt      bool    `mapstructure:"respect_robots_txt"`
	MaxPageSize           int64   `mapstructure:"max_page_size"`
	MaxRetries            int     `mapstructure:"max_retries"`
	BackoffInitialMs      int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs          int     `mapstructure:"backoff_max_ms"`
}

// BrowserConfig configures the headless browser fetcher.
type BrowserConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	Headless       bool `mapstructure:"headless"`
	TimeoutMs      int  `mapstructure:"timeout_ms"`
	ViewportWidth  int  `mapstructure:"viewport_width"`
	ViewportHeight int  `mapstructure:"viewport_height"`
}

// ContentConfig bounds extraction and chunking.
type ContentConfig struct {
	MaxChunkSize     int `mapstructure:"max_chunk_size"`
	ChunkOverlap     int `mapstructure:"chunk_overlap"`
	MinContentLength int `mapstructure:"min_content_length"`
	MaxContentLength int `mapstructure:"max_content_length"`
}

// RetrievalConfig tunes query answering.
type RetrievalConfig struct {
	MaxSearchResults     int     `mapstructure:"max_search_results"`
	SimilarityThreshold  float64 `mapstructure:"similarity_threshold"`
	ConfidenceThreshold  float64 `mapstructure:"confidence_threshold"`
	RecencyWeight        float64 `mapstructure:"recency_weight"`
	RecencyHalfLifeHours float64 `mapstructure:"recency_half_life_hours"`
}

// CacheConfig controls the content cache.
type CacheConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	TTLSeconds int    `mapstructure:"ttl"`
	Path       string `mapstructure:"path"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	Format      string `mapstructure:"format"`
	Development bool   `mapstructure:"development"`
}

// SecurityConfig feeds the policy gate and fetcher TLS settings.
type SecurityConfig struct {
	AllowedDomains []string `mapstructure:"allowed_domains"`
	BlockedDomains []string `mapstructure:"blocked_domains"`
	MaxRedirects   int      `mapstructure:"max_redirects"`
	VerifySSL      bool     `mapstructure:"verify_ssl"`
	RequireTLS     bool     `mapstructure:"require_tls"`
}

// RateLimitConfig bounds request throughput process-wide.
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	RequestsPerHour   int `mapstructure:"requests_per_hour"`
}

// CrawlConfig holds per-crawl budgets and index worker tuning.
type CrawlConfig struct {
	MaxPages           int `mapstructure:"max_pages"`
	TimeoutSeconds     int `mapstructure:"timeout_seconds"`
	IndexWorkers       int `mapstructure:"index_workers"`
	DocumentBuffer     int `mapstructure:"document_buffer"`
	IndexMaxRetries    int `mapstructure:"index_max_retries"`
	IndexBackoffMs     int `mapstructure:"index_backoff_ms"`
	ForbiddenThreshold int `mapstructure:"forbidden_threshold"`
}

// NotifyConfig holds metadata for publish-subscribe notifications.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig configures the optional /metrics listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// legacyEnv maps keys to the flat environment variable names used by
// existing deployments. Prefixed names take precedence.
var legacyEnv = map[string]string{
	"openai.api_key":                   "OPENAI_API_KEY",
	"vector_db.type":                   "VECTOR_DB_TYPE",
	"vector_db.path":                   "VECTOR_DB_PATH",
	"embedding.model":                  "EMBEDDING_MODEL",
	"embedding.dimension":              "EMBEDDING_DIMENSION",
	"pinecone.api_key":                 "PINECONE_API_KEY",
	"pinecone.environment":             "PINECONE_ENVIRONMENT",
	"pinecone.index_name":              "PINECONE_INDEX_NAME",
	"scraping.max_concurrent_requests": "MAX_CONCURRENT_REQUESTS",
	"scraping.request_delay":           "REQUEST_DELAY",
	"scraping.user_agent":              "USER_AGENT",
	"scraping.respect_robots_txt":      "RESPECT_ROBOTS_TXT",
	"scraping.max_page_size":           "MAX_PAGE_SIZE",
	"browser.headless":                 "HEADLESS_BROWSER",
	"browser.timeout_ms":               "BROWSER_TIMEOUT",
	"browser.viewport_width":           "VIEWPORT_WIDTH",
	"browser.viewport_height":          "VIEWPORT_HEIGHT",
	"content.max_chunk_size":           "MAX_CHUNK_SIZE",
	"content.chunk_overlap":            "CHUNK_OVERLAP",
	"content.min_content_length":       "MIN_CONTENT_LENGTH",
	"content.max_content_length":       "MAX_CONTENT_LENGTH",
	"retrieval.max_search_results":     "MAX_SEARCH_RESULTS",
	"retrieval.similarity_threshold":   "SIMILARITY_THRESHOLD",
	"retrieval.confidence_threshold":   "CONFIDENCE_THRESHOLD",
	"cache.enabled":                    "ENABLE_CACHE",
	"cache.ttl":                        "CACHE_TTL",
	"cache.path":                       "CACHE_PATH",
	"logging.level":                    "LOG_LEVEL",
	"logging.file":                     "LOG_FILE",
	"logging.format":                   "LOG_FORMAT",
	"security.allowed_domains":         "ALLOWED_DOMAINS",
	"security.blocked_domains":         "BLOCKED_DOMAINS",
	"security.max_redirects":           "MAX_REDIRECTS",
	"security.verify_ssl":              "VERIFY_SSL",
	"rate_limit.requests_per_minute":   "REQUESTS_PER_MINUTE",
	"rate_limit.requests_per_hour":     "REQUESTS_PER_HOUR",
	"postgres.url":                     "DATABASE_URL",
}

// Load builds a Config from disk/environment. A .env file in the working
// directory is loaded first when present; it never overrides variables that
// are already set.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func bindLegacyEnv(v *viper.Viper) error {
	replacer := strings.NewReplacer(".", "_")
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(replacer.Replace(key))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("embedding.provider", EmbeddingOllama)
	v.SetDefault("embedding.model", "all-minilm")
	v.SetDefault("embedding.dimension", 384)
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.timeout_seconds", 30)
	v.SetDefault("embedding.batch_size", 32)
	v.SetDefault("vector_db.type", VectorDBFaiss)
	v.SetDefault("vector_db.path", "./data/vector_store")
	v.SetDefault("pinecone.api_key", "")
	v.SetDefault("pinecone.environment", "")
	v.SetDefault("pinecone.index_name", "")
	v.SetDefault("pinecone.host", "")
	v.SetDefault("pinecone.namespace", "")
	v.SetDefault("postgres.url", "")
	v.SetDefault("postgres.table", "chunks")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("scraping.max_concurrent_requests", 5)
	v.SetDefault("scraping.request_delay", 1.0)
	v.SetDefault("scraping.user_agent", "AutonomousWebResearcher/1.0 (+https://github.com/JakeFAU/web-researcher)")
	v.SetDefault("scraping.respect_robots_txt", true)
	v.SetDefault("scraping.max_page_size", 10*1024*1024)
	v.SetDefault("scraping.max_retries", 2)
	v.SetDefault("scraping.backoff_initial_ms", 250)
	v.SetDefault("scraping.backoff_max_ms", 5000)
	v.SetDefault("browser.enabled", false)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.timeout_ms", 30000)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 720)
	v.SetDefault("content.max_chunk_size", 1000)
	v.SetDefault("content.chunk_overlap", 200)
	v.SetDefault("content.min_content_length", 100)
	v.SetDefault("content.max_content_length", 100000)
	v.SetDefault("retrieval.max_search_results", 10)
	v.SetDefault("retrieval.similarity_threshold", 0.7)
	v.SetDefault("retrieval.confidence_threshold", 0.6)
	v.SetDefault("retrieval.recency_weight", 0.0)
	v.SetDefault("retrieval.recency_half_life_hours", 720.0)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", 3600)
	v.SetDefault("cache.path", "./data/cache")
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.file", "./logs/web_researcher.log")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.development", false)
	v.SetDefault("security.allowed_domains", []string{})
	v.SetDefault("security.blocked_domains", []string{
		"localhost", "127.0.0.1", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16",
	})
	v.SetDefault("security.max_redirects", 5)
	v.SetDefault("security.verify_ssl", true)
	v.SetDefault("security.require_tls", false)
	v.SetDefault("rate_limit.requests_per_minute", 60)
	v.SetDefault("rate_limit.requests_per_hour", 1000)
	v.SetDefault("crawl.max_pages", 100)
	v.SetDefault("crawl.timeout_seconds", 600)
	v.SetDefault("crawl.index_workers", 0)
	v.SetDefault("crawl.document_buffer", 16)
	v.SetDefault("crawl.index_max_retries", 3)
	v.SetDefault("crawl.index_backoff_ms", 200)
	v.SetDefault("crawl.forbidden_threshold", 3)
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("metrics.addr", "")
}

func (c *Config) normalize() {
	c.Security.AllowedDomains = splitList(c.Security.AllowedDomains)
	c.Security.BlockedDomains = splitList(c.Security.BlockedDomains)
	c.Embedding.Provider = strings.ToLower(strings.TrimSpace(c.Embedding.Provider))
	c.VectorDB.Type = strings.ToLower(strings.TrimSpace(c.VectorDB.Type))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Crawl.IndexWorkers <= 0 {
		c.Crawl.IndexWorkers = c.Scraping.MaxConcurrentRequests
	}
}

// splitList trims entries and splits any that still hold comma-separated values.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	check := func(failed bool, format string, args ...any) {
		if failed {
			errs = append(errs, crawler.InvalidConfigf(format, args...))
		}
	}

	check(c.Scraping.MaxConcurrentRequests <= 0, "scraping.max_concurrent_requests must be > 0")
	check(c.Scraping.RequestDelaySeconds < 0, "scraping.request_delay must be >= 0")
	check(c.Scraping.MaxPageSize <= 0, "scraping.max_page_size must be > 0")
	check(c.Scraping.MaxRetries < 0, "scraping.max_retries must be >= 0")
	check(c.Browser.TimeoutMs <= 0, "browser.timeout_ms must be > 0")
	check(c.RateLimit.RequestsPerMinute <= 0, "rate_limit.requests_per_minute must be > 0")
	check(c.RateLimit.RequestsPerHour <= 0, "rate_limit.requests_per_hour must be > 0")
	check(c.Content.MaxChunkSize <= 0, "content.max_chunk_size must be > 0")
	check(c.Content.ChunkOverlap < 0, "content.chunk_overlap must be >= 0")
	check(c.Content.ChunkOverlap >= c.Content.MaxChunkSize,
		"content.chunk_overlap (%d) must be < content.max_chunk_size (%d)",
		c.Content.ChunkOverlap, c.Content.MaxChunkSize)
	check(c.Content.MinContentLength < 0, "content.min_content_length must be >= 0")
	check(c.Content.MinContentLength > c.Content.MaxContentLength,
		"content.min_content_length must be <= content.max_content_length")
	check(c.Embedding.Dimension <= 0, "embedding.dimension must be > 0")
	check(c.Retrieval.MaxSearchResults <= 0, "retrieval.max_search_results must be > 0")
	check(!unitInterval(c.Retrieval.SimilarityThreshold), "retrieval.similarity_threshold must be within [0,1]")
	check(!unitInterval(c.Retrieval.ConfidenceThreshold), "retrieval.confidence_threshold must be within [0,1]")
	check(!unitInterval(c.Retrieval.RecencyWeight), "retrieval.recency_weight must be within [0,1]")
	check(c.Retrieval.RecencyWeight > 0 && c.Retrieval.RecencyHalfLifeHours <= 0,
		"retrieval.recency_half_life_hours must be > 0 when recency_weight is set")
	check(c.Cache.TTLSeconds < 0, "cache.ttl must be >= 0")
	check(c.Security.MaxRedirects < 0, "security.max_redirects must be >= 0")
	check(c.Crawl.MaxPages < 0, "crawl.max_pages must be >= 0")
	check(c.Crawl.TimeoutSeconds < 0, "crawl.timeout_seconds must be >= 0")
	check(c.Crawl.DocumentBuffer < 0, "crawl.document_buffer must be >= 0")
	check(c.Crawl.IndexMaxRetries < 0, "crawl.index_max_retries must be >= 0")
	check(c.Logging.Format != "" && c.Logging.Format != "console" && c.Logging.Format != "json",
		"logging.format must be console or json")
	check(c.Notify.Topic != "" && c.Notify.ProjectID == "", "notify.project_id must be set when notify.topic is set")

	switch c.Embedding.Provider {
	case EmbeddingHash, EmbeddingOllama:
	case EmbeddingOpenAI:
		check(c.OpenAI.APIKey == "", "openai.api_key must be set for the openai embedding provider")
	default:
		check(true, "unknown embedding.provider %q", c.Embedding.Provider)
	}

	switch c.VectorDB.Type {
	case VectorDBMemory:
	case VectorDBSQLite, VectorDBFaiss, VectorDBLocal:
		check(strings.TrimSpace(c.VectorDB.Path) == "", "vector_db.path must be set for local vector stores")
	case VectorDBPgvector:
		check(c.Postgres.URL == "", "postgres.url must be set for the pgvector backend")
	case VectorDBPinecone:
		check(c.Pinecone.APIKey == "", "pinecone.api_key must be set for the pinecone backend")
		check(c.Pinecone.Host == "" && c.Pinecone.IndexName == "",
			"pinecone.host or pinecone.index_name must be set")
	default:
		check(true, "unknown vector_db.type %q", c.VectorDB.Type)
	}

	return errors.Join(errs...)
}

func unitInterval(v float64) bool {
	return v >= 0 && v <= 1
}

// LocalVectorStore reports whether the vector index persists under vector_db.path.
func (c Config) LocalVectorStore() bool {
	switch c.VectorDB.Type {
	case VectorDBSQLite, VectorDBFaiss, VectorDBLocal:
		return true
	default:
		return false
	}
}

// RemoteCache reports whether cache.path names a GCS location.
func (c Config) RemoteCache() bool {
	return strings.HasPrefix(c.Cache.Path, "gs://")
}

// EnsureDirectories creates the local directories referenced by the
// configuration: the vector store, the disk cache and the log file parent.
func (c Config) EnsureDirectories() error {
	var dirs []string
	if c.LocalVectorStore() {
		dirs = append(dirs, c.VectorDB.Path)
	}
	if c.Cache.Enabled && c.Cache.Path != "" && !c.RemoteCache() {
		dirs = append(dirs, c.Cache.Path)
	}
	if c.Logging.File != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// RequestDelay converts scraping.request_delay seconds to a duration.
func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.Scraping.RequestDelaySeconds * float64(time.Second))
}

// FetchTimeout is the per-attempt fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Browser.TimeoutMs) * time.Millisecond
}

// CacheTTL converts cache.ttl seconds to a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// CrawlBudget is the wall-clock budget for one crawl; zero means none.
func (c Config) CrawlBudget() time.Duration {
	return time.Duration(c.Crawl.TimeoutSeconds) * time.Second
}

// RecencyHalfLife converts retrieval.recency_half_life_hours to a duration.
func (c Config) RecencyHalfLife() time.Duration {
	return time.Duration(c.Retrieval.RecencyHalfLifeHours * float64(time.Hour))
}

// EmbeddingTimeout converts embedding.timeout_seconds to a duration.
func (c Config) EmbeddingTimeout() time.Duration {
	return time.Duration(c.Embedding.TimeoutSeconds) * time.Second
}
