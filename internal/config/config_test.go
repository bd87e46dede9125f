package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/web-researcher/internal/crawler"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scraping.MaxConcurrentRequests != 5 {
		t.Fatalf("expected 5 concurrent requests, got %d", cfg.Scraping.MaxConcurrentRequests)
	}
	if cfg.RequestDelay() != time.Second {
		t.Fatalf("expected 1s request delay, got %v", cfg.RequestDelay())
	}
	if cfg.Content.MaxChunkSize != 1000 || cfg.Content.ChunkOverlap != 200 {
		t.Fatalf("unexpected chunk defaults %+v", cfg.Content)
	}
	if cfg.CacheTTL() != time.Hour {
		t.Fatalf("expected 1h cache ttl, got %v", cfg.CacheTTL())
	}
	if cfg.FetchTimeout() != 30*time.Second {
		t.Fatalf("expected 30s fetch timeout, got %v", cfg.FetchTimeout())
	}
	if len(cfg.Security.BlockedDomains) != 5 || cfg.Security.BlockedDomains[2] != "10.0.0.0/8" {
		t.Fatalf("unexpected blocked domains %v", cfg.Security.BlockedDomains)
	}
	if len(cfg.Security.AllowedDomains) != 0 {
		t.Fatalf("expected no allowed domains, got %v", cfg.Security.AllowedDomains)
	}
	if cfg.Crawl.IndexWorkers != cfg.Scraping.MaxConcurrentRequests {
		t.Fatalf("index workers should default to fetch concurrency, got %d", cfg.Crawl.IndexWorkers)
	}
	if !cfg.LocalVectorStore() {
		t.Fatal("faiss default should map to the local vector store")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
embedding:
  provider: hash
  dimension: 64
vector_db:
  type: memory
scraping:
  max_concurrent_requests: 8
  request_delay: 0.25
content:
  max_chunk_size: 500
  chunk_overlap: 50
security:
  allowed_domains: ["example.com", " docs.example.com "]
  blocked_domains: "bad.example, *.evil.test"
crawl:
  index_workers: 2
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Embedding.Provider != EmbeddingHash || cfg.Embedding.Dimension != 64 {
		t.Fatalf("expected embedding overrides, got %+v", cfg.Embedding)
	}
	if cfg.RequestDelay() != 250*time.Millisecond {
		t.Fatalf("expected 250ms delay, got %v", cfg.RequestDelay())
	}
	if got := strings.Join(cfg.Security.AllowedDomains, "|"); got != "example.com|docs.example.com" {
		t.Fatalf("unexpected allowed domains %q", got)
	}
	if got := strings.Join(cfg.Security.BlockedDomains, "|"); got != "bad.example|*.evil.test" {
		t.Fatalf("unexpected blocked domains %q", got)
	}
	if cfg.Crawl.IndexWorkers != 2 {
		t.Fatalf("expected explicit index workers, got %d", cfg.Crawl.IndexWorkers)
	}
}

func TestLoadReadsPrefixedAndLegacyEnv(t *testing.T) {
	t.Setenv("RESEARCHER_EMBEDDING_PROVIDER", "hash")
	t.Setenv("MAX_CHUNK_SIZE", "1500")
	t.Setenv("RESEARCHER_CONTENT_CHUNK_OVERLAP", "300")
	t.Setenv("BLOCKED_DOMAINS", "a.test, b.test")
	t.Setenv("REQUESTS_PER_MINUTE", "30")
	t.Setenv("RESEARCHER_RATE_LIMIT_REQUESTS_PER_MINUTE", "45")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Content.MaxChunkSize != 1500 || cfg.Content.ChunkOverlap != 300 {
		t.Fatalf("expected env chunk settings, got %+v", cfg.Content)
	}
	if got := strings.Join(cfg.Security.BlockedDomains, "|"); got != "a.test|b.test" {
		t.Fatalf("unexpected blocked domains %q", got)
	}
	if cfg.RateLimit.RequestsPerMinute != 45 {
		t.Fatalf("prefixed variable should win over legacy name, got %d", cfg.RateLimit.RequestsPerMinute)
	}
}

func TestLoadRejectsOverlapAtLeastSize(t *testing.T) {
	t.Setenv("RESEARCHER_CONTENT_MAX_CHUNK_SIZE", "200")
	t.Setenv("RESEARCHER_CONTENT_CHUNK_OVERLAP", "200")

	_, err := Load("")
	if !errors.Is(err, crawler.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func validConfig() Config {
	return Config{
		Embedding: EmbeddingConfig{Provider: EmbeddingHash, Dimension: 8},
		VectorDB:  VectorDBConfig{Type: VectorDBMemory},
		Scraping:  ScrapingConfig{MaxConcurrentRequests: 1, MaxPageSize: 1024},
		Browser:   BrowserConfig{TimeoutMs: 1000},
		Content:   ContentConfig{MaxChunkSize: 100, ChunkOverlap: 10, MaxContentLength: 1000},
		Retrieval: RetrievalConfig{MaxSearchResults: 5, SimilarityThreshold: 0.5, ConfidenceThreshold: 0.5},
		RateLimit: RateLimitConfig{RequestsPerMinute: 1, RequestsPerHour: 1},
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected base config to validate, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"concurrency", func(c *Config) { c.Scraping.MaxConcurrentRequests = 0 }, "scraping.max_concurrent_requests"},
		{"overlap", func(c *Config) { c.Content.ChunkOverlap = 100 }, "content.chunk_overlap"},
		{"negative overlap", func(c *Config) { c.Content.ChunkOverlap = -1 }, "content.chunk_overlap must be >= 0"},
		{"content bounds", func(c *Config) { c.Content.MinContentLength = 2000 }, "content.min_content_length"},
		{"threshold", func(c *Config) { c.Retrieval.SimilarityThreshold = 1.5 }, "retrieval.similarity_threshold"},
		{"rate", func(c *Config) { c.RateLimit.RequestsPerHour = 0 }, "rate_limit.requests_per_hour"},
		{"provider", func(c *Config) { c.Embedding.Provider = "word2vec" }, "embedding.provider"},
		{"openai key", func(c *Config) { c.Embedding.Provider = EmbeddingOpenAI }, "openai.api_key"},
		{"vector db", func(c *Config) { c.VectorDB.Type = "chroma" }, "vector_db.type"},
		{"pgvector url", func(c *Config) { c.VectorDB.Type = VectorDBPgvector }, "postgres.url"},
		{"pinecone key", func(c *Config) { c.VectorDB.Type = VectorDBPinecone }, "pinecone.api_key"},
		{"redirects", func(c *Config) { c.Security.MaxRedirects = -1 }, "security.max_redirects"},
		{"notify", func(c *Config) { c.Notify.Topic = "indexed" }, "notify.project_id"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
			if !errors.Is(err, crawler.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := validConfig()
	cfg.VectorDB = VectorDBConfig{Type: VectorDBSQLite, Path: filepath.Join(root, "vectors")}
	cfg.Cache = CacheConfig{Enabled: true, Path: filepath.Join(root, "cache")}
	cfg.Logging.File = filepath.Join(root, "logs", "app.log")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories() error = %v", err)
	}
	for _, dir := range []string{"vectors", "cache", "logs"} {
		info, err := os.Stat(filepath.Join(root, dir))
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist: %v", dir, err)
		}
	}

	cfg.Cache.Path = "gs://bucket/cache"
	if !cfg.RemoteCache() {
		t.Fatal("expected gs:// cache path to be remote")
	}
}
