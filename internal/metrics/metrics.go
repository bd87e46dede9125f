// Package metrics exposes Prometheus collectors for the research pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	researcherPagesTotal            *prometheus.CounterVec
	researcherBytesTotal            *prometheus.CounterVec
	researcherFetchAttemptsTotal    *prometheus.CounterVec
	researcherRateLimitWaitSeconds  prometheus.Histogram
	researcherCacheLookupsTotal     *prometheus.CounterVec
	researcherChunksIndexedTotal    prometheus.Counter
	researcherEmbeddingSeconds      *prometheus.HistogramVec
	researcherRetrievalQueriesTotal *prometheus.CounterVec
	researcherRetrievalResults      prometheus.Histogram
	researcherActiveWorkers         *prometheus.GaugeVec
	httpRequestsTotal               *prometheus.CounterVec
	httpRequestDurationSeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		researcherPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "researcher_pages_total",
				Help: "Crawl targets by terminal outcome, labeled by site.",
			},
			[]string{"site", "outcome"},
		)

		researcherBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "researcher_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		researcherFetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "researcher_fetch_attempts_total",
				Help: "Fetch attempts labeled by result (ok, retry, failed).",
			},
			[]string{"result"},
		)

		researcherRateLimitWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "researcher_rate_limit_wait_seconds",
				Help:    "Histogram of rate limiter wait durations.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		researcherCacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "researcher_cache_lookups_total",
				Help: "Content cache lookups labeled by result (hit, miss).",
			},
			[]string{"result"},
		)

		researcherChunksIndexedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "researcher_chunks_indexed_total",
				Help: "Total number of chunks written to the vector index.",
			},
		)

		researcherEmbeddingSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "researcher_embedding_duration_seconds",
				Help:    "Embedding batch latency labeled by provider.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"provider"},
		)

		researcherRetrievalQueriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "researcher_retrieval_queries_total",
				Help: "Retrieval queries labeled by status.",
			},
			[]string{"status"},
		)

		researcherRetrievalResults = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "researcher_retrieval_results",
				Help:    "Number of results returned per retrieval query.",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
			},
		)

		researcherActiveWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "researcher_active_workers",
				Help: "Number of workers currently processing, labeled by pool.",
			},
			[]string{"pool"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records the terminal outcome of a crawl target.
func ObservePage(site, outcome string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	researcherPagesTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesFetched > 0 {
		researcherBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveFetchAttempt counts one fetch attempt.
func ObserveFetchAttempt(result string) {
	Init()
	researcherFetchAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitWait records the duration of a rate limit wait.
func ObserveRateLimitWait(duration time.Duration) {
	Init()
	researcherRateLimitWaitSeconds.Observe(duration.Seconds())
}

// ObserveCacheLookup counts a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	researcherCacheLookupsTotal.WithLabelValues(result).Inc()
}

// AddChunksIndexed adds n to the indexed chunk counter.
func AddChunksIndexed(n int) {
	Init()
	researcherChunksIndexedTotal.Add(float64(n))
}

// ObserveEmbedding records one embedding batch latency.
func ObserveEmbedding(provider string, duration time.Duration) {
	Init()
	researcherEmbeddingSeconds.WithLabelValues(provider).Observe(duration.Seconds())
}

// ObserveRetrieval records a query outcome and its result count.
func ObserveRetrieval(status string, results int) {
	Init()
	researcherRetrievalQueriesTotal.WithLabelValues(status).Inc()
	if status == "ok" {
		researcherRetrievalResults.Observe(float64(results))
	}
}

// IncActiveWorkers increments the active workers gauge for pool.
func IncActiveWorkers(pool string) {
	Init()
	researcherActiveWorkers.WithLabelValues(pool).Inc()
}

// DecActiveWorkers decrements the active workers gauge for pool.
func DecActiveWorkers(pool string) {
	Init()
	researcherActiveWorkers.WithLabelValues(pool).Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
