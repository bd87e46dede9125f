package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/web-researcher/internal/progress"
)

// PrometheusSink turns progress events into crawl-level collectors.
type PrometheusSink struct {
	crawlsStarted   prometheus.Counter
	crawlsCompleted *prometheus.CounterVec
	crawlsRunning   prometheus.Gauge
	crawlRuntime    *prometheus.HistogramVec

	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	targets       *prometheus.CounterVec
	docChunks     prometheus.Histogram

	tracker *sessionTracker
}

// NewPrometheusSink registers the collectors against reg (the default
// registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		crawlsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "researcher_crawls_started_total",
			Help: "Crawl calls started.",
		}),
		crawlsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "researcher_crawls_completed_total",
			Help: "Crawl calls finished, partitioned by result.",
		}, []string{"result"}),
		crawlsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "researcher_crawls_running",
			Help: "Crawl calls currently in progress.",
		}),
		crawlRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "researcher_crawl_runtime_seconds",
			Help:    "Wall time per crawl call.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "researcher_fetches_total",
			Help: "Completed fetches by host and status class.",
		}, []string{"host", "status_class"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "researcher_fetch_duration_seconds",
			Help:    "Fetch latency by status class, retries included.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"status_class"}),
		targets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "researcher_target_outcomes_total",
			Help: "Targets that left the pipeline early, by stage and reason.",
		}, []string{"stage", "reason"}),
		docChunks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "researcher_document_chunks",
			Help:    "Chunks produced per indexed document.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		tracker: &sessionTracker{running: map[string]struct{}{}},
	}
	for _, c := range []prometheus.Collector{
		s.crawlsStarted, s.crawlsCompleted, s.crawlsRunning, s.crawlRuntime,
		s.fetches, s.fetchDuration, s.targets, s.docChunks,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageCrawlStart:
			s.crawlsStarted.Inc()
			if s.tracker.start(evt.SessionID) {
				s.crawlsRunning.Inc()
			}
		case progress.StageCrawlDone:
			s.finish(evt, "success")
		case progress.StageCrawlError:
			s.finish(evt, "error")
		case progress.StageFetchDone:
			host := evt.Host
			if host == "" {
				host = "unknown"
			}
			s.fetches.WithLabelValues(host, string(evt.StatusClass)).Inc()
			if evt.Dur > 0 {
				s.fetchDuration.WithLabelValues(string(evt.StatusClass)).Observe(evt.Dur.Seconds())
			}
		case progress.StageTargetDenied, progress.StageTargetRejected, progress.StageTargetFailed:
			s.targets.WithLabelValues(string(evt.Stage), evt.Reason).Inc()
		case progress.StageDocIndexed:
			s.docChunks.Observe(float64(evt.Chunks))
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.crawlsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.crawlRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.SessionID) {
		s.crawlsRunning.Dec()
	}
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type sessionTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func (t *sessionTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *sessionTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
