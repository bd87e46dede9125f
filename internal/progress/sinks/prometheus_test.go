package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-researcher/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{SessionID: "s1", TS: now, Stage: progress.StageCrawlStart},
		{SessionID: "s1", TS: now, Stage: progress.StageCrawlStart},
		{SessionID: "s1", TS: now, Stage: progress.StageFetchDone, Host: "example.com", StatusClass: progress.Status2xx, Bytes: 1024, Dur: 200 * time.Millisecond},
		{SessionID: "s1", TS: now, Stage: progress.StageTargetDenied, URL: "https://blocked.test", Reason: "blocked-domain"},
		{SessionID: "s1", TS: now, Stage: progress.StageDocIndexed, URL: "https://example.com", Chunks: 2},
		{SessionID: "s1", TS: now, Stage: progress.StageCrawlDone, Dur: 15 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 2.0, testutil.ToFloat64(sink.crawlsStarted), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.crawlsCompleted.WithLabelValues("success")), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.crawlsRunning), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.fetches.WithLabelValues("example.com", "2xx")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.targets.WithLabelValues("TARGET_DENIED", "blocked-domain")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "researcher_fetch_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.docChunks, "researcher_document_chunks"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
