package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(researcherPagesTotal.WithLabelValues("metrics.test", "indexed"))
	ObservePage("https://metrics.test/a", "indexed", 512)
	if got := testutil.ToFloat64(researcherPagesTotal.WithLabelValues("metrics.test", "indexed")); got != before+1 {
		t.Errorf("expected page counter to increase by 1, got %f -> %f", before, got)
	}

	hits := testutil.ToFloat64(researcherCacheLookupsTotal.WithLabelValues("hit"))
	ObserveCacheLookup(true)
	if got := testutil.ToFloat64(researcherCacheLookupsTotal.WithLabelValues("hit")); got != hits+1 {
		t.Errorf("expected cache hit counter to increase, got %f", got)
	}

	ObserveRateLimitWait(10 * time.Millisecond)
	ObserveEmbedding("hash", time.Millisecond)
	ObserveRetrieval("ok", 3)
	AddChunksIndexed(2)
	IncActiveWorkers("fetch")
	DecActiveWorkers("fetch")
	if val := testutil.CollectAndCount(researcherEmbeddingSeconds); val <= 0 {
		t.Errorf("expected embedding histogram to be observed, got %d", val)
	}
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	ts := httptest.NewServer(NewRouter())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"ok"`) {
		t.Fatalf("unexpected healthz response %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), "http_requests_total") {
		t.Fatalf("expected request metrics in exposition, got %q", body)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")); val < 1 {
		t.Errorf("expected GET 200 requests to be counted, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, in string) {
		if SanitizeSite(in) == "" {
			t.Errorf("SanitizeSite(%q) returned empty string", in)
		}
	})
}
