package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-researcher/internal/crawler"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.ErrorIs(t, err, crawler.ErrInvalidConfig)
	_, err = NewChromedp(Config{ViewportWidth: -1})
	require.ErrorIs(t, err, crawler.ErrInvalidConfig)

	fetcher, err := NewChromedp(Config{MaxParallel: 2, Headless: true})
	require.NoError(t, err)
	defer func() { _ = fetcher.Close() }()
	assert.Equal(t, 2, cap(fetcher.limiter))
}

func TestFetcherNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	assert.Equal(t, 45*time.Second, fetcher.navTimeout())
	fetcher.cfg.NavigationTimeout = time.Second
	assert.Equal(t, time.Second, fetcher.navTimeout())
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{limiter: make(chan struct{}, 1)}
	require.NoError(t, fetcher.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, fetcher.acquire(ctx), context.Canceled)

	fetcher.release()
	require.NoError(t, fetcher.acquire(context.Background()))
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  204,
			URL:     "https://example.com/rendered",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	status, headers, url := meta.snapshotWithFallbacks("https://req", "")
	assert.Equal(t, 204, status)
	assert.Equal(t, "abc", headers.Get("X-Request-ID"))
	assert.Equal(t, "https://example.com/rendered", url)

	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404, URL: "https://example.com/img.png"},
	})
	status, _, _ = meta.snapshotWithFallbacks("https://req", "")
	assert.Equal(t, 204, status, "sub-resources must not overwrite the document response")

	meta = newResponseMeta()
	status, _, url = meta.snapshotWithFallbacks("https://req", "https://final")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://final", url)
}

func TestResponseMetaCountsDocumentRedirects(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventRequestWillBeSent{Type: network.ResourceTypeDocument})
	meta.captureEvent(&network.EventRequestWillBeSent{
		Type:             network.ResourceTypeDocument,
		RedirectResponse: &network.Response{Status: 301},
	})
	meta.captureEvent(&network.EventRequestWillBeSent{
		Type:             network.ResourceTypeScript,
		RedirectResponse: &network.Response{Status: 302},
	})
	assert.Equal(t, 1, meta.redirectCount())
}
