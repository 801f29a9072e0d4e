package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-gateway/internal/scrape"
)

func TestNewChromedpSlotValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	t.Cleanup(fetcher.Close)
	require.Equal(t, 2, cap(fetcher.slots))
	require.Equal(t, 45*time.Second, fetcher.cfg.NavigationTimeout)
}

func TestAcquireRespectsContext(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{slots: make(chan struct{}, 1)}
	require.NoError(t, fetcher.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, fetcher.acquire(ctx), context.Canceled)

	fetcher.release()
	require.NoError(t, fetcher.acquire(context.Background()))
}

func TestFetcherNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	require.Equal(t, 45*time.Second, fetcher.navTimeout())
	fetcher.cfg.NavigationTimeout = time.Second
	require.Equal(t, time.Second, fetcher.navTimeout())
}

func TestSettleDelay(t *testing.T) {
	t.Parallel()

	require.Equal(t, DefaultSettle, settleDelay(0))
	require.Equal(t, 2*time.Second, settleDelay(2*time.Second))
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	netHeaders := toNetworkHeaders(http.Header{
		"X-Multi":  {"a", "b"},
		"X-Single": {"one"},
		"X-Empty":  {},
	})
	require.Equal(t, []string{"a", "b"}, netHeaders["X-Multi"])
	require.Equal(t, "one", netHeaders["X-Single"])
	require.NotContains(t, netHeaders, "X-Empty")
}

func TestDocumentMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newDocumentMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404, URL: "https://example.com/logo.png"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  203,
			URL:     "https://example.com/rendered",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	status, headers, url := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, 203, status)
	require.Equal(t, "abc", headers.Get("X-Request-ID"))
	require.Equal(t, "https://example.com/rendered", url)

	meta = newDocumentMeta()
	status, headers, url = meta.snapshotWithFallbacks("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, headers)
	require.Equal(t, "https://final", url)

	_, _, url = newDocumentMeta().snapshotWithFallbacks("https://req", "")
	require.Equal(t, "https://req", url)
}

func TestNoopFetcherError(t *testing.T) {
	t.Parallel()

	_, err := NewNoop().Fetch(context.Background(), scrape.Request{})
	require.ErrorIs(t, err, ErrDisabled)
}
