package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/incident-feed-sync/internal/domain"
	"github.com/couchcryptid/incident-feed-sync/internal/observability"
)

const testUserAgent = "incident-feed-sync-test/1.0"

var testNow = time.Date(2025, 3, 14, 10, 30, 0, 0, testLocation)

func newTestFetcher(url string, clock clockwork.Clock, retries int) (*Fetcher, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	f := NewFetcher(Options{
		URL:        url,
		UserAgent:  testUserAgent,
		Timeout:    2 * time.Second,
		Retries:    retries,
		RetryDelay: 2 * time.Second,
		Window:     time.Hour,
	}, newTestParser(), clock, metrics, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f, metrics
}

func TestFetcher_FetchPage(t *testing.T) {
	html := listingPage(
		listingRow(false, "14/03/2025 09:50", "ACCIDENTE", "2", "OP 4", "", "BV. OROÑO, 1450"),
		listingRow(true, "14/03/2025 10:15", "ROBO", "3", "OP 17", "", "SAN MARTIN 1200"),
		listingRow(true, "14/03/2025 08:00", "HURTO", "1", "OP 2", "", "MITRE 100"),
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testUserAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(html))
	}))
	defer srv.Close()

	f, metrics := newTestFetcher(srv.URL, clockwork.NewFakeClockAt(testNow), 2)
	page := f.FetchPage(context.Background())

	assert.True(t, page.Live)
	assert.False(t, page.SchemaDrift)
	assert.Equal(t, testNow, page.FetchedAt)
	require.Len(t, page.Records, 2, "the 08:00 incident is outside the window")
	assert.Equal(t, "3", page.Records[0].ID)
	assert.Equal(t, "2", page.Records[1].ID)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.FeedFetches.WithLabelValues("success")), 0)
}

func TestFetcher_SchemaDriftIsLive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><ul><li>mantenimiento</li></ul></body></html>`))
	}))
	defer srv.Close()

	f, metrics := newTestFetcher(srv.URL, clockwork.NewFakeClockAt(testNow), 0)
	page := f.FetchPage(context.Background())

	assert.True(t, page.Live)
	assert.True(t, page.SchemaDrift)
	assert.Empty(t, page.Records)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.FeedSchemaDrift), 0)
}

func TestFetcher_CountsSkippedRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(listingPage(
			listingRow(true, "14/03/2025 10:15", "ROBO", "3", "OP 17", "", "SAN MARTIN 1200"),
			listingRow(true, "ayer", "ROBO", "4", "OP 17", "", "SAN MARTIN 1300"),
		)))
	}))
	defer srv.Close()

	f, metrics := newTestFetcher(srv.URL, clockwork.NewFakeClockAt(testNow), 0)
	page := f.FetchPage(context.Background())

	assert.True(t, page.Live)
	assert.Equal(t, 1, page.Skipped)
	assert.Len(t, page.Records, 1)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.FeedRowsSkipped), 0)
}

func TestFetcher_Any2xxIsSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNonAuthoritativeInfo)
		_, _ = w.Write([]byte(listingPage(
			listingRow(true, "14/03/2025 10:15", "ROBO", "3", "OP 17", "", "SAN MARTIN 1200"),
		)))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(srv.URL, clockwork.NewFakeClockAt(testNow), 2)
	page := f.FetchPage(context.Background())

	assert.True(t, page.Live)
	assert.Len(t, page.Records, 1)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetcher_RetriesWithLinearBackoff(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(listingPage(
			listingRow(true, "14/03/2025 10:15", "ROBO", "3", "OP 17", "", "SAN MARTIN 1200"),
		)))
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClockAt(testNow)
	f, metrics := newTestFetcher(srv.URL, clock, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := make(chan domain.FeedPage, 1)
	go func() { result <- f.FetchPage(ctx) }()

	// First retry waits 1x the base delay.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int32(1), hits.Load())
	clock.Advance(2*time.Second - time.Millisecond)
	assert.Equal(t, int32(1), hits.Load(), "retry must not fire early")
	clock.Advance(time.Millisecond)

	// Second retry waits 2x the base delay.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int32(2), hits.Load())
	clock.Advance(4 * time.Second)

	page := <-result
	assert.True(t, page.Live)
	assert.Len(t, page.Records, 1)
	assert.Equal(t, int32(3), hits.Load())
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.FeedFetches.WithLabelValues("error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.FeedFetches.WithLabelValues("success")), 0)
}

func TestFetcher_ExhaustedRetriesIsNotLive(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClockAt(testNow)
	f, metrics := newTestFetcher(srv.URL, clock, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := make(chan domain.FeedPage, 1)
	go func() { result <- f.FetchPage(ctx) }()

	for i := 1; i <= 2; i++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(time.Duration(i) * 2 * time.Second)
	}

	page := <-result
	assert.False(t, page.Live)
	assert.Empty(t, page.Records)
	assert.Equal(t, int32(3), hits.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.FeedFetches.WithLabelValues("exhausted")), 0)
}

func TestFetcher_NoRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(srv.URL, clockwork.NewFakeClockAt(testNow), 0)
	page := f.FetchPage(context.Background())

	assert.False(t, page.Live)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetcher_CancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClockAt(testNow)
	f, _ := newTestFetcher(srv.URL, clock, 5)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan domain.FeedPage, 1)
	go func() { result <- f.FetchPage(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	cancel()

	select {
	case page := <-result:
		assert.False(t, page.Live)
	case <-waitCtx.Done():
		t.Fatal("FetchPage did not return after cancellation")
	}
}
