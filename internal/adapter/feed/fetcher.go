// Package feed fetches and parses the public incident listing page.
package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/incident-feed-sync/internal/domain"
	"github.com/couchcryptid/incident-feed-sync/internal/observability"
)

// maxBodyBytes caps how much of the listing page is read.
const maxBodyBytes = 5 << 20

// Options configures a Fetcher.
type Options struct {
	URL        string
	UserAgent  string
	Timeout    time.Duration // per attempt
	Retries    int           // attempts after the first
	RetryDelay time.Duration // attempt n waits n*RetryDelay before the next
	Window     time.Duration // records older than this are dropped
}

// Fetcher downloads the listing with bounded retries and turns it into a
// domain.FeedPage.
type Fetcher struct {
	opts       Options
	parser     *Parser
	httpClient *http.Client
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewFetcher creates a fetcher for the listing at opts.URL.
func NewFetcher(opts Options, parser *Parser, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		opts:       opts,
		parser:     parser,
		httpClient: &http.Client{Timeout: opts.Timeout},
		clock:      clock,
		metrics:    metrics,
		logger:     logger,
	}
}

// FetchPage makes up to Retries+1 attempts with linear backoff. It never
// returns an error: when every attempt fails the page is marked not Live
// and carries no records.
func (f *Fetcher) FetchPage(ctx context.Context) domain.FeedPage {
	attempts := f.opts.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		body, err := f.fetch(ctx)
		if err == nil {
			f.metrics.FeedFetches.WithLabelValues("success").Inc()
			return f.buildPage(body)
		}

		f.metrics.FeedFetches.WithLabelValues("error").Inc()
		f.logger.Warn("listing fetch failed", "attempt", attempt, "max_attempts", attempts, "error", err)

		if ctx.Err() != nil || attempt == attempts {
			break
		}
		if !sleepWithContext(ctx, f.clock, time.Duration(attempt)*f.opts.RetryDelay) {
			break
		}
	}

	f.metrics.FeedFetches.WithLabelValues("exhausted").Inc()
	f.logger.Error("listing unreachable, keeping last known data", "url", f.opts.URL)
	return domain.FeedPage{Live: false, FetchedAt: f.clock.Now()}
}

func (f *Fetcher) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("listing request: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read listing body: %w", err)
	}
	return body, nil
}

func (f *Fetcher) buildPage(body []byte) domain.FeedPage {
	now := f.clock.Now()
	page := domain.FeedPage{Live: true, FetchedAt: now}

	res, err := f.parser.Parse(bytes.NewReader(body))
	page.Skipped = res.Skipped
	if res.Skipped > 0 {
		f.metrics.FeedRowsSkipped.Add(float64(res.Skipped))
		f.logger.Warn("skipped malformed listing rows", "count", res.Skipped)
	}
	if err != nil {
		page.SchemaDrift = true
		f.metrics.FeedSchemaDrift.Inc()
		if errors.Is(err, ErrSchemaDrift) {
			f.logger.Error("listing schema drift", "error", err)
		} else {
			f.logger.Error("listing unparseable", "error", err)
		}
	}

	page.Records = SelectRecent(res.Records, now, f.opts.Window)
	return page
}

// SelectRecent keeps records that occurred no more than window before now
// and orders them newest first. Records with equal timestamps keep their
// page order. The input is not modified.
func SelectRecent(records []domain.IncidentRecord, now time.Time, window time.Duration) []domain.IncidentRecord {
	cutoff := now.Add(-window)
	out := make([]domain.IncidentRecord, 0, len(records))
	for _, r := range records {
		if !r.OccurredAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.IncidentRecord) int {
		return b.OccurredAt.Compare(a.OccurredAt)
	})
	return out
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
