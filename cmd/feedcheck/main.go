// Command feedcheck fetches the incident listing once and prints what the
// service would make of it: parsed rows, categories, geocoder keys and the
// refresh interval that would follow. It reads the same settings as feedsync.
//
// Exit status is 0 for a live page, 1 when the listing could not be fetched
// and 2 when the page no longer matches the expected layout.
//
// Usage:
//
//	FEED_URL=http://localhost:8081/incidentes go run ./cmd/feedcheck
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/incident-feed-sync/internal/adapter/feed"
	"github.com/couchcryptid/incident-feed-sync/internal/config"
	"github.com/couchcryptid/incident-feed-sync/internal/domain"
	"github.com/couchcryptid/incident-feed-sync/internal/geocode"
	"github.com/couchcryptid/incident-feed-sync/internal/observability"
	"github.com/couchcryptid/incident-feed-sync/internal/pipeline"
)

func main() {
	cfg, err := config.LoadArgs(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}
	os.Exit(run(context.Background(), cfg, os.Stdout))
}

func run(ctx context.Context, cfg *config.Config, out io.Writer) int {
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)

	taxonomy, err := domain.LoadTaxonomy(cfg.TaxonomyFile)
	if err == nil {
		taxonomy, err = taxonomy.WithCritical(cfg.CriticalCategories)
	}
	if err != nil {
		fmt.Fprintf(out, "FATAL: load taxonomy: %v\n", err)
		return 1
	}
	classifier := domain.NewClassifier(taxonomy)

	fetcher := feed.NewFetcher(feed.Options{
		URL:        cfg.FeedURL,
		UserAgent:  cfg.FeedUserAgent,
		Timeout:    cfg.FeedTimeout,
		Retries:    cfg.FeedRetries,
		RetryDelay: cfg.FeedRetryDelay,
		Window:     cfg.FeedWindow,
	}, feed.NewParser(cfg.FeedRowSelector, cfg.FeedOpenMarker, cfg.FeedLocation),
		clockwork.NewRealClock(), observability.NewMetricsForTesting(), logger)

	fmt.Fprintf(out, "=== Incident listing check: %s ===\n\n", cfg.FeedURL)

	page := fetcher.FetchPage(ctx)
	switch {
	case !page.Live:
		fmt.Fprintln(out, "Listing could not be fetched.")
		return 1
	case page.SchemaDrift:
		fmt.Fprintf(out, "Layout changed: no rows matched %q (%d skipped).\n", cfg.FeedRowSelector, page.Skipped)
		return 2
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tSTATUS\tCATEGORY\tTYPE\tGEOCODER KEY")
	records := make([]domain.IncidentRecord, 0, len(page.Records))
	for _, r := range page.Records {
		r = r.WithCategory(classifier.Classify(r.Type))
		records = append(records, r)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.OccurredAt.Format(feed.TimestampLayout), r.Status, r.Category.ID, r.Type, geocode.Key(r.Address))
	}
	_ = tw.Flush()

	st := domain.DeriveRefreshState(records)
	interval := pipeline.NextInterval(st.PendingCount, st.HasCriticalCategory, pipeline.TiersFromConfig(cfg))

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Rows: %d in window, %d skipped\n", len(records), page.Skipped)
	fmt.Fprintf(out, "Open: %d (critical: %v)\n", st.PendingCount, st.HasCriticalCategory)
	fmt.Fprintf(out, "Next refresh in %s\n", interval)
	return 0
}
