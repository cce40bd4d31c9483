package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/incident-feed-sync/internal/domain"
	"github.com/couchcryptid/incident-feed-sync/internal/geocode"
	"github.com/couchcryptid/incident-feed-sync/internal/observability"
)

// Fetcher downloads and parses the incident listing.
type Fetcher interface {
	FetchPage(ctx context.Context) domain.FeedPage
}

// Classifier maps an incident type string to a category.
type Classifier interface {
	Classify(typeText string) domain.Category
}

// Geocoder registers addresses for resolution and returns their futures.
type Geocoder interface {
	Lookup(address string) *geocode.Future
}

// Renderer delivers a snapshot to one consumer. Snapshots are shared between
// renderers and must not be modified.
type Renderer interface {
	Name() string
	Render(ctx context.Context, snap *domain.Snapshot) error
}

// Pipeline runs the fetch-classify-geocode-render cycle on an adaptive
// schedule.
type Pipeline struct {
	fetcher    Fetcher
	classifier Classifier
	geocoder   Geocoder
	renderers  []Renderer
	tiers      Tiers
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
	ready      atomic.Bool

	// Last-known-good state, owned by the cycle goroutine.
	last          []domain.MappedIncident
	lastFetchedAt time.Time
}

// New creates a Pipeline with the given stages and observability.
func New(f Fetcher, c Classifier, g Geocoder, renderers []Renderer, tiers Tiers, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		fetcher:    f,
		classifier: c,
		geocoder:   g,
		renderers:  renderers,
		tiers:      tiers,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
	}
}

// CheckReadiness returns nil once a cycle has completed against a live
// listing, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no live refresh has completed yet")
	}
	return nil
}

// Run executes refresh cycles until the context is cancelled. The next cycle
// starts only after the previous one has finished and its interval elapsed.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("refresh scheduler started")
	p.metrics.SchedulerRunning.Set(1)
	defer p.metrics.SchedulerRunning.Set(0)

	for {
		interval := p.RunCycle(ctx)
		if ctx.Err() != nil {
			p.logger.Info("refresh scheduler stopping", "reason", ctx.Err())
			return nil
		}

		p.logger.Debug("next refresh scheduled", "in", interval)
		if !sleepWithContext(ctx, p.clock, interval) {
			p.logger.Info("refresh scheduler stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// RunCycle performs one refresh and returns the interval until the next one.
func (p *Pipeline) RunCycle(ctx context.Context) time.Duration {
	start := p.clock.Now()

	page := p.fetcher.FetchPage(ctx)
	p.metrics.FeedLive.Set(boolGauge(page.Live))

	usable := page.Live && !page.SchemaDrift
	var records []domain.IncidentRecord
	if usable {
		records = classifyRecords(p.classifier, page.Records, p.logger)
	} else {
		records = recordsOf(p.last)
		p.logger.Warn("serving last known incidents",
			"live", page.Live, "schema_drift", page.SchemaDrift, "incidents", len(records))
	}

	state := domain.DeriveRefreshState(records)
	interval := NextInterval(state.PendingCount, state.HasCriticalCategory, p.tiers)
	state.LastIntervalSec = int(interval / time.Second)

	base := domain.Snapshot{
		Live:        page.Live,
		SchemaDrift: page.SchemaDrift,
		FetchedAt:   page.FetchedAt,
		Refresh:     state,
	}

	var incidents []domain.MappedIncident
	if usable {
		incidents = p.locate(ctx, records, base)
		p.last = incidents
		p.lastFetchedAt = page.FetchedAt
	} else {
		incidents = p.last
		if !p.lastFetchedAt.IsZero() {
			base.FetchedAt = p.lastFetchedAt
		}
	}

	final := base
	final.Incidents = incidents
	final.Final = true
	p.render(ctx, final)

	if usable {
		p.ready.Store(true)
	}
	p.metrics.OpenIncidents.Set(float64(state.PendingCount))
	p.metrics.RefreshInterval.Set(interval.Seconds())
	p.metrics.CycleDuration.Observe(p.clock.Since(start).Seconds())
	p.logger.Info("refresh cycle complete",
		"incidents", len(incidents),
		"open", state.PendingCount,
		"critical", state.HasCriticalCategory,
		"live", page.Live,
		"next_refresh", interval,
	)
	return interval
}

// locate registers every address in feed order, renders a preliminary
// snapshot with the points already known, then waits for the rest.
func (p *Pipeline) locate(ctx context.Context, records []domain.IncidentRecord, base domain.Snapshot) []domain.MappedIncident {
	futures := make([]*geocode.Future, len(records))
	prelim := make([]domain.MappedIncident, len(records))
	unresolved := 0
	for i, r := range records {
		futures[i] = p.geocoder.Lookup(r.Address)
		prelim[i] = domain.MappedIncident{IncidentRecord: r}
		if point, ok := futures[i].Peek(); ok {
			prelim[i].Point = point
		} else {
			unresolved++
		}
	}

	if unresolved == 0 {
		return prelim
	}

	snap := base
	snap.Incidents = prelim
	p.render(ctx, snap)
	p.logger.Debug("waiting for geocoder", "unresolved", unresolved)

	out := make([]domain.MappedIncident, len(records))
	for i, r := range records {
		out[i] = domain.MappedIncident{IncidentRecord: r}
		point, err := futures[i].Wait(ctx)
		if err != nil {
			// Shutting down; leave the remaining points unresolved.
			out[i].Point = prelim[i].Point
			continue
		}
		out[i].Point = point
	}
	return out
}

func (p *Pipeline) render(ctx context.Context, snap domain.Snapshot) {
	snap.RenderedAt = p.clock.Now()
	for _, r := range p.renderers {
		if err := r.Render(ctx, &snap); err != nil {
			p.metrics.RenderErrors.WithLabelValues(r.Name()).Inc()
			p.logger.Error("render failed", "renderer", r.Name(), "final", snap.Final, "error", err)
		}
	}
}

func recordsOf(incidents []domain.MappedIncident) []domain.IncidentRecord {
	out := make([]domain.IncidentRecord, len(incidents))
	for i, inc := range incidents {
		out[i] = inc.IncidentRecord
	}
	return out
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
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
