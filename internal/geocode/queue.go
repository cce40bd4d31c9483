// Package geocode resolves incident addresses to coordinates through a
// single-flight, rate-limited queue in front of a domain.Geocoder.
package geocode

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/incident-feed-sync/internal/domain"
	"github.com/couchcryptid/incident-feed-sync/internal/observability"
)

type entryState int

const (
	stateQueued entryState = iota + 1
	stateInFlight
	stateCached
)

func (s entryState) String() string {
	switch s {
	case stateQueued:
		return "queued"
	case stateInFlight:
		return "in_flight"
	case stateCached:
		return "cached"
	default:
		return "unknown"
	}
}

type entry struct {
	key   string
	query string
	state entryState
	point *domain.GeoPoint // nil for a cached failure
	done  chan struct{}
}

// Config controls query construction and pacing of upstream requests.
type Config struct {
	// LocalitySuffix is appended to every normalized address before querying.
	LocalitySuffix string
	// Bounds rejects results outside the operating area.
	Bounds domain.BoundingBox
	// Throttle is the pause after every upstream request, successful or not.
	Throttle time.Duration
	// RequestTimeout demotes a stuck request to a failure. Zero disables it.
	RequestTimeout time.Duration
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
	Pending  int `json:"pending"`
}

// Queue caches geocoding results permanently, keyed by normalized address,
// and feeds misses to a single worker in FIFO order. Every address reaches
// the upstream geocoder at most once per process lifetime; failures are
// cached too and never retried.
type Queue struct {
	geocoder domain.Geocoder
	cfg      Config
	clock    clockwork.Clock
	metrics  *observability.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	pending []*entry
	wake    chan struct{}
}

// NewQueue creates a queue in front of geocoder. Call Run to start the worker.
func NewQueue(geocoder domain.Geocoder, cfg Config, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Queue {
	return &Queue{
		geocoder: geocoder,
		cfg:      cfg,
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
		entries:  make(map[string]*entry),
		wake:     make(chan struct{}, 1),
	}
}

// Key returns the cache key for a raw address: the normalized form, uppercased.
func Key(address string) string {
	return strings.ToUpper(domain.NormalizeAddress(address))
}

// Future is the eventual result of a Lookup.
type Future struct {
	e *entry
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.e.done }

// Peek returns the result without blocking. ok is false while the lookup is
// still queued or in flight.
func (f *Future) Peek() (point *domain.GeoPoint, ok bool) {
	select {
	case <-f.e.done:
		return f.e.point, true
	default:
		return nil, false
	}
}

// Wait blocks until the result is available or ctx is done. A nil point with
// a nil error means the address could not be resolved.
func (f *Future) Wait(ctx context.Context) (*domain.GeoPoint, error) {
	select {
	case <-f.e.done:
		return f.e.point, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func resolvedFuture(point *domain.GeoPoint) *Future {
	done := make(chan struct{})
	close(done)
	return &Future{e: &entry{state: stateCached, point: point, done: done}}
}

// Lookup registers interest in address and returns immediately. Cached
// addresses resolve at once; an address already queued or in flight shares
// the existing request; anything else is appended to the queue. Lookups are
// served in the order they were first made.
func (q *Queue) Lookup(address string) *Future {
	normalized := domain.NormalizeAddress(address)
	key := strings.ToUpper(normalized)
	if key == "" {
		return resolvedFuture(nil)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.entries[key]; ok {
		switch e.state {
		case stateCached:
			q.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		case stateQueued, stateInFlight:
			q.metrics.GeocodeCache.WithLabelValues("coalesced").Inc()
		}
		return &Future{e: e}
	}

	q.metrics.GeocodeCache.WithLabelValues("miss").Inc()
	e := &entry{
		key:   key,
		query: normalized + q.cfg.LocalitySuffix,
		state: stateQueued,
		done:  make(chan struct{}),
	}
	q.entries[key] = e
	q.pending = append(q.pending, e)
	q.metrics.GeocodeQueueDepth.Set(float64(len(q.pending)))

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return &Future{e: e}
}

// Resolve looks up address and waits for the result. A nil point with a nil
// error means the address is empty or could not be resolved; the error is
// non-nil only when ctx ends first.
func (q *Queue) Resolve(ctx context.Context, address string) (*domain.GeoPoint, error) {
	return q.Lookup(address).Wait(ctx)
}

// Stats reports how many addresses are resolved, failed, and pending.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	for _, e := range q.entries {
		switch {
		case e.state != stateCached:
			s.Pending++
		case e.point == nil:
			s.Failed++
		default:
			s.Resolved++
		}
	}
	return s
}

// Run processes queued lookups one at a time until ctx is cancelled,
// sleeping Throttle after every upstream request.
func (q *Queue) Run(ctx context.Context) error {
	q.logger.Info("geocode worker started", "throttle", q.cfg.Throttle)
	for {
		e, ok := q.next(ctx)
		if !ok {
			q.logger.Info("geocode worker stopped")
			return nil
		}

		q.process(ctx, e)

		select {
		case <-ctx.Done():
			q.logger.Info("geocode worker stopped")
			return nil
		case <-q.clock.After(q.cfg.Throttle):
		}
	}
}

// next pops the oldest queued entry, blocking until one is available.
func (q *Queue) next(ctx context.Context) (*entry, bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			e := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			e.state = stateInFlight
			q.metrics.GeocodeQueueDepth.Set(float64(len(q.pending)))
			q.mu.Unlock()
			return e, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.wake:
		}
	}
}

func (q *Queue) process(ctx context.Context, e *entry) {
	reqCtx := ctx
	if q.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, q.cfg.RequestTimeout)
		defer cancel()
	}

	result, err := q.geocoder.Geocode(reqCtx, e.query)

	var point *domain.GeoPoint
	switch {
	case err != nil:
		q.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		q.logger.Warn("geocode failed", "query", e.query, "error", err)
	case !result.Found():
		q.metrics.GeocodeRequests.WithLabelValues("empty").Inc()
		q.logger.Info("geocode returned no results", "query", e.query)
	case !q.cfg.Bounds.Contains(result.Point()):
		q.metrics.GeocodeRequests.WithLabelValues("out_of_bounds").Inc()
		q.logger.Warn("geocode result outside operating area",
			"query", e.query, "lat", result.Lat, "lon", result.Lon)
	default:
		q.metrics.GeocodeRequests.WithLabelValues("success").Inc()
		p := result.Point()
		point = &p
		q.logger.Debug("geocoded", "query", e.query, "lat", p.Lat, "lon", p.Lon)
	}

	q.mu.Lock()
	e.point = point
	e.state = stateCached
	q.mu.Unlock()
	close(e.done)
}
