package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "incident_sync"

// Metrics holds the Prometheus counters, histograms, and gauges for the sync engine.
type Metrics struct {
	// Feed metrics.
	FeedFetches      *prometheus.CounterVec // labels: outcome={success,error,exhausted}
	FeedRowsSkipped  prometheus.Counter
	FeedSchemaDrift  prometheus.Counter
	FeedLive         prometheus.Gauge
	OpenIncidents    prometheus.Gauge
	RefreshInterval  prometheus.Gauge
	CycleDuration    prometheus.Histogram
	RenderErrors     *prometheus.CounterVec // labels: renderer
	SchedulerRunning prometheus.Gauge

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,error,empty,out_of_bounds}
	GeocodeCache       *prometheus.CounterVec // labels: result={hit,miss,coalesced}
	GeocodeAPIDuration prometheus.Histogram
	GeocodeQueueDepth  prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FeedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetches_total",
			Help:      "Incident listing fetch attempts by outcome.",
		}, []string{"outcome"}),
		FeedRowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_rows_skipped_total",
			Help:      "Listing rows skipped as malformed.",
		}),
		FeedSchemaDrift: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_schema_drift_total",
			Help:      "Listing pages whose markup no longer matched the expected table layout.",
		}),
		FeedLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_live",
			Help:      "1 when the last fetch reached the listing, 0 when serving stale data.",
		}),
		OpenIncidents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_incidents",
			Help:      "Open incidents in the current snapshot.",
		}),
		RefreshInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refresh_interval_seconds",
			Help:      "Interval selected for the next refresh.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete fetch-classify-geocode-render cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		RenderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_errors_total",
			Help:      "Snapshot delivery failures by renderer.",
		}, []string{"renderer"}),
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 when the refresh loop is active, 0 when shut down.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Upstream geocoding requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocode lookups by cache result.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Upstream geocoding request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		GeocodeQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_queue_depth",
			Help:      "Addresses waiting for the geocode worker.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FeedFetches,
		m.FeedRowsSkipped,
		m.FeedSchemaDrift,
		m.FeedLive,
		m.OpenIncidents,
		m.RefreshInterval,
		m.CycleDuration,
		m.RenderErrors,
		m.SchedulerRunning,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeQueueDepth,
	}
}
