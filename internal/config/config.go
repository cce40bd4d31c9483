package config

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // FEED_TIMEZONE must resolve on minimal images

	"github.com/jessevdk/go-flags"

	"github.com/couchcryptid/incident-feed-sync/internal/domain"
)

// ErrHelp is returned by LoadArgs when --help was requested and usage was printed.
var ErrHelp = errors.New("help requested")

// RefreshStep is one count-based refresh tier: up to MaxOpen open incidents
// refresh every Interval.
type RefreshStep struct {
	MaxOpen  int
	Interval time.Duration
}

// Config holds all service settings, populated from environment variables
// (and optionally command-line flags).
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Incident listing.
	FeedURL         string
	FeedUserAgent   string
	FeedTimeout     time.Duration
	FeedRetries     int
	FeedRetryDelay  time.Duration
	FeedWindow      time.Duration
	FeedLocation    *time.Location
	FeedRowSelector string
	FeedOpenMarker  string

	// Geocoding.
	GeocodeURL            string
	GeocodeEmail          string
	GeocodeThrottle       time.Duration
	GeocodeRequestTimeout time.Duration
	GeocodeLocalitySuffix string
	BoundingBox           domain.BoundingBox

	// Adaptive refresh.
	RefreshIdle        time.Duration
	RefreshCritical    time.Duration
	RefreshSteps       []RefreshStep
	RefreshBusy        time.Duration
	CriticalCategories []string

	// Reference data.
	TaxonomyFile      string
	InstallationsFile string
	ProximityRadius   float64

	// Optional Kafka snapshot sink; disabled when KafkaBrokers is empty.
	KafkaBrokers []string
	KafkaTopic   string
}

// KafkaEnabled reports whether snapshots should be published to Kafka.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// rawConfig is decoded by go-flags. Only values with a composite syntax stay
// strings and are parsed in build.
type rawConfig struct {
	HTTPAddr        string        `long:"http-addr" env:"HTTP_ADDR" default:":8080" description:"HTTP listen address"`
	LogLevel        string        `long:"log-level" env:"LOG_LEVEL" default:"info" description:"debug, info, warn or error"`
	LogFormat       string        `long:"log-format" env:"LOG_FORMAT" default:"json" description:"json or text"`
	ShutdownTimeout time.Duration `long:"shutdown-timeout" env:"SHUTDOWN_TIMEOUT" default:"10s" description:"Graceful shutdown deadline"`

	FeedURL         string        `long:"feed-url" env:"FEED_URL" default:"http://localhost:8081/incidentes" description:"Incident listing page URL"`
	FeedUserAgent   string        `long:"feed-user-agent" env:"FEED_USER_AGENT" default:"incident-feed-sync/1.0" description:"User-Agent for listing and geocoder requests"`
	FeedTimeout     time.Duration `long:"feed-timeout" env:"FEED_TIMEOUT" default:"15s" description:"Per-attempt listing request timeout"`
	FeedRetries     int           `long:"feed-retries" env:"FEED_RETRIES" default:"2" description:"Retries after the first failed listing fetch"`
	FeedRetryDelay  time.Duration `long:"feed-retry-delay" env:"FEED_RETRY_DELAY" default:"2s" description:"Base delay; attempt n waits n times this"`
	FeedWindow      time.Duration `long:"feed-window" env:"FEED_WINDOW" default:"60m" description:"Only incidents newer than this are kept"`
	FeedTimezone    string        `long:"feed-timezone" env:"FEED_TIMEZONE" default:"America/Argentina/Buenos_Aires" description:"Timezone of listing timestamps"`
	FeedRowSelector string        `long:"feed-row-selector" env:"FEED_ROW_SELECTOR" default:"table tr" description:"CSS selector for listing rows"`
	FeedOpenMarker  string        `long:"feed-open-marker" env:"FEED_OPEN_MARKER" default:"img" description:"CSS selector whose presence in the first cell marks an open incident"`

	GeocodeURL            string        `long:"geocode-url" env:"GEOCODE_URL" default:"https://nominatim.openstreetmap.org" description:"Nominatim base URL"`
	GeocodeEmail          string        `long:"geocode-email" env:"GEOCODE_EMAIL" description:"Contact email sent to Nominatim"`
	GeocodeThrottle       time.Duration `long:"geocode-throttle" env:"GEOCODE_THROTTLE" default:"1100ms" description:"Pause after every geocoding request"`
	GeocodeRequestTimeout time.Duration `long:"geocode-request-timeout" env:"GEOCODE_REQUEST_TIMEOUT" default:"10s" description:"Geocoding request deadline"`
	GeocodeLocalitySuffix string        `long:"geocode-locality-suffix" env:"GEOCODE_LOCALITY_SUFFIX" default:", Rosario, Santa Fe, Argentina" description:"Appended to every normalized address"`
	BoundingBox           string        `long:"bbox" env:"BBOX" default:"-33.05,-60.80,-32.85,-60.60" description:"minLat,minLon,maxLat,maxLon"`

	RefreshIdle        time.Duration `long:"refresh-idle" env:"REFRESH_IDLE" default:"20s" description:"Interval with no open incidents"`
	RefreshCritical    time.Duration `long:"refresh-critical" env:"REFRESH_CRITICAL" default:"5s" description:"Interval while a critical incident is open"`
	RefreshTiers       string        `long:"refresh-tiers" env:"REFRESH_TIERS" default:"5:12s,10:7s" description:"maxOpen:interval steps, ascending"`
	RefreshBusy        time.Duration `long:"refresh-busy" env:"REFRESH_BUSY" default:"5s" description:"Interval above the last tier"`
	CriticalCategories []string      `long:"critical-category" env:"CRITICAL_CATEGORIES" env-delim:"," default:"theft" default:"suspicious" description:"Category ids that force the critical interval"`

	TaxonomyFile      string  `long:"taxonomy-file" env:"TAXONOMY_FILE" description:"YAML taxonomy; embedded default when empty"`
	InstallationsFile string  `long:"installations-file" env:"INSTALLATIONS_FILE" description:"YAML installation dataset; embedded default when empty"`
	ProximityRadius   float64 `long:"proximity-radius" env:"PROXIMITY_RADIUS" default:"300" description:"Default camera search radius in meters"`

	KafkaBrokers []string `long:"kafka-broker" env:"KAFKA_BROKERS" env-delim:"," description:"Kafka broker address; none disables the Kafka sink"`
	KafkaTopic   string   `long:"kafka-topic" env:"KAFKA_TOPIC" default:"incident-snapshots" description:"Topic for published snapshots"`
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	return load(nil, flags.HelpFlag|flags.PassDoubleDash)
}

// LoadArgs is Load with command-line flags taking precedence over the environment.
func LoadArgs(args []string) (*Config, error) {
	return load(args, flags.Default)
}

func load(args []string, opts flags.Options) (*Config, error) {
	var raw rawConfig
	parser := flags.NewParser(&raw, opts)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	return raw.build()
}

func (raw *rawConfig) build() (*Config, error) {
	cfg := &Config{
		HTTPAddr:              raw.HTTPAddr,
		LogLevel:              raw.LogLevel,
		LogFormat:             raw.LogFormat,
		ShutdownTimeout:       raw.ShutdownTimeout,
		FeedURL:               raw.FeedURL,
		FeedUserAgent:         raw.FeedUserAgent,
		FeedTimeout:           raw.FeedTimeout,
		FeedRetries:           raw.FeedRetries,
		FeedRetryDelay:        raw.FeedRetryDelay,
		FeedWindow:            raw.FeedWindow,
		FeedRowSelector:       raw.FeedRowSelector,
		FeedOpenMarker:        raw.FeedOpenMarker,
		GeocodeURL:            raw.GeocodeURL,
		GeocodeEmail:          raw.GeocodeEmail,
		GeocodeThrottle:       raw.GeocodeThrottle,
		GeocodeRequestTimeout: raw.GeocodeRequestTimeout,
		GeocodeLocalitySuffix: raw.GeocodeLocalitySuffix,
		RefreshIdle:           raw.RefreshIdle,
		RefreshCritical:       raw.RefreshCritical,
		RefreshBusy:           raw.RefreshBusy,
		CriticalCategories:    trimList(raw.CriticalCategories),
		TaxonomyFile:          raw.TaxonomyFile,
		InstallationsFile:     raw.InstallationsFile,
		ProximityRadius:       raw.ProximityRadius,
		KafkaBrokers:          trimList(raw.KafkaBrokers),
		KafkaTopic:            raw.KafkaTopic,
	}

	durations := []struct {
		name string
		v    time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout},
		{"FEED_TIMEOUT", cfg.FeedTimeout},
		{"FEED_RETRY_DELAY", cfg.FeedRetryDelay},
		{"FEED_WINDOW", cfg.FeedWindow},
		{"GEOCODE_THROTTLE", cfg.GeocodeThrottle},
		{"GEOCODE_REQUEST_TIMEOUT", cfg.GeocodeRequestTimeout},
		{"REFRESH_IDLE", cfg.RefreshIdle},
		{"REFRESH_CRITICAL", cfg.RefreshCritical},
		{"REFRESH_BUSY", cfg.RefreshBusy},
	}
	for _, d := range durations {
		if d.v <= 0 {
			return nil, fmt.Errorf("invalid %s: %s (must be positive)", d.name, d.v)
		}
	}

	if cfg.FeedRetries < 0 || cfg.FeedRetries > 10 {
		return nil, fmt.Errorf("invalid FEED_RETRIES: %d (must be 0-10)", cfg.FeedRetries)
	}
	if math.IsNaN(cfg.ProximityRadius) || cfg.ProximityRadius <= 0 {
		return nil, fmt.Errorf("invalid PROXIMITY_RADIUS: %v", cfg.ProximityRadius)
	}

	loc, err := time.LoadLocation(raw.FeedTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid FEED_TIMEZONE: %w", err)
	}
	cfg.FeedLocation = loc

	if cfg.BoundingBox, err = parseBoundingBox(raw.BoundingBox); err != nil {
		return nil, err
	}
	if cfg.RefreshSteps, err = parseRefreshTiers(raw.RefreshTiers); err != nil {
		return nil, err
	}

	if cfg.FeedURL == "" {
		return nil, errors.New("FEED_URL is required")
	}
	if cfg.FeedRowSelector == "" || cfg.FeedOpenMarker == "" {
		return nil, errors.New("FEED_ROW_SELECTOR and FEED_OPEN_MARKER must not be empty")
	}
	if cfg.KafkaEnabled() && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_BROKERS is set but KAFKA_TOPIC is empty")
	}

	return cfg, nil
}

// parseBoundingBox parses "minLat,minLon,maxLat,maxLon".
func parseBoundingBox(s string) (domain.BoundingBox, error) {
	parts := splitList(s)
	if len(parts) != 4 {
		return domain.BoundingBox{}, fmt.Errorf("invalid BBOX: %q (want minLat,minLon,maxLat,maxLon)", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return domain.BoundingBox{}, fmt.Errorf("invalid BBOX: %q", s)
		}
		v[i] = f
	}
	box := domain.BoundingBox{MinLat: v[0], MinLon: v[1], MaxLat: v[2], MaxLon: v[3]}
	if !box.Valid() {
		return domain.BoundingBox{}, fmt.Errorf("invalid BBOX: %q (empty or out of range)", s)
	}
	return box, nil
}

// parseRefreshTiers parses "5:12s,10:7s" into steps sorted by MaxOpen.
func parseRefreshTiers(s string) ([]RefreshStep, error) {
	var steps []RefreshStep
	for _, part := range splitList(s) {
		count, interval, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("invalid REFRESH_TIERS entry %q (want maxOpen:interval)", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(count))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid REFRESH_TIERS entry %q", part)
		}
		d, err := time.ParseDuration(strings.TrimSpace(interval))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid REFRESH_TIERS entry %q", part)
		}
		steps = append(steps, RefreshStep{MaxOpen: n, Interval: d})
	}
	slices.SortFunc(steps, func(a, b RefreshStep) int { return a.MaxOpen - b.MaxOpen })
	return steps, nil
}

func splitList(s string) []string {
	return trimList(strings.Split(s, ","))
}

// trimList drops blank entries and surrounding spaces, as left by a
// comma-separated env value like "a, b,".
func trimList(in []string) []string {
	var out []string
	for _, p := range in {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
