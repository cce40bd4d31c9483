package pipeline

import (
	"time"

	"github.com/couchcryptid/incident-feed-sync/internal/config"
)

// Step is one count-based refresh tier.
type Step struct {
	MaxOpen  int
	Interval time.Duration
}

// Tiers maps the open-incident picture to a refresh interval.
type Tiers struct {
	Idle     time.Duration // no open incidents
	Critical time.Duration // at least one open incident in a critical category
	Steps    []Step        // ascending by MaxOpen
	Busy     time.Duration // more open incidents than the last step allows
}

// DefaultTiers returns the stock schedule: 20s idle, 5s with a critical
// incident open, 12s up to 5 open, 7s up to 10, 5s beyond.
func DefaultTiers() Tiers {
	return Tiers{
		Idle:     20 * time.Second,
		Critical: 5 * time.Second,
		Steps: []Step{
			{MaxOpen: 5, Interval: 12 * time.Second},
			{MaxOpen: 10, Interval: 7 * time.Second},
		},
		Busy: 5 * time.Second,
	}
}

// TiersFromConfig builds the schedule from the REFRESH_* settings.
func TiersFromConfig(cfg *config.Config) Tiers {
	steps := make([]Step, len(cfg.RefreshSteps))
	for i, s := range cfg.RefreshSteps {
		steps[i] = Step{MaxOpen: s.MaxOpen, Interval: s.Interval}
	}
	return Tiers{
		Idle:     cfg.RefreshIdle,
		Critical: cfg.RefreshCritical,
		Steps:    steps,
		Busy:     cfg.RefreshBusy,
	}
}

// NextInterval picks the delay before the next refresh. Tiers are checked in
// order: idle, critical, then the first step whose MaxOpen covers openCount.
func NextInterval(openCount int, hasCritical bool, t Tiers) time.Duration {
	switch {
	case openCount <= 0:
		return t.Idle
	case hasCritical:
		return t.Critical
	}
	for _, s := range t.Steps {
		if openCount <= s.MaxOpen {
			return s.Interval
		}
	}
	return t.Busy
}
