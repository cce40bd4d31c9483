package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/incident-feed-sync/internal/config"
)

func TestNextInterval_Defaults(t *testing.T) {
	tiers := DefaultTiers()
	tests := []struct {
		open     int
		critical bool
		want     time.Duration
	}{
		{0, false, 20 * time.Second},
		{0, true, 20 * time.Second},
		{1, false, 12 * time.Second},
		{1, true, 5 * time.Second},
		{5, false, 12 * time.Second},
		{6, false, 7 * time.Second},
		{10, false, 7 * time.Second},
		{11, false, 5 * time.Second},
		{40, true, 5 * time.Second},
		{-1, false, 20 * time.Second},
	}

	for _, tt := range tests {
		got := NextInterval(tt.open, tt.critical, tiers)
		assert.Equal(t, tt.want, got, "open=%d critical=%v", tt.open, tt.critical)
	}
}

func TestNextInterval_NoSteps(t *testing.T) {
	tiers := Tiers{Idle: time.Minute, Critical: time.Second, Busy: 3 * time.Second}
	assert.Equal(t, 3*time.Second, NextInterval(1, false, tiers))
	assert.Equal(t, time.Minute, NextInterval(0, false, tiers))
}

func TestNextInterval_NeverExceedsIdle(t *testing.T) {
	tiers := DefaultTiers()
	for open := 0; open <= 50; open++ {
		for _, critical := range []bool{false, true} {
			d := NextInterval(open, critical, tiers)
			assert.Positive(t, d)
			assert.LessOrEqual(t, d, tiers.Idle)
		}
	}
}

func TestTiersFromConfig_DefaultsMatch(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultTiers(), TiersFromConfig(cfg))
}

func TestTiersFromConfig_CustomSteps(t *testing.T) {
	t.Setenv("REFRESH_TIERS", "10:7s,3:15s")
	t.Setenv("REFRESH_IDLE", "30s")
	cfg, err := config.Load()
	require.NoError(t, err)

	tiers := TiersFromConfig(cfg)
	assert.Equal(t, 30*time.Second, NextInterval(0, false, tiers))
	assert.Equal(t, 15*time.Second, NextInterval(3, false, tiers))
	assert.Equal(t, 7*time.Second, NextInterval(4, false, tiers))
}
