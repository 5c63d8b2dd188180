package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FLUSH_INTERVAL_MS", "")
	t.Setenv("RATE_LIMIT_POINTS", "")

	cfg := Load()

	assert.Equal(t, 10*time.Second, cfg.FlushInterval)
	assert.Equal(t, 15*time.Minute, cfg.SnapshotWindow)
	assert.Equal(t, 500, cfg.CacheSize)
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 10, cfg.RateLimitPoints)
	assert.Equal(t, 5*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 400.0, cfg.NearbyRadiusMeters)
	assert.Equal(t, 5, cfg.CoordPrecision)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FLUSH_INTERVAL_MS", "250")
	t.Setenv("RATE_LIMIT_POINTS", "3")
	t.Setenv("NEARBY_RADIUS_METERS", "150.5")
	t.Setenv("CACHE_SIZE", "not-a-number")

	cfg := Load()

	assert.Equal(t, 250*time.Millisecond, cfg.FlushInterval)
	assert.Equal(t, 3, cfg.RateLimitPoints)
	assert.Equal(t, 150.5, cfg.NearbyRadiusMeters)
	assert.Equal(t, 500, cfg.CacheSize, "bad values fall back to the default")
}

func TestLoadRejectsNonPositiveDurations(t *testing.T) {
	for _, v := range []string{"0", "-500"} {
		t.Setenv("FLUSH_INTERVAL_MS", v)
		t.Setenv("RATE_LIMIT_WINDOW_SECONDS", v)

		cfg := Load()

		assert.Equal(t, 10*time.Second, cfg.FlushInterval, v)
		assert.Equal(t, 5*time.Second, cfg.RateLimitWindow, v)
	}
}

func TestParseTokens(t *testing.T) {
	got := parseTokens(" drv-token=d1:driver:college-1 ,broken, =x,stu=s1:student:college-1")

	assert.Equal(t, map[string]string{
		"drv-token": "d1:driver:college-1",
		"stu":       "s1:student:college-1",
	}, got)
}
