package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/cascade-loader/pkg/acquire"
	"github.com/Sternrassler/cascade-loader/pkg/reveal"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Acquire.PageCount)
	assert.Equal(t, 250, cfg.Acquire.ItemsPerPage)
	assert.Equal(t, 12*time.Second, cfg.Acquire.MinInterval)
	assert.Equal(t, 1, cfg.Acquire.MaxConcurrency)
	assert.Equal(t, acquire.PreserveOnFailure, cfg.Acquire.FailurePolicy)
	assert.Empty(t, cfg.Acquire.SupplementalKeys)
	assert.Equal(t, reveal.AdaptivePolicy, cfg.Reveal.Policy)
	assert.Equal(t, 132*time.Second, cfg.Reveal.TargetDuration, "target derived from the fetch estimate")
	assert.Equal(t, "8080", cfg.Port)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PAGE_COUNT", "4")
	t.Setenv("ITEMS_PER_PAGE", "50")
	t.Setenv("MIN_INTERVAL_MS", "500")
	t.Setenv("SUPPLEMENTAL_KEYS", " pepe, bonk ,,")
	t.Setenv("SUPPLEMENTAL_ESTIMATE_MS", "1000")
	t.Setenv("REVEAL_POLICY", "fixed")
	t.Setenv("FAILURE_POLICY", "clear")
	t.Setenv("SAFETY_MARGIN", "1.5")
	t.Setenv("LOG_PRETTY", "true")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Acquire.PageCount)
	assert.Equal(t, 50, cfg.Acquire.ItemsPerPage)
	assert.Equal(t, 500*time.Millisecond, cfg.Acquire.MinInterval)
	assert.Equal(t, []string{"pepe", "bonk"}, cfg.Acquire.SupplementalKeys)
	assert.Equal(t, acquire.ClearOnFailure, cfg.Acquire.FailurePolicy)
	assert.Equal(t, reveal.FixedPolicy, cfg.Reveal.Policy)
	assert.Equal(t, 1.5, cfg.Reveal.SafetyMargin)
	assert.True(t, cfg.Logging.Pretty)
	assert.Equal(t, "9090", cfg.Port)
	// 3 gaps of 500ms plus the supplemental estimate.
	assert.Equal(t, 2500*time.Millisecond, cfg.ETATotal())
	assert.Equal(t, cfg.ETATotal(), cfg.Reveal.TargetDuration)
}

func TestLoad_ExplicitTarget(t *testing.T) {
	t.Setenv("TARGET_DURATION_MS", "147000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 147*time.Second, cfg.Reveal.TargetDuration)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric page count", "PAGE_COUNT", "twelve"},
		{"zero page count", "PAGE_COUNT", "0"},
		{"negative interval", "MIN_INTERVAL_MS", "-1"},
		{"bad policy", "REVEAL_POLICY", "eager"},
		{"bad failure policy", "FAILURE_POLICY", "retry"},
		{"bad margin", "SAFETY_MARGIN", "0.5"},
		{"bad bool", "LOG_PRETTY", "sometimes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.ErrorIs(t, err, acquire.ErrConfiguration)
		})
	}
}

func TestETATotal_Batched(t *testing.T) {
	cfg := Config{
		Acquire: acquire.Config{PageCount: 12, MinInterval: 12 * time.Second, MaxConcurrency: 3},
	}
	assert.Equal(t, 36*time.Second, cfg.ETATotal(), "four batches, no supplemental keys")
}
