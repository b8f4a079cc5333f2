package reveal

import (
	"time"

	"github.com/Sternrassler/cascade-loader/pkg/acquire"
)

// Policy selects how the target duration is chosen.
type Policy string

const (
	// FixedPolicy keeps the configured estimate for the whole run.
	FixedPolicy Policy = "fixed"

	// AdaptivePolicy replaces the estimate once the run completes with
	// max(fetch elapsed * SafetyMargin, FloorDuration).
	AdaptivePolicy Policy = "adaptive"
)

// Config holds the reveal cadence configuration.
type Config struct {
	// TargetDuration is the initial estimate of the cascade length.
	TargetDuration time.Duration

	// CadenceTick is the interval between cadence ticks.
	CadenceTick time.Duration

	Policy        Policy
	SafetyMargin  float64
	FloorDuration time.Duration

	// RevealStep is the per-row animation offset inside one arrival batch.
	RevealStep time.Duration

	// MaxItemOffset caps RevealStep * local index.
	MaxItemOffset time.Duration
}

// DefaultConfig returns the reveal configuration of the reference deployment.
func DefaultConfig() Config {
	return Config{
		TargetDuration: 147 * time.Second,
		CadenceTick:    100 * time.Millisecond,
		Policy:         AdaptivePolicy,
		SafetyMargin:   1.1,
		FloorDuration:  2 * time.Second,
		RevealStep:     150 * time.Millisecond,
		MaxItemOffset:  37500 * time.Millisecond,
	}
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.TargetDuration < 0 {
		return &acquire.ConfigError{Field: "target_duration", Reason: "must not be negative"}
	}
	if c.CadenceTick <= 0 {
		return &acquire.ConfigError{Field: "cadence_tick", Reason: "must be positive"}
	}
	switch c.Policy {
	case "":
		c.Policy = AdaptivePolicy
	case FixedPolicy, AdaptivePolicy:
	default:
		return &acquire.ConfigError{Field: "reveal_policy", Reason: "must be fixed or adaptive"}
	}
	if c.SafetyMargin == 0 {
		c.SafetyMargin = 1
	}
	if c.SafetyMargin < 1 {
		return &acquire.ConfigError{Field: "safety_margin", Reason: "must be at least 1"}
	}
	if c.FloorDuration < 0 || c.RevealStep < 0 || c.MaxItemOffset < 0 {
		return &acquire.ConfigError{Field: "reveal_offsets", Reason: "must not be negative"}
	}
	return nil
}
