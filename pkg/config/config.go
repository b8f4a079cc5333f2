// Package config loads the process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/cascade-loader/pkg/acquire"
	"github.com/Sternrassler/cascade-loader/pkg/client"
	"github.com/Sternrassler/cascade-loader/pkg/eta"
	"github.com/Sternrassler/cascade-loader/pkg/logging"
	"github.com/Sternrassler/cascade-loader/pkg/reveal"
)

// Config is the full configuration of a cascade-server process.
type Config struct {
	Acquire acquire.Config
	Reveal  reveal.Config
	Client  client.Config
	Logging logging.Config

	// SupplementalEstimate is the projected duration of the supplemental
	// request used by the ETA readout.
	SupplementalEstimate time.Duration

	// RedisURL enables the shared rate limit budget when set.
	RedisURL string

	Port string
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Acquire: acquire.DefaultConfig(),
		Reveal:  reveal.DefaultConfig(),
		Client:  client.DefaultConfig(getEnv("USER_AGENT", "cascade-loader/0.1.0")),
		Logging: logging.DefaultConfig(),
	}

	var err error
	if cfg.Acquire.PageCount, err = getEnvInt("PAGE_COUNT", cfg.Acquire.PageCount); err != nil {
		return nil, err
	}
	if cfg.Acquire.ItemsPerPage, err = getEnvInt("ITEMS_PER_PAGE", cfg.Acquire.ItemsPerPage); err != nil {
		return nil, err
	}
	if cfg.Acquire.MinInterval, err = getEnvMillis("MIN_INTERVAL_MS", cfg.Acquire.MinInterval); err != nil {
		return nil, err
	}
	if cfg.Acquire.MaxConcurrency, err = getEnvInt("MAX_CONCURRENCY", 1); err != nil {
		return nil, err
	}
	cfg.Acquire.SupplementalKeys = splitList(getEnv("SUPPLEMENTAL_KEYS", ""))
	cfg.Acquire.FailurePolicy = acquire.FailurePolicy(getEnv("FAILURE_POLICY", string(acquire.PreserveOnFailure)))

	if cfg.SupplementalEstimate, err = getEnvMillis("SUPPLEMENTAL_ESTIMATE_MS", 15*time.Second); err != nil {
		return nil, err
	}

	if cfg.Reveal.TargetDuration, err = getEnvMillis("TARGET_DURATION_MS", 0); err != nil {
		return nil, err
	}
	if cfg.Reveal.CadenceTick, err = getEnvMillis("CADENCE_TICK_MS", cfg.Reveal.CadenceTick); err != nil {
		return nil, err
	}
	if cfg.Reveal.RevealStep, err = getEnvMillis("REVEAL_STEP_MS", cfg.Reveal.RevealStep); err != nil {
		return nil, err
	}
	if cfg.Reveal.MaxItemOffset, err = getEnvMillis("MAX_REVEAL_OFFSET_MS", cfg.Reveal.MaxItemOffset); err != nil {
		return nil, err
	}
	if cfg.Reveal.FloorDuration, err = getEnvMillis("FLOOR_DURATION_MS", cfg.Reveal.FloorDuration); err != nil {
		return nil, err
	}
	if cfg.Reveal.SafetyMargin, err = getEnvFloat("SAFETY_MARGIN", cfg.Reveal.SafetyMargin); err != nil {
		return nil, err
	}
	cfg.Reveal.Policy = reveal.Policy(getEnv("REVEAL_POLICY", string(cfg.Reveal.Policy)))

	cfg.Client.BaseURL = getEnv("SOURCE_URL", cfg.Client.BaseURL)
	cfg.Client.VsCurrency = getEnv("VS_CURRENCY", cfg.Client.VsCurrency)

	cfg.Logging.Level = logging.LogLevel(getEnv("LOG_LEVEL", string(cfg.Logging.Level)))
	if cfg.Logging.Pretty, err = getEnvBool("LOG_PRETTY", cfg.Logging.Pretty); err != nil {
		return nil, err
	}

	cfg.RedisURL = getEnv("REDIS_URL", "")
	cfg.Port = getEnv("PORT", "8080")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section and fills in derived defaults. An unset
// reveal target is derived from the projected fetch duration.
func (c *Config) Validate() error {
	if err := c.Acquire.Validate(); err != nil {
		return err
	}
	if c.SupplementalEstimate < 0 {
		return &acquire.ConfigError{Field: "supplemental_estimate", Reason: "must not be negative"}
	}
	if c.Reveal.TargetDuration == 0 {
		c.Reveal.TargetDuration = c.ETATotal()
	}
	if err := c.Reveal.Validate(); err != nil {
		return err
	}
	if c.Client.UserAgent == "" {
		return &acquire.ConfigError{Field: "user_agent", Reason: "is required"}
	}
	if c.Port == "" {
		return &acquire.ConfigError{Field: "port", Reason: "is required"}
	}
	return nil
}

// ETATotal is the projected duration of one run as shown by the countdown.
func (c *Config) ETATotal() time.Duration {
	supplemental := time.Duration(0)
	if len(c.Acquire.SupplementalKeys) > 0 {
		supplemental = c.SupplementalEstimate
	}
	return eta.EstimateBatched(c.Acquire.PageCount, c.Acquire.MaxConcurrency, c.Acquire.MinInterval, supplemental)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, &acquire.ConfigError{Field: key, Reason: fmt.Sprintf("not an integer: %q", value)}
	}
	return n, nil
}

func getEnvMillis(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, &acquire.ConfigError{Field: key, Reason: fmt.Sprintf("not a number of milliseconds: %q", value)}
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, &acquire.ConfigError{Field: key, Reason: fmt.Sprintf("not a number: %q", value)}
	}
	return f, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, &acquire.ConfigError{Field: key, Reason: fmt.Sprintf("not a boolean: %q", value)}
	}
	return b, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
