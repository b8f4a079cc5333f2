package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	budgetRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cascade_rate_limit_remaining",
		Help: "Requests remaining in the source's current rate limit window",
	})

	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cascade_rate_limit_waits_total",
		Help: "Total number of requests held back until the rate limit window reset",
	})

	rateLimitedResponsesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cascade_rate_limited_responses_total",
		Help: "Total number of 429 responses received from the source",
	})
)

// Tracker keeps the source's request budget and gates requests on it.
// With a Redis client the state is shared by every process using the same
// source; without one it lives in memory.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger

	mu    sync.Mutex
	local RateLimitState
}

// NewTracker creates a tracker. redisClient may be nil.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger.With().Str("component", "ratelimit").Logger(),
		local:  DefaultState(),
	}
}

// GetState returns the current state, or DefaultState if none was stored.
func (t *Tracker) GetState(ctx context.Context) (*RateLimitState, error) {
	if t.redis == nil {
		t.mu.Lock()
		state := t.local
		t.mu.Unlock()
		return &state, nil
	}

	remaining, err := t.redis.Get(ctx, RedisKeyRemaining).Int()
	if errors.Is(err, redis.Nil) {
		t.logger.Debug().Msg("No rate limit state in Redis, returning default state")
		state := DefaultState()
		return &state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	resetTimestamp, err := t.redis.Get(ctx, RedisKeyResetTimestamp).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	lastUpdateStr, err := t.redis.Get(ctx, RedisKeyLastUpdate).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	state := &RateLimitState{Remaining: remaining}
	if resetTimestamp > 0 {
		state.ResetAt = time.Unix(resetTimestamp, 0)
	}
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &state.LastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}
	return state, nil
}

// UpdateFromResponse records the budget reported by a response.
// Responses without rate limit headers leave the state untouched.
func (t *Tracker) UpdateFromResponse(ctx context.Context, statusCode int, headers http.Header) error {
	now := time.Now()

	if statusCode == http.StatusTooManyRequests {
		rateLimitedResponsesTotal.Inc()
		retryAfter := parseRetryAfter(headers.Get(HeaderRetryAfter), now)
		return t.store(ctx, RateLimitState{
			Remaining:  0,
			ResetAt:    now.Add(retryAfter),
			LastUpdate: now,
		})
	}

	remainStr := strings.TrimSpace(headers.Get(HeaderRemaining))
	if remainStr == "" {
		return nil
	}
	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	state := RateLimitState{Remaining: remain, LastUpdate: now}
	if resetStr := strings.TrimSpace(headers.Get(HeaderReset)); resetStr != "" {
		resetSeconds, err := strconv.Atoi(resetStr)
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderReset, err)
		}
		state.ResetAt = now.Add(time.Duration(resetSeconds) * time.Second)
	}

	return t.store(ctx, state)
}

func (t *Tracker) store(ctx context.Context, state RateLimitState) error {
	if t.redis == nil {
		t.mu.Lock()
		t.local = state
		t.mu.Unlock()
	} else {
		lastUpdateJSON, err := json.Marshal(state.LastUpdate)
		if err != nil {
			return fmt.Errorf("marshal last update: %w", err)
		}

		var resetUnix int64
		if !state.ResetAt.IsZero() {
			resetUnix = state.ResetAt.Unix()
		}

		pipe := t.redis.Pipeline()
		pipe.Set(ctx, RedisKeyRemaining, state.Remaining, 0)
		pipe.Set(ctx, RedisKeyResetTimestamp, resetUnix, 0)
		pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, 0)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("store rate limit state in redis: %w", err)
		}
	}

	budgetRemaining.Set(float64(state.Remaining))

	event := t.logger.Debug()
	if state.Low() {
		event = t.logger.Warn()
	}
	event.
		Int("remaining", state.Remaining).
		Time("reset_at", state.ResetAt).
		Msg("Rate limit state updated")

	return nil
}

// Wait blocks while the budget is exhausted, until the window resets or ctx
// is done. It never issues or repeats a request itself.
func (t *Tracker) Wait(ctx context.Context) error {
	state, err := t.GetState(ctx)
	if err != nil {
		return fmt.Errorf("get rate limit state: %w", err)
	}
	if !state.Exhausted() {
		return nil
	}
	if state.IsStale(MaxStateAge) {
		t.logger.Warn().
			Time("last_update", state.LastUpdate).
			Time("reset_at", state.ResetAt).
			Msg("Ignoring stale exhausted rate limit state")
		return nil
	}

	wait := state.TimeUntilReset()
	rateLimitWaitsTotal.Inc()
	t.logger.Warn().
		Dur("wait", wait).
		Time("reset_at", state.ResetAt).
		Msg("Rate limit exhausted, holding request until reset")

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultRetryAfter
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return DefaultRetryAfter
}
