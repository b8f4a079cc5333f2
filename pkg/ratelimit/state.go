// Package ratelimit tracks the remote source's request budget and holds
// requests back while the budget is exhausted.
//
// The budget is read from the X-RateLimit-Remaining and X-RateLimit-Reset
// response headers; a 429 response exhausts it until Retry-After elapses.
package ratelimit

import (
	"time"
)

// Redis keys for shared rate limit state.
const (
	RedisKeyRemaining      = "cascade:rate_limit:remaining"
	RedisKeyResetTimestamp = "cascade:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "cascade:rate_limit:last_update"
)

// Response headers understood by the tracker.
const (
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

const (
	// UnknownRemaining marks a budget that was never reported.
	UnknownRemaining = -1

	// LowBudgetThreshold triggers a warning when the remaining budget drops below it.
	LowBudgetThreshold = 5

	// DefaultRetryAfter is assumed when a 429 carries no usable Retry-After.
	DefaultRetryAfter = 60 * time.Second

	// MaxStateAge bounds how long an exhausted state written by any process
	// may hold requests back.
	MaxStateAge = 15 * time.Minute
)

// RateLimitState is the source's last reported request budget.
type RateLimitState struct {
	// Remaining is the number of requests left in the current window,
	// UnknownRemaining until the source reports it.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last written.
	LastUpdate time.Time `json:"last_update"`
}

// DefaultState is the optimistic state used before any response was seen.
func DefaultState() RateLimitState {
	return RateLimitState{
		Remaining:  UnknownRemaining,
		LastUpdate: time.Now(),
	}
}

// IsStale returns true if the state is older than maxAge.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// Exhausted reports whether requests must wait for the window to reset.
func (s *RateLimitState) Exhausted() bool {
	return s.Remaining == 0 && s.TimeUntilReset() > 0
}

// Low reports whether the budget is known and below LowBudgetThreshold.
func (s *RateLimitState) Low() bool {
	return s.Remaining >= 0 && s.Remaining < LowBudgetThreshold
}

// TimeUntilReset returns the duration until the window resets, 0 if passed.
func (s *RateLimitState) TimeUntilReset() time.Duration {
	if s.ResetAt.IsZero() {
		return 0
	}
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}
