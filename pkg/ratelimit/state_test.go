package ratelimit

import (
	"testing"
	"time"
)

func TestRateLimitState_IsStale(t *testing.T) {
	tests := []struct {
		name     string
		state    *RateLimitState
		maxAge   time.Duration
		expected bool
	}{
		{
			name:     "fresh state",
			state:    &RateLimitState{LastUpdate: time.Now()},
			maxAge:   5 * time.Minute,
			expected: false,
		},
		{
			name:     "stale state",
			state:    &RateLimitState{LastUpdate: time.Now().Add(-10 * time.Minute)},
			maxAge:   5 * time.Minute,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsStale(tt.maxAge); got != tt.expected {
				t.Errorf("IsStale() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRateLimitState_Exhausted(t *testing.T) {
	tests := []struct {
		name      string
		remaining int
		resetIn   time.Duration
		exhausted bool
		low       bool
	}{
		{name: "unknown budget", remaining: UnknownRemaining, resetIn: time.Minute},
		{name: "plenty left", remaining: 30, resetIn: time.Minute},
		{name: "low budget", remaining: 2, resetIn: time.Minute, low: true},
		{name: "empty before reset", remaining: 0, resetIn: time.Minute, exhausted: true, low: true},
		{name: "empty after reset", remaining: 0, resetIn: -time.Second, low: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &RateLimitState{
				Remaining: tt.remaining,
				ResetAt:   time.Now().Add(tt.resetIn),
			}
			if got := state.Exhausted(); got != tt.exhausted {
				t.Errorf("Exhausted() = %v, want %v", got, tt.exhausted)
			}
			if got := state.Low(); got != tt.low {
				t.Errorf("Low() = %v, want %v", got, tt.low)
			}
		})
	}
}

func TestRateLimitState_TimeUntilReset(t *testing.T) {
	state := &RateLimitState{}
	if state.TimeUntilReset() != 0 {
		t.Error("zero ResetAt should mean no wait")
	}

	state.ResetAt = time.Now().Add(-time.Minute)
	if state.TimeUntilReset() != 0 {
		t.Error("past ResetAt should mean no wait")
	}

	state.ResetAt = time.Now().Add(time.Minute)
	if d := state.TimeUntilReset(); d <= 55*time.Second || d > time.Minute {
		t.Errorf("TimeUntilReset() = %v, want about 1m", d)
	}
}
