package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestTracker() *Tracker {
	return NewTracker(nil, zerolog.New(os.Stderr).Level(zerolog.Disabled))
}

func TestUpdateFromResponse_Headers(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		remainHeader  string
		resetHeader   string
		retryAfter    string
		wantRemaining int
		wantResetIn   time.Duration
		shouldError   bool
	}{
		{
			name:          "budget reported",
			status:        http.StatusOK,
			remainHeader:  "25",
			resetHeader:   "60",
			wantRemaining: 25,
			wantResetIn:   60 * time.Second,
		},
		{
			name:          "no headers leaves default",
			status:        http.StatusOK,
			wantRemaining: UnknownRemaining,
		},
		{
			name:          "429 with retry-after",
			status:        http.StatusTooManyRequests,
			retryAfter:    "30",
			wantRemaining: 0,
			wantResetIn:   30 * time.Second,
		},
		{
			name:          "429 without retry-after",
			status:        http.StatusTooManyRequests,
			wantRemaining: 0,
			wantResetIn:   DefaultRetryAfter,
		},
		{
			name:         "invalid remaining",
			status:       http.StatusOK,
			remainHeader: "lots",
			shouldError:  true,
		},
		{
			name:         "invalid reset",
			status:       http.StatusOK,
			remainHeader: "10",
			resetHeader:  "soon",
			shouldError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newTestTracker()
			headers := http.Header{}
			if tt.remainHeader != "" {
				headers.Set(HeaderRemaining, tt.remainHeader)
			}
			if tt.resetHeader != "" {
				headers.Set(HeaderReset, tt.resetHeader)
			}
			if tt.retryAfter != "" {
				headers.Set(HeaderRetryAfter, tt.retryAfter)
			}

			err := tracker.UpdateFromResponse(context.Background(), tt.status, headers)
			if tt.shouldError {
				if err == nil {
					t.Error("Expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			state, err := tracker.GetState(context.Background())
			if err != nil {
				t.Fatalf("GetState() error = %v", err)
			}
			if state.Remaining != tt.wantRemaining {
				t.Errorf("Remaining = %d, want %d", state.Remaining, tt.wantRemaining)
			}
			if tt.wantResetIn > 0 {
				got := state.TimeUntilReset()
				if got > tt.wantResetIn || got < tt.wantResetIn-2*time.Second {
					t.Errorf("TimeUntilReset = %v, want about %v", got, tt.wantResetIn)
				}
			}
		})
	}
}

func TestWait_HealthyReturnsImmediately(t *testing.T) {
	tracker := newTestTracker()

	start := time.Now()
	if err := tracker.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if d := time.Since(start); d > 50*time.Millisecond {
		t.Errorf("Wait() took %v for a healthy budget", d)
	}
}

func TestWait_HoldsUntilReset(t *testing.T) {
	tracker := newTestTracker()
	headers := http.Header{}
	headers.Set(HeaderRetryAfter, "1")
	if err := tracker.UpdateFromResponse(context.Background(), http.StatusTooManyRequests, headers); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	start := time.Now()
	if err := tracker.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if d := time.Since(start); d < 900*time.Millisecond {
		t.Errorf("Wait() returned after %v, want about 1s", d)
	}
}

func TestWait_Cancelled(t *testing.T) {
	tracker := newTestTracker()
	if err := tracker.UpdateFromResponse(context.Background(), http.StatusTooManyRequests, http.Header{}); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := tracker.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
}

func TestWait_IgnoresStaleExhaustedState(t *testing.T) {
	tracker := newTestTracker()
	if err := tracker.store(context.Background(), RateLimitState{
		Remaining:  0,
		ResetAt:    time.Now().Add(time.Hour),
		LastUpdate: time.Now().Add(-2 * MaxStateAge),
	}); err != nil {
		t.Fatalf("store() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	if err := tracker.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if d := time.Since(start); d > 50*time.Millisecond {
		t.Errorf("Wait() held a stale state for %v", d)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", DefaultRetryAfter},
		{"15", 15 * time.Second},
		{"junk", DefaultRetryAfter},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}

	for _, tt := range tests {
		if got := parseRetryAfter(tt.value, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
