// Package eta derives the display-only remaining-time readout of a run.
// It never feeds back into pacing or reveal decisions.
package eta

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/cascade-loader/pkg/acquire"
)

// Estimate returns the projected duration of a sequential run: one
// MinInterval between each pair of pages plus the supplemental request.
func Estimate(pageCount int, minInterval, supplemental time.Duration) time.Duration {
	if pageCount <= 1 {
		return supplemental
	}
	return time.Duration(pageCount-1)*minInterval + supplemental
}

// EstimateBatched is Estimate for the batch variant, where pages are fetched
// maxConcurrency at a time.
func EstimateBatched(pageCount, maxConcurrency int, minInterval, supplemental time.Duration) time.Duration {
	if maxConcurrency <= 1 {
		return Estimate(pageCount, minInterval, supplemental)
	}
	batches := (pageCount + maxConcurrency - 1) / maxConcurrency
	return Estimate(batches, minInterval, supplemental)
}

// Remaining returns the whole seconds left until start+total, never negative.
func Remaining(start time.Time, total time.Duration, now time.Time) int {
	left := start.Add(total).Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left / time.Second)
}

// StateFunc reports the current acquisition state.
type StateFunc func() acquire.State

// Countdown ticks the remaining-seconds readout once per second.
type Countdown struct {
	start   time.Time
	total   time.Duration
	state   StateFunc
	tick    time.Duration
	seconds atomic.Int64
}

// NewCountdown creates a countdown for a run projected to last total from start.
func NewCountdown(start time.Time, total time.Duration, state StateFunc) *Countdown {
	c := &Countdown{
		start: start,
		total: total,
		state: state,
		tick:  time.Second,
	}
	c.seconds.Store(int64(Remaining(start, total, start)))
	return c
}

// Run updates the readout every second until the run is terminal or ctx is
// cancelled. The readout is 0 once Run returns.
func (c *Countdown) Run(ctx context.Context) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()
	defer c.seconds.Store(0)

	for {
		if c.state().Terminal() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.seconds.Store(int64(Remaining(c.start, c.total, now)))
		}
	}
}

// Seconds returns the last computed remaining seconds. It is 0 as soon as
// the run is terminal, even between ticks.
func (c *Countdown) Seconds() int {
	if c.state().Terminal() {
		return 0
	}
	return int(c.seconds.Load())
}
