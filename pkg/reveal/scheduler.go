// Package reveal paces how fast acquired items become visible.
//
// The scheduler advances a visible count on a fixed cadence toward a target
// duration measured from the first arrival, independent of how fast the
// network delivers, but never past the number of items actually acquired.
package reveal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/cascade-loader/pkg/acquire"
)

var (
	visibleItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cascade_visible_items",
		Help: "Items currently revealed by the most recent cadence tick",
	})

	targetSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cascade_reveal_target_seconds",
		Help: "Current target duration of the reveal cascade",
	})
)

// Source is the read-only view of an acquisition run the scheduler needs.
// *acquire.Pipeline implements it.
type Source interface {
	Log() *acquire.Log
	State() acquire.State
	ExpectedTotal() int
	FetchElapsed() time.Duration
}

// Scheduler owns the visible count of one run.
type Scheduler struct {
	cfg    Config
	src    Source
	logger zerolog.Logger
	onTick func(visible int)

	visible atomic.Int64
	target  atomic.Int64 // time.Duration

	mu      sync.Mutex // serializes Step
	retimed bool

	stopped  atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithTickHook registers fn to be called after every cadence tick.
func WithTickHook(fn func(visible int)) Option {
	return func(s *Scheduler) { s.onTick = fn }
}

// NewScheduler creates a scheduler for src.
func NewScheduler(cfg Config, src Source, logger zerolog.Logger, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		cfg:    cfg,
		src:    src,
		logger: logger.With().Str("component", "reveal").Logger(),
		done:   make(chan struct{}),
	}
	s.target.Store(int64(cfg.TargetDuration))
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run drives the cadence until the cascade is complete, the run failed or
// was aborted, or ctx is cancelled. The ticker is always released.
func (s *Scheduler) Run(ctx context.Context) {
	defer s.stop()

	ticker := time.NewTicker(s.cfg.CadenceTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Int("visible", s.VisibleCount()).Msg("Cadence stopped")
			return
		case now := <-ticker.C:
			visible, finished := s.Step(now)
			if s.onTick != nil {
				s.onTick(visible)
			}
			if finished {
				s.logger.Info().
					Int("visible", visible).
					Str("state", s.src.State().String()).
					Msg("Reveal cascade finished")
				return
			}
		}
	}
}

// Step performs one cadence tick at now and returns the visible count and
// whether the cadence should stop.
func (s *Scheduler) Step(now time.Time) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.src.State()
	current := s.VisibleCount()
	if state == acquire.StateFailed || state == acquire.StateAborted {
		return current, true
	}

	log := s.src.Log()
	arrived := log.Len()
	total := s.src.ExpectedTotal()

	if state == acquire.StateCompleted && s.cfg.Policy == AdaptivePolicy && !s.retimed {
		s.retime()
	}

	start, ok := log.FirstArrival()
	if !ok {
		return current, state == acquire.StateCompleted && total == 0
	}

	scheduled := Scheduled(now.Sub(start), s.Target(), total)
	next := scheduled
	if arrived < next {
		next = arrived
	}
	if next > current {
		s.visible.Store(int64(next))
		visibleItems.Set(float64(next))
		current = next
	}

	return current, state == acquire.StateCompleted && current >= total
}

// retime re-paces the cascade once the fetch duration is known.
func (s *Scheduler) retime() {
	s.retimed = true

	elapsed := s.src.FetchElapsed()
	target := time.Duration(float64(elapsed) * s.cfg.SafetyMargin)
	if target < s.cfg.FloorDuration {
		target = s.cfg.FloorDuration
	}
	s.target.Store(int64(target))
	targetSeconds.Set(target.Seconds())

	s.logger.Debug().
		Dur("fetch_elapsed", elapsed).
		Dur("target", target).
		Msg("Reveal cascade re-paced")
}

// Scheduled returns how many of total items should be visible after elapsed
// of a cascade lasting target.
func Scheduled(elapsed, target time.Duration, total int) int {
	if total <= 0 {
		return 0
	}
	if target <= 0 {
		return total
	}
	if elapsed <= 0 {
		return 0
	}
	if elapsed >= target {
		return total
	}
	// Integer arithmetic keeps the floor exact.
	return int(int64(elapsed) * int64(total) / int64(target))
}

func (s *Scheduler) stop() {
	s.stopped.Store(true)
	s.doneOnce.Do(func() { close(s.done) })
}

// VisibleCount returns the number of items revealed so far.
func (s *Scheduler) VisibleCount() int {
	return int(s.visible.Load())
}

// Target returns the current target duration.
func (s *Scheduler) Target() time.Duration {
	return time.Duration(s.target.Load())
}

// Stopped reports whether the cadence loop has exited.
func (s *Scheduler) Stopped() bool {
	return s.stopped.Load()
}

// Done is closed when the cadence loop exits.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Offset returns the presentation delay of the item at index, based on its
// position within the batch it arrived in.
func (s *Scheduler) Offset(index int) time.Duration {
	batch, ok := s.src.Log().BatchOf(index)
	if !ok {
		return 0
	}
	return ItemOffset(index-batch.Start, s.cfg.RevealStep, s.cfg.MaxItemOffset)
}

// ItemOffset is localIndex*step capped at max.
func ItemOffset(localIndex int, step, max time.Duration) time.Duration {
	if localIndex <= 0 || step <= 0 {
		return 0
	}
	offset := time.Duration(localIndex) * step
	if max > 0 && offset > max {
		return max
	}
	return offset
}
