// Package session binds one acquisition run, its reveal cadence and its
// countdown into a single object with a consistent read API.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/cascade-loader/pkg/acquire"
	"github.com/Sternrassler/cascade-loader/pkg/eta"
	"github.com/Sternrassler/cascade-loader/pkg/logging"
	"github.com/Sternrassler/cascade-loader/pkg/reveal"
)

// ErrAlreadyStarted is returned by Start on a session that already ran.
var ErrAlreadyStarted = errors.New("session already started")

// Options configures every session created from it.
type Options struct {
	Acquire acquire.Config
	Reveal  reveal.Config

	// ETATotal is the projected run duration shown by the countdown.
	ETATotal time.Duration

	Pages acquire.PageFetcher
	Keys  acquire.KeyFetcher

	Logger zerolog.Logger

	// OnTick is called after every reveal cadence tick.
	OnTick func(*Session)
}

// Session is one run.
type Session struct {
	id        string
	opts      Options
	pipeline  *acquire.Pipeline
	scheduler *reveal.Scheduler
	countdown atomic.Pointer[eta.Countdown]
	logger    zerolog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	runErr  error

	done chan struct{}
}

// New creates an idle session with a fresh run id.
func New(opts Options) (*Session, error) {
	id := uuid.New().String()
	logger := logging.WithRun(opts.Logger, id)

	pipeline, err := acquire.New(opts.Acquire, opts.Pages, opts.Keys, logger)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:       id,
		opts:     opts,
		pipeline: pipeline,
		logger:   logger.With().Str("component", "session").Logger(),
		done:     make(chan struct{}),
	}

	var schedOpts []reveal.Option
	if opts.OnTick != nil {
		schedOpts = append(schedOpts, reveal.WithTickHook(func(int) { opts.OnTick(s) }))
	}
	s.scheduler, err = reveal.NewScheduler(opts.Reveal, pipeline, logger, schedOpts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Start launches the acquisition, the reveal cadence and the countdown.
// They stop on their own when the run ends, or when ctx is cancelled.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	countdown := eta.NewCountdown(time.Now(), s.opts.ETATotal, s.pipeline.State)
	s.countdown.Store(countdown)

	s.logger.Info().Dur("eta", s.opts.ETATotal).Msg("Session started")

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		err := s.pipeline.Run(ctx)
		s.mu.Lock()
		s.runErr = err
		s.mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		s.scheduler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		countdown.Run(ctx)
	}()

	go func() {
		wg.Wait()
		cancel()
		close(s.done)
		s.logger.Debug().Str("status", string(s.pipeline.Status())).Msg("Session stopped")
	}()
	return nil
}

// Cancel aborts the run and stops the cadence and countdown. Arrivals
// after Cancel are ignored. Safe to call repeatedly and before Start.
func (s *Session) Cancel() {
	s.pipeline.Cancel()

	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	s.started = true
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !started {
		close(s.done)
	}
}

// Done is closed once all loops of the session exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session stopped and returns the run's error.
func (s *Session) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runErr
}

// ID returns the run id.
func (s *Session) ID() string {
	return s.id
}

// Pipeline returns the underlying acquisition pipeline.
func (s *Session) Pipeline() *acquire.Pipeline {
	return s.pipeline
}

// hidden reports whether the failure policy hides the items of this run.
func (s *Session) hidden() bool {
	return s.pipeline.State() == acquire.StateFailed &&
		s.pipeline.Config().FailurePolicy == acquire.ClearOnFailure
}

// CurrentLog returns a copy of every item acquired so far, or nothing when
// the run failed under ClearOnFailure.
func (s *Session) CurrentLog() []acquire.Item {
	if s.hidden() {
		return nil
	}
	return s.pipeline.Log().Items()
}

// VisibleCount returns the number of revealed items, 0 when the run failed
// under ClearOnFailure.
func (s *Session) VisibleCount() int {
	if s.hidden() {
		return 0
	}
	return s.scheduler.VisibleCount()
}

// Status returns the outward status of the run.
func (s *Session) Status() acquire.Status {
	return s.pipeline.Status()
}

// RemainingSeconds returns the countdown readout; 0 before Start.
func (s *Session) RemainingSeconds() int {
	c := s.countdown.Load()
	if c == nil {
		return 0
	}
	return c.Seconds()
}

// LastError returns the failure message, empty unless the run failed.
func (s *Session) LastError() string {
	if err := s.pipeline.LastError(); err != nil {
		return err.Error()
	}
	return ""
}

// VisibleItem is a revealed item with its presentation delay.
type VisibleItem struct {
	Index    int             `json:"index"`
	ID       string          `json:"id"`
	Data     json.RawMessage `json:"data"`
	OffsetMS int64           `json:"offset_ms"`
}

// Snapshot is a consistent read of a session.
type Snapshot struct {
	RunID            string         `json:"run_id"`
	Status           acquire.Status `json:"status"`
	StartedAt        time.Time      `json:"started_at,omitzero"`
	Arrived          int            `json:"arrived"`
	Expected         int            `json:"expected"`
	Visible          int            `json:"visible"`
	RemainingSeconds int            `json:"remaining_seconds"`
	LastError        string         `json:"last_error,omitempty"`
	Items            []VisibleItem  `json:"items"`
}

// Snapshot returns the session state with every visible item.
func (s *Session) Snapshot() Snapshot {
	return s.Delta(0)
}

// Delta returns the session state with the visible items from index from
// onwards, for clients that already hold the earlier ones.
func (s *Session) Delta(from int) Snapshot {
	hidden := s.hidden()
	visible, arrived := s.scheduler.VisibleCount(), s.pipeline.Arrived()
	if hidden {
		visible, arrived = 0, 0
	}

	snap := Snapshot{
		RunID:            s.id,
		Status:           s.pipeline.Status(),
		StartedAt:        s.pipeline.StartedAt(),
		Arrived:          arrived,
		Expected:         s.pipeline.ExpectedTotal(),
		Visible:          visible,
		RemainingSeconds: s.RemainingSeconds(),
		LastError:        s.LastError(),
		Items:            []VisibleItem{},
	}

	if from < 0 {
		from = 0
	}
	items := s.pipeline.Log().Slice(visible)
	for i := from; i < len(items); i++ {
		snap.Items = append(snap.Items, VisibleItem{
			Index:    i,
			ID:       items[i].ID,
			Data:     items[i].Raw,
			OffsetMS: s.scheduler.Offset(i).Milliseconds(),
		})
	}
	return snap
}
