package acquire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// PageFetcher fetches one page of the ranked list.
// Implementations must honor ctx cancellation.
type PageFetcher interface {
	FetchPage(ctx context.Context, pageIndex, pageSize int) ([]Item, error)
}

// KeyFetcher fetches an explicit set of items by key.
// Implementations must honor ctx cancellation.
type KeyFetcher interface {
	FetchByKeys(ctx context.Context, keys []string) ([]Item, error)
}

// Pipeline drives one acquisition run.
type Pipeline struct {
	cfg    Config
	plan   Plan
	pages  PageFetcher
	keys   KeyFetcher
	log    *Log
	logger zerolog.Logger

	state      atomic.Int32
	startedAt  atomic.Int64 // unix nanos
	finishedAt atomic.Int64 // unix nanos

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	lastErr error

	done     chan struct{}
	doneOnce sync.Once
}

// New creates a pipeline for one run. The configuration is validated before
// anything else happens; an invalid one yields a *ConfigError.
func New(cfg Config, pages PageFetcher, keys KeyFetcher, logger zerolog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pages == nil {
		return nil, &ConfigError{Field: "page_fetcher", Reason: "is required"}
	}

	plan := NewPlan(cfg)
	if keys == nil && len(plan.SupplementalKeys()) > 0 {
		return nil, &ConfigError{Field: "key_fetcher", Reason: "is required when supplemental keys are set"}
	}

	return &Pipeline{
		cfg:    cfg,
		plan:   plan,
		pages:  pages,
		keys:   keys,
		log:    NewLog(plan.TotalExpected()),
		logger: logger.With().Str("component", "acquire").Logger(),
		done:   make(chan struct{}),
	}, nil
}

// Run executes the run to a terminal state and returns its error.
// It returns nil on completion, ErrCancelled when aborted and a
// *TransportError when a fetch failed.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	if p.State() == StateAborted {
		p.mu.Unlock()
		p.closeDone()
		return ErrCancelled
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.startedAt.Store(time.Now().UnixNano())
	p.mu.Unlock()

	defer p.closeDone()
	defer cancel()

	p.logger.Info().
		Int("pages", len(p.plan.pages)).
		Int("page_size", p.cfg.ItemsPerPage).
		Int("supplemental_keys", len(p.plan.keys)).
		Int("expected_items", p.plan.TotalExpected()).
		Dur("min_interval", p.cfg.MinInterval).
		Msg("Starting acquisition run")

	return p.finish(p.drive(ctx))
}

// Cancel aborts the run. The in-flight request and any pacing wait are
// cancelled and no item is appended afterwards. Safe to call repeatedly.
func (p *Pipeline) Cancel() {
	p.log.Seal()

	if !p.transition(StateAborted) {
		return
	}

	p.mu.Lock()
	cancel := p.cancel
	started := p.started
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !started {
		p.closeDone()
	}

	p.logger.Info().Int("arrived", p.log.Len()).Msg("Acquisition run cancelled")
}

// drive iterates the state machine. Each loop turn is one request (or one
// concurrent batch of page requests).
func (p *Pipeline) drive(ctx context.Context) error {
	var lastStart time.Time
	pages := p.plan.pages
	step := p.cfg.MaxConcurrency

	for i := 0; i < len(pages); i += step {
		if err := p.pace(ctx, lastStart); err != nil {
			return err
		}
		if !p.transition(StateFetching) {
			return ErrCancelled
		}
		lastStart = time.Now()

		end := i + step
		if end > len(pages) {
			end = len(pages)
		}

		var short bool
		var err error
		if end-i == 1 {
			short, err = p.fetchPage(ctx, pages[i])
		} else {
			short, err = p.fetchBatch(ctx, pages[i:end])
		}
		if err != nil {
			return err
		}
		if short {
			p.logger.Info().
				Int("page", pages[end-1].Index).
				Int("arrived", p.log.Len()).
				Msg("Short page received, paging finished early")
			break
		}
	}

	if len(p.plan.keys) == 0 {
		return nil
	}

	if err := p.pace(ctx, lastStart); err != nil {
		return err
	}
	if !p.transition(StateFetchingSupplemental) {
		return ErrCancelled
	}
	return p.fetchSupplemental(ctx)
}

// pace waits until MinInterval has passed since lastStart.
func (p *Pipeline) pace(ctx context.Context, lastStart time.Time) error {
	if lastStart.IsZero() {
		return nil
	}
	wait := p.cfg.MinInterval - time.Since(lastStart)
	if wait <= 0 {
		return nil
	}

	if !p.transition(StatePacing) {
		return ErrCancelled
	}
	pacingWaitSeconds.Observe(wait.Seconds())
	p.logger.Debug().Dur("wait", wait).Msg("Pacing before next request")

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	case <-timer.C:
		return nil
	}
}

// fetchPage fetches and appends a single page.
// It reports whether the page was shorter than requested.
func (p *Pipeline) fetchPage(ctx context.Context, page PageDescriptor) (bool, error) {
	start := time.Now()
	items, err := p.pages.FetchPage(ctx, page.Index, page.Size)
	fetchDuration.WithLabelValues(kindPage).Observe(time.Since(start).Seconds())
	if err != nil {
		return false, p.classify(ctx, kindPage, "fetch page", page.Index, err)
	}
	if ctx.Err() != nil {
		// Late result after cancellation is dropped.
		return false, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
	fetchesTotal.WithLabelValues(kindPage, "ok").Inc()

	items = p.clip(items, page.Size, "page", page.Index)
	p.appendItems(items, page.Index)
	return len(items) < page.Size, nil
}

// fetchSupplemental issues the single trailing keyed fetch.
func (p *Pipeline) fetchSupplemental(ctx context.Context) error {
	keys := p.plan.SupplementalKeys()

	start := time.Now()
	items, err := p.keys.FetchByKeys(ctx, keys)
	fetchDuration.WithLabelValues(kindSupplemental).Observe(time.Since(start).Seconds())
	if err != nil {
		return p.classify(ctx, kindSupplemental, "fetch supplemental", 0, err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
	fetchesTotal.WithLabelValues(kindSupplemental, "ok").Inc()

	items = p.clip(items, len(keys), "supplemental", 0)
	p.appendItems(items, 0)
	return nil
}

// clip drops items beyond limit so the log never outgrows the plan.
func (p *Pipeline) clip(items []Item, limit int, what string, page int) []Item {
	if len(items) <= limit {
		return items
	}
	p.logger.Warn().
		Str("request", what).
		Int("page", page).
		Int("received", len(items)).
		Int("limit", limit).
		Msg("Source returned more items than requested, extra items dropped")
	return items[:limit]
}

func (p *Pipeline) appendItems(items []Item, page int) {
	n := p.log.Append(items)
	itemsAppendedTotal.Add(float64(n))

	p.logger.Debug().
		Int("page", page).
		Int("items", n).
		Int("arrived", p.log.Len()).
		Msg("Items appended")
}

// classify turns a fetch error into a cancellation or a TransportError.
func (p *Pipeline) classify(ctx context.Context, kind, op string, page int, err error) error {
	if ctx.Err() != nil {
		fetchesTotal.WithLabelValues(kind, "cancelled").Inc()
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	fetchesTotal.WithLabelValues(kind, "error").Inc()
	return &TransportError{Op: op, Page: page, Err: err}
}

// finish moves the pipeline into its terminal state.
func (p *Pipeline) finish(err error) error {
	now := time.Now()
	p.finishedAt.Store(now.UnixNano())
	elapsed := now.Sub(time.Unix(0, p.startedAt.Load()))

	switch {
	case err == nil:
		if !p.transition(StateCompleted) {
			runsTotal.WithLabelValues(StateAborted.String()).Inc()
			return ErrCancelled
		}
		p.log.Seal()
		runsTotal.WithLabelValues(StateCompleted.String()).Inc()
		p.logger.Info().
			Int("items", p.log.Len()).
			Dur("duration", elapsed).
			Msg("Acquisition run complete")
		return nil

	case errors.Is(err, ErrCancelled):
		p.log.Seal()
		p.transition(StateAborted)
		runsTotal.WithLabelValues(StateAborted.String()).Inc()
		return ErrCancelled

	default:
		p.log.Seal()
		if !p.transition(StateFailed) {
			runsTotal.WithLabelValues(StateAborted.String()).Inc()
			return ErrCancelled
		}
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		runsTotal.WithLabelValues(StateFailed.String()).Inc()
		p.logger.Error().
			Err(err).
			Int("arrived", p.log.Len()).
			Dur("duration", elapsed).
			Msg("Acquisition run failed")
		return err
	}
}

// transition moves to next unless the current state is terminal.
func (p *Pipeline) transition(next State) bool {
	for {
		cur := State(p.state.Load())
		if cur.Terminal() {
			return false
		}
		if p.state.CompareAndSwap(int32(cur), int32(next)) {
			return true
		}
	}
}

func (p *Pipeline) closeDone() {
	p.doneOnce.Do(func() { close(p.done) })
}

// State returns the current internal state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Status returns the outward status.
func (p *Pipeline) Status() Status {
	return p.State().Public()
}

// Done is closed once the pipeline reached a terminal state.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Log returns the accumulated log. Callers must not append to it.
func (p *Pipeline) Log() *Log {
	return p.log
}

// Plan returns the run's page plan.
func (p *Pipeline) Plan() Plan {
	return p.plan
}

// Config returns the validated configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Arrived returns the number of items received so far.
func (p *Pipeline) Arrived() int {
	return p.log.Len()
}

// ExpectedTotal returns the planned item count while the run is in progress
// and the actual log length once it completed.
func (p *Pipeline) ExpectedTotal() int {
	if p.State() == StateCompleted {
		return p.log.Len()
	}
	return p.plan.TotalExpected()
}

// LastError returns the failure that ended the run, nil otherwise.
// Cancellation is never reported here.
func (p *Pipeline) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// StartedAt returns when Run began; zero before that.
func (p *Pipeline) StartedAt() time.Time {
	nanos := p.startedAt.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// FetchElapsed returns the wall-clock time from start to the terminal state.
// It is zero while the run is in progress. Lock free, the reveal cadence
// calls it on every tick.
func (p *Pipeline) FetchElapsed() time.Duration {
	start, end := p.startedAt.Load(), p.finishedAt.Load()
	if start == 0 || end == 0 {
		return 0
	}
	return time.Duration(end - start)
}
