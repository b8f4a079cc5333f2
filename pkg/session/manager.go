package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Manager holds the active session. Activating a new one supersedes and
// cancels the previous one, so at most one run is in progress.
type Manager struct {
	opts   Options
	logger zerolog.Logger

	mu          sync.RWMutex
	current     *Session
	subscribers map[chan struct{}]struct{}
}

// NewManager creates a manager creating sessions from opts.
func NewManager(opts Options) *Manager {
	m := &Manager{
		logger:      opts.Logger.With().Str("component", "session_manager").Logger(),
		subscribers: make(map[chan struct{}]struct{}),
	}

	onTick := opts.OnTick
	opts.OnTick = func(s *Session) {
		if onTick != nil {
			onTick(s)
		}
		m.notify()
	}
	m.opts = opts
	return m
}

// Activate starts a fresh session and cancels the one it replaces. The new
// session keeps ctx's values but not its cancellation; it ends on its own,
// on supersession or on Shutdown.
func (m *Manager) Activate(ctx context.Context) (*Session, error) {
	s, err := New(m.opts)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	prev := m.current
	m.current = s
	m.mu.Unlock()

	if prev != nil {
		m.logger.Info().
			Str("previous_run_id", prev.ID()).
			Str("run_id", s.ID()).
			Msg("Superseding active session")
		prev.Cancel()
	}

	if err := s.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}
	m.notify()
	return s, nil
}

// Current returns the active session, nil before the first Activate.
func (m *Manager) Current() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Cancel aborts the active session, if any.
func (m *Manager) Cancel() {
	if s := m.Current(); s != nil {
		s.Cancel()
		m.notify()
	}
}

// Shutdown cancels the active session and waits for it to stop or for ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	s := m.Current()
	if s == nil {
		return nil
	}
	s.Cancel()

	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a channel signalled after every cadence tick and every
// activation. Signals coalesce; readers fetch the state themselves.
func (m *Manager) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		delete(m.subscribers, ch)
		m.mu.Unlock()
	}
}

func (m *Manager) notify() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for ch := range m.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
