package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"scarlet/internal/driver"
	"scarlet/internal/observability"
	"scarlet/internal/protocol"
	"scarlet/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultHistorySize = 256
	saveTimeout        = 5 * time.Second
)

// ErrNoSession is returned when an operation needs a session and none is open.
var ErrNoSession = errors.New("session: no session started")

type Options struct {
	Factory     driver.Factory
	Store       store.Store
	Metrics     *observability.Metrics
	Logger      *zerolog.Logger
	HistorySize int
}

// Manager owns the single active remote session.
type Manager struct {
	factory     driver.Factory
	store       store.Store
	metrics     *observability.Metrics
	log         zerolog.Logger
	historySize int

	// startMu keeps browser launches from overlapping.
	startMu sync.Mutex

	mu      sync.RWMutex
	current *Session
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		factory:     opts.Factory,
		store:       opts.Store,
		metrics:     opts.Metrics,
		historySize: opts.HistorySize,
		log:         zerolog.Nop(),
	}
	if opts.Logger != nil {
		m.log = *opts.Logger
	}
	if m.store == nil {
		m.store = store.NewMemory()
	}
	if m.metrics == nil {
		m.metrics = observability.NewMetrics()
	}
	if m.historySize <= 0 {
		m.historySize = defaultHistorySize
	}
	return m
}

// Start closes any open session and launches a new browser. The new session
// begins awaiting auth.
func (m *Manager) Start(ctx context.Context) (*Session, error) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.Close()

	id := uuid.New().String()
	drv := m.factory()
	if err := drv.Start(ctx); err != nil {
		drv.Close()
		m.metrics.SessionsTotal.WithLabelValues("start_failed").Inc()
		m.log.Error().Err(err).Str("session", id).Msg("browser start failed")
		return nil, fmt.Errorf("start browser: %w", err)
	}

	sess := newSession(id, drv, NewRingBuffer(m.historySize), m.log, m.finished)
	sess.transition(protocol.StatusAwaitingAuth, "", nil)

	m.mu.Lock()
	m.current = sess
	m.mu.Unlock()
	m.metrics.ActiveSessions.Inc()
	return sess, nil
}

// finished records the outcome of a session about to reach complete or error.
func (m *Manager) finished(sess *Session, st State) {
	m.metrics.SessionsTotal.WithLabelValues(string(st.Status)).Inc()
	if st.Status != protocol.StatusComplete {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	rec := store.Record{SessionID: sess.ID, Schedule: st.Schedule, SavedAt: time.Now().UTC()}
	if err := m.store.Save(ctx, rec); err != nil {
		m.log.Error().Err(err).Str("session", sess.ID).Msg("save schedule")
	}
}

// Current returns the open session.
func (m *Manager) Current() (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, ErrNoSession
	}
	return m.current, nil
}

// Status reports the open session's state, or idle when there is none.
func (m *Manager) Status() State {
	sess, err := m.Current()
	if err != nil {
		return State{Status: protocol.StatusIdle, Message: MsgNotStarted}
	}
	return sess.State()
}

// Events returns the open session's transition history.
func (m *Manager) Events() ([]Event, error) {
	sess, err := m.Current()
	if err != nil {
		return nil, err
	}
	return sess.History(), nil
}

// LatestSchedule returns the most recently saved schedule, which may belong to
// a session that has since been closed.
func (m *Manager) LatestSchedule(ctx context.Context) (store.Record, error) {
	return m.store.Latest(ctx)
}

// Close closes the open session, if any.
func (m *Manager) Close() {
	m.mu.Lock()
	sess := m.current
	m.current = nil
	m.mu.Unlock()

	if sess == nil {
		return
	}
	st := sess.State()
	if sess.Close() {
		m.metrics.ActiveSessions.Dec()
		if !st.Status.Terminal() {
			m.metrics.SessionsTotal.WithLabelValues("abandoned").Inc()
		}
		m.log.Info().Str("session", sess.ID).Str("status", string(st.Status)).Msg("session closed")
	}
}

// Shutdown closes the open session. The manager stays usable.
func (m *Manager) Shutdown() {
	m.Close()
}
