package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scarlet/internal/driver"
	"scarlet/internal/protocol"

	"github.com/rs/zerolog"
)

// Status messages shown to the user.
const (
	MsgNotStarted     = "Not started"
	MsgAwaitingAuth   = "Waiting for you to log in..."
	MsgAuthenticated  = "Logged in! Starting extraction..."
	MsgExtracting     = "Reading your schedule..."
	MsgUnknownError   = "Unknown error"
	msgCompleteFormat = "Done! Found %d courses."
)

// Event records one status transition.
type Event struct {
	SessionID string          `json:"sessionId"`
	Status    protocol.Status `json:"status"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
}

// State is a point-in-time view of a session.
type State struct {
	ID       string             `json:"id,omitempty"`
	Status   protocol.Status    `json:"status"`
	Message  string             `json:"message"`
	Schedule *protocol.Schedule `json:"-"`
}

// Describe returns the user-facing message for a status.
func Describe(status protocol.Status, errText string, sched *protocol.Schedule) string {
	switch status {
	case protocol.StatusAwaitingAuth:
		return MsgAwaitingAuth
	case protocol.StatusAuthenticated:
		return MsgAuthenticated
	case protocol.StatusExtracting:
		return MsgExtracting
	case protocol.StatusComplete:
		n := 0
		if sched != nil {
			n = len(sched.Courses)
		}
		return fmt.Sprintf(msgCompleteFormat, n)
	case protocol.StatusError:
		if errText == "" {
			return MsgUnknownError
		}
		return errText
	}
	return MsgNotStarted
}

// Session is one remote browser and the login/extraction it is walking through.
// Status only moves forward and stops at complete or error.
type Session struct {
	ID        string
	CreatedAt time.Time

	drv     driver.Driver
	history *RingBuffer
	log     zerolog.Logger
	// onTerminal runs once, before complete or error becomes visible.
	onTerminal func(*Session, State)

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	status     protocol.Status
	errText    string
	schedule   *protocol.Schedule
	extracting bool
	closed     bool
}

func newSession(id string, drv driver.Driver, history *RingBuffer, log zerolog.Logger, onTerminal func(*Session, State)) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:         id,
		CreatedAt:  time.Now().UTC(),
		drv:        drv,
		history:    history,
		log:        log.With().Str("session", id).Logger(),
		onTerminal: onTerminal,
		ctx:        ctx,
		cancel:     cancel,
		status:     protocol.StatusIdle,
	}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	return State{
		ID:       s.ID,
		Status:   s.status,
		Message:  Describe(s.status, s.errText, s.schedule),
		Schedule: s.schedule,
	}
}

// History returns the recorded transitions, oldest first.
func (s *Session) History() []Event {
	return s.history.ReadAll()
}

// transition moves the session to status. It does nothing once the session is
// closed or terminal.
func (s *Session) transition(status protocol.Status, errText string, sched *protocol.Schedule) bool {
	s.mu.Lock()
	if s.closed || s.status.Terminal() || s.status == status {
		s.mu.Unlock()
		return false
	}
	s.status = status
	s.errText = errText
	if sched != nil {
		s.schedule = sched
	}
	st := s.stateLocked()
	s.mu.Unlock()

	s.history.Write(Event{SessionID: s.ID, Status: st.Status, Message: st.Message, Timestamp: time.Now().UTC()})
	if status == protocol.StatusError {
		s.log.Warn().Str("status", string(status)).Msg(st.Message)
	} else {
		s.log.Info().Str("status", string(status)).Msg(st.Message)
	}
	return true
}

// Advance checks for a finished login while awaiting auth and launches
// extraction once authenticated. It is called on every frame tick.
func (s *Session) Advance(ctx context.Context) {
	s.mu.RLock()
	status, closed := s.status, s.closed
	s.mu.RUnlock()
	if closed {
		return
	}

	if status == protocol.StatusAwaitingAuth {
		ok, err := s.drv.Authenticated(ctx)
		if err != nil {
			s.log.Debug().Err(err).Msg("auth check failed")
			return
		}
		if !ok {
			return
		}
		s.transition(protocol.StatusAuthenticated, "", nil)
	}

	s.mu.Lock()
	launch := s.status == protocol.StatusAuthenticated && !s.extracting && !s.closed
	if launch {
		s.extracting = true
	}
	s.mu.Unlock()
	if launch {
		go s.extract()
	}
}

func (s *Session) extract() {
	s.transition(protocol.StatusExtracting, "", nil)
	sched, err := s.drv.Extract(s.ctx)
	if s.ctx.Err() != nil {
		return
	}
	if err != nil {
		s.finish(protocol.StatusError, err.Error(), nil)
		return
	}
	if sched == nil {
		sched = &protocol.Schedule{}
	}
	s.finish(protocol.StatusComplete, "", sched)
}

func (s *Session) finish(status protocol.Status, errText string, sched *protocol.Schedule) {
	if s.onTerminal != nil {
		s.onTerminal(s, State{
			ID:       s.ID,
			Status:   status,
			Message:  Describe(status, errText, sched),
			Schedule: sched,
		})
	}
	s.transition(status, errText, sched)
}

// Screenshot captures the current browser viewport.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	return s.drv.Screenshot(ctx)
}

// Input forwards one validated command to the browser.
func (s *Session) Input(ctx context.Context, cmd protocol.Command) error {
	switch c := cmd.(type) {
	case protocol.Click:
		return s.drv.Click(ctx, c.X, c.Y)
	case protocol.Keypress:
		return s.drv.Key(ctx, c.Key)
	case protocol.TypeText:
		return s.drv.Type(ctx, c.Text)
	}
	return fmt.Errorf("unsupported command %q", cmd.CommandType())
}

// Close stops any extraction and closes the browser. It reports whether this
// call did the closing.
func (s *Session) Close() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	if err := s.drv.Close(); err != nil {
		s.log.Warn().Err(err).Msg("close browser")
	}
	return true
}
