// Package connect is the client side of the connect relay: it starts a remote
// login session, mirrors the relay's status and frames, forwards user input and
// holds the extracted schedule.
package connect

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"scarlet/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultRevealDelay = 2 * time.Second
	closeTimeout       = 5 * time.Second
)

// Messages shown for locally driven status changes.
const (
	MsgConnecting     = "connecting..."
	MsgAwaitingLogin  = "waiting for you to log in..."
	MsgStartFailed    = "failed to start session"
	MsgConnectionLost = "Connection lost"
)

// ErrDisposed is returned by lifecycle calls made after Dispose.
var ErrDisposed = errors.New("connect: client disposed")

// Options configures a Client.
type Options struct {
	// RelayURL is the relay's HTTP base address, e.g. http://localhost:8000.
	RelayURL string
	// RevealDelay is how long the schedule stays hidden after completion.
	// Zero means the default of two seconds.
	RevealDelay time.Duration
	HTTPClient  *http.Client
	Dialer      *websocket.Dialer
	// Validator, when set, rejects server-asserted status changes it does not accept.
	Validator protocol.TransitionValidator
	// OnChange receives a snapshot after every state change. Calls are
	// serialised. It must not call Start, Retry or Dispose.
	OnChange func(Snapshot)
	Logger   *zerolog.Logger
}

// Snapshot is the presentation state at one point in time.
type Snapshot struct {
	Status  protocol.Status
	Message string
	Error   string
	// Image is the most recent non-empty frame, nil before the first one.
	Image []byte
	// Schedule is set only once the reveal delay after completion has passed.
	Schedule *protocol.Schedule
}

// Rows renders the revealed schedule, one line per course.
func (s Snapshot) Rows() []string {
	return s.Schedule.Rows()
}

// Client runs one connect session at a time.
type Client struct {
	opts    Options
	control *ControlClient
	log     zerolog.Logger
	slot    slot

	// lifecycleMu keeps at most one start in flight.
	lifecycleMu sync.Mutex
	// eventMu serialises every state change and its OnChange call.
	eventMu sync.Mutex

	mu       sync.Mutex
	disposed bool
	gen      uint64
	status   protocol.Status
	message  string
	errText  string
	image    []byte
	result   result

	disposeOnce sync.Once
}

// New creates an idle client. Nothing is sent until Start.
func New(opts Options) *Client {
	if opts.RevealDelay <= 0 {
		opts.RevealDelay = defaultRevealDelay
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "connect").Logger()
	}
	return &Client{
		opts:    opts,
		control: NewControlClient(opts.RelayURL, opts.HTTPClient),
		log:     log,
		status:  protocol.StatusIdle,
		message: MsgConnecting,
	}
}

// Snapshot returns the current presentation state.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Client) snapshotLocked() Snapshot {
	return Snapshot{
		Status:   c.status,
		Message:  c.message,
		Error:    c.errText,
		Image:    c.image,
		Schedule: c.result.visible(),
	}
}

// Status returns the current session status.
func (c *Client) Status() protocol.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Start opens a remote session and then its stream. A failed start leaves the
// client in the error status with no stream open.
func (c *Client) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	disposed, gen := c.disposed, c.gen
	c.mu.Unlock()
	if disposed {
		return ErrDisposed
	}
	return c.start(ctx, gen)
}

func (c *Client) start(ctx context.Context, gen uint64) error {
	if err := c.control.Start(ctx); err != nil {
		c.log.Warn().Err(err).Msg("session start failed")
		c.update(gen, func() bool {
			c.status = protocol.StatusError
			c.errText = err.Error()
			c.message = MsgStartFailed
			return true
		})
		return err
	}

	applied := c.update(gen, func() bool {
		c.status = protocol.StatusAwaitingAuth
		c.message = MsgAwaitingLogin
		return true
	})
	if !applied {
		// Dispose already sent its close, so the session created here
		// would otherwise stay open on the relay.
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		c.Close(closeCtx)
		return ErrDisposed
	}
	return c.connect(ctx)
}

// connect replaces the current stream with a fresh one.
func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.slot.replace(nil)

	ch, err := Dial(ctx, c.opts.Dialer, c.control.StreamURL(), Handlers{
		OnMessage: func(msg protocol.ServerMessage) { c.handleMessage(gen, msg) },
		OnError:   func(err error) { c.transportFailed(gen, err) },
	}, c.log)
	if err != nil {
		c.transportFailed(gen, err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || c.gen != gen {
		ch.Close()
		return ErrDisposed
	}
	c.slot.replace(ch)
	c.log.Debug().Msg("stream connected")
	return nil
}

// Close asks the relay to end the remote session. Failures are logged and dropped.
func (c *Client) Close(ctx context.Context) {
	if err := c.control.Close(ctx); err != nil {
		c.log.Debug().Err(err).Msg("session close failed")
	}
}

// Retry clears the display state, tears down the current session and starts a new one.
func (c *Client) Retry(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	var gen uint64
	applied := c.update(anyGen, func() bool {
		c.gen++
		gen = c.gen
		c.status = protocol.StatusIdle
		c.message = MsgConnecting
		c.errText = ""
		c.image = nil
		c.result.clear()
		return true
	})
	if !applied {
		return ErrDisposed
	}

	c.slot.replace(nil)
	c.Close(ctx)
	return c.start(ctx, gen)
}

// Dispose ends the client. It closes the stream and the remote session exactly
// once, even if no session was ever started, and no state changes afterwards.
func (c *Client) Dispose() {
	c.disposeOnce.Do(func() {
		c.eventMu.Lock()
		c.mu.Lock()
		c.disposed = true
		c.gen++
		c.result.clear()
		c.mu.Unlock()
		c.eventMu.Unlock()

		c.slot.replace(nil)

		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		c.Close(ctx)
		c.log.Debug().Msg("disposed")
	})
}

// anyGen matches every generation in update.
const anyGen = ^uint64(0)

// update applies fn as one event if the client is live and gen is current.
// It reports whether fn ran.
func (c *Client) update(gen uint64, fn func() bool) bool {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()

	c.mu.Lock()
	if c.disposed || (gen != anyGen && gen != c.gen) {
		c.mu.Unlock()
		return false
	}
	changed := fn()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if changed && c.opts.OnChange != nil {
		c.opts.OnChange(snap)
	}
	return true
}

func (c *Client) handleMessage(gen uint64, msg protocol.ServerMessage) {
	c.update(gen, func() bool {
		switch m := msg.(type) {
		case *protocol.Frame:
			if !c.accept(m.Status) {
				return false
			}
			if len(m.Image) > 0 {
				c.image = m.Image
			}
			c.status = m.Status
			c.message = m.Message

		case *protocol.Complete:
			if !c.accept(protocol.StatusComplete) {
				return false
			}
			c.status = protocol.StatusComplete
			c.message = m.Message
			c.result.set(m.Schedule, c.opts.RevealDelay, func() { c.reveal(gen) })

		case *protocol.Error:
			c.status = protocol.StatusError
			c.errText = m.Message
			c.message = m.Message

		default:
			return false
		}
		return true
	})
}

// accept runs the optional transition validator. Called with c.mu held.
func (c *Client) accept(to protocol.Status) bool {
	if c.opts.Validator == nil {
		return true
	}
	if err := c.opts.Validator(c.status, to); err != nil {
		c.log.Warn().Err(err).Msg("rejected status change")
		return false
	}
	return true
}

func (c *Client) reveal(gen uint64) {
	c.update(gen, func() bool {
		return c.result.reveal()
	})
}

func (c *Client) transportFailed(gen uint64, err error) {
	c.update(gen, func() bool {
		c.log.Warn().Err(err).Msg("transport failure")
		c.status = protocol.StatusError
		c.errText = MsgConnectionLost
		c.message = MsgConnectionLost
		return true
	})
}
