package connect

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"scarlet/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeDeadline = 10 * time.Second
	sendBufSize   = 256
)

// Handlers receive inbound traffic from a Channel. They run on the channel's
// reader goroutine and may still fire once right after Detach returns, so
// receivers must guard their own state.
type Handlers struct {
	OnMessage func(protocol.ServerMessage)
	OnError   func(error)
}

// Channel is one websocket connection to the relay's stream endpoint.
type Channel struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	log  zerolog.Logger

	mu       sync.Mutex
	handlers *Handlers
	open     bool
}

// Dial connects to url and starts the read and write pumps.
func Dial(ctx context.Context, dialer *websocket.Dialer, url string, h Handlers, log zerolog.Logger) (*Channel, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	ch := &Channel{
		conn:     conn,
		send:     make(chan []byte, sendBufSize),
		done:     make(chan struct{}),
		log:      log,
		handlers: &h,
		open:     true,
	}
	go ch.writePump()
	go ch.readPump()
	return ch, nil
}

// Open reports whether commands sent now would be written.
func (ch *Channel) Open() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.open
}

// Send queues cmd for writing. It returns false, without error, when the
// channel is not open or its buffer is full.
func (ch *Channel) Send(cmd protocol.Command) bool {
	data, err := json.Marshal(cmd)
	if err != nil {
		ch.log.Warn().Err(err).Str("type", cmd.CommandType()).Msg("encode command")
		return false
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.open {
		return false
	}
	select {
	case ch.send <- data:
		return true
	default:
		ch.log.Warn().Str("type", cmd.CommandType()).Msg("send buffer full, dropping command")
		return false
	}
}

// Detach unbinds the handlers so no further callbacks are started.
func (ch *Channel) Detach() {
	ch.mu.Lock()
	ch.handlers = nil
	ch.mu.Unlock()
}

// Close detaches the handlers, then closes the connection. Safe to call more than once.
func (ch *Channel) Close() {
	ch.Detach()
	if ch.markClosed() {
		ch.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeDeadline))
		ch.conn.Close()
	}
}

func (ch *Channel) markClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.open {
		return false
	}
	ch.open = false
	close(ch.done)
	return true
}

func (ch *Channel) current() *Handlers {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.handlers
}

// readPump reads relay messages until the connection ends.
func (ch *Channel) readPump() {
	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			ch.fail(err)
			return
		}

		msg, err := protocol.ParseServerMessage(data)
		if err != nil {
			ch.log.Debug().Err(err).Msg("dropping malformed message")
			continue
		}
		if h := ch.current(); h != nil && h.OnMessage != nil {
			h.OnMessage(msg)
		}
	}
}

// fail handles the end of the read loop. A normal close from the relay is not
// an error; anything else is reported to a still-attached handler.
func (ch *Channel) fail(err error) {
	h := ch.current()
	if ch.markClosed() {
		ch.conn.Close()
	}
	if h == nil || h.OnError == nil {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		ch.log.Debug().Msg("relay closed stream")
		return
	}
	ch.log.Warn().Err(err).Msg("stream read error")
	h.OnError(err)
}

// writePump writes queued commands in order.
func (ch *Channel) writePump() {
	for {
		select {
		case data := <-ch.send:
			ch.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := ch.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				ch.log.Debug().Err(err).Msg("stream write error")
				return
			}
		case <-ch.done:
			return
		}
	}
}

// slot owns the client's single channel.
type slot struct {
	mu sync.Mutex
	ch *Channel
}

// replace detaches and closes the held channel, then stores next (which may be
// nil), all under one lock.
func (s *slot) replace(next *Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		s.ch.Close()
	}
	s.ch = next
}

func (s *slot) send(cmd protocol.Command) bool {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return false
	}
	return ch.Send(cmd)
}

func (s *slot) get() *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}
