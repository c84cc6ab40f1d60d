package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"scarlet/internal/observability"
	"scarlet/internal/protocol"
	"scarlet/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	pingInterval     = 30 * time.Second
	readDeadline     = 60 * time.Second
	writeDeadline    = 10 * time.Second
	maxCommandSize   = 64 * 1024
	defaultFrameRate = 333 * time.Millisecond
)

// Messages sent on the stream when there is nothing to relay.
const (
	MsgNoSession     = "No session started"
	MsgSessionClosed = "Session closed"
)

type Options struct {
	Sessions      *session.Manager
	Metrics       *observability.Metrics
	Logger        *zerolog.Logger
	FrameInterval time.Duration
	// AllowOrigin is sent as Access-Control-Allow-Origin and is the only
	// browser origin allowed to open the stream. "*" allows any.
	AllowOrigin string
}

// Server exposes the session manager over REST and relays the active
// session to stream clients.
type Server struct {
	sessions      *session.Manager
	metrics       *observability.Metrics
	log           zerolog.Logger
	frameInterval time.Duration
	allowOrigin   string
	upgrader      websocket.Upgrader
}

func New(opts Options) *Server {
	s := &Server{
		sessions:      opts.Sessions,
		metrics:       opts.Metrics,
		frameInterval: opts.FrameInterval,
		allowOrigin:   opts.AllowOrigin,
		log:           zerolog.Nop(),
	}
	if opts.Logger != nil {
		s.log = *opts.Logger
	}
	if s.metrics == nil {
		s.metrics = observability.NewMetrics()
	}
	if s.frameInterval <= 0 {
		s.frameInterval = defaultFrameRate
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/session", func(r chi.Router) {
		r.Post("/start", s.handleStart)
		r.Get("/status", s.handleStatus)
		r.Get("/screenshot", s.handleScreenshot)
		r.Get("/events", s.handleEvents)
		r.Get("/schedule", s.handleSchedule)
		r.Post("/close", s.handleClose)
		r.Get("/stream", s.handleStream)
	})
	return r
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// checkOrigin admits non-browser clients, which send no Origin, and the
// configured origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.allowOrigin == "*" || origin == s.allowOrigin
}

// handleStream relays the current session: a frame every tick until the
// session completes or fails, with input commands read concurrently.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	sess, err := s.sessions.Current()
	if err != nil {
		s.writeMessage(conn, &protocol.Error{Message: MsgNoSession})
		closeNormal(conn)
		return
	}

	s.metrics.StreamClients.Inc()
	defer s.metrics.StreamClients.Dec()
	log := s.log.With().Str("session", sess.ID).Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("stream client connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	readerDone := make(chan struct{})
	go s.readInputs(ctx, conn, sess, log, readerDone)

	if s.relay(ctx, conn, sess, readerDone) {
		closeNormal(conn)
		// Let the client answer the close before the socket goes away.
		select {
		case <-readerDone:
		case <-time.After(time.Second):
		}
	}
	log.Info().Msg("stream client disconnected")
}

// relay pushes frames until the session ends or the client goes away. It
// reports whether the connection is still usable for a close handshake.
func (s *Server) relay(ctx context.Context, conn *websocket.Conn, sess *session.Session, readerDone <-chan struct{}) bool {
	if done, usable := s.push(ctx, conn, sess); done {
		return usable
	}

	frames := time.NewTicker(s.frameInterval)
	defer frames.Stop()
	pings := time.NewTicker(pingInterval)
	defer pings.Stop()

	for {
		select {
		case <-readerDone:
			return false
		case <-pings.C:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return false
			}
			continue
		case <-frames.C:
		}

		if done, usable := s.push(ctx, conn, sess); done {
			return usable
		}
	}
}

// push sends one frame of the session. Once the session has completed or
// failed the frame is followed by the final complete or error message. done
// reports that the stream is over.
func (s *Server) push(ctx context.Context, conn *websocket.Conn, sess *session.Session) (done, usable bool) {
	if cur, err := s.sessions.Current(); err != nil || cur != sess {
		return true, s.writeMessage(conn, &protocol.Error{Message: MsgSessionClosed}) == nil
	}

	sess.Advance(ctx)
	st := sess.State()

	img, err := sess.Screenshot(ctx)
	if err != nil {
		s.log.Debug().Err(err).Str("session", sess.ID).Msg("screenshot failed")
	}
	if err := s.writeMessage(conn, &protocol.Frame{Image: img, Status: st.Status, Message: st.Message}); err != nil {
		return true, false
	}
	s.metrics.FramesTotal.Inc()

	var final protocol.ServerMessage
	switch st.Status {
	case protocol.StatusComplete:
		final = &protocol.Complete{Schedule: st.Schedule, Message: st.Message}
	case protocol.StatusError:
		final = &protocol.Error{Message: st.Message}
	default:
		return false, false
	}
	return true, s.writeMessage(conn, final) == nil
}

// readInputs forwards client commands to the browser. Malformed or unknown
// commands are dropped.
func (s *Server) readInputs(ctx context.Context, conn *websocket.Conn, sess *session.Session, log zerolog.Logger, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxCommandSize)
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("stream read")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))

		cmd, err := protocol.ParseCommand(raw)
		if err != nil {
			s.metrics.InputsTotal.WithLabelValues("unknown", "rejected").Inc()
			log.Debug().Err(err).Msg("dropped command")
			continue
		}
		if err := sess.Input(ctx, cmd); err != nil {
			s.metrics.InputsTotal.WithLabelValues(cmd.CommandType(), "failed").Inc()
			log.Warn().Err(err).Str("type", cmd.CommandType()).Msg("forward command")
			continue
		}
		s.metrics.InputsTotal.WithLabelValues(cmd.CommandType(), "ok").Inc()
	}
}

func (s *Server) writeMessage(conn *websocket.Conn, msg protocol.ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func closeNormal(conn *websocket.Conn) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeDeadline))
}

// isNoSession reports whether err means there is nothing to act on.
func isNoSession(err error) bool {
	return errors.Is(err, session.ErrNoSession)
}
