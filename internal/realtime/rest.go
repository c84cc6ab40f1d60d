package realtime

import (
	"encoding/json"
	"errors"
	"net/http"

	"scarlet/internal/store"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Start(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Status())
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Current()
	if err != nil {
		writeError(w, http.StatusNotFound, MsgNoSession)
		return
	}
	img, err := sess.Screenshot(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(img)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.sessions.Events()
	if isNoSession(err) {
		writeError(w, http.StatusNotFound, MsgNoSession)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	rec, err := s.sessions.LatestSchedule(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no schedule extracted yet")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("load schedule")
		writeError(w, http.StatusInternalServerError, "could not load schedule")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	s.sessions.Close()
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}
