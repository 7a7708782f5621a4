package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gestionsostenible/console-core/internal/session"
)

// handleSession returns the current session state snapshot.
func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Current())
}

// startDemoRequest is the request body for POST /session/demo.
// The dataset is optional; the engine falls back to its default.
type startDemoRequest struct {
	Dataset string `json:"dataset"`
}

// handleStartDemo enters demo mode. Rejected while a real user is signed
// in; entering demo again is idempotent.
func (s *Server) handleStartDemo(w http.ResponseWriter, r *http.Request) {
	var req startDemoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	state, err := s.sessions.StartDemo(r.Context(), req.Dataset)
	if err != nil {
		if errors.Is(err, session.ErrSessionActive) {
			writeConflict(w, "a session is already active; sign out first")
			return
		}
		writeInternalError(w, "failed to start demo")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleEndDemo leaves demo mode.
func (s *Server) handleEndDemo(w http.ResponseWriter, r *http.Request) {
	state, err := s.sessions.EndDemo(r.Context())
	if err != nil {
		if errors.Is(err, session.ErrNotDemo) {
			writeConflict(w, "no demo session is active")
			return
		}
		writeInternalError(w, "failed to end demo")
		return
	}
	writeJSON(w, http.StatusOK, state)
}
