package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gestionsostenible/console-core/internal/session"
	"github.com/gestionsostenible/console-core/internal/theme"
)

// handleGetTheme returns the active theme snapshot.
func (s *Server) handleGetTheme(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.themes.Snapshot())
}

// handlePutTheme applies a theme update: merged over the defaults,
// persisted, and broadcast to every other context.
func (s *Server) handlePutTheme(w http.ResponseWriter, r *http.Request) {
	var input theme.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.sessions.EnsureMutable(); err != nil {
		if errors.Is(err, session.ErrDemoReadOnly) {
			writeForbidden(w, "demo session is read-only")
			return
		}
		writeInternalError(w, "session check failed")
		return
	}

	applied := s.themes.Update(r.Context(), &input, theme.ApplyOptions())
	writeJSON(w, http.StatusOK, applied)
}

// handleResetTheme restores the default theme.
func (s *Server) handleResetTheme(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.EnsureMutable(); err != nil {
		if errors.Is(err, session.ErrDemoReadOnly) {
			writeForbidden(w, "demo session is read-only")
			return
		}
		writeInternalError(w, "session check failed")
		return
	}

	writeJSON(w, http.StatusOK, s.themes.Reset(r.Context()))
}

// handlePreviewTheme applies a theme without persisting it: the change is
// broadcast to live contexts but a restart, sign-out or reset discards it.
// Allowed even during demo since nothing durable changes.
func (s *Server) handlePreviewTheme(w http.ResponseWriter, r *http.Request) {
	var input theme.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	writeJSON(w, http.StatusOK, s.themes.Preview(r.Context(), &input))
}
