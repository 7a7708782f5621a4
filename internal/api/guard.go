package api

import (
	"net/http"

	"github.com/gestionsostenible/console-core/internal/guard"
	"github.com/gestionsostenible/console-core/internal/role"
)

// handleGuard evaluates whether the current session may enter a surface.
// The shell calls this before rendering a route and acts on the returned
// decision and redirect directives. The endpoint is public because the
// decision is derived from the process-wide session, not the caller.
func (s *Server) handleGuard(w http.ResponseWriter, r *http.Request) {
	if s.guard == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "guard not configured")
		return
	}

	q := r.URL.Query()
	level := role.PermissionLevel(q.Get("level"))
	switch level {
	case "", role.PermissionRead, role.PermissionWrite:
	default:
		writeBadRequest(w, "level must be read or write")
		return
	}

	state := s.guard.Check(r.Context(), guard.Options{
		Module:    q.Get("module"),
		Level:     level,
		AllowDemo: q.Get("allow_demo") == "true",
	})
	writeJSON(w, http.StatusOK, state)
}
