package api

import (
	"net/http"
	"strconv"

	"github.com/gestionsostenible/console-core/internal/audit"
)

// Audit listing bounds.
const (
	defaultAuditLimit = 20
	maxAuditLimit     = 100
)

// handleAudit returns the caller's recent audit trail, newest first. Each
// user only ever sees their own entries; the uid comes from the validated
// bearer claims, never from a query parameter.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if claims == nil {
		writeUnauthorized(w, "missing bearer token")
		return
	}

	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	events := []audit.Event{}
	if s.recorder != nil {
		recent, err := s.recorder.Recent(r.Context(), claims.Subject, limit)
		if err != nil {
			writeInternalError(w, "failed to read audit trail")
			return
		}
		events = recent
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}
