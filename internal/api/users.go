package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gestionsostenible/console-core/internal/audit"
	"github.com/gestionsostenible/console-core/internal/identity"
	"github.com/gestionsostenible/console-core/internal/session"
)

// createUserRequest is the body for POST /users.
type createUserRequest struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	DisplayName      string `json:"displayName,omitempty"`
	Role             string `json:"role,omitempty"`
	OrganizationID   string `json:"organizationId,omitempty"`
	OrganizationName string `json:"organizationName,omitempty"`
}

// handleCreateUser provisions a user through the privileged admin API.
// Input is validated locally before anything goes on the wire.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if s.admin == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "admin API not configured")
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

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	email, err := identity.SanitizeEmail(req.Email)
	if err != nil {
		writeBadRequest(w, "invalid email address")
		return
	}
	if err := identity.ValidatePassword(req.Password, s.secCfg.Password, email, req.DisplayName); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	created, err := s.admin.CreateUser(r.Context(), identity.CreateUserRequest{
		Email:            email,
		Password:         req.Password,
		DisplayName:      req.DisplayName,
		Role:             req.Role,
		OrganizationID:   req.OrganizationID,
		OrganizationName: req.OrganizationName,
	})
	if err != nil {
		s.writeAdminError(w, err)
		return
	}

	s.auditAdminAction(r, audit.EventUserCreate, created.UID, created.Email)
	writeJSON(w, http.StatusCreated, created)
}

// handleDeleteUser removes a user through the admin API. The email travels
// as a query parameter so the backend can cross-check uid and address.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if s.admin == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "admin API not configured")
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

	uid := chi.URLParam(r, "uid")
	if uid == "" {
		writeBadRequest(w, "missing user id")
		return
	}
	email := r.URL.Query().Get("email")

	if err := s.admin.DeleteUser(r.Context(), uid, email); err != nil {
		s.writeAdminError(w, err)
		return
	}

	s.auditAdminAction(r, audit.EventUserDelete, uid, email)
	writeJSON(w, http.StatusNoContent, nil)
}

// recoveryRequest is the body for POST /users/recovery.
type recoveryRequest struct {
	Email string `json:"email"`
}

// handleRecoveryEmail asks the admin API to dispatch a password recovery
// mail.
func (s *Server) handleRecoveryEmail(w http.ResponseWriter, r *http.Request) {
	if s.admin == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "admin API not configured")
		return
	}

	var req recoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	email, err := identity.SanitizeEmail(req.Email)
	if err != nil {
		writeBadRequest(w, "invalid email address")
		return
	}

	if err := s.admin.SendRecoveryEmail(r.Context(), email); err != nil {
		s.writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"email": email})
}

// writeAdminError maps admin client failures onto HTTP statuses: a missing
// session is the caller's problem, an open breaker or unreachable backend
// is a gateway condition.
func (s *Server) writeAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrNoActiveSession):
		writeUnauthorized(w, "no active session for privileged call")
	case errors.Is(err, identity.ErrBackendUnavailable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "admin API unavailable")
	default:
		writeError(w, http.StatusBadGateway, ErrCodeInternal, "admin API request failed")
	}
}

// auditAdminAction records a privileged user-management action against the
// acting session.
func (s *Server) auditAdminAction(r *http.Request, event, uid, email string) {
	if s.recorder == nil {
		return
	}
	var actor *audit.Actor
	if claims := claimsFrom(r.Context()); claims != nil {
		actor = &audit.Actor{UID: claims.Subject}
	}
	st := s.sessions.Current()
	orgID := ""
	if st.Organization != nil {
		orgID = st.Organization.ID
	}
	s.recorder.Log(r.Context(), audit.Event{
		UID:            uid,
		Email:          email,
		Event:          event,
		Actor:          actor,
		ContextRole:    string(st.Role),
		OrganizationID: orgID,
	})
}
