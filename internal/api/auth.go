package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gestionsostenible/console-core/internal/identity"
	"github.com/gestionsostenible/console-core/internal/session"
)

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response body for POST /auth/login.
type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleLogin authenticates a user through the session engine and returns
// a short-lived bearer token. The session state transition itself arrives
// through the provider event stream and GET /session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if s.provider == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "no identity provider configured")
		return
	}

	_, err := s.sessions.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrDemoReadOnly):
			writeForbidden(w, "demo session is read-only; end the demo first")
		case errors.Is(err, identity.ErrRateLimited):
			writeRateLimited(w, identity.DescribeAuthError(err, r.Host))
		default:
			// The description is deliberately generic: backend detail
			// never leaks through the sign-in response.
			writeUnauthorized(w, identity.DescribeAuthError(err, r.Host))
		}
		return
	}

	token, err := s.provider.IDToken(r.Context())
	if err != nil {
		writeInternalError(w, "failed to issue token")
		return
	}

	ttl := s.secCfg.JWT.AccessTokenTTL
	if ttl == 0 {
		ttl = 15 // default 15 minutes
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   ttl * 60, // seconds
	})
}

// handleLogout terminates the current session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.SignOut(r.Context()); err != nil {
		writeInternalError(w, "sign-out failed")
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
