package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gestionsostenible/console-core/internal/role"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Liveness probe (no auth required)
	r.Get("/healthz", s.handleHealth)

	// WebSocket peer link. Origin trust is enforced inside the hub at the
	// upgrade handshake.
	r.Get(s.wsPath(), s.hub.HandlePeer)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Auth endpoints (no bearer required; the provider rate-limits
		// sign-in attempts itself)
		r.Post("/auth/login", s.handleLogin)

		// Session state is readable before sign-in: the shell renders
		// the restoring/signed-out screens from it.
		r.Get("/session", s.handleSession)

		// Demo mode is entered from the login screen, so no bearer.
		r.Route("/session/demo", func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)
			r.Post("/", s.handleStartDemo)
			r.Delete("/", s.handleEndDemo)
		})

		// The active theme is public: signed-out screens are branded too.
		r.Get("/theme", s.handleGetTheme)

		// Surface access decisions, evaluated against the live session.
		r.Get("/guard", s.handleGuard)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/audit", s.handleAudit)

			r.Group(func(r chi.Router) {
				r.Use(s.rateLimitMiddleware)

				manageTheme := func(m role.AbilityMatrix) bool { return m.ManageTheme }
				r.Put("/theme", s.requireAbility(manageTheme, s.handlePutTheme))
				r.Delete("/theme", s.requireAbility(manageTheme, s.handleResetTheme))
				r.Post("/theme/preview", s.requireAbility(manageTheme, s.handlePreviewTheme))

				// User management proxies to the privileged admin API.
				manageUsers := func(m role.AbilityMatrix) bool { return m.ManageUsers }
				r.Post("/users", s.requireAbility(manageUsers, s.handleCreateUser))
				r.Delete("/users/{uid}", s.requireAbility(manageUsers, s.handleDeleteUser))
				r.Post("/users/recovery", s.requireAbility(manageUsers, s.handleRecoveryEmail))
			})
		})
	})

	return r
}

// wsPath returns the configured peer-link path, defaulting to /ws.
func (s *Server) wsPath() string {
	if s.wsCfg.Path != "" {
		return s.wsCfg.Path
	}
	return "/ws"
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
