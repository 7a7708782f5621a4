package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gestionsostenible/console-core/internal/audit"
	"github.com/gestionsostenible/console-core/internal/broadcast"
	"github.com/gestionsostenible/console-core/internal/guard"
	"github.com/gestionsostenible/console-core/internal/identity"
	"github.com/gestionsostenible/console-core/internal/infrastructure/config"
	"github.com/gestionsostenible/console-core/internal/infrastructure/logging"
	"github.com/gestionsostenible/console-core/internal/session"
	"github.com/gestionsostenible/console-core/internal/theme"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Sessions *session.Engine
	Themes   *theme.Engine
	Provider identity.Provider
	Recorder *audit.Recorder
	Guard    *guard.Guard
	// Admin is optional; without it user management answers 503.
	Admin *identity.AdminClient
	// Hub, if set, is used instead of creating an internal one.
	Hub     *broadcast.Hub
	Limiter *identity.Limiter
	Version  string
}

// Server is the HTTP API server for the console core.
//
// It manages the HTTP listener, routes, middleware, and the WebSocket peer
// hub. The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	sessions *session.Engine
	themes   *theme.Engine
	provider identity.Provider
	recorder *audit.Recorder
	guard    *guard.Guard
	admin    *identity.AdminClient
	limiter  *identity.Limiter
	version  string

	server      *http.Server
	hub         *broadcast.Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session engine is required")
	}
	if deps.Themes == nil {
		return nil, fmt.Errorf("theme engine is required")
	}
	// Provider is optional — without it sign-in fails cleanly but the
	// read surface and demo mode still function.

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		secCfg:   deps.Security,
		logger:   deps.Logger,
		sessions: deps.Sessions,
		themes:   deps.Themes,
		provider: deps.Provider,
		recorder: deps.Recorder,
		guard:    deps.Guard,
		admin:    deps.Admin,
		limiter:  deps.Limiter,
		version:  deps.Version,
	}

	// Use the externally-provided hub if available (needed when the
	// broadcast synchronizer also requires the hub for peer relay).
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket peer hub, and launches the
// HTTP listener in a background goroutine. The server can be stopped with
// Close().
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	// Create the peer hub (unless one was injected externally)
	if s.hub == nil {
		s.hub = broadcast.NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	// Start listening in background
	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (internally-owned hub)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
