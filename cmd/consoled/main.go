// Console Core - Session and Theme Engine
//
// This is the main entry point for the console core daemon. It assembles
// the session engine, the theme engine and the cross-context broadcast
// protocol behind a single HTTP surface:
//   - Offline-first operation (cached identity survives restarts)
//   - Demo mode with read-only semantics
//   - Theme synchronization across browser contexts and peer instances
//
// For configuration, see: configs/config.yaml
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/gestionsostenible/console-core/migrations"

	"github.com/gestionsostenible/console-core/internal/analytics"
	"github.com/gestionsostenible/console-core/internal/api"
	"github.com/gestionsostenible/console-core/internal/audit"
	"github.com/gestionsostenible/console-core/internal/broadcast"
	"github.com/gestionsostenible/console-core/internal/guard"
	"github.com/gestionsostenible/console-core/internal/identity"
	"github.com/gestionsostenible/console-core/internal/identity/local"
	"github.com/gestionsostenible/console-core/internal/infrastructure/config"
	"github.com/gestionsostenible/console-core/internal/infrastructure/database"
	"github.com/gestionsostenible/console-core/internal/infrastructure/logging"
	"github.com/gestionsostenible/console-core/internal/infrastructure/mqtt"
	"github.com/gestionsostenible/console-core/internal/organization"
	"github.com/gestionsostenible/console-core/internal/securestore"
	"github.com/gestionsostenible/console-core/internal/session"
	"github.com/gestionsostenible/console-core/internal/theme"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting console core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Local persistence: the obfuscated key/value store backing cached
	// identity, the persisted theme and demo flags.
	store := securestore.New(db.DB, cfg.Security.Store, log)

	// Theme engine
	themes := theme.New(ctx, store, log)
	log.Info("theme engine initialised", "brand", themes.Snapshot().BrandName)

	// Audit trail (local ring cache; no remote writer in this deployment)
	recorder := audit.NewRecorder(nil, audit.NewCache(db.DB, cfg.Session.AuditCacheSize), log)

	// Identity: local credential store behind the provider interface,
	// shared rate limiter for sign-in attempts and API mutations.
	limiter := identity.NewLimiter(cfg.Security.RateLimit)
	users := local.NewUserStore(db.DB)
	profiles := local.NewProfileStore(db.DB)
	provider := local.NewProvider(users, limiter, store, cfg.Security, log)
	// Replay the previous run's sign-in before the session engine
	// subscribes, so a cached session is confirmed instead of revoked.
	provider.Restore(ctx)

	// Privileged admin API client for user management. Optional: without a
	// configured backend the user endpoints answer 503.
	var admin *identity.AdminClient
	if cfg.Backend.AdminAPIURL != "" {
		admin, err = identity.NewAdminClient(cfg.Backend, provider.IDToken, store.CSRFToken)
		if err != nil {
			return fmt.Errorf("building admin client: %w", err)
		}
		log.Info("admin API client configured", "url", cfg.Backend.AdminAPIURL)
	} else {
		log.Info("admin API not configured, user management disabled")
	}

	// Session engine
	engine := session.New(session.Deps{
		Provider:      provider,
		Profiles:      profiles,
		Organizations: organization.NewCache(nil, cfg.Session.OrganizationCacheSize, log),
		Themes:        themes,
		Store:         store,
		Audit:         recorder,
		Logger:        log,
	}, session.Config{
		IdleTimeout: cfg.IdleTimeout(),
		PersistDemo: cfg.Session.PersistDemo,
	})
	engine.Start(ctx)
	log.Info("session engine started",
		"idle_timeout", cfg.IdleTimeout(),
		"persist_demo", cfg.Session.PersistDemo,
	)

	// WebSocket peer hub (shared by the API server and the synchronizer)
	hub := broadcast.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	// Connect to MQTT broker (optional: without it the console still runs,
	// themes just stop syncing across peer instances)
	var broker *mqtt.Client
	if cfg.MQTT.Enabled {
		broker, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := broker.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		broker.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		broker.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled, theme sync limited to local contexts")
	}

	// Connect to analytics (optional)
	var telemetry *analytics.Client
	if cfg.Analytics.Enabled {
		telemetry, err = analytics.Connect(cfg.Analytics)
		if err != nil {
			return fmt.Errorf("connecting to analytics: %w", err)
		}
		defer func() {
			log.Info("closing analytics connection")
			if closeErr := telemetry.Close(); closeErr != nil {
				log.Error("error closing analytics", "error", closeErr)
			}
		}()
		log.Info("analytics connected",
			"url", cfg.Analytics.URL,
			"org", cfg.Analytics.Org,
			"bucket", cfg.Analytics.Bucket,
		)

		telemetry.SetOnError(func(err error) {
			log.Error("analytics write error", "error", err)
		})
	} else {
		log.Info("analytics disabled")
	}

	// Record session transitions as telemetry. The telemetry client drops
	// points when disconnected, so the subscription is always safe to wire.
	// Subscriber callbacks can arrive from several goroutines, hence the
	// tracker rather than a captured local.
	transitions := newStatusTracker(engine.Current().Status)
	engine.Subscribe(func(st session.State) {
		prevStatus, changed := transitions.swap(st.Status)
		if !changed {
			return
		}
		uid := ""
		if st.User != nil {
			uid = st.User.UID
		}
		telemetry.SessionTransition(uid, string(prevStatus), string(st.Status), st.Role)
	})

	// Broadcast synchronizer: fans theme changes out across the store
	// watcher, the peer hub and the broker.
	synchronizer := broadcast.New(broadcast.Deps{
		Themes: themes,
		Store:  store,
		Broker: broker,
		Hub:    hub,
		Logger: log,
		Organization: func() string {
			if st := engine.Current(); st.Organization != nil && st.Organization.ID != "" {
				return st.Organization.ID
			}
			return organization.DefaultID
		},
		Tracker: telemetry,
	})
	if err := synchronizer.Start(ctx); err != nil {
		return fmt.Errorf("starting broadcast synchronizer: %w", err)
	}
	log.Info("broadcast synchronizer started", "runtime_id", synchronizer.RuntimeID())

	// Surface guard
	access := guard.New(engine, recorder, telemetry, log)

	// HTTP API
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Sessions: engine,
		Themes:   themes,
		Provider: provider,
		Recorder: recorder,
		Guard:    access,
		Admin:    admin,
		Hub:      hub,
		Limiter:  limiter,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, broker, telemetry, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server
	// 2. Analytics (if enabled)
	// 3. MQTT (if enabled)
	// 4. Database

	log.Info("console core stopped")
	return nil
}

// statusTracker remembers the last session status seen by the telemetry
// subscriber. Engine subscribers run on whichever goroutine triggered the
// transition, so the tracker serialises access.
type statusTracker struct {
	mu   sync.Mutex
	last session.Status
}

func newStatusTracker(initial session.Status) *statusTracker {
	return &statusTracker{last: initial}
}

// swap records next and returns the status it replaced, plus whether the
// status actually changed.
func (t *statusTracker) swap(next session.Status) (session.Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.last
	if next == prev {
		return prev, false
	}
	t.last = next
	return prev, true
}

// getConfigPath returns the configuration file path.
// Uses CONSOLE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CONSOLE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - broker: MQTT client to check (may be nil if disabled)
//   - telemetry: Analytics client to check (may be nil if disabled)
//   - server: API server to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, broker *mqtt.Client, telemetry *analytics.Client, server *api.Server) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check MQTT (if enabled)
	if broker != nil {
		if err := broker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	// Check analytics (if enabled)
	if telemetry != nil {
		if err := telemetry.HealthCheck(ctx); err != nil {
			return fmt.Errorf("analytics: %w", err)
		}
	}

	// Check API server
	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}
