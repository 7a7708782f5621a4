package local

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gestionsostenible/console-core/internal/identity"
	"github.com/gestionsostenible/console-core/internal/infrastructure/config"
	"github.com/gestionsostenible/console-core/internal/infrastructure/logging"
)

// testDB creates a temporary SQLite database with the identity schema.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	f, err := os.CreateTemp("", "identity-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	migrationSQL := `
		CREATE TABLE users (
			uid             TEXT PRIMARY KEY,
			email           TEXT NOT NULL UNIQUE,
			display_name    TEXT NOT NULL DEFAULT '',
			password_hash   TEXT NOT NULL,
			role            TEXT NOT NULL DEFAULT 'viewer',
			organization_id TEXT,
			is_active       INTEGER NOT NULL DEFAULT 1,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		) STRICT;

		CREATE TABLE profiles (
			uid        TEXT PRIMARY KEY,
			document   TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;
	`
	if _, err := db.Exec(migrationSQL); err != nil {
		t.Fatalf("applying identity migration: %v", err)
	}
	return db
}

// seedTestUser inserts an active account with the given role and returns it.
func seedTestUser(t *testing.T, users *UserStore, email, password, roleName string) *User {
	t.Helper()

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	user := &User{
		Email:        email,
		DisplayName:  email,
		PasswordHash: hash,
		Role:         roleName,
		IsActive:     true,
	}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("creating test user %s: %v", email, err)
	}
	return user
}

func testProvider(t *testing.T) (*Provider, *UserStore) {
	t.Helper()

	users := NewUserStore(testDB(t))
	limiter := identity.NewLimiter(config.RateLimitConfig{Enabled: true, MaxCalls: 5, WindowSeconds: 60})
	secCfg := config.SecurityConfig{
		JWT: config.JWTConfig{Secret: "test-secret-key-for-jwt-signing-32ch", AccessTokenTTL: 15},
	}
	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
	return NewProvider(users, limiter, nil, secCfg, logger), users
}
