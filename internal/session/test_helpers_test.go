package session

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gestionsostenible/console-core/internal/audit"
	"github.com/gestionsostenible/console-core/internal/identity"
	"github.com/gestionsostenible/console-core/internal/infrastructure/config"
	"github.com/gestionsostenible/console-core/internal/infrastructure/logging"
	"github.com/gestionsostenible/console-core/internal/organization"
	"github.com/gestionsostenible/console-core/internal/securestore"
	"github.com/gestionsostenible/console-core/internal/theme"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "session_test.db")
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE local_store (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;
		CREATE TABLE audit_cache (
			id              TEXT PRIMARY KEY,
			uid             TEXT NOT NULL,
			email           TEXT,
			event           TEXT NOT NULL,
			meta            TEXT,
			actor           TEXT,
			context_role    TEXT,
			organization_id TEXT,
			occurred_at     TEXT NOT NULL,
			created_at      TEXT NOT NULL
		);
	`)
	if err != nil {
		t.Fatalf("creating test schema: %v", err)
	}
	return db
}

// fakeProvider is a controllable identity.Provider. Tests drive state by
// emitting events directly.
type fakeProvider struct {
	mu          sync.Mutex
	subscribers []chan identity.Event
	current     *identity.UserIdentity
	signOuts    int
	signInErr   error
}

func (f *fakeProvider) SignIn(_ context.Context, email, _ string) (*identity.UserIdentity, error) {
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	user := &identity.UserIdentity{UID: "usr-fake", Email: email}
	f.emitSignedIn(user)
	return user, nil
}

func (f *fakeProvider) SignOut(context.Context) error {
	f.mu.Lock()
	f.signOuts++
	f.mu.Unlock()
	f.emitSignedOut()
	return nil
}

func (f *fakeProvider) Events() (<-chan identity.Event, func()) {
	ch := make(chan identity.Event, 16)
	f.mu.Lock()
	f.subscribers = append(f.subscribers, ch)
	f.mu.Unlock()
	return ch, func() {}
}

func (f *fakeProvider) IDToken(context.Context) (string, error) { return "", nil }

func (f *fakeProvider) emitSignedIn(user *identity.UserIdentity) {
	f.mu.Lock()
	f.current = user
	subs := append([]chan identity.Event(nil), f.subscribers...)
	f.mu.Unlock()
	for _, ch := range subs {
		ch <- identity.Event{Kind: identity.EventSignedIn, User: user}
	}
}

func (f *fakeProvider) emitSignedOut() {
	f.mu.Lock()
	f.current = nil
	subs := append([]chan identity.Event(nil), f.subscribers...)
	f.mu.Unlock()
	for _, ch := range subs {
		ch <- identity.Event{Kind: identity.EventSignedOut}
	}
}

func (f *fakeProvider) signOutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOuts
}

// fakeWatcher is a controllable identity.Watcher.
type fakeWatcher struct {
	mu      sync.Mutex
	err     error
	ch      chan *identity.Profile
	cancels int
}

func (f *fakeWatcher) Watch(_ context.Context, _ string) (<-chan *identity.Profile, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, nil, f.err
	}
	f.ch = make(chan *identity.Profile, 16)
	return f.ch, func() {
		f.mu.Lock()
		f.cancels++
		f.mu.Unlock()
	}, nil
}

func (f *fakeWatcher) send(p *identity.Profile) {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	if ch != nil {
		ch <- p
	}
}

func (f *fakeWatcher) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

type testEnv struct {
	db       *sql.DB
	provider *fakeProvider
	watcher  *fakeWatcher
	store    *securestore.Store
	themes   *theme.Engine
	recorder *audit.Recorder
	engine   *Engine
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	return newTestEnvWithDB(t, testDB(t), cfg)
}

func newTestEnvWithDB(t *testing.T, db *sql.DB, cfg Config) *testEnv {
	t.Helper()

	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
	store := securestore.New(db, config.StoreConfig{Secret: "unit-test-secret", Fingerprint: "unit-test-fp"}, logger)
	themes := theme.New(context.Background(), store, logger)
	orgs := organization.NewCache(nil, 200, logger)
	recorder := audit.NewRecorder(nil, audit.NewCache(db, 0), logger)
	provider := &fakeProvider{}
	watcher := &fakeWatcher{}

	engine := New(Deps{
		Provider:      provider,
		Profiles:      watcher,
		Organizations: orgs,
		Themes:        themes,
		Store:         store,
		Audit:         recorder,
		Logger:        logger,
	}, cfg)

	return &testEnv{
		db:       db,
		provider: provider,
		watcher:  watcher,
		store:    store,
		themes:   themes,
		recorder: recorder,
		engine:   engine,
	}
}

func (env *testEnv) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	env.engine.Start(ctx)
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func waitForStatus(t *testing.T, engine *Engine, status Status) {
	t.Helper()
	waitFor(t, "status "+string(status), func() bool {
		return engine.Current().Status == status
	})
}

func auditEvents(t *testing.T, env *testEnv, uid string) []audit.Event {
	t.Helper()
	events, err := env.recorder.Recent(context.Background(), uid, 0)
	if err != nil {
		t.Fatalf("reading audit cache: %v", err)
	}
	return events
}

func countAudit(events []audit.Event, name string) int {
	n := 0
	for _, ev := range events {
		if ev.Event == name {
			n++
		}
	}
	return n
}
