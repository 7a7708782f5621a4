package broadcast

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gestionsostenible/console-core/internal/infrastructure/config"
	"github.com/gestionsostenible/console-core/internal/infrastructure/logging"
	"github.com/gestionsostenible/console-core/internal/securestore"
	"github.com/gestionsostenible/console-core/internal/theme"
)

type fakeTracker struct {
	mu      sync.Mutex
	sources []string
}

func (f *fakeTracker) ThemeUpdate(_, source string, _ bool) {
	f.mu.Lock()
	f.sources = append(f.sources, source)
	f.mu.Unlock()
}

func (f *fakeTracker) bySource(source string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sources {
		if s == source {
			n++
		}
	}
	return n
}

type syncEnv struct {
	store   *securestore.Store
	themes  *theme.Engine
	tracker *fakeTracker
	sync    *Synchronizer
}

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "broadcast_test.db")
	db, err := sql.Open("sqlite3", path)
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
	`)
	if err != nil {
		t.Fatalf("creating test schema: %v", err)
	}
	return db
}

func newSyncEnv(t *testing.T, hub *Hub) *syncEnv {
	t.Helper()

	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
	store := securestore.New(testDB(t), config.StoreConfig{Secret: "unit-test-secret", Fingerprint: "unit-test-fp"}, logger)
	themes := theme.New(context.Background(), store, logger)
	tracker := &fakeTracker{}

	s := New(Deps{
		Themes:       themes,
		Store:        store,
		Hub:          hub,
		Logger:       logger,
		Organization: func() string { return "default" },
		Tracker:      tracker,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	return &syncEnv{store: store, themes: themes, tracker: tracker, sync: s}
}

func syncMessage(t *testing.T, source string, version uint64, accent string) []byte {
	t.Helper()
	data, err := encodeMessage(Message{
		Flag:           MessageFlag,
		Type:           TypeThemeUpdate,
		Source:         source,
		Version:        version,
		OrganizationID: "default",
		Theme:          &theme.Snapshot{Palette: map[string]string{"accent": accent}},
	})
	if err != nil {
		t.Fatalf("encoding message: %v", err)
	}
	return data
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

func TestDecodeMessageValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"valid update", `{"flag":"console.theme.sync","type":"theme:update","source":"a","version":1}`, false},
		{"valid reset", `{"flag":"console.theme.sync","type":"theme:reset","source":"a","version":1}`, false},
		{"wrong flag", `{"flag":"other","type":"theme:update","source":"a","version":1}`, true},
		{"missing flag", `{"type":"theme:update","source":"a","version":1}`, true},
		{"unknown type", `{"flag":"console.theme.sync","type":"theme:nuke","source":"a","version":1}`, true},
		{"not json", `{broken`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeMessage([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Errorf("decodeMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAcceptDropsOwnSource(t *testing.T) {
	env := newSyncEnv(t, nil)

	msg := &Message{Flag: MessageFlag, Type: TypeThemeUpdate, Source: env.sync.RuntimeID(), Version: 1}
	if env.sync.accept(msg) {
		t.Error("accept() took an own-source message")
	}
}

func TestAcceptLastVersionWins(t *testing.T) {
	env := newSyncEnv(t, nil)

	fresh := &Message{Flag: MessageFlag, Type: TypeThemeUpdate, Source: "other", Version: 5}
	if !env.sync.accept(fresh) {
		t.Fatal("accept() rejected a first message")
	}
	stale := &Message{Flag: MessageFlag, Type: TypeThemeUpdate, Source: "other", Version: 3}
	if env.sync.accept(stale) {
		t.Error("accept() took a stale version")
	}
	replay := &Message{Flag: MessageFlag, Type: TypeThemeUpdate, Source: "other", Version: 5}
	if env.sync.accept(replay) {
		t.Error("accept() took a replayed version")
	}
	newer := &Message{Flag: MessageFlag, Type: TypeThemeUpdate, Source: "other", Version: 6}
	if !env.sync.accept(newer) {
		t.Error("accept() rejected a newer version")
	}
}

func TestAcceptTracksSourcesIndependently(t *testing.T) {
	env := newSyncEnv(t, nil)

	if !env.sync.accept(&Message{Source: "a", Version: 9}) {
		t.Fatal("accept() rejected source a")
	}
	if !env.sync.accept(&Message{Source: "b", Version: 1}) {
		t.Error("version of source a leaked into source b")
	}
}

func TestBrokerMessageAppliesWithoutRebroadcast(t *testing.T) {
	env := newSyncEnv(t, nil)

	payload := syncMessage(t, "other-runtime", 1, "#123456")
	if err := env.sync.handleBrokerMessage("console/theme/default/update", payload); err != nil {
		t.Fatalf("handleBrokerMessage() error = %v", err)
	}

	if got := env.themes.Snapshot().Palette["accent"]; got != "#123456" {
		t.Errorf("accent = %q, want #123456", got)
	}
	// External applies never persist: the origin already did.
	if _, ok := env.store.Read(context.Background(), theme.StorageKey); ok {
		t.Error("external apply persisted the theme")
	}
	if env.tracker.bySource("local") != 0 {
		t.Error("external apply triggered a local publish")
	}
	if env.tracker.bySource("broker") != 1 {
		t.Errorf("broker receipts tracked %d times, want 1", env.tracker.bySource("broker"))
	}
}

func TestBrokerResetRestoresDefaults(t *testing.T) {
	env := newSyncEnv(t, nil)

	payload := syncMessage(t, "other-runtime", 1, "#123456")
	if err := env.sync.handleBrokerMessage("console/theme/default/update", payload); err != nil {
		t.Fatalf("handleBrokerMessage() error = %v", err)
	}

	reset, err := encodeMessage(Message{
		Flag: MessageFlag, Type: TypeThemeReset, Source: "other-runtime", Version: 2,
	})
	if err != nil {
		t.Fatalf("encoding reset: %v", err)
	}
	if err := env.sync.handleBrokerMessage("console/theme/default/reset", reset); err != nil {
		t.Fatalf("handleBrokerMessage() error = %v", err)
	}

	if got := env.themes.Snapshot().Palette["accent"]; got == "#123456" {
		t.Error("reset did not restore the default accent")
	}
}

func TestGarbageBrokerMessageIgnored(t *testing.T) {
	env := newSyncEnv(t, nil)

	before := env.themes.Snapshot()
	if err := env.sync.handleBrokerMessage("console/theme/default/update", []byte("{broken")); err != nil {
		t.Fatalf("handleBrokerMessage() error = %v", err)
	}
	after := env.themes.Snapshot()
	if before.Palette["accent"] != after.Palette["accent"] {
		t.Error("garbage message mutated the theme")
	}
}

func TestLocalUpdatePublishes(t *testing.T) {
	env := newSyncEnv(t, nil)

	env.themes.Update(context.Background(),
		&theme.Snapshot{Palette: map[string]string{"accent": "#654321"}},
		theme.ApplyOptions())

	waitFor(t, "local publish tracked", func() bool {
		return env.tracker.bySource("local") == 1
	})
}

func TestStoreWatcherAppliesForeignWrite(t *testing.T) {
	env := newSyncEnv(t, nil)

	// Another same-process context writes the persisted key directly.
	foreign := theme.Snapshot{Palette: map[string]string{"accent": "#abcdef"}}
	raw, err := json.Marshal(foreign)
	if err != nil {
		t.Fatalf("marshalling snapshot: %v", err)
	}
	env.store.Persist(context.Background(), theme.StorageKey, string(raw))

	waitFor(t, "store change applied", func() bool {
		return env.themes.Snapshot().Palette["accent"] == "#abcdef"
	})
	// Applied as external state: no publish back out.
	if env.tracker.bySource("local") != 0 {
		t.Error("store change re-published")
	}
}

func TestStoreWatcherDeleteResets(t *testing.T) {
	env := newSyncEnv(t, nil)

	env.themes.Update(context.Background(),
		&theme.Snapshot{Palette: map[string]string{"accent": "#654321"}},
		theme.ApplyOptions())
	waitFor(t, "theme applied", func() bool {
		return env.themes.Snapshot().Palette["accent"] == "#654321"
	})

	env.store.Delete(context.Background(), theme.StorageKey)
	waitFor(t, "reset applied", func() bool {
		return env.themes.Snapshot().Palette["accent"] != "#654321"
	})
}
