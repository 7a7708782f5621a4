package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gestionsostenible/console-core/internal/audit"
	"github.com/gestionsostenible/console-core/internal/broadcast"
	"github.com/gestionsostenible/console-core/internal/guard"
	"github.com/gestionsostenible/console-core/internal/identity"
	"github.com/gestionsostenible/console-core/internal/infrastructure/config"
	"github.com/gestionsostenible/console-core/internal/infrastructure/logging"
	"github.com/gestionsostenible/console-core/internal/organization"
	"github.com/gestionsostenible/console-core/internal/role"
	"github.com/gestionsostenible/console-core/internal/securestore"
	"github.com/gestionsostenible/console-core/internal/session"
	"github.com/gestionsostenible/console-core/internal/theme"
)

const testJWTSecret = "test-secret-key-at-least-32-characters-long"

// stubProvider is an in-memory identity backend. SignIn with the password
// "correcta" succeeds and pushes a signed-in event into the stream.
type stubProvider struct {
	mu        sync.Mutex
	subs      []chan identity.Event
	user      *identity.UserIdentity
	signInErr error
}

func (p *stubProvider) SignIn(_ context.Context, _, password string) (*identity.UserIdentity, error) {
	if p.signInErr != nil {
		return nil, p.signInErr
	}
	if password != "correcta" {
		return nil, identity.ErrInvalidCredentials
	}
	p.emit(identity.Event{Kind: identity.EventSignedIn, User: p.user})
	return p.user, nil
}

func (p *stubProvider) SignOut(context.Context) error {
	p.emit(identity.Event{Kind: identity.EventSignedOut})
	return nil
}

func (p *stubProvider) Events() (<-chan identity.Event, func()) {
	ch := make(chan identity.Event, 16)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()
	return ch, func() {}
}

func (p *stubProvider) IDToken(context.Context) (string, error) {
	return identity.GenerateAccessToken(p.user, role.RoleManager, organization.DefaultID, testJWTSecret, 15)
}

func (p *stubProvider) emit(ev identity.Event) {
	p.mu.Lock()
	subs := append([]chan identity.Event(nil), p.subs...)
	p.mu.Unlock()
	for _, ch := range subs {
		ch <- ev
	}
}

type stubWatcher struct{}

func (stubWatcher) Watch(context.Context, string) (<-chan *identity.Profile, func(), error) {
	return make(chan *identity.Profile), func() {}, nil
}

type testEnv struct {
	srv      *Server
	router   http.Handler
	engine   *session.Engine
	store    *securestore.Store
	themes   *theme.Engine
	recorder *audit.Recorder
	provider *stubProvider
	hub      *broadcast.Hub
	logger   *logging.Logger
}

func newTestEnv(t *testing.T, limiter *identity.Limiter) *testEnv {
	t.Helper()

	path := filepath.Join(t.TempDir(), "api_test.db")
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

	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
	store := securestore.New(db, config.StoreConfig{Secret: "unit-test-secret", Fingerprint: "unit-test-fp"}, logger)
	themes := theme.New(context.Background(), store, logger)
	recorder := audit.NewRecorder(nil, audit.NewCache(db, 0), logger)
	provider := &stubProvider{user: &identity.UserIdentity{UID: "usr-ana", Email: "ana@acme.com"}}

	engine := session.New(session.Deps{
		Provider:      provider,
		Profiles:      stubWatcher{},
		Organizations: organization.NewCache(nil, 200, logger),
		Themes:        themes,
		Store:         store,
		Audit:         recorder,
		Logger:        logger,
	}, session.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	engine.Start(ctx)

	hub := broadcast.NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, logger)
	go hub.Run(ctx)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:       config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Security: config.SecurityConfig{
			JWT:      config.JWTConfig{Secret: testJWTSecret, AccessTokenTTL: 15},
			Password: config.PasswordConfig{MinLength: 8, MinScore: 2},
		},
		Logger:   logger,
		Sessions: engine,
		Themes:   themes,
		Provider: provider,
		Recorder: recorder,
		Guard:    guard.New(engine, recorder, nil, logger),
		Hub:      hub,
		Limiter:  limiter,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return &testEnv{
		srv:      srv,
		router:   srv.buildRouter(),
		engine:   engine,
		store:    store,
		themes:   themes,
		recorder: recorder,
		provider: provider,
		hub:      hub,
		logger:   logger,
	}
}

func (env *testEnv) do(t *testing.T, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func bearer(t *testing.T, r role.Role) string {
	t.Helper()
	token, err := identity.GenerateAccessToken(
		&identity.UserIdentity{UID: "usr-ana", Email: "ana@acme.com"},
		r, organization.DefaultID, testJWTSecret, 15)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	return token
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

// ─── Health & Routing ──────────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/healthz", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("health body = %v", resp)
	}
}

func TestUnknownRouteNotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/nonexistent", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRequestIDPreserved(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

// ─── Session & Auth ────────────────────────────────────────────────

func TestSessionReflectsLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	// Until the provider decides, the shell sees the restoring state.
	w := env.do(t, http.MethodGet, "/api/v1/session", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("session status = %d", w.Code)
	}
	var state session.State
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if state.Status != session.StatusRestoring {
		t.Errorf("initial status = %q, want restoring", state.Status)
	}

	env.provider.emit(identity.Event{Kind: identity.EventSignedOut})
	waitFor(t, "signed out", func() bool {
		return env.engine.Current().Status == session.StatusSignedOut
	})

	w = env.do(t, http.MethodGet, "/api/v1/session", "", "")
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if state.Status != session.StatusSignedOut {
		t.Errorf("status = %q, want signed-out", state.Status)
	}
}

func TestLoginIssuesToken(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/v1/auth/login",
		`{"email":"ana@acme.com","password":"correcta"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d; body: %s", w.Code, w.Body.String())
	}

	var resp loginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.AccessToken == "" {
		t.Error("expected access_token to be non-empty")
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", resp.TokenType)
	}

	claims, err := identity.ParseToken(resp.AccessToken, testJWTSecret)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if claims.Subject != "usr-ana" {
		t.Errorf("token subject = %q, want usr-ana", claims.Subject)
	}

	waitFor(t, "authenticated", func() bool {
		return env.engine.Current().Status == session.StatusAuthenticated
	})
}

func TestLoginInvalidCredentials(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/v1/auth/login",
		`{"email":"ana@acme.com","password":"incorrecta"}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	var resp Error
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// Only the generic localized message, never backend detail.
	if strings.Contains(resp.Message, "stub") || strings.Contains(resp.Message, "sql") {
		t.Errorf("error message leaks backend detail: %q", resp.Message)
	}
}

func TestLoginRateLimitedByProvider(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.signInErr = identity.ErrRateLimited

	w := env.do(t, http.MethodPost, "/api/v1/auth/login",
		`{"email":"ana@acme.com","password":"correcta"}`, "")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
}

func TestLogoutRequiresAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/v1/auth/logout", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	w = env.do(t, http.MethodPost, "/api/v1/auth/logout", "", bearer(t, role.RoleManager))
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

// ─── Demo Mode ─────────────────────────────────────────────────────

func TestDemoLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/v1/session/demo", `{"dataset":"agro"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("start demo status = %d; body: %s", w.Code, w.Body.String())
	}
	var state session.State
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if state.Status != session.StatusDemo || state.DemoDataset != "agro" {
		t.Errorf("demo state = %+v", state)
	}

	w = env.do(t, http.MethodDelete, "/api/v1/session/demo", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("end demo status = %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if state.Status != session.StatusSignedOut {
		t.Errorf("post-demo status = %q, want signed-out", state.Status)
	}

	// Ending again conflicts: no demo is active.
	w = env.do(t, http.MethodDelete, "/api/v1/session/demo", "", "")
	if w.Code != http.StatusConflict {
		t.Errorf("second end status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestStartDemoWithoutBodyDefaultsDataset(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/v1/session/demo", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var state session.State
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if state.DemoDataset == "" {
		t.Error("expected default dataset to be filled in")
	}
}

func TestStartDemoConflictsWithActiveSession(t *testing.T) {
	env := newTestEnv(t, nil)

	env.provider.emit(identity.Event{
		Kind: identity.EventSignedIn,
		User: &identity.UserIdentity{UID: "usr-ana", Email: "ana@acme.com"},
	})
	waitFor(t, "authenticated", func() bool {
		return env.engine.Current().Status == session.StatusAuthenticated
	})

	w := env.do(t, http.MethodPost, "/api/v1/session/demo", `{"dataset":"agro"}`, "")
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

// ─── Theme ─────────────────────────────────────────────────────────

func TestGetThemeIsPublic(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/theme", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var snapshot theme.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snapshot.BrandName != theme.DefaultBrandName {
		t.Errorf("brand = %q, want default", snapshot.BrandName)
	}
}

func TestPutThemeRequiresAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPut, "/api/v1/theme", `{"palette":{"accent":"#123456"}}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestPutThemeRequiresManageTheme(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPut, "/api/v1/theme",
		`{"palette":{"accent":"#123456"}}`, bearer(t, role.RoleViewer))
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestPutThemeAppliesUpdate(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPut, "/api/v1/theme",
		`{"palette":{"accent":"#123456"},"brandName":"Acme"}`, bearer(t, role.RoleManager))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	var applied theme.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &applied); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if applied.Palette["accent"] != "#123456" || applied.BrandName != "Acme" {
		t.Errorf("applied = %+v", applied)
	}

	// The update is the new active theme for everyone.
	w = env.do(t, http.MethodGet, "/api/v1/theme", "", "")
	var current theme.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &current); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if current.Palette["accent"] != "#123456" {
		t.Errorf("accent = %q after update", current.Palette["accent"])
	}
}

func TestPutThemeRejectedDuringDemo(t *testing.T) {
	env := newTestEnv(t, nil)

	if _, err := env.engine.StartDemo(context.Background(), "agro"); err != nil {
		t.Fatalf("StartDemo() error = %v", err)
	}

	// Even a stale manager token cannot mutate while demo is active.
	w := env.do(t, http.MethodPut, "/api/v1/theme",
		`{"palette":{"accent":"#123456"}}`, bearer(t, role.RoleManager))
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestResetThemeRestoresDefaults(t *testing.T) {
	env := newTestEnv(t, nil)
	token := bearer(t, role.RoleManager)

	env.do(t, http.MethodPut, "/api/v1/theme", `{"palette":{"accent":"#123456"}}`, token)

	w := env.do(t, http.MethodDelete, "/api/v1/theme", "", token)
	if w.Code != http.StatusOK {
		t.Fatalf("reset status = %d", w.Code)
	}
	var snapshot theme.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snapshot.Palette["accent"] == "#123456" {
		t.Error("reset did not restore the default accent")
	}
}

func TestPreviewThemeDoesNotPersist(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/v1/theme/preview",
		`{"palette":{"accent":"#654321"}}`, bearer(t, role.RoleManager))
	if w.Code != http.StatusOK {
		t.Fatalf("preview status = %d; body: %s", w.Code, w.Body.String())
	}
	var previewed theme.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &previewed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if previewed.Palette["accent"] != "#654321" {
		t.Errorf("previewed accent = %q", previewed.Palette["accent"])
	}

	if _, ok := env.store.Read(context.Background(), theme.StorageKey); ok {
		t.Error("preview persisted the theme")
	}
}

func TestPutThemeInvalidJSON(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPut, "/api/v1/theme", "not json", bearer(t, role.RoleManager))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// ─── Audit ─────────────────────────────────────────────────────────

func TestAuditReturnsOwnTrail(t *testing.T) {
	env := newTestEnv(t, nil)

	env.recorder.Log(context.Background(), audit.Event{UID: "usr-ana", Event: audit.EventLogin})
	env.recorder.Log(context.Background(), audit.Event{UID: "usr-ana", Event: audit.EventLogout})
	env.recorder.Log(context.Background(), audit.Event{UID: "usr-otro", Event: audit.EventLogin})

	w := env.do(t, http.MethodGet, "/api/v1/audit", "", bearer(t, role.RoleManager))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Events []audit.Event `json:"events"`
		Count  int           `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
	for _, ev := range resp.Events {
		if ev.UID != "usr-ana" {
			t.Errorf("foreign audit entry leaked: %+v", ev)
		}
	}
}

func TestAuditLimitValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	token := bearer(t, role.RoleManager)

	w := env.do(t, http.MethodGet, "/api/v1/audit?limit=abc", "", token)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = env.do(t, http.MethodGet, "/api/v1/audit?limit=-3", "", token)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAuditRequiresAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/audit", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// ─── Guard ─────────────────────────────────────────────────────────

func TestGuardSignedOutRedirectsToLogin(t *testing.T) {
	env := newTestEnv(t, nil)

	env.provider.emit(identity.Event{Kind: identity.EventSignedOut})
	waitFor(t, "signed out", func() bool {
		return env.engine.Current().Status == session.StatusSignedOut
	})

	w := env.do(t, http.MethodGet, "/api/v1/guard", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var state guard.State
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if state.Decision != guard.DecisionSignedOut {
		t.Errorf("decision = %q, want signed-out", state.Decision)
	}
	if state.Redirect == "" {
		t.Error("expected a login redirect")
	}
}

func TestGuardDemoAdmission(t *testing.T) {
	env := newTestEnv(t, nil)

	if _, err := env.engine.StartDemo(context.Background(), "agro"); err != nil {
		t.Fatalf("StartDemo() error = %v", err)
	}

	// Demo is denied by default and admitted only when the surface
	// opts in.
	w := env.do(t, http.MethodGet, "/api/v1/guard", "", "")
	var state guard.State
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if state.Decision != guard.DecisionDenied {
		t.Errorf("decision = %q, want denied", state.Decision)
	}

	w = env.do(t, http.MethodGet, "/api/v1/guard?allow_demo=true", "", "")
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if state.Decision != guard.DecisionAllowed {
		t.Errorf("decision = %q, want allowed", state.Decision)
	}
}

func TestGuardRejectsUnknownLevel(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/guard?level=owner", "", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// ─── User Management ───────────────────────────────────────────────

// withAdminBackend stands up a stub admin API and points the server's
// client at it, the way the daemon wires it when a backend is configured.
func withAdminBackend(t *testing.T, env *testEnv, handler http.Handler) {
	t.Helper()
	backend := httptest.NewServer(handler)
	t.Cleanup(backend.Close)

	admin, err := identity.NewAdminClient(
		config.BackendConfig{AdminAPIURL: backend.URL, TimeoutSeconds: 5},
		env.provider.IDToken,
		func(context.Context) string { return "csrf-unit-token" },
	)
	if err != nil {
		t.Fatalf("NewAdminClient() error = %v", err)
	}
	env.srv.admin = admin
}

func TestCreateUserProxiesToAdminAPI(t *testing.T) {
	env := newTestEnv(t, nil)

	var mu sync.Mutex
	var gotPath, gotAuth, gotCSRF string
	withAdminBackend(t, env, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req identity.CreateUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding backend payload: %v", err)
		}
		mu.Lock()
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotCSRF = r.Header.Get("X-CSRF-Token")
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"uid": "usr-nuevo", "email": req.Email}) //nolint:errcheck
	}))

	w := env.do(t, http.MethodPost, "/api/v1/users",
		`{"email":"NUEVO@acme.com","password":"correct-horse-battery","role":"viewer"}`,
		bearer(t, role.RoleAdmin))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	var resp identity.CreateUserResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.UID != "usr-nuevo" || resp.Email != "nuevo@acme.com" {
		t.Errorf("created = %+v", resp)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/users" {
		t.Errorf("backend path = %q, want /users", gotPath)
	}
	if !strings.HasPrefix(gotAuth, "Bearer ") {
		t.Errorf("backend Authorization = %q, want a bearer token", gotAuth)
	}
	if gotCSRF != "csrf-unit-token" {
		t.Errorf("backend X-CSRF-Token = %q", gotCSRF)
	}
}

func TestCreateUserRejectsWeakPasswordLocally(t *testing.T) {
	env := newTestEnv(t, nil)

	var calls atomic.Int32
	withAdminBackend(t, env, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls.Add(1)
	}))

	w := env.do(t, http.MethodPost, "/api/v1/users",
		`{"email":"nuevo@acme.com","password":"corta"}`, bearer(t, role.RoleAdmin))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if calls.Load() != 0 {
		t.Error("weak password reached the admin backend")
	}
}

func TestDeleteUserProxiesToAdminAPI(t *testing.T) {
	env := newTestEnv(t, nil)

	var mu sync.Mutex
	var gotPath string
	var gotPayload map[string]string
	withAdminBackend(t, env, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotPayload) //nolint:errcheck
		mu.Unlock()
	}))

	w := env.do(t, http.MethodDelete, "/api/v1/users/usr-baja?email=baja%40acme.com", "",
		bearer(t, role.RoleAdmin))
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/users/delete" {
		t.Errorf("backend path = %q, want /users/delete", gotPath)
	}
	if gotPayload["uid"] != "usr-baja" || gotPayload["email"] != "baja@acme.com" {
		t.Errorf("backend payload = %v", gotPayload)
	}
}

func TestRecoveryEmailAccepted(t *testing.T) {
	env := newTestEnv(t, nil)

	var mu sync.Mutex
	var gotPath string
	withAdminBackend(t, env, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		mu.Unlock()
	}))

	w := env.do(t, http.MethodPost, "/api/v1/users/recovery",
		`{"email":"ana@acme.com"}`, bearer(t, role.RoleAdmin))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/users/recovery" {
		t.Errorf("backend path = %q, want /users/recovery", gotPath)
	}
}

func TestUserManagementRequiresManageUsers(t *testing.T) {
	env := newTestEnv(t, nil)
	withAdminBackend(t, env, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("forbidden request reached the admin backend")
	}))

	w := env.do(t, http.MethodPost, "/api/v1/users",
		`{"email":"nuevo@acme.com","password":"correct-horse-battery"}`,
		bearer(t, role.RoleViewer))
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestUserManagementUnavailableWithoutBackend(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/v1/users",
		`{"email":"nuevo@acme.com","password":"correct-horse-battery"}`,
		bearer(t, role.RoleAdmin))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestCreateUserRejectedDuringDemo(t *testing.T) {
	env := newTestEnv(t, nil)
	withAdminBackend(t, env, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("demo-mode request reached the admin backend")
	}))

	if _, err := env.engine.StartDemo(context.Background(), "agro"); err != nil {
		t.Fatalf("StartDemo() error = %v", err)
	}

	w := env.do(t, http.MethodPost, "/api/v1/users",
		`{"email":"nuevo@acme.com","password":"correct-horse-battery"}`,
		bearer(t, role.RoleAdmin))
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

// ─── Rate Limiting ─────────────────────────────────────────────────

func TestThemeMutationsRateLimited(t *testing.T) {
	limiter := identity.NewLimiter(config.RateLimitConfig{Enabled: true, MaxCalls: 2, WindowSeconds: 60})
	env := newTestEnv(t, limiter)
	token := bearer(t, role.RoleManager)

	for i := 0; i < 2; i++ {
		w := env.do(t, http.MethodPut, "/api/v1/theme", `{"palette":{"accent":"#123456"}}`, token)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, w.Code)
		}
	}

	w := env.do(t, http.MethodPut, "/api/v1/theme", `{"palette":{"accent":"#123456"}}`, token)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
}

// ─── WebSocket Peer Link ───────────────────────────────────────────

func TestPeerLinkUpgradeOnRouter(t *testing.T) {
	env := newTestEnv(t, nil)

	// Wire the broadcast synchronizer so local theme updates fan out to
	// connected peers, as they do in the assembled binary.
	synchronizer := broadcast.New(broadcast.Deps{
		Themes:       env.themes,
		Store:        env.store,
		Hub:          env.hub,
		Logger:       env.logger,
		Organization: func() string { return organization.DefaultID },
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := synchronizer.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ts := httptest.NewServer(env.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("peer link dial failed: %v", err)
	}
	defer conn.Close()

	// A theme update flows out over the freshly-upgraded peer link.
	env.themes.Update(context.Background(),
		&theme.Snapshot{Palette: map[string]string{"accent": "#333333"}},
		theme.ApplyOptions())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading broadcast frame: %v", err)
	}
	if !strings.Contains(string(frame), "#333333") {
		t.Errorf("frame does not carry the update: %s", frame)
	}
}
