package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gestionsostenible/console-core/internal/audit"
	"github.com/gestionsostenible/console-core/internal/identity"
	"github.com/gestionsostenible/console-core/internal/infrastructure/logging"
	"github.com/gestionsostenible/console-core/internal/organization"
	"github.com/gestionsostenible/console-core/internal/role"
	"github.com/gestionsostenible/console-core/internal/securestore"
	"github.com/gestionsostenible/console-core/internal/theme"
)

// Engine errors.
var (
	// ErrDemoReadOnly rejects mutating operations during a demo session.
	ErrDemoReadOnly = errors.New("session: demo mode is read-only")

	// ErrSessionActive rejects StartDemo while a real session exists.
	ErrSessionActive = errors.New("session: an authenticated session is active")

	// ErrNotDemo rejects EndDemo outside demo mode.
	ErrNotDemo = errors.New("session: no demo session is active")
)

// Deps are the engine's collaborators. All fields are required.
type Deps struct {
	Provider      identity.Provider
	Profiles      identity.Watcher
	Organizations *organization.Cache
	Themes        *theme.Engine
	Store         *securestore.Store
	Audit         *audit.Recorder
	Logger        *logging.Logger
}

// Config carries the engine's tunables. IdleTimeout is expected to be
// pre-clamped by the config layer; zero disables the idle monitor.
type Config struct {
	IdleTimeout time.Duration
	PersistDemo bool
}

// Engine is the session state machine.
type Engine struct {
	deps Deps
	cfg  Config

	mu          sync.Mutex
	state       State
	subscribers map[int]func(State)
	nextID      int

	// lastAuthUID dedupes login audit entries when the provider re-emits
	// the same identity. Cleared on sign-out.
	lastAuthUID string
	// timedOut marks the next sign-out as idle-timeout driven.
	timedOut    bool
	watchCancel func()
	idleTimer   *time.Timer
	idleGen     int
	runCtx      context.Context
}

// New creates the engine in the Initial state. Call Start to begin.
func New(deps Deps, cfg Config) *Engine {
	return &Engine{
		deps: deps,
		cfg:  cfg,
		state: State{
			Status:    StatusInitial,
			Role:      role.RoleGuest,
			Abilities: role.Abilities(role.RoleGuest),
		},
		subscribers: make(map[int]func(State)),
	}
}

// Start moves to Restoring, attempts cache restoration, then begins
// consuming provider events until ctx is cancelled. Cache restoration
// happens before the first provider signal is processed, so subscribers
// see the cached identity during the provider's decision window.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.runCtx = ctx
	e.state.Status = StatusRestoring
	snapshot := cloneState(e.state)
	subs := e.listenersLocked()
	e.mu.Unlock()
	for _, cb := range subs {
		cb(cloneState(snapshot))
	}

	e.restoreFromCache(ctx)

	events, cancel := e.deps.Provider.Events()
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				e.teardown()
				return
			case ev, ok := <-events:
				if !ok {
					e.teardown()
					return
				}
				switch ev.Kind {
				case identity.EventSignedIn:
					e.handleSignedIn(ctx, ev.User)
				case identity.EventSignedOut:
					e.handleSignedOut(ctx)
				}
			}
		}
	}()
}

// Current returns a clone of the latest state.
func (e *Engine) Current() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneState(e.state)
}

// Subscribe registers a state listener and fires it immediately with the
// current state. The returned function cancels the subscription.
func (e *Engine) Subscribe(cb func(State)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subscribers[id] = cb
	current := cloneState(e.state)
	e.mu.Unlock()

	cb(current)

	return func() {
		e.mu.Lock()
		delete(e.subscribers, id)
		e.mu.Unlock()
	}
}

// SignIn authenticates through the provider. The resulting state change
// arrives via the provider event stream, not the return value.
func (e *Engine) SignIn(ctx context.Context, email, password string) (*identity.UserIdentity, error) {
	e.mu.Lock()
	demo := e.state.Status == StatusDemo
	e.mu.Unlock()
	if demo {
		return nil, ErrDemoReadOnly
	}
	return e.deps.Provider.SignIn(ctx, email, password)
}

// SignOut ends the current session. A demo session is ended locally; a
// provider session is terminated through the provider.
func (e *Engine) SignOut(ctx context.Context) error {
	e.mu.Lock()
	demo := e.state.Status == StatusDemo
	e.mu.Unlock()
	if demo {
		_, err := e.EndDemo(ctx)
		return err
	}
	return e.deps.Provider.SignOut(ctx)
}

// EnsureMutable rejects with ErrDemoReadOnly while in demo mode. API
// handlers call this before any mutating operation.
func (e *Engine) EnsureMutable() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Status == StatusDemo {
		return ErrDemoReadOnly
	}
	return nil
}

// Touch records user activity and pushes the idle deadline out.
func (e *Engine) Touch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Status != StatusAuthenticated {
		return
	}
	e.resetIdleLocked()
}

func (e *Engine) handleSignedIn(ctx context.Context, user *identity.UserIdentity) {
	if user == nil {
		return
	}
	e.mu.Lock()
	if e.state.Status == StatusDemo {
		// Demo never promotes to Authenticated; the user must end the
		// demo first.
		e.mu.Unlock()
		e.deps.Logger.Debug("provider sign-in ignored during demo session", "uid", user.UID)
		return
	}
	if e.watchCancel != nil {
		e.watchCancel()
		e.watchCancel = nil
	}
	first := e.lastAuthUID != user.UID
	e.lastAuthUID = user.UID
	e.mu.Unlock()

	e.setAuthenticated(ctx, user, defaultProfile(user), false)

	if first {
		current := e.Current()
		orgID := ""
		if current.Organization != nil {
			orgID = current.Organization.ID
		}
		e.deps.Audit.Log(ctx, audit.Event{
			UID:            user.UID,
			Email:          user.Email,
			Event:          audit.EventLogin,
			ContextRole:    string(current.Role),
			OrganizationID: orgID,
		})
	}

	e.startWatch(ctx, *user)
}

func (e *Engine) handleSignedOut(ctx context.Context) {
	e.mu.Lock()
	if e.state.Status == StatusDemo || e.state.Status == StatusSignedOut {
		e.mu.Unlock()
		return
	}
	prevUser := e.state.User
	wasAuthenticated := e.state.Status == StatusAuthenticated
	timedOut := e.timedOut
	e.timedOut = false
	if e.watchCancel != nil {
		e.watchCancel()
		e.watchCancel = nil
	}
	e.stopIdleLocked()
	e.lastAuthUID = ""
	e.state = State{
		Status:    StatusSignedOut,
		Role:      role.RoleGuest,
		Abilities: role.Abilities(role.RoleGuest),
	}
	snapshot := cloneState(e.state)
	subs := e.listenersLocked()
	e.mu.Unlock()

	e.deps.Store.Delete(ctx, sessionCacheKey)

	if wasAuthenticated && prevUser != nil {
		name := audit.EventLogout
		if timedOut {
			name = audit.EventTimeout
		}
		e.deps.Audit.Log(ctx, audit.Event{UID: prevUser.UID, Email: prevUser.Email, Event: name})
	}

	e.deps.Themes.Reset(ctx)

	for _, cb := range subs {
		cb(cloneState(snapshot))
	}
}

// setAuthenticated derives the full authenticated state from a profile
// snapshot: organization resolution, role normalization, abilities, idle
// timer, cache persistence and theme re-sync.
func (e *Engine) setAuthenticated(ctx context.Context, user *identity.UserIdentity, profile *identity.Profile, fromCache bool) {
	var (
		r   role.Role
		org *identity.Organization
	)
	if profile != nil {
		orgID := profile.OrganizationID
		if profile.Organization != nil && profile.Organization.ID != "" {
			orgID = profile.Organization.ID
		}
		org = e.deps.Organizations.Resolve(ctx, orgID)
		organization.Apply(profile, org)
		r = profile.ResolveRole()
	} else {
		// Profile unavailable: stay signed in with the most restricted
		// view rather than kicking the user out.
		r = role.RoleGuest
		def := organization.Default()
		org = &def
	}

	e.mu.Lock()
	if e.state.Status == StatusDemo {
		e.mu.Unlock()
		return
	}
	e.state = State{
		Status:       StatusAuthenticated,
		User:         user,
		Profile:      profile,
		Role:         r,
		Abilities:    role.Abilities(r),
		Organization: org,
		FromCache:    fromCache,
	}
	e.resetIdleLocked()
	snapshot := cloneState(e.state)
	subs := e.listenersLocked()
	e.mu.Unlock()

	if !fromCache {
		e.persistSessionCache(ctx, snapshot)
	}
	e.syncTheme(ctx, profile)

	for _, cb := range subs {
		cb(cloneState(snapshot))
	}
}

func (e *Engine) startWatch(ctx context.Context, user identity.UserIdentity) {
	ch, cancel, err := e.deps.Profiles.Watch(ctx, user.UID)
	if err != nil {
		e.deps.Logger.Warn("profile watch unavailable, continuing with restricted view",
			"uid", user.UID, "error", err)
		e.setAuthenticated(ctx, &user, nil, false)
		return
	}

	e.mu.Lock()
	if e.watchCancel != nil {
		e.watchCancel()
	}
	e.watchCancel = cancel
	e.mu.Unlock()

	go func() {
		for profile := range ch {
			e.applyProfileSnapshot(ctx, user, profile)
		}
	}()
}

func (e *Engine) applyProfileSnapshot(ctx context.Context, user identity.UserIdentity, profile *identity.Profile) {
	if profile == nil {
		return
	}
	e.mu.Lock()
	if e.state.Status != StatusAuthenticated || e.state.User == nil || e.state.User.UID != user.UID {
		e.mu.Unlock()
		return
	}
	// Snapshot delivery order is not guaranteed: drop anything older than
	// what is already applied. Snapshots without timestamps fall back to
	// last-applied-wins.
	if cur := e.state.Profile; cur != nil && cur.UpdatedAt > 0 &&
		profile.UpdatedAt > 0 && profile.UpdatedAt < cur.UpdatedAt {
		e.mu.Unlock()
		e.deps.Logger.Debug("stale profile snapshot dropped",
			"uid", user.UID, "snapshotUpdatedAt", profile.UpdatedAt, "currentUpdatedAt", cur.UpdatedAt)
		return
	}
	e.mu.Unlock()

	e.setAuthenticated(ctx, &user, cloneProfile(profile), false)
}

// syncTheme re-derives the theme from the session: a profile theme is
// applied and persisted, an absent one resets to defaults.
func (e *Engine) syncTheme(ctx context.Context, profile *identity.Profile) {
	if profile != nil && len(profile.Theme) > 0 {
		palette := make(map[string]string, len(profile.Theme))
		for key, value := range profile.Theme {
			palette[key] = value
		}
		e.deps.Themes.Update(ctx, &theme.Snapshot{Palette: palette}, theme.ApplyOptions())
		return
	}
	e.deps.Themes.Reset(ctx)
}

func (e *Engine) resetIdleLocked() {
	e.idleGen++
	gen := e.idleGen
	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}
	if e.cfg.IdleTimeout <= 0 {
		return
	}
	e.idleTimer = time.AfterFunc(e.cfg.IdleTimeout, func() { e.idleExpired(gen) })
}

func (e *Engine) stopIdleLocked() {
	e.idleGen++
	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}
}

func (e *Engine) idleExpired(gen int) {
	e.mu.Lock()
	if gen != e.idleGen || e.state.Status != StatusAuthenticated {
		e.mu.Unlock()
		return
	}
	e.timedOut = true
	uid := ""
	if e.state.User != nil {
		uid = e.state.User.UID
	}
	ctx := e.runCtx
	e.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	e.deps.Logger.Info("idle timeout reached, signing out", "uid", uid)
	if err := e.deps.Provider.SignOut(ctx); err != nil {
		e.deps.Logger.Warn("idle sign-out failed", "uid", uid, "error", err)
	}
}

func (e *Engine) teardown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watchCancel != nil {
		e.watchCancel()
		e.watchCancel = nil
	}
	e.stopIdleLocked()
}

func (e *Engine) listenersLocked() []func(State) {
	out := make([]func(State), 0, len(e.subscribers))
	for _, cb := range e.subscribers {
		out = append(out, cb)
	}
	return out
}

// defaultProfile is the placeholder used between sign-in and the first
// profile snapshot. The empty role normalizes to viewer unless an email
// override applies.
func defaultProfile(user *identity.UserIdentity) *identity.Profile {
	return &identity.Profile{
		UID:         user.UID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
	}
}
