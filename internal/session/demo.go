package session

import (
	"context"

	"github.com/gestionsostenible/console-core/internal/audit"
	"github.com/gestionsostenible/console-core/internal/identity"
	"github.com/gestionsostenible/console-core/internal/organization"
	"github.com/gestionsostenible/console-core/internal/role"
)

// DemoUID identifies the synthesized demo principal.
const DemoUID = "demo-user"

// defaultDemoDataset is used when StartDemo receives an empty dataset.
const defaultDemoDataset = "general"

// StartDemo enters a local, read-only demo session. It is rejected while
// an authenticated session is active; ending that session first is the
// only path into demo. Starting demo while already in demo just returns
// the current state.
func (e *Engine) StartDemo(ctx context.Context, dataset string) (State, error) {
	e.mu.Lock()
	switch e.state.Status {
	case StatusAuthenticated:
		e.mu.Unlock()
		return e.Current(), ErrSessionActive
	case StatusDemo:
		e.mu.Unlock()
		return e.Current(), nil
	}
	e.mu.Unlock()

	state := e.enterDemo(ctx, dataset, true)
	return state, nil
}

// EndDemo leaves demo mode and transitions to SignedOut.
func (e *Engine) EndDemo(ctx context.Context) (State, error) {
	e.mu.Lock()
	if e.state.Status != StatusDemo {
		e.mu.Unlock()
		return e.Current(), ErrNotDemo
	}
	dataset := e.state.DemoDataset
	e.state = State{
		Status:    StatusSignedOut,
		Role:      role.RoleGuest,
		Abilities: role.Abilities(role.RoleGuest),
	}
	snapshot := cloneState(e.state)
	subs := e.listenersLocked()
	e.mu.Unlock()

	e.deps.Store.Delete(ctx, sessionCacheKey)
	e.deps.Audit.Log(ctx, audit.Event{
		UID:   DemoUID,
		Event: audit.EventDemoEnd,
		Meta:  map[string]any{"dataset": dataset},
	})
	e.deps.Themes.Reset(ctx)

	for _, cb := range subs {
		cb(cloneState(snapshot))
	}
	return snapshot, nil
}

// enterDemo builds the synthesized demo identity and switches state. The
// backend is never touched: the identity, profile and organization are all
// local. announce is false when re-entering a persisted demo on restart.
func (e *Engine) enterDemo(ctx context.Context, dataset string, announce bool) State {
	if dataset == "" {
		dataset = defaultDemoDataset
	}

	user := &identity.UserIdentity{UID: DemoUID, DisplayName: "Usuario demo"}
	profile := &identity.Profile{
		UID:            DemoUID,
		Role:           string(role.RoleDemo),
		DisplayName:    "Usuario demo",
		OrganizationID: organization.DefaultID,
	}
	def := organization.Default()
	organization.Apply(profile, &def)

	e.mu.Lock()
	if e.watchCancel != nil {
		e.watchCancel()
		e.watchCancel = nil
	}
	// No idle monitor in demo: nothing privileged to protect.
	e.stopIdleLocked()
	e.state = State{
		Status:       StatusDemo,
		User:         user,
		Profile:      profile,
		Role:         role.RoleDemo,
		Abilities:    role.Abilities(role.RoleDemo),
		Organization: &def,
		DemoDataset:  dataset,
	}
	snapshot := cloneState(e.state)
	subs := e.listenersLocked()
	e.mu.Unlock()

	if e.cfg.PersistDemo {
		e.persistSessionCache(ctx, snapshot)
	}
	e.deps.Themes.Reset(ctx)

	if announce {
		e.deps.Audit.Log(ctx, audit.Event{
			UID:         DemoUID,
			Event:       audit.EventDemoStart,
			Meta:        map[string]any{"dataset": dataset},
			ContextRole: string(role.RoleDemo),
		})
	}

	for _, cb := range subs {
		cb(cloneState(snapshot))
	}
	return snapshot
}
