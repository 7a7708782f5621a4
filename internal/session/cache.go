package session

import (
	"context"
	"encoding/json"

	"github.com/gestionsostenible/console-core/internal/identity"
	"github.com/gestionsostenible/console-core/internal/role"
)

// sessionCacheKey is the secure-store key for the cached session snapshot.
const sessionCacheKey = "console.session"

// cachedSession is the compact persisted form of a session, enough to show
// a plausible identity while the provider is deciding.
type cachedSession struct {
	UID            string `json:"uid,omitempty"`
	Email          string `json:"email,omitempty"`
	DisplayName    string `json:"displayName,omitempty"`
	Role           string `json:"role,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
	Demo           bool   `json:"demo,omitempty"`
	Dataset        string `json:"dataset,omitempty"`
}

func (e *Engine) persistSessionCache(ctx context.Context, state State) {
	cached := cachedSession{
		Role:    string(state.Role),
		Demo:    state.Status == StatusDemo,
		Dataset: state.DemoDataset,
	}
	if state.User != nil {
		cached.UID = state.User.UID
		cached.Email = state.User.Email
		cached.DisplayName = state.User.DisplayName
	}
	if state.Organization != nil {
		cached.OrganizationID = state.Organization.ID
	}

	raw, err := json.Marshal(cached)
	if err != nil {
		e.deps.Logger.Warn("session cache marshal failed", "error", err)
		return
	}
	e.deps.Store.Persist(ctx, sessionCacheKey, string(raw))
}

// restoreFromCache rehydrates the last session from the secure store. A
// cached demo session re-enters demo mode directly; a cached provider
// session is shown as Restoring with FromCache set until the provider
// confirms or denies it.
func (e *Engine) restoreFromCache(ctx context.Context) {
	raw, ok := e.deps.Store.Read(ctx, sessionCacheKey)
	if !ok {
		return
	}
	var cached cachedSession
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		e.deps.Logger.Warn("corrupt session cache discarded", "error", err)
		e.deps.Store.Delete(ctx, sessionCacheKey)
		return
	}

	if cached.Demo {
		if e.cfg.PersistDemo {
			e.enterDemo(ctx, cached.Dataset, false)
		} else {
			e.deps.Store.Delete(ctx, sessionCacheKey)
		}
		return
	}
	if cached.UID == "" {
		return
	}

	r := role.Normalize(role.FromProfile(cached.Role, cached.Email))
	org := e.deps.Organizations.Resolve(ctx, cached.OrganizationID)

	e.mu.Lock()
	if e.state.Status != StatusRestoring {
		// The provider already decided; the cache lost the race.
		e.mu.Unlock()
		return
	}
	e.state = State{
		Status: StatusRestoring,
		User: &identity.UserIdentity{
			UID:         cached.UID,
			Email:       cached.Email,
			DisplayName: cached.DisplayName,
		},
		Role:         r,
		Abilities:    role.Abilities(r),
		Organization: org,
		FromCache:    true,
	}
	snapshot := cloneState(e.state)
	subs := e.listenersLocked()
	e.mu.Unlock()

	for _, cb := range subs {
		cb(cloneState(snapshot))
	}
}
