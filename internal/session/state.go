package session

import (
	"github.com/gestionsostenible/console-core/internal/identity"
	"github.com/gestionsostenible/console-core/internal/role"
)

// Status is the session lifecycle phase.
type Status string

// Session statuses.
const (
	// StatusInitial is the pre-construction state, never re-entered.
	StatusInitial Status = "initial"

	// StatusRestoring means a cached session is being shown while the
	// provider is still deciding.
	StatusRestoring Status = "restoring"

	// StatusAuthenticated is a confirmed provider session.
	StatusAuthenticated Status = "authenticated"

	// StatusDemo is a local, read-only demo session.
	StatusDemo Status = "demo"

	// StatusSignedOut means no session exists.
	StatusSignedOut Status = "signed-out"
)

// State is one observable snapshot of the session. Subscribers receive
// deep clones; mutating a received State never affects the engine.
type State struct {
	Status       Status                 `json:"status"`
	User         *identity.UserIdentity `json:"user,omitempty"`
	Profile      *identity.Profile      `json:"profile,omitempty"`
	Role         role.Role              `json:"role"`
	Abilities    role.AbilityMatrix     `json:"abilities"`
	Organization *identity.Organization `json:"organization,omitempty"`

	// FromCache marks identities restored from the local store that the
	// provider has not confirmed yet.
	FromCache bool `json:"fromCache,omitempty"`

	// DemoDataset names the dataset a demo session was started with.
	DemoDataset string `json:"demoDataset,omitempty"`
}

// SignedIn reports whether the state carries a usable identity.
func (s State) SignedIn() bool {
	return s.Status == StatusAuthenticated || s.Status == StatusDemo
}

func cloneState(s State) State {
	out := s
	out.User = cloneUser(s.User)
	out.Profile = cloneProfile(s.Profile)
	out.Organization = cloneOrganization(s.Organization)
	out.Abilities = cloneAbilities(s.Abilities)
	return out
}

func cloneUser(u *identity.UserIdentity) *identity.UserIdentity {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func cloneProfile(p *identity.Profile) *identity.Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.Organization = cloneOrganization(p.Organization)
	if p.Theme != nil {
		c.Theme = make(map[string]string, len(p.Theme))
		for k, v := range p.Theme {
			c.Theme[k] = v
		}
	}
	return &c
}

func cloneOrganization(o *identity.Organization) *identity.Organization {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}

func cloneAbilities(m role.AbilityMatrix) role.AbilityMatrix {
	c := m
	if m.ModulePermissions != nil {
		c.ModulePermissions = make(map[string]role.PermissionLevel, len(m.ModulePermissions))
		for k, v := range m.ModulePermissions {
			c.ModulePermissions[k] = v
		}
	}
	return c
}
