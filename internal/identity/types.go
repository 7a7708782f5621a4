package identity

import (
	"context"

	"github.com/gestionsostenible/console-core/internal/role"
)

// UserIdentity is the authenticated principal as reported by the provider.
type UserIdentity struct {
	UID           string `json:"uid"`
	Email         string `json:"email,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
	PhoneNumber   string `json:"phoneNumber,omitempty"`
	EmailVerified bool   `json:"emailVerified"`
}

// Organization is the org metadata embedded in a profile.
type Organization struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Slug      string `json:"slug,omitempty"`
	IsDefault bool   `json:"isDefault,omitempty"`
}

// Profile mirrors the backend profile document. The backend is the source
// of truth; the local copy is a read-through cache fed by a Watcher.
type Profile struct {
	UID              string            `json:"uid"`
	Email            string            `json:"email,omitempty"`
	Role             string            `json:"role,omitempty"`
	DisplayName      string            `json:"displayName,omitempty"`
	OrganizationID   string            `json:"organizationId,omitempty"`
	OrganizationName string            `json:"organizationName,omitempty"`
	Organization     *Organization     `json:"organization,omitempty"`
	Theme            map[string]string `json:"theme,omitempty"`
	TwoFactorEnabled bool              `json:"twoFactorEnabled,omitempty"`
	Phone            string            `json:"phone,omitempty"`
	PhoneVerified    bool              `json:"phoneVerified,omitempty"`
	UpdatedAt        int64             `json:"updatedAt,omitempty"`
}

// ResolveRole normalizes the profile's raw role, honoring email overrides.
func (p *Profile) ResolveRole() role.Role {
	if p == nil {
		return role.RoleGuest
	}
	return role.Normalize(role.FromProfile(p.Role, p.Email))
}

// EventKind discriminates provider events.
type EventKind string

// Provider event kinds.
const (
	EventSignedIn  EventKind = "signed-in"
	EventSignedOut EventKind = "signed-out"
)

// Event is an identity state change emitted by the provider.
type Event struct {
	Kind EventKind
	User *UserIdentity // nil for EventSignedOut
}

// Provider is the identity backend boundary. Implementations deliver an
// initial event reflecting current state to each new Events subscriber.
type Provider interface {
	// SignIn authenticates with email and password. Errors are already
	// translated to user-facing messages (see DescribeAuthError).
	SignIn(ctx context.Context, email, password string) (*UserIdentity, error)

	// SignOut terminates the current session.
	SignOut(ctx context.Context) error

	// Events returns the identity change stream and a cancel function.
	Events() (<-chan Event, func())

	// IDToken returns a fresh access token for the current user.
	IDToken(ctx context.Context) (string, error)
}

// Watcher is a live profile subscription. Watch delivers the current profile
// and every subsequent change until cancelled; delivery order is not
// guaranteed to match mutation order, receivers reconcile via UpdatedAt.
type Watcher interface {
	Watch(ctx context.Context, uid string) (<-chan *Profile, func(), error)
}
