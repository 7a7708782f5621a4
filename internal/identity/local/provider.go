package local

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gestionsostenible/console-core/internal/identity"
	"github.com/gestionsostenible/console-core/internal/infrastructure/config"
	"github.com/gestionsostenible/console-core/internal/infrastructure/logging"
	"github.com/gestionsostenible/console-core/internal/role"
)

// eventBuffer is the channel depth per identity event subscriber.
const eventBuffer = 4

// credentialKey is the store key holding the signed-in uid across restarts.
const credentialKey = "console.identity"

// CredentialCache persists the signed-in uid so a restarted process can
// confirm a cached session instead of revoking it. Satisfied by
// securestore.Store.
type CredentialCache interface {
	Read(ctx context.Context, key string) (string, bool)
	Persist(ctx context.Context, key, value string)
	Delete(ctx context.Context, key string)
}

// Provider implements identity.Provider against the local user store.
type Provider struct {
	users   *UserStore
	limiter *identity.Limiter
	creds   CredentialCache
	secCfg  config.SecurityConfig
	logger  *logging.Logger

	mu          sync.Mutex
	current     *identity.UserIdentity
	subscribers map[int]chan identity.Event
	nextID      int
}

// NewProvider builds the local identity provider. creds may be nil, in
// which case sign-ins do not survive a restart.
func NewProvider(users *UserStore, limiter *identity.Limiter, creds CredentialCache, secCfg config.SecurityConfig, logger *logging.Logger) *Provider {
	return &Provider{
		users:       users,
		limiter:     limiter,
		creds:       creds,
		secCfg:      secCfg,
		logger:      logger,
		subscribers: make(map[int]chan identity.Event),
	}
}

// Restore rehydrates the identity persisted by a previous run, so the
// initial Events() emission reflects it rather than revoking the cached
// session. A uid that no longer resolves to an active user clears the
// persisted credential. Call before any Events() subscriber starts.
func (p *Provider) Restore(ctx context.Context) {
	if p.creds == nil {
		return
	}
	uid, ok := p.creds.Read(ctx, credentialKey)
	if !ok || uid == "" {
		return
	}

	user, err := p.users.GetByUID(ctx, uid)
	if err != nil || !user.IsActive {
		p.logger.Info("persisted identity no longer valid, discarding", "uid", uid)
		p.creds.Delete(ctx, credentialKey)
		return
	}

	p.mu.Lock()
	p.current = &identity.UserIdentity{
		UID:           user.UID,
		Email:         user.Email,
		DisplayName:   user.DisplayName,
		EmailVerified: true,
	}
	p.mu.Unlock()
	p.logger.Info("identity restored from previous run", "uid", user.UID)
}

// SignIn authenticates with email and password. Input is validated and
// rate-limited before the store is touched; failures come back as sentinel
// errors ready for DescribeAuthError.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*identity.UserIdentity, error) {
	safeEmail, err := identity.SanitizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := p.limiter.Allow("login:" + safeEmail); err != nil {
		return nil, err
	}

	user, err := p.users.GetByEmail(ctx, safeEmail)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, identity.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %w", identity.ErrBackendUnavailable, err)
	}
	if !user.IsActive {
		return nil, identity.ErrInvalidCredentials
	}

	match, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		p.logger.Warn("password hash unreadable", "uid", user.UID, "error", err)
		return nil, identity.ErrInvalidCredentials
	}
	if !match {
		return nil, identity.ErrInvalidCredentials
	}

	p.limiter.Reset("login:" + safeEmail)

	signedIn := &identity.UserIdentity{
		UID:           user.UID,
		Email:         user.Email,
		DisplayName:   user.DisplayName,
		EmailVerified: true,
	}

	p.mu.Lock()
	p.current = signedIn
	p.mu.Unlock()
	if p.creds != nil {
		p.creds.Persist(ctx, credentialKey, signedIn.UID)
	}
	p.emit(identity.Event{Kind: identity.EventSignedIn, User: signedIn})

	return signedIn, nil
}

// SignOut clears the current identity, including the persisted copy, and
// notifies subscribers.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	wasSignedIn := p.current != nil
	p.current = nil
	p.mu.Unlock()

	if p.creds != nil {
		p.creds.Delete(ctx, credentialKey)
	}
	if wasSignedIn {
		p.emit(identity.Event{Kind: identity.EventSignedOut})
	}
	return nil
}

// Current returns the signed-in identity, or nil.
func (p *Provider) Current() *identity.UserIdentity {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	u := *p.current
	return &u
}

// Events subscribes to identity changes. The subscriber immediately
// receives an event reflecting the current state, then every transition
// until cancelled.
func (p *Provider) Events() (<-chan identity.Event, func()) {
	ch := make(chan identity.Event, eventBuffer)

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subscribers[id] = ch
	if p.current != nil {
		u := *p.current
		ch <- identity.Event{Kind: identity.EventSignedIn, User: &u}
	} else {
		ch <- identity.Event{Kind: identity.EventSignedOut}
	}
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if sub, ok := p.subscribers[id]; ok {
			delete(p.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// IDToken issues a signed access token for the current user. The role is
// re-resolved from the user record at issuance time.
func (p *Provider) IDToken(ctx context.Context) (string, error) {
	current := p.Current()
	if current == nil {
		return "", identity.ErrNoActiveSession
	}

	user, err := p.users.GetByUID(ctx, current.UID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", identity.ErrBackendUnavailable, err)
	}

	r := role.Normalize(role.FromProfile(user.Role, user.Email))
	return identity.GenerateAccessToken(current, r, user.OrganizationID,
		p.secCfg.JWT.Secret, p.secCfg.JWT.AccessTokenTTL)
}

func (p *Provider) emit(ev identity.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subscribers {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind, drop the event.
		}
	}
}
