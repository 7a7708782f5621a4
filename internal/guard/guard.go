package guard

import (
	"context"
	"sync"
	"time"

	"github.com/gestionsostenible/console-core/internal/audit"
	"github.com/gestionsostenible/console-core/internal/infrastructure/logging"
	"github.com/gestionsostenible/console-core/internal/role"
	"github.com/gestionsostenible/console-core/internal/session"
)

// Decision is the outcome of a guard evaluation.
type Decision string

// Guard decisions.
const (
	// DecisionPending means the session is still resolving and the shell
	// should keep waiting.
	DecisionPending Decision = "pending"

	// DecisionSignedOut means no session exists; redirect to login.
	DecisionSignedOut Decision = "signed-out"

	// DecisionDenied means the session exists but lacks the required
	// access.
	DecisionDenied Decision = "denied"

	// DecisionAllowed grants access.
	DecisionAllowed Decision = "allowed"
)

// Defaults for shell directives.
const (
	defaultLoginPath     = "/login"
	defaultHomePath      = "/"
	defaultRedirectDelay = 1500 * time.Millisecond
	stateBuffer          = 8
)

// Options configure what a surface requires.
type Options struct {
	// Module is the module key to check; empty means any signed-in
	// session is enough.
	Module string

	// Level is the required permission on Module; empty means read.
	Level role.PermissionLevel

	// Roles is an explicit allow-list; empty means any role passes the
	// module check.
	Roles []role.Role

	// AllowDemo admits demo sessions subject to the same checks.
	AllowDemo bool

	// LoginPath overrides the signed-out redirect target.
	LoginPath string

	// HomePath overrides the denied redirect target.
	HomePath string
}

// State is one guard emission: the decision plus the directives the shell
// acts on.
type State struct {
	Decision Decision      `json:"decision"`
	Session  session.State `json:"session"`

	// Redirect is where to send the user; empty means stay.
	Redirect string `json:"redirect,omitempty"`

	// RedirectAfter delays the redirect so the overlay can be read.
	RedirectAfter time.Duration `json:"redirectAfter,omitempty"`

	// ShowOverlay asks the shell to block interaction while redirecting.
	ShowOverlay bool `json:"showOverlay,omitempty"`

	// Reason is a short machine-readable denial cause.
	Reason string `json:"reason,omitempty"`
}

// DenialSink receives guard denials for usage telemetry.
type DenialSink interface {
	GuardDenied(ctx context.Context, uid, module string, r role.Role)
}

// Guard evaluates session snapshots against per-surface requirements.
type Guard struct {
	sessions *session.Engine
	recorder *audit.Recorder
	sink     DenialSink // may be nil
	logger   *logging.Logger
}

// New wires the guard. sink may be nil when telemetry is disabled.
func New(sessions *session.Engine, recorder *audit.Recorder, sink DenialSink, logger *logging.Logger) *Guard {
	return &Guard{sessions: sessions, recorder: recorder, sink: sink, logger: logger}
}

// Check evaluates the latest session snapshot once.
func (g *Guard) Check(ctx context.Context, opts Options) State {
	return g.evaluate(ctx, opts, g.sessions.Current(), nil)
}

// RequireLogin subscribes to the session stream and emits a decision for
// every snapshot, deduplicating consecutive identical decisions. The
// returned cancel releases the subscription and closes the channel.
func (g *Guard) RequireLogin(ctx context.Context, opts Options) (<-chan State, func()) {
	out := make(chan State, stateBuffer)

	var mu sync.Mutex
	var last *Decision
	unsubscribe := g.sessions.Subscribe(func(s session.State) {
		mu.Lock()
		defer mu.Unlock()
		state := g.evaluate(ctx, opts, s, last)
		if last != nil && *last == state.Decision {
			return
		}
		d := state.Decision
		last = &d
		select {
		case out <- state:
		default:
			g.logger.Warn("guard subscriber lagging, decision dropped", "decision", state.Decision)
		}
	})

	cancelled := false
	return out, func() {
		if cancelled {
			return
		}
		cancelled = true
		unsubscribe()
		close(out)
	}
}

func (g *Guard) evaluate(ctx context.Context, opts Options, s session.State, last *Decision) State {
	out := State{Session: s}

	switch s.Status {
	case session.StatusInitial:
		out.Decision = DecisionPending
		return out
	case session.StatusRestoring:
		// A cached identity is shown provisionally; an empty restore is
		// still pending.
		if s.User == nil {
			out.Decision = DecisionPending
			return out
		}
	case session.StatusSignedOut:
		out.Decision = DecisionSignedOut
		out.Redirect = pathOr(opts.LoginPath, defaultLoginPath)
		out.RedirectAfter = defaultRedirectDelay
		out.ShowOverlay = true
		return out
	case session.StatusDemo:
		if !opts.AllowDemo {
			return g.deny(ctx, opts, s, last, "demo-not-allowed")
		}
	}

	if len(opts.Roles) > 0 && !containsRole(opts.Roles, s.Role) {
		return g.deny(ctx, opts, s, last, "role-not-allowed")
	}
	if opts.Module != "" {
		level := opts.Level
		if level == "" {
			level = role.PermissionRead
		}
		if !s.Abilities.HasModulePermission(opts.Module, level) {
			return g.deny(ctx, opts, s, last, "module-permission")
		}
	}

	out.Decision = DecisionAllowed
	return out
}

func (g *Guard) deny(ctx context.Context, opts Options, s session.State, last *Decision, reason string) State {
	out := State{
		Decision:      DecisionDenied,
		Session:       s,
		Redirect:      pathOr(opts.HomePath, defaultHomePath),
		RedirectAfter: defaultRedirectDelay,
		ShowOverlay:   true,
		Reason:        reason,
	}

	// Audit the transition into denied, not every re-emission.
	if last != nil && *last == DecisionDenied {
		return out
	}
	uid := ""
	email := ""
	if s.User != nil {
		uid = s.User.UID
		email = s.User.Email
	}
	g.recorder.Log(ctx, audit.Event{
		UID:         uid,
		Email:       email,
		Event:       audit.EventGuardDenied,
		ContextRole: string(s.Role),
		Meta:        map[string]any{"module": opts.Module, "reason": reason},
	})
	if g.sink != nil {
		g.sink.GuardDenied(ctx, uid, opts.Module, s.Role)
	}
	return out
}

func pathOr(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func containsRole(roles []role.Role, r role.Role) bool {
	for _, candidate := range roles {
		if candidate == r {
			return true
		}
	}
	return false
}
