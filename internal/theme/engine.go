package theme

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gestionsostenible/console-core/internal/infrastructure/logging"
	"github.com/gestionsostenible/console-core/internal/securestore"
)

// StorageKey is the secure store key holding the persisted theme snapshot.
const StorageKey = "console.theme"

// Options controls the side effects of an Update.
type Options struct {
	// Persist writes the resulting snapshot to the secure store and clears
	// any pending preview backup.
	Persist bool
	// Broadcast forwards the change to the cross-context publisher.
	Broadcast bool
	// Silent suppresses subscriber notification.
	Silent bool
}

// ApplyOptions are the defaults for a caller-initiated update: persist,
// broadcast, notify.
func ApplyOptions() Options {
	return Options{Persist: true, Broadcast: true}
}

// ExternalOptions are the options for applying a state received from another
// context: never persist (the origin already did), never re-broadcast.
func ExternalOptions() Options {
	return Options{}
}

// Publisher receives theme changes for cross-context distribution. A nil
// snapshot signals a reset.
type Publisher func(snapshot *Snapshot, reset bool)

// Engine owns the active theme state.
//
// All mutation flows through Update, serialized by a mutex; subscribers are
// invoked outside the lock with deep-cloned snapshots.
type Engine struct {
	store  *securestore.Store
	logger *logging.Logger

	mu            sync.Mutex
	active        Snapshot
	previewBackup *Snapshot
	publisher     Publisher
	subscribers   map[int]func(Snapshot)
	nextID        int
}

// New creates an engine, restoring the persisted snapshot when one exists
// and decodes. A corrupt snapshot falls back to defaults.
func New(ctx context.Context, store *securestore.Store, logger *logging.Logger) *Engine {
	e := &Engine{
		store:       store,
		logger:      logger,
		active:      Defaults(),
		subscribers: make(map[int]func(Snapshot)),
	}
	if raw, ok := store.Read(ctx, StorageKey); ok {
		var cached Snapshot
		if err := json.Unmarshal([]byte(raw), &cached); err != nil {
			logger.Warn("cached theme snapshot unreadable, using defaults", "error", err)
		} else {
			e.active = build(&cached)
		}
	}
	return e
}

// SetPublisher wires the cross-context publisher. Pass nil to disconnect.
func (e *Engine) SetPublisher(p Publisher) {
	e.mu.Lock()
	e.publisher = p
	e.mu.Unlock()
}

// Snapshot returns a deep clone of the active theme.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return clone(e.active)
}

// Subscribe registers a change listener. The callback fires immediately with
// the current snapshot and again after every effective change. The returned
// cancel function removes the subscription.
func (e *Engine) Subscribe(cb func(Snapshot)) func() {
	if cb == nil {
		return func() {}
	}
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subscribers[id] = cb
	current := clone(e.active)
	e.mu.Unlock()

	cb(current)

	return func() {
		e.mu.Lock()
		delete(e.subscribers, id)
		e.mu.Unlock()
	}
}

// Update merges input over the defaults and swaps the active theme.
// A nil input is a reset to defaults.
//
// If the resulting state equals the current one the call is a no-op: no
// persistence, no broadcast, no notification. This short-circuit is what
// keeps mutually-subscribed contexts from echoing updates forever.
func (e *Engine) Update(ctx context.Context, input *Snapshot, opts Options) Snapshot {
	e.mu.Lock()
	next := build(input)
	if equal(e.active, next) {
		current := clone(e.active)
		e.mu.Unlock()
		return current
	}
	e.active = next
	if opts.Persist {
		e.previewBackup = nil
	}
	snapshot := clone(e.active)
	publisher := e.publisher
	listeners := e.listenersLocked()
	e.mu.Unlock()

	if opts.Persist {
		e.persist(ctx, snapshot)
	}
	if opts.Broadcast && publisher != nil {
		if input == nil {
			publisher(nil, true)
		} else {
			snap := clone(snapshot)
			publisher(&snap, false)
		}
	}
	if !opts.Silent {
		for _, cb := range listeners {
			cb(clone(snapshot))
		}
	}
	return snapshot
}

// Reset restores the default theme, persisting and broadcasting the reset.
func (e *Engine) Reset(ctx context.Context) Snapshot {
	return e.Update(ctx, nil, ApplyOptions())
}

// Preview applies input as a transient theme. The first preview captures a
// backup of the pre-preview state; further previews replace the live state
// but keep that original backup. Preview(nil) restores the backup and clears
// it. Previews are never persisted.
func (e *Engine) Preview(ctx context.Context, input *Snapshot) Snapshot {
	if input != nil {
		sanitized := sanitize(input)
		if sanitized == nil {
			return e.Snapshot()
		}
		e.mu.Lock()
		if e.previewBackup == nil {
			backup := clone(e.active)
			e.previewBackup = &backup
		}
		base := clone(*e.previewBackup)
		e.mu.Unlock()

		merged := merge(base, sanitized)
		return e.Update(ctx, &merged, Options{Broadcast: true})
	}

	e.mu.Lock()
	backup := e.previewBackup
	e.previewBackup = nil
	e.mu.Unlock()
	if backup != nil {
		return e.Update(ctx, backup, Options{Broadcast: true})
	}
	return e.Snapshot()
}

// Previewing reports whether a preview backup is pending.
func (e *Engine) Previewing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.previewBackup != nil
}

func (e *Engine) persist(ctx context.Context, snapshot Snapshot) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		e.logger.Warn("encoding theme snapshot failed", "error", err)
		return
	}
	e.store.Persist(ctx, StorageKey, string(raw))
}

func (e *Engine) listenersLocked() []func(Snapshot) {
	out := make([]func(Snapshot), 0, len(e.subscribers))
	for _, cb := range e.subscribers {
		out = append(out, cb)
	}
	return out
}
