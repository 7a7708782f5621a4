package securestore

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/gestionsostenible/console-core/internal/infrastructure/config"
	"github.com/gestionsostenible/console-core/internal/infrastructure/logging"
)

// ChangeEvent describes a mutation of a watched key. It is delivered to
// Watch subscribers after the write has committed.
type ChangeEvent struct {
	Key     string
	Value   string
	Deleted bool
}

// watcherBuffer is the channel depth for watch subscribers. Slow consumers
// lose intermediate events rather than blocking writers.
const watcherBuffer = 8

// Store is an obfuscated key/value store over the local_store table.
//
// All operations degrade silently: storage failures are logged and absorbed,
// callers observe a no-op or a cache miss. Values round-trip through the XOR
// cipher, so the database file only ever contains base64 noise.
type Store struct {
	db     *sql.DB
	cipher *cipher
	logger *logging.Logger

	mu       sync.Mutex
	watchers map[string]map[int]chan ChangeEvent
	nextID   int
}

// New creates a store using the given database handle and store settings.
func New(db *sql.DB, cfg config.StoreConfig, logger *logging.Logger) *Store {
	return &Store{
		db:       db,
		cipher:   newCipher(cfg.Secret, cfg.Fingerprint),
		logger:   logger,
		watchers: make(map[string]map[int]chan ChangeEvent),
	}
}

// Persist writes a value under key, replacing any previous value.
// Failures are logged and swallowed; watchers are only notified on success.
func (s *Store) Persist(ctx context.Context, key, value string) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO local_store (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, s.cipher.encode(value), now)
	if err != nil {
		s.logger.Warn("local store write failed", "key", key, "error", err)
		return
	}
	s.notify(ChangeEvent{Key: key, Value: value})
}

// Read returns the value stored under key. A storage error or a value that
// no longer decodes (secret or fingerprint changed) reports a miss.
func (s *Store) Read(ctx context.Context, key string) (string, bool) {
	var encoded string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM local_store WHERE key = ?`, key,
	).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		s.logger.Warn("local store read failed", "key", key, "error", err)
		return "", false
	}

	value, err := s.cipher.decode(encoded)
	if err != nil {
		s.logger.Warn("local store value unreadable, treating as miss", "key", key, "error", err)
		return "", false
	}
	return value, true
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM local_store WHERE key = ?`, key)
	if err != nil {
		s.logger.Warn("local store delete failed", "key", key, "error", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.notify(ChangeEvent{Key: key, Deleted: true})
	}
}

// Watch subscribes to mutations of a single key. It returns a receive
// channel and a cancel function; cancel closes the channel and releases the
// subscription. Events are dropped, not queued, when the subscriber falls
// more than watcherBuffer events behind.
func (s *Store) Watch(key string) (<-chan ChangeEvent, func()) {
	ch := make(chan ChangeEvent, watcherBuffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.watchers[key] == nil {
		s.watchers[key] = make(map[int]chan ChangeEvent)
	}
	s.watchers[key][id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs, ok := s.watchers[key]
		if !ok {
			return
		}
		if sub, ok := subs[id]; ok {
			delete(subs, id)
			close(sub)
		}
		if len(subs) == 0 {
			delete(s.watchers, key)
		}
	}
	return ch, cancel
}

// notify fans an event out to the key's watchers without blocking.
func (s *Store) notify(ev ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers[ev.Key] {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind, drop the event.
		}
	}
}
