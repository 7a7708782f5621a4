package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gestionsostenible/console-core/internal/identity"
)

// ErrProfileNotFound is returned when no profile document exists for a uid.
var ErrProfileNotFound = errors.New("profile not found")

// watchBuffer is the channel depth per profile watcher.
const watchBuffer = 4

// ProfileStore persists profile documents and implements identity.Watcher:
// every successful Put is pushed to the uid's active watchers.
type ProfileStore struct {
	db *sql.DB

	mu       sync.Mutex
	watchers map[string]map[int]chan *identity.Profile
	nextID   int
}

// NewProfileStore creates a SQLite-backed profile store.
func NewProfileStore(db *sql.DB) *ProfileStore {
	return &ProfileStore{
		db:       db,
		watchers: make(map[string]map[int]chan *identity.Profile),
	}
}

// Get loads the profile document for a uid.
func (s *ProfileStore) Get(ctx context.Context, uid string) (*identity.Profile, error) {
	var document string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM profiles WHERE uid = ?`, uid,
	).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}

	var profile identity.Profile
	if err := json.Unmarshal([]byte(document), &profile); err != nil {
		return nil, fmt.Errorf("decoding profile: %w", err)
	}
	profile.UID = uid
	return &profile, nil
}

// Put upserts a profile document and notifies the uid's watchers.
// UpdatedAt is stamped when the caller left it unset.
func (s *ProfileStore) Put(ctx context.Context, profile *identity.Profile) error {
	if profile == nil || profile.UID == "" {
		return errors.New("profile requires a uid")
	}
	if profile.UpdatedAt == 0 {
		profile.UpdatedAt = time.Now().UnixMilli()
	}

	document, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (uid, document, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at
	`, profile.UID, string(document), now)
	if err != nil {
		return fmt.Errorf("storing profile: %w", err)
	}

	s.notify(profile)
	return nil
}

// Delete removes a profile document. Absent rows are not an error.
func (s *ProfileStore) Delete(ctx context.Context, uid string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE uid = ?`, uid); err != nil {
		return fmt.Errorf("deleting profile: %w", err)
	}
	return nil
}

// Watch subscribes to a uid's profile. The current document (when one
// exists) is delivered immediately, then every subsequent Put until cancel.
func (s *ProfileStore) Watch(ctx context.Context, uid string) (<-chan *identity.Profile, func(), error) {
	ch := make(chan *identity.Profile, watchBuffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.watchers[uid] == nil {
		s.watchers[uid] = make(map[int]chan *identity.Profile)
	}
	s.watchers[uid][id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs, ok := s.watchers[uid]
		if !ok {
			return
		}
		if sub, ok := subs[id]; ok {
			delete(subs, id)
			close(sub)
		}
		if len(subs) == 0 {
			delete(s.watchers, uid)
		}
	}

	current, err := s.Get(ctx, uid)
	if err != nil && !errors.Is(err, ErrProfileNotFound) {
		cancel()
		return nil, nil, err
	}
	if current != nil {
		ch <- current
	}

	return ch, cancel, nil
}

func (s *ProfileStore) notify(profile *identity.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers[profile.UID] {
		snapshot := *profile
		select {
		case ch <- &snapshot:
		default:
			// Watcher is behind, drop the snapshot; the next write will
			// carry newer state anyway.
		}
	}
}
