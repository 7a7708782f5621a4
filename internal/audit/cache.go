package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultCacheLimit is the per-uid ring size when none is configured.
const DefaultCacheLimit = 40

// Cache is the local bounded audit store over the audit_cache table.
// Each uid keeps at most limit entries; inserting beyond that evicts the
// oldest rows.
type Cache struct {
	db    *sql.DB
	limit int
}

// NewCache creates the ring cache. A non-positive limit falls back to
// DefaultCacheLimit.
func NewCache(db *sql.DB, limit int) *Cache {
	if limit <= 0 {
		limit = DefaultCacheLimit
	}
	return &Cache{db: db, limit: limit}
}

// Insert stores an event and evicts the uid's oldest entries beyond the
// ring limit. The ID and timestamps are generated if empty.
func (c *Cache) Insert(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = "aud-" + uuid.NewString()[:8]
	}
	now := time.Now().UTC()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = ev.CreatedAt
	}

	var metaJSON, actorJSON any
	if len(ev.Meta) > 0 {
		b, err := json.Marshal(ev.Meta)
		if err != nil {
			return fmt.Errorf("marshalling audit meta: %w", err)
		}
		metaJSON = string(b)
	}
	if ev.Actor != nil {
		b, err := json.Marshal(ev.Actor)
		if err != nil {
			return fmt.Errorf("marshalling audit actor: %w", err)
		}
		actorJSON = string(b)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting audit transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_cache (id, uid, email, event, meta, actor, context_role, organization_id, occurred_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UID, nullableString(ev.Email), ev.Event,
		metaJSON, actorJSON,
		nullableString(ev.ContextRole), nullableString(ev.OrganizationID),
		ev.OccurredAt.Format(time.RFC3339), ev.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	// Evict beyond the ring limit, oldest first.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM audit_cache
		WHERE uid = ? AND id NOT IN (
			SELECT id FROM audit_cache
			WHERE uid = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)`, ev.UID, ev.UID, c.limit)
	if err != nil {
		return fmt.Errorf("evicting audit entries: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing audit entry: %w", err)
	}
	return nil
}

// ListByUID returns a user's cached events, most recent first. A limit of
// zero or less means the full ring.
func (c *Cache) ListByUID(ctx context.Context, uid string, limit int) ([]Event, error) {
	if limit <= 0 || limit > c.limit {
		limit = c.limit
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, uid, email, event, meta, actor, context_role, organization_id, occurred_at, created_at
		FROM audit_cache
		WHERE uid = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, uid, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit cache: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit cache: %w", err)
	}

	if events == nil {
		events = []Event{}
	}
	return events, nil
}

// Clear drops a user's cached events, used when the user is deleted.
func (c *Cache) Clear(ctx context.Context, uid string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM audit_cache WHERE uid = ?`, uid); err != nil {
		return fmt.Errorf("clearing audit cache: %w", err)
	}
	return nil
}

func scanEvent(rows *sql.Rows) (*Event, error) {
	var ev Event
	var email, metaJSON, actorJSON, contextRole, organizationID sql.NullString
	var occurredAt, createdAt string

	err := rows.Scan(&ev.ID, &ev.UID, &email, &ev.Event,
		&metaJSON, &actorJSON, &contextRole, &organizationID,
		&occurredAt, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("scanning audit entry: %w", err)
	}

	if email.Valid {
		ev.Email = email.String
	}
	if contextRole.Valid {
		ev.ContextRole = contextRole.String
	}
	if organizationID.Valid {
		ev.OrganizationID = organizationID.String
	}
	if metaJSON.Valid && metaJSON.String != "" {
		var meta map[string]any
		if json.Unmarshal([]byte(metaJSON.String), &meta) == nil {
			ev.Meta = meta
		}
	}
	if actorJSON.Valid && actorJSON.String != "" {
		var actor Actor
		if json.Unmarshal([]byte(actorJSON.String), &actor) == nil {
			ev.Actor = &actor
		}
	}

	ev.OccurredAt, _ = time.Parse(time.RFC3339, occurredAt) //nolint:errcheck // format is controlled
	ev.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)   //nolint:errcheck // format is controlled

	return &ev, nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
