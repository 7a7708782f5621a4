package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the user store.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailExists  = errors.New("email already registered")
)

// User is an account row in the users table.
type User struct {
	UID            string
	Email          string
	DisplayName    string
	PasswordHash   string
	Role           string
	OrganizationID string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UserStore persists accounts in SQLite.
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a SQLite-backed user store.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

const userColumns = "uid, email, display_name, password_hash, role, organization_id, is_active, created_at, updated_at"

// Create inserts a new account. The UID is generated if empty.
func (s *UserStore) Create(ctx context.Context, user *User) error {
	if user.UID == "" {
		user.UID = "usr-" + uuid.NewString()[:8]
	}

	now := time.Now().UTC().Format(time.RFC3339)
	user.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	user.UpdatedAt = user.CreatedAt

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (uid, email, display_name, password_hash, role, organization_id, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.UID, user.Email, user.DisplayName, user.PasswordHash,
		user.Role, nullString(user.OrganizationID), boolToInt(user.IsActive), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetByUID retrieves an account by its unique ID.
func (s *UserStore) GetByUID(ctx context.Context, uid string) (*User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE uid = ?", uid)
	return scanUser(row)
}

// GetByEmail retrieves an account by email. Emails are stored lowercased.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", strings.ToLower(email))
	return scanUser(row)
}

// UpdatePassword changes an account's password hash.
func (s *UserStore) UpdatePassword(ctx context.Context, uid, passwordHash string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE uid = ?`,
		passwordHash, now, uid,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Delete removes an account by UID.
func (s *UserStore) Delete(ctx context.Context, uid string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE uid = ?", uid)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Count returns the total number of accounts.
func (s *UserStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var orgID sql.NullString
	var isActive int
	var createdAt, updatedAt string

	err := row.Scan(&u.UID, &u.Email, &u.DisplayName, &u.PasswordHash,
		&u.Role, &orgID, &isActive, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.IsActive = isActive != 0
	if orgID.Valid {
		u.OrganizationID = orgID.String
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	return &u, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "unique constraint"))
}
