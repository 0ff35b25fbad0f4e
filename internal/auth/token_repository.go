package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionRepository defines the interface for refresh session persistence.
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	Rotate(ctx context.Context, oldHash string, replacement *Session) error
	Delete(ctx context.Context, tokenHash string) error
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	ListByUser(ctx context.Context, userID string) ([]Session, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// SQLiteSessionRepository implements SessionRepository using SQLite.
type SQLiteSessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SQLite-backed session repository.
func NewSessionRepository(db *sql.DB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db}
}

// Create inserts a new session. The ID is generated if empty.
func (r *SQLiteSessionRepository) Create(ctx context.Context, session *Session) error {
	if session.ID == "" {
		session.ID = "ses-" + uuid.NewString()[:16]
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, token_hash, issued_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.TokenHash,
		session.IssuedAt.UTC().Format(time.RFC3339),
		session.ExpiresAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	return nil
}

// GetByTokenHash retrieves a session by its SHA-256 token hash.
// Returns ErrTokenInvalid if no session holds that hash.
func (r *SQLiteSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	var s Session
	var issuedAt, expiresAt string

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, issued_at, expires_at
		 FROM sessions WHERE token_hash = ?`, tokenHash,
	).Scan(&s.ID, &s.UserID, &s.TokenHash, &issuedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("getting session by hash: %w", err)
	}

	s.IssuedAt, _ = time.Parse(time.RFC3339, issuedAt)   //nolint:errcheck // format is controlled
	s.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled

	return &s, nil
}

// Rotate atomically consumes the old session and creates its replacement.
//
// The consume is a compare-and-delete: DELETE by token hash, then check
// RowsAffected. Under concurrent refreshes with the same token exactly one
// transaction deletes the row; every other caller sees zero rows and gets
// ErrTokenReused. The replacement row is only inserted by the winner.
func (r *SQLiteSessionRepository) Rotate(ctx context.Context, oldHash string, replacement *Session) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning rotation transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	result, err := tx.ExecContext(ctx,
		"DELETE FROM sessions WHERE token_hash = ?", oldHash)
	if err != nil {
		return fmt.Errorf("consuming old session: %w", err)
	}

	affected, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if affected == 0 {
		return ErrTokenReused
	}

	if replacement.ID == "" {
		replacement.ID = "ses-" + uuid.NewString()[:16]
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, token_hash, issued_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		replacement.ID, replacement.UserID, replacement.TokenHash,
		replacement.IssuedAt.UTC().Format(time.RFC3339),
		replacement.ExpiresAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("creating replacement session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rotation: %w", err)
	}
	return nil
}

// Delete removes a single session by token hash. Used on logout.
// Deleting a session that no longer exists is not an error.
func (r *SQLiteSessionRepository) Delete(ctx context.Context, tokenHash string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE token_hash = ?", tokenHash)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteAllForUser removes every session for a user.
// Used on password change, logout-everywhere and reuse detection.
// Returns the number of deleted rows.
func (r *SQLiteSessionRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("deleting sessions for user: %w", err)
	}

	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

// ListByUser returns all sessions for a user, newest first.
func (r *SQLiteSessionRepository) ListByUser(ctx context.Context, userID string) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, token_hash, issued_at, expires_at
		 FROM sessions
		 WHERE user_id = ?
		 ORDER BY issued_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var issuedAt, expiresAt string

		if err := rows.Scan(&s.ID, &s.UserID, &s.TokenHash, &issuedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}

		s.IssuedAt, _ = time.Parse(time.RFC3339, issuedAt)   //nolint:errcheck // format is controlled
		s.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled

		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}

	if sessions == nil {
		sessions = []Session{}
	}
	return sessions, nil
}

// DeleteExpired removes sessions past their expiry, freeing storage.
// Returns the number of deleted rows.
func (r *SQLiteSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}

	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}
