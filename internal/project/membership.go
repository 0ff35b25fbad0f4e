package project

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MembershipRepository manages project staff assignments. It implements
// the auth package's MembershipLookup, so the detail-access check reads
// memberships through it.
type MembershipRepository interface {
	Add(ctx context.Context, m *Membership) error
	Remove(ctx context.Context, projectID, userID string) error
	SetActive(ctx context.Context, projectID, userID string, active bool) error
	ListByProject(ctx context.Context, projectID string) ([]Membership, error)

	IsHead(ctx context.Context, projectID, userID string) (bool, error)
	IsStaff(ctx context.Context, projectID, userID string, activeOnly bool) (bool, error)
}

// SQLiteMembershipRepository implements MembershipRepository using SQLite.
type SQLiteMembershipRepository struct {
	db *sql.DB
}

// NewMembershipRepository creates a new SQLite-backed membership repository.
func NewMembershipRepository(db *sql.DB) *SQLiteMembershipRepository {
	return &SQLiteMembershipRepository{db: db}
}

// Add inserts a membership. Each user holds at most one membership per
// project.
func (r *SQLiteMembershipRepository) Add(ctx context.Context, m *Membership) error {
	if m.RoleOnProject == "" {
		m.RoleOnProject = MemberRoleStaff
	}

	now := time.Now().UTC().Format(time.RFC3339)
	m.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO project_memberships (project_id, user_id, role_on_project, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		m.ProjectID, m.UserID, m.RoleOnProject, boolToInt(m.IsActive), now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrMemberExists
		}
		return fmt.Errorf("adding membership: %w", err)
	}

	return nil
}

// Remove deletes a membership outright. Prefer SetActive(false) when the
// assignment history should be kept.
func (r *SQLiteMembershipRepository) Remove(ctx context.Context, projectID, userID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM project_memberships WHERE project_id = ? AND user_id = ?`,
		projectID, userID,
	)
	if err != nil {
		return fmt.Errorf("removing membership: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// SetActive toggles a membership without losing the assignment record.
func (r *SQLiteMembershipRepository) SetActive(ctx context.Context, projectID, userID string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE project_memberships SET is_active = ? WHERE project_id = ? AND user_id = ?`,
		boolToInt(active), projectID, userID,
	)
	if err != nil {
		return fmt.Errorf("updating membership: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// ListByProject returns every membership on a project, active or not.
func (r *SQLiteMembershipRepository) ListByProject(ctx context.Context, projectID string) ([]Membership, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT project_id, user_id, role_on_project, is_active, created_at
		 FROM project_memberships WHERE project_id = ? ORDER BY created_at ASC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	defer rows.Close()

	var members []Membership
	for rows.Next() {
		var m Membership
		var isActive int
		var createdAt string

		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.RoleOnProject, &isActive, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}

		m.IsActive = isActive != 0
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled

		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memberships: %w", err)
	}

	if members == nil {
		members = []Membership{}
	}
	return members, nil
}

// IsHead reports whether the user heads the project.
func (r *SQLiteMembershipRepository) IsHead(ctx context.Context, projectID, userID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM projects WHERE id = ? AND head_user_id = ?`,
		projectID, userID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking project head: %w", err)
	}
	return count > 0, nil
}

// IsStaff reports whether the user holds a membership on the project.
// With activeOnly set, inactive memberships do not count.
func (r *SQLiteMembershipRepository) IsStaff(ctx context.Context, projectID, userID string, activeOnly bool) (bool, error) {
	query := `SELECT COUNT(*) FROM project_memberships WHERE project_id = ? AND user_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, projectID, userID).Scan(&count); err != nil {
		return false, fmt.Errorf("checking project staff: %w", err)
	}
	return count > 0, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
