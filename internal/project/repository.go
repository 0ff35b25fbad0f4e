package project

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oakline-systems/researchportal/internal/auth"
)

// projectColumns is the column list shared by every project query.
const projectColumns = `id, code, title, status, head_user_id, created_at, updated_at`

// Repository defines the interface for project persistence.
//
// List takes the caller's visibility filter and ANDs it onto the query;
// a nil filter means unrestricted access.
type Repository interface {
	Create(ctx context.Context, p *Project) error
	GetByID(ctx context.Context, id string) (*Project, error)
	GetByCode(ctx context.Context, code string) (*Project, error)
	List(ctx context.Context, filter *auth.ProjectFilter) ([]Project, error)
	Update(ctx context.Context, p *Project) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewRepository creates a new SQLite-backed project repository.
func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new project. The ID is generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, p *Project) error {
	if p.ID == "" {
		p.ID = "prj-" + uuid.NewString()[:8]
	}
	if p.Status == "" {
		p.Status = StatusDraft
	}
	if !IsValidStatus(p.Status) {
		return ErrInvalidStatus
	}

	now := time.Now().UTC().Format(time.RFC3339)
	p.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	p.UpdatedAt = p.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO projects (id, code, title, status, head_user_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Code, p.Title, p.Status, p.HeadUserID, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrCodeExists
		}
		return fmt.Errorf("creating project: %w", err)
	}

	return nil
}

// GetByID retrieves a project by its unique ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Project, error) {
	return r.getProject(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id)
}

// GetByCode retrieves a project by its unique code.
func (r *SQLiteRepository) GetByCode(ctx context.Context, code string) (*Project, error) {
	return r.getProject(ctx, "SELECT "+projectColumns+" FROM projects WHERE code = ?", code)
}

// List returns the projects visible through the filter, ordered by code.
// The filter's populated terms are ORed together: a row matches if it is
// headed by the filter's user, has the requested membership, or is in one
// of the listed statuses.
func (r *SQLiteRepository) List(ctx context.Context, filter *auth.ProjectFilter) ([]Project, error) {
	if filter != nil && filter.MatchNothing {
		return []Project{}, nil
	}

	query := "SELECT " + projectColumns + " FROM projects"
	var args []any

	if filter != nil {
		var terms []string

		if filter.HeadUserID != "" {
			terms = append(terms, "head_user_id = ?")
			args = append(args, filter.HeadUserID)
		}
		if filter.ActiveStaffUserID != "" {
			terms = append(terms,
				"EXISTS (SELECT 1 FROM project_memberships m WHERE m.project_id = projects.id AND m.user_id = ? AND m.is_active = 1)")
			args = append(args, filter.ActiveStaffUserID)
		}
		if filter.AnyStaffUserID != "" {
			terms = append(terms,
				"EXISTS (SELECT 1 FROM project_memberships m WHERE m.project_id = projects.id AND m.user_id = ?)")
			args = append(args, filter.AnyStaffUserID)
		}
		if len(filter.Statuses) > 0 {
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(filter.Statuses)), ", ")
			terms = append(terms, "status IN ("+placeholders+")")
			for _, s := range filter.Statuses {
				args = append(args, s)
			}
		}

		if len(terms) == 0 {
			// A non-nil filter with no terms grants nothing.
			return []Project{}, nil
		}
		query += " WHERE " + strings.Join(terms, " OR ")
	}

	query += " ORDER BY code ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		p, err := scanProjectFrom(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating projects: %w", err)
	}

	if projects == nil {
		projects = []Project{}
	}
	return projects, nil
}

// Update modifies a project's mutable fields (title, status, head).
func (r *SQLiteRepository) Update(ctx context.Context, p *Project) error {
	if !IsValidStatus(p.Status) {
		return ErrInvalidStatus
	}

	now := time.Now().UTC().Format(time.RFC3339)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	result, err := r.db.ExecContext(ctx,
		`UPDATE projects SET title = ?, status = ?, head_user_id = ?, updated_at = ? WHERE id = ?`,
		p.Title, p.Status, p.HeadUserID, now, p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating project: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// getProject executes a query and scans a single project result.
func (r *SQLiteRepository) getProject(ctx context.Context, query string, args ...any) (*Project, error) {
	return scanProjectFrom(r.db.QueryRowContext(ctx, query, args...))
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

// scanProjectFrom scans a project from any scanner (Row or Rows).
func scanProjectFrom(s scanner) (*Project, error) {
	var p Project
	var createdAt, updatedAt string

	err := s.Scan(&p.ID, &p.Code, &p.Title, &p.Status, &p.HeadUserID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("scanning project: %w", err)
	}

	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	return &p, nil
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
