package project

import (
	"errors"
	"time"

	"github.com/oakline-systems/researchportal/internal/auth"
)

// Status lifecycle. Wire values match the visibility rules in the auth
// package.
const (
	StatusDraft           = auth.StatusDraft
	StatusPendingApproval = auth.StatusPendingApproval
	StatusActive          = auth.StatusActive
	StatusCompleted       = auth.StatusCompleted
	StatusArchived        = auth.StatusArchived
)

// ValidStatuses is the closed set of project statuses.
var ValidStatuses = []string{
	StatusDraft,
	StatusPendingApproval,
	StatusActive,
	StatusCompleted,
	StatusArchived,
}

// IsValidStatus reports whether s is a known project status.
func IsValidStatus(s string) bool {
	for _, v := range ValidStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Membership roles on a project.
const (
	MemberRoleStaff = "STAFF"
	MemberRoleOwner = "OWNER"
)

// Project is a research project record.
type Project struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	HeadUserID string    `json:"head_user_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Membership ties a user to a project. Inactive memberships are kept for
// history; only active ones grant employee-level visibility.
type Membership struct {
	ProjectID     string    `json:"project_id"`
	UserID        string    `json:"user_id"`
	RoleOnProject string    `json:"role_on_project"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

// Sentinel errors for project operations.
var (
	ErrProjectNotFound = errors.New("project not found")
	ErrCodeExists      = errors.New("project code already exists")
	ErrInvalidStatus   = errors.New("invalid project status")
	ErrMemberExists    = errors.New("user is already a member of this project")
	ErrMemberNotFound  = errors.New("membership not found")
)
