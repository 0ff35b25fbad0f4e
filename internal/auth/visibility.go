package auth

import "context"

// Project status values the visibility rules reference. The project
// package owns the full status lifecycle; these mirror its wire values.
const (
	StatusDraft           = "DRAFT"
	StatusPendingApproval = "PENDING_APPROVAL"
	StatusActive          = "ACTIVE"
	StatusCompleted       = "COMPLETED"
	StatusArchived        = "ARCHIVED"
)

// rcVisibleStatuses are the project statuses research council members see,
// regardless of any membership they hold.
var rcVisibleStatuses = []string{StatusActive, StatusCompleted, StatusPendingApproval}

// ProjectFilter describes which project rows a principal may see.
// A nil *ProjectFilter means unrestricted access (full-access roles).
//
// The business repository ANDs the populated fields onto its list queries
// with OR between them: a row matches if it is headed by HeadUserID, OR has
// the requested membership, OR is in one of Statuses.
type ProjectFilter struct {
	// MatchNothing forces an empty result set. Set for unknown roles.
	MatchNothing bool

	// HeadUserID matches projects headed by this user.
	HeadUserID string

	// ActiveStaffUserID matches projects where this user holds an active
	// membership.
	ActiveStaffUserID string

	// AnyStaffUserID matches projects where this user holds any
	// membership, active or not.
	AnyStaffUserID string

	// Statuses matches projects in any of these statuses.
	Statuses []string
}

// ScopeProjects builds the row filter for a principal.
//
// Precedence is fixed: full-access roles are unrestricted; PROJECT_HEAD
// sees headed or actively-staffed projects; EMPLOYEE sees actively-staffed
// only; RC_MEMBER sees by status regardless of membership; EXTERNAL_OWNER
// sees headed or staffed (active or not); anything else sees nothing.
func ScopeProjects(principal *User) *ProjectFilter {
	if IsFullAccessRole(principal.Role) {
		return nil // unrestricted
	}

	switch principal.Role {
	case RoleProjectHead:
		return &ProjectFilter{
			HeadUserID:        principal.ID,
			ActiveStaffUserID: principal.ID,
		}
	case RoleEmployee:
		return &ProjectFilter{
			ActiveStaffUserID: principal.ID,
		}
	case RoleRCMember:
		statuses := make([]string, len(rcVisibleStatuses))
		copy(statuses, rcVisibleStatuses)
		return &ProjectFilter{Statuses: statuses}
	case RoleExternalOwner:
		return &ProjectFilter{
			HeadUserID:     principal.ID,
			AnyStaffUserID: principal.ID,
		}
	default:
		return &ProjectFilter{MatchNothing: true}
	}
}

// MembershipLookup is the project-side contract the visibility check
// consumes for single-record access. Implemented by the project package.
type MembershipLookup interface {
	// IsHead reports whether the user heads the project.
	IsHead(ctx context.Context, projectID, userID string) (bool, error)

	// IsStaff reports whether the user holds a membership on the project.
	// With activeOnly set, inactive memberships do not count.
	IsStaff(ctx context.Context, projectID, userID string, activeOnly bool) (bool, error)
}

// CanSeeProject evaluates detail access to one project for a principal.
// Callers surface a false result as not-found, never as forbidden, so the
// existence of restricted projects does not leak.
func CanSeeProject(ctx context.Context, lookup MembershipLookup, principal *User, projectID, status string) (bool, error) {
	if IsFullAccessRole(principal.Role) {
		return true, nil
	}

	switch principal.Role {
	case RoleProjectHead:
		head, err := lookup.IsHead(ctx, projectID, principal.ID)
		if err != nil {
			return false, err
		}
		if head {
			return true, nil
		}
		return lookup.IsStaff(ctx, projectID, principal.ID, true)
	case RoleEmployee:
		return lookup.IsStaff(ctx, projectID, principal.ID, true)
	case RoleRCMember:
		for _, s := range rcVisibleStatuses {
			if s == status {
				return true, nil
			}
		}
		return false, nil
	case RoleExternalOwner:
		head, err := lookup.IsHead(ctx, projectID, principal.ID)
		if err != nil {
			return false, err
		}
		if head {
			return true, nil
		}
		return lookup.IsStaff(ctx, projectID, principal.ID, false)
	default:
		return false, nil
	}
}
