package auth

import (
	"errors"
	"regexp"
	"time"
)

// emailPattern is a pragmatic address check: local@domain with a dot in
// the domain. Full RFC 5322 validation is not attempted.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// maxEmailLength is the maximum allowed email address length.
const maxEmailLength = 254

// IsValidEmail checks if an email address meets format requirements.
func IsValidEmail(email string) bool {
	return len(email) <= maxEmailLength && emailPattern.MatchString(email)
}

// Role represents an authorisation tier in the portal.
//
// Wire values are uppercase and stored verbatim in the users table.
type Role string

const (
	// RoleAdmin has full system control: user management, settings, audit,
	// and every business resource.
	RoleAdmin Role = "ADMIN"

	// RoleDirector oversees all projects: read access everywhere plus
	// approval authority.
	RoleDirector Role = "DIRECTOR"

	// RoleDirectorGeneral is the top oversight role. Same grants as
	// director; kept distinct for reporting.
	RoleDirectorGeneral Role = "DIRECTOR_GENERAL"

	// RoleSupervisor manages the project portfolio: reads everything,
	// creates and updates projects, approves projects and reports.
	RoleSupervisor Role = "SUPERVISOR"

	// RoleProjectHead leads specific projects. Sees projects they head or
	// actively staff.
	RoleProjectHead Role = "PROJECT_HEAD"

	// RoleEmployee is project staff. Sees only projects with an active
	// membership.
	RoleEmployee Role = "EMPLOYEE"

	// RoleRCMember sits on the research council. Sees projects by status
	// (active, completed, pending approval) regardless of membership.
	RoleRCMember Role = "RC_MEMBER"

	// RoleExternalOwner is an outside project owner. Sees projects they
	// head or have any membership on, active or not.
	RoleExternalOwner Role = "EXTERNAL_OWNER"
)

// ValidRoles is the closed set of assignable roles.
var ValidRoles = []Role{
	RoleAdmin,
	RoleDirector,
	RoleDirectorGeneral,
	RoleSupervisor,
	RoleProjectHead,
	RoleEmployee,
	RoleRCMember,
	RoleExternalOwner,
}

// IsValidRole returns true if the role is in the assignable set.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// User represents an authenticated principal.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	PasswordHash string     `json:"-"` // never serialised
	Role         Role       `json:"role"`
	IsActive     bool       `json:"is_active"`

	// TwoFactorEnabled reports whether TOTP is required at login.
	// TwoFactorSecret is non-nil only while enabled or while an enrollment
	// is pending confirmation.
	TwoFactorEnabled bool    `json:"two_factor_enabled"`
	TwoFactorSecret  *string `json:"-"` // never serialised

	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TwoFactorPending reports whether an enrollment has begun but not been
// confirmed: a secret is stored but the flag is still off.
func (u *User) TwoFactorPending() bool {
	return !u.TwoFactorEnabled && u.TwoFactorSecret != nil
}

// Session represents one live refresh token.
//
// The refresh token itself is a signed JWT handed to the client; only its
// SHA-256 hash is stored. The row is deleted on rotation, logout and
// revoke-all, so presenting a validly-signed token with no matching row is
// a replay.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"` // never serialised
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user account is inactive")
	ErrEmailExists        = errors.New("email already exists")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenReused        = errors.New("refresh token reuse detected")
	ErrTwoFactorInvalid   = errors.New("invalid two-factor code")
	ErrTwoFactorNotPending = errors.New("no two-factor enrollment pending")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrNotAMember         = errors.New("not a member of this project")
	ErrSelfModification   = errors.New("cannot modify own account in this way")
)
