package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// AuditEvent is the record handed to the audit sink for security-relevant
// actions.
type AuditEvent struct {
	UserID     string
	Action     string
	EntityType string
	EntityID   string
	Detail     string
	IPAddress  string
}

// AuditSink receives audit events fire-and-forget. A failed audit write
// must never fail the operation that produced it; implementations log and
// move on.
type AuditSink interface {
	Record(event AuditEvent)
}

// ServiceConfig carries the token and two-factor settings the gateway
// needs.
type ServiceConfig struct {
	AccessSecret    string
	RefreshSecret   string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	TwoFactorIssuer string
}

// Service is the authentication gateway: login, token refresh, logout,
// password change and the two-factor lifecycle. All session state flows
// through the session repository; everything else is stateless.
type Service struct {
	users    UserRepository
	sessions SessionRepository
	audit    AuditSink
	logger   *slog.Logger
	cfg      ServiceConfig

	// now is injectable so expiry behaviour is testable with fixed clocks.
	now func() time.Time
}

// NewService creates the authentication gateway.
func NewService(users UserRepository, sessions SessionRepository, audit AuditSink, logger *slog.Logger, cfg ServiceConfig) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		audit:    audit,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// LoginResult is the outcome of a successful (or two-factor-pending) login.
type LoginResult struct {
	// RequiresTwoFactor is set when credentials verified but a TOTP code
	// is still needed. No tokens are issued on this branch.
	RequiresTwoFactor bool

	User         *User
	AccessToken  string
	RefreshToken string
}

// TokenPair is a freshly-issued access/refresh token pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Login verifies credentials and, where enabled, the TOTP second factor,
// then issues a token pair and persists the session.
//
// Unknown email, wrong password and deactivated account all surface as
// ErrInvalidCredentials so responses do not reveal which accounts exist.
// The real reason is still audited.
func (s *Service) Login(ctx context.Context, email, password, twoFactorCode, ip string) (*LoginResult, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.audit.Record(AuditEvent{Action: "auth.login_failed", EntityType: "user", Detail: "unknown email", IPAddress: ip})
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}

	if !user.IsActive {
		s.audit.Record(AuditEvent{UserID: user.ID, Action: "auth.login_failed", EntityType: "user", EntityID: user.ID, Detail: "account inactive", IPAddress: ip})
		return nil, ErrInvalidCredentials
	}

	// Any verification error (malformed stored hash included) collapses
	// into the single credentials failure branch.
	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		if err != nil {
			s.logger.Error("password verification failed", "user_id", user.ID, "error", err)
		}
		s.audit.Record(AuditEvent{UserID: user.ID, Action: "auth.login_failed", EntityType: "user", EntityID: user.ID, Detail: "wrong password", IPAddress: ip})
		return nil, ErrInvalidCredentials
	}

	if user.TwoFactorEnabled {
		if twoFactorCode == "" {
			return &LoginResult{RequiresTwoFactor: true}, nil
		}
		if user.TwoFactorSecret == nil || !ValidateTwoFactorCode(twoFactorCode, *user.TwoFactorSecret, s.now()) {
			s.audit.Record(AuditEvent{UserID: user.ID, Action: "auth.login_failed", EntityType: "user", EntityID: user.ID, Detail: "invalid two-factor code", IPAddress: ip})
			return nil, ErrTwoFactorInvalid
		}
	}

	pair, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, s.now()); err != nil {
		// A stale last_login is not worth failing an authenticated login.
		s.logger.Error("updating last login", "user_id", user.ID, "error", err)
	}

	s.audit.Record(AuditEvent{UserID: user.ID, Action: "auth.login", EntityType: "user", EntityID: user.ID, IPAddress: ip})

	return &LoginResult{
		User:         user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// Refresh rotates a refresh token: the presented token's session is
// consumed and a replacement pair is issued.
//
// A validly-signed, unexpired token whose session row no longer exists is
// a replay. Every session for that user is revoked and the event audited
// before ErrTokenReused is returned.
func (s *Service) Refresh(ctx context.Context, refreshToken, ip string) (*TokenPair, error) {
	claims, err := ParseRefreshToken(refreshToken, s.cfg.RefreshSecret)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrTokenInvalid
	}

	now := s.now()
	newRefresh, err := SignRefreshToken(user.ID, s.cfg.RefreshSecret, s.cfg.RefreshTTL, now)
	if err != nil {
		return nil, err
	}

	replacement := &Session{
		UserID:    user.ID,
		TokenHash: HashToken(newRefresh),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
	}

	if err := s.sessions.Rotate(ctx, HashToken(refreshToken), replacement); err != nil {
		if errors.Is(err, ErrTokenReused) {
			s.handleReuse(ctx, user.ID, ip)
			return nil, ErrTokenReused
		}
		return nil, err
	}

	access, err := SignAccessToken(user, s.cfg.AccessSecret, s.cfg.AccessTTL, now)
	if err != nil {
		return nil, err
	}

	s.audit.Record(AuditEvent{UserID: user.ID, Action: "auth.refresh", EntityType: "session", EntityID: replacement.ID, IPAddress: ip})

	return &TokenPair{AccessToken: access, RefreshToken: newRefresh}, nil
}

// handleReuse is the replay response: revoke everything for the user and
// record a security event.
func (s *Service) handleReuse(ctx context.Context, userID, ip string) {
	count, err := s.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		s.logger.Error("revoking sessions after token reuse", "user_id", userID, "error", err)
	}
	s.logger.Warn("refresh token reuse detected", "user_id", userID, "sessions_revoked", count)
	s.audit.Record(AuditEvent{UserID: userID, Action: "auth.token_reuse", EntityType: "session", Detail: "all sessions revoked", IPAddress: ip})
}

// Logout deletes the session for the presented refresh token.
// Logout is idempotent: an unknown or already-consumed token is not an
// error.
func (s *Service) Logout(ctx context.Context, refreshToken, ip string) error {
	claims, err := ParseRefreshToken(refreshToken, s.cfg.RefreshSecret)
	if err != nil {
		return nil // nothing to revoke
	}

	if err := s.sessions.Delete(ctx, HashToken(refreshToken)); err != nil {
		return err
	}

	s.audit.Record(AuditEvent{UserID: claims.Subject, Action: "auth.logout", EntityType: "user", EntityID: claims.Subject, IPAddress: ip})
	return nil
}

// LogoutAll revokes every session for a user.
func (s *Service) LogoutAll(ctx context.Context, userID, ip string) error {
	count, err := s.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return err
	}

	s.audit.Record(AuditEvent{UserID: userID, Action: "auth.logout_all", EntityType: "user", EntityID: userID, Detail: fmt.Sprintf("%d sessions revoked", count), IPAddress: ip})
	return nil
}

// ChangePassword verifies the current password, stores the new hash and
// revokes every session for the user. Clients must log in again.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, ip string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := VerifyPassword(currentPassword, user.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}

	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}

	if _, err := s.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return err
	}

	s.audit.Record(AuditEvent{UserID: userID, Action: "auth.password_changed", EntityType: "user", EntityID: userID, IPAddress: ip})
	return nil
}

// RevokeAllForUser revokes every session for a user without a password
// proof. Used by admin flows (deactivation, admin password reset).
func (s *Service) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := s.sessions.DeleteAllForUser(ctx, userID)
	return err
}

// BeginTwoFactorEnrollment generates a fresh TOTP secret and stores it
// pending confirmation. Starting again overwrites any prior pending
// secret; an already-enabled account keeps working until Disable.
func (s *Service) BeginTwoFactorEnrollment(ctx context.Context, userID string) (*TwoFactorEnrollment, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	enrollment, err := NewTwoFactorEnrollment(s.cfg.TwoFactorIssuer, user.Email)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateTwoFactor(ctx, userID, user.TwoFactorEnabled, &enrollment.Secret); err != nil {
		return nil, err
	}

	return enrollment, nil
}

// ConfirmTwoFactorEnrollment verifies a code against the pending secret
// and switches the second factor on.
func (s *Service) ConfirmTwoFactorEnrollment(ctx context.Context, userID, code, ip string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if !user.TwoFactorPending() {
		return ErrTwoFactorNotPending
	}

	if !ValidateTwoFactorCode(code, *user.TwoFactorSecret, s.now()) {
		return ErrTwoFactorInvalid
	}

	if err := s.users.UpdateTwoFactor(ctx, userID, true, user.TwoFactorSecret); err != nil {
		return err
	}

	s.audit.Record(AuditEvent{UserID: userID, Action: "auth.2fa_enabled", EntityType: "user", EntityID: userID, IPAddress: ip})
	return nil
}

// DisableTwoFactor switches the second factor off. A fresh password proof
// is required so a hijacked session cannot silently weaken the account.
func (s *Service) DisableTwoFactor(ctx context.Context, userID, password, ip string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}

	if err := s.users.UpdateTwoFactor(ctx, userID, false, nil); err != nil {
		return err
	}

	s.audit.Record(AuditEvent{UserID: userID, Action: "auth.2fa_disabled", EntityType: "user", EntityID: userID, IPAddress: ip})
	return nil
}

// ParseAccess validates an access token against the configured secret.
func (s *Service) ParseAccess(tokenString string) (*AccessClaims, error) {
	return ParseAccessToken(tokenString, s.cfg.AccessSecret)
}

// LoadPrincipal fetches the user behind validated claims and confirms the
// account is still active.
func (s *Service) LoadPrincipal(ctx context.Context, claims *AccessClaims) (*User, error) {
	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	return user, nil
}

// SweepExpiredSessions removes expired session rows. Called periodically
// from the server.
func (s *Service) SweepExpiredSessions(ctx context.Context) (int64, error) {
	return s.sessions.DeleteExpired(ctx)
}

// issueTokens signs an access/refresh pair and persists the session row.
func (s *Service) issueTokens(ctx context.Context, user *User) (*TokenPair, error) {
	now := s.now()

	access, err := SignAccessToken(user, s.cfg.AccessSecret, s.cfg.AccessTTL, now)
	if err != nil {
		return nil, err
	}

	refresh, err := SignRefreshToken(user.ID, s.cfg.RefreshSecret, s.cfg.RefreshTTL, now)
	if err != nil {
		return nil, err
	}

	session := &Session{
		UserID:    user.ID,
		TokenHash: HashToken(refresh),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
