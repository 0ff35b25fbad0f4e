package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestService_Login_Success(t *testing.T) {
	db := testDB(t)
	audit := &captureAudit{}
	svc := newTestService(t, db, audit)
	ctx := context.Background()

	user := seedTestUser(t, db, "login@example.com", RoleEmployee)

	result, err := svc.Login(ctx, "login@example.com", "test-password", "", "10.0.0.1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if result.RequiresTwoFactor {
		t.Fatal("login without 2FA should not require a second factor")
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatal("login should issue both tokens")
	}
	if result.User == nil || result.User.ID != user.ID {
		t.Error("login result should carry the authenticated user")
	}

	// Access token carries the user's identity
	claims, err := svc.ParseAccess(result.AccessToken)
	if err != nil {
		t.Fatalf("ParseAccess() error = %v", err)
	}
	if claims.Subject != user.ID || claims.Role != RoleEmployee {
		t.Errorf("claims = %q/%q, want %q/%q", claims.Subject, claims.Role, user.ID, RoleEmployee)
	}

	// A session row exists for the refresh token
	sessions, err := NewSessionRepository(db).ListByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if sessions[0].TokenHash != HashToken(result.RefreshToken) {
		t.Error("stored hash should match the issued refresh token")
	}

	// last_login recorded
	got, _ := NewUserRepository(db).GetByID(ctx, user.ID)
	if got.LastLoginAt == nil {
		t.Error("LastLoginAt should be set after login")
	}

	if !audit.has("auth.login") {
		t.Error("successful login should be audited")
	}
}

func TestService_Login_FailuresCollapse(t *testing.T) {
	db := testDB(t)
	audit := &captureAudit{}
	svc := newTestService(t, db, audit)
	ctx := context.Background()

	seedTestUser(t, db, "active@example.com", RoleEmployee)

	inactive := seedTestUser(t, db, "inactive@example.com", RoleEmployee)
	inactive.IsActive = false
	if err := NewUserRepository(db).Update(ctx, inactive); err != nil {
		t.Fatalf("deactivating user: %v", err)
	}

	// Unknown email, wrong password and a deactivated account all surface
	// as the same error.
	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"unknown email", "nobody@example.com", "test-password"},
		{"wrong password", "active@example.com", "wrong-password"},
		{"inactive account", "inactive@example.com", "test-password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(ctx, tt.email, tt.password, "", "10.0.0.1")
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
			}
		})
	}

	if !audit.has("auth.login_failed") {
		t.Error("failed logins should be audited")
	}
}

func TestService_Login_TwoFactorFlow(t *testing.T) {
	db := testDB(t)
	svc := newTestService(t, db, nil)
	ctx := context.Background()

	user := seedTestUser(t, db, "twofa@example.com", RoleEmployee)

	enrollment, err := NewTwoFactorEnrollment("Research Portal Test", user.Email)
	if err != nil {
		t.Fatalf("NewTwoFactorEnrollment() error = %v", err)
	}
	if err := NewUserRepository(db).UpdateTwoFactor(ctx, user.ID, true, &enrollment.Secret); err != nil {
		t.Fatalf("enabling 2FA: %v", err)
	}

	// Correct password without a code: challenge, no tokens, no session
	result, err := svc.Login(ctx, "twofa@example.com", "test-password", "", "10.0.0.1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !result.RequiresTwoFactor {
		t.Fatal("2FA-enabled login without code should require the second factor")
	}
	if result.AccessToken != "" || result.RefreshToken != "" {
		t.Error("no tokens should be issued on the challenge branch")
	}
	sessions, _ := NewSessionRepository(db).ListByUser(ctx, user.ID)
	if len(sessions) != 0 {
		t.Errorf("sessions = %d, want 0 before the code is supplied", len(sessions))
	}

	// Wrong code is a distinct error from bad credentials
	_, err = svc.Login(ctx, "twofa@example.com", "test-password", "000000", "10.0.0.1")
	if !errors.Is(err, ErrTwoFactorInvalid) {
		t.Errorf("Login() with bad code error = %v, want ErrTwoFactorInvalid", err)
	}

	// Valid code completes the login
	code := testCodeAt(t, enrollment.Secret, time.Now())
	result, err = svc.Login(ctx, "twofa@example.com", "test-password", code, "10.0.0.1")
	if err != nil {
		t.Fatalf("Login() with valid code error = %v", err)
	}
	if result.RequiresTwoFactor || result.AccessToken == "" {
		t.Error("valid code should complete the login with tokens")
	}

	// The wrong password still fails before the code is even considered
	_, err = svc.Login(ctx, "twofa@example.com", "wrong-password", code, "10.0.0.1")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login() wrong password error = %v, want ErrInvalidCredentials", err)
	}
}

func TestService_Refresh_RotatesSession(t *testing.T) {
	db := testDB(t)
	audit := &captureAudit{}
	svc := newTestService(t, db, audit)
	ctx := context.Background()

	user := seedTestUser(t, db, "refresh@example.com", RoleEmployee)

	result, err := svc.Login(ctx, "refresh@example.com", "test-password", "", "10.0.0.1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	pair, err := svc.Refresh(ctx, result.RefreshToken, "10.0.0.1")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("refresh should issue a full replacement pair")
	}
	if pair.RefreshToken == result.RefreshToken {
		t.Error("replacement refresh token should differ from the consumed one")
	}

	// Still exactly one session, now hashed to the new token
	sessions, _ := NewSessionRepository(db).ListByUser(ctx, user.ID)
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1 after rotation", len(sessions))
	}
	if sessions[0].TokenHash != HashToken(pair.RefreshToken) {
		t.Error("stored hash should match the replacement token")
	}

	if !audit.has("auth.refresh") {
		t.Error("rotation should be audited")
	}
}

func TestService_Refresh_ReplayRevokesEverything(t *testing.T) {
	db := testDB(t)
	audit := &captureAudit{}
	svc := newTestService(t, db, audit)
	ctx := context.Background()

	user := seedTestUser(t, db, "replay@example.com", RoleEmployee)

	// Two independent logins, so there is a bystander session to revoke
	first, err := svc.Login(ctx, "replay@example.com", "test-password", "", "10.0.0.1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := svc.Login(ctx, "replay@example.com", "test-password", "", "10.0.0.2"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if _, err := svc.Refresh(ctx, first.RefreshToken, "10.0.0.1"); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	// Presenting the consumed token again is a replay
	_, err = svc.Refresh(ctx, first.RefreshToken, "10.0.0.9")
	if !errors.Is(err, ErrTokenReused) {
		t.Fatalf("Refresh() replay error = %v, want ErrTokenReused", err)
	}

	sessions, _ := NewSessionRepository(db).ListByUser(ctx, user.ID)
	if len(sessions) != 0 {
		t.Errorf("sessions = %d, want 0 after replay response", len(sessions))
	}

	if !audit.has("auth.token_reuse") {
		t.Error("replay should be audited as token reuse")
	}
}

func TestService_Refresh_RejectsGarbageAndInactive(t *testing.T) {
	db := testDB(t)
	svc := newTestService(t, db, nil)
	ctx := context.Background()

	if _, err := svc.Refresh(ctx, "not-a-token", "10.0.0.1"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Refresh() garbage error = %v, want ErrTokenInvalid", err)
	}

	user := seedTestUser(t, db, "deactivated@example.com", RoleEmployee)
	result, err := svc.Login(ctx, "deactivated@example.com", "test-password", "", "10.0.0.1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	user.IsActive = false
	if err := NewUserRepository(db).Update(ctx, user); err != nil {
		t.Fatalf("deactivating user: %v", err)
	}

	if _, err := svc.Refresh(ctx, result.RefreshToken, "10.0.0.1"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Refresh() for inactive user error = %v, want ErrTokenInvalid", err)
	}
}

func TestService_Logout(t *testing.T) {
	db := testDB(t)
	audit := &captureAudit{}
	svc := newTestService(t, db, audit)
	ctx := context.Background()

	user := seedTestUser(t, db, "logout@example.com", RoleEmployee)
	result, err := svc.Login(ctx, "logout@example.com", "test-password", "", "10.0.0.1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if err := svc.Logout(ctx, result.RefreshToken, "10.0.0.1"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	sessions, _ := NewSessionRepository(db).ListByUser(ctx, user.ID)
	if len(sessions) != 0 {
		t.Errorf("sessions = %d, want 0 after logout", len(sessions))
	}
	if !audit.has("auth.logout") {
		t.Error("logout should be audited")
	}

	// Idempotent: repeating with the same or a garbage token is fine
	if err := svc.Logout(ctx, result.RefreshToken, "10.0.0.1"); err != nil {
		t.Errorf("repeated Logout() error = %v", err)
	}
	if err := svc.Logout(ctx, "not-a-token", "10.0.0.1"); err != nil {
		t.Errorf("Logout() with garbage error = %v", err)
	}
}

func TestService_LogoutAll(t *testing.T) {
	db := testDB(t)
	svc := newTestService(t, db, nil)
	ctx := context.Background()

	user := seedTestUser(t, db, "logoutall@example.com", RoleEmployee)
	for range 3 {
		if _, err := svc.Login(ctx, "logoutall@example.com", "test-password", "", "10.0.0.1"); err != nil {
			t.Fatalf("Login() error = %v", err)
		}
	}

	if err := svc.LogoutAll(ctx, user.ID, "10.0.0.1"); err != nil {
		t.Fatalf("LogoutAll() error = %v", err)
	}

	sessions, _ := NewSessionRepository(db).ListByUser(ctx, user.ID)
	if len(sessions) != 0 {
		t.Errorf("sessions = %d, want 0 after logout-all", len(sessions))
	}
}

func TestService_ChangePassword(t *testing.T) {
	db := testDB(t)
	audit := &captureAudit{}
	svc := newTestService(t, db, audit)
	ctx := context.Background()

	user := seedTestUser(t, db, "changepw@example.com", RoleEmployee)
	result, err := svc.Login(ctx, "changepw@example.com", "test-password", "", "10.0.0.1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	// Wrong current password
	err = svc.ChangePassword(ctx, user.ID, "wrong-password", "brand-new-password", "10.0.0.1")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("ChangePassword() wrong current error = %v, want ErrInvalidCredentials", err)
	}

	// New password must meet policy
	if err := svc.ChangePassword(ctx, user.ID, "test-password", "short", "10.0.0.1"); err == nil {
		t.Error("ChangePassword() should reject a too-short new password")
	}

	if err := svc.ChangePassword(ctx, user.ID, "test-password", "brand-new-password", "10.0.0.1"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}

	// Every session is revoked; the old refresh token is dead
	if _, err := svc.Refresh(ctx, result.RefreshToken, "10.0.0.1"); err == nil {
		t.Error("old refresh token should fail after a password change")
	}

	// The new password works, the old one does not
	if _, err := svc.Login(ctx, "changepw@example.com", "brand-new-password", "", "10.0.0.1"); err != nil {
		t.Errorf("Login() with new password error = %v", err)
	}
	if _, err := svc.Login(ctx, "changepw@example.com", "test-password", "", "10.0.0.1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login() with old password error = %v, want ErrInvalidCredentials", err)
	}

	if !audit.has("auth.password_changed") {
		t.Error("password change should be audited")
	}
}

func TestService_TwoFactorLifecycle(t *testing.T) {
	db := testDB(t)
	audit := &captureAudit{}
	svc := newTestService(t, db, audit)
	ctx := context.Background()

	user := seedTestUser(t, db, "lifecycle@example.com", RoleEmployee)

	// Confirm before any enrollment started
	err := svc.ConfirmTwoFactorEnrollment(ctx, user.ID, "123456", "10.0.0.1")
	if !errors.Is(err, ErrTwoFactorNotPending) {
		t.Errorf("Confirm without pending error = %v, want ErrTwoFactorNotPending", err)
	}

	enrollment, err := svc.BeginTwoFactorEnrollment(ctx, user.ID)
	if err != nil {
		t.Fatalf("BeginTwoFactorEnrollment() error = %v", err)
	}
	if enrollment.Secret == "" || enrollment.ProvisioningURI == "" {
		t.Fatal("enrollment should carry a secret and provisioning URI")
	}

	got, _ := NewUserRepository(db).GetByID(ctx, user.ID)
	if !got.TwoFactorPending() {
		t.Fatal("user should be pending after beginning enrollment")
	}

	// Wrong code does not flip the flag
	err = svc.ConfirmTwoFactorEnrollment(ctx, user.ID, "000000", "10.0.0.1")
	if !errors.Is(err, ErrTwoFactorInvalid) {
		t.Errorf("Confirm with bad code error = %v, want ErrTwoFactorInvalid", err)
	}

	code := testCodeAt(t, enrollment.Secret, time.Now())
	if err := svc.ConfirmTwoFactorEnrollment(ctx, user.ID, code, "10.0.0.1"); err != nil {
		t.Fatalf("ConfirmTwoFactorEnrollment() error = %v", err)
	}

	got, _ = NewUserRepository(db).GetByID(ctx, user.ID)
	if !got.TwoFactorEnabled {
		t.Fatal("user should be enabled after confirmation")
	}
	if !audit.has("auth.2fa_enabled") {
		t.Error("enabling 2FA should be audited")
	}

	// Login now demands the second factor
	result, err := svc.Login(ctx, "lifecycle@example.com", "test-password", "", "10.0.0.1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !result.RequiresTwoFactor {
		t.Error("login should require the second factor once enabled")
	}

	// Disable demands a fresh password proof
	err = svc.DisableTwoFactor(ctx, user.ID, "wrong-password", "10.0.0.1")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Disable with wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if err := svc.DisableTwoFactor(ctx, user.ID, "test-password", "10.0.0.1"); err != nil {
		t.Fatalf("DisableTwoFactor() error = %v", err)
	}

	got, _ = NewUserRepository(db).GetByID(ctx, user.ID)
	if got.TwoFactorEnabled || got.TwoFactorSecret != nil {
		t.Error("disable should clear the flag and the secret")
	}
	if !audit.has("auth.2fa_disabled") {
		t.Error("disabling 2FA should be audited")
	}

	// Password-only login works again
	result, err = svc.Login(ctx, "lifecycle@example.com", "test-password", "", "10.0.0.1")
	if err != nil {
		t.Fatalf("Login() after disable error = %v", err)
	}
	if result.RequiresTwoFactor {
		t.Error("login should not require a code after disable")
	}
}

func TestService_LoadPrincipal(t *testing.T) {
	db := testDB(t)
	svc := newTestService(t, db, nil)
	ctx := context.Background()

	user := seedTestUser(t, db, "principal@example.com", RoleSupervisor)
	result, err := svc.Login(ctx, "principal@example.com", "test-password", "", "10.0.0.1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	claims, err := svc.ParseAccess(result.AccessToken)
	if err != nil {
		t.Fatalf("ParseAccess() error = %v", err)
	}

	principal, err := svc.LoadPrincipal(ctx, claims)
	if err != nil {
		t.Fatalf("LoadPrincipal() error = %v", err)
	}
	if principal.ID != user.ID {
		t.Errorf("principal ID = %q, want %q", principal.ID, user.ID)
	}

	// Deactivation invalidates outstanding access tokens at load time
	user.IsActive = false
	if err := NewUserRepository(db).Update(ctx, user); err != nil {
		t.Fatalf("deactivating user: %v", err)
	}
	if _, err := svc.LoadPrincipal(ctx, claims); !errors.Is(err, ErrUserInactive) {
		t.Errorf("LoadPrincipal() for inactive user error = %v, want ErrUserInactive", err)
	}
}
