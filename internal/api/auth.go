package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/oakline-systems/researchportal/internal/auth"
)

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	TwoFactorCode string `json:"twoFactorCode,omitempty"`
}

// loginResponse is the success body for POST /auth/login.
type loginResponse struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	User         *auth.User `json:"user"`
}

// twoFactorChallengeResponse is the 200 branch when credentials verified
// but a TOTP code is still needed.
type twoFactorChallengeResponse struct {
	RequiresTwoFactor bool `json:"requiresTwoFactor"`
}

// refreshRequest is the request body for POST /auth/refresh and
// POST /auth/logout.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// tokenPairResponse is the success body for POST /auth/refresh.
type tokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// changePasswordRequest is the request body for POST /auth/change-password.
type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// twoFactorVerifyRequest is the request body for POST /auth/2fa/verify.
type twoFactorVerifyRequest struct {
	Code string `json:"code"`
}

// twoFactorDisableRequest is the request body for POST /auth/2fa/disable.
type twoFactorDisableRequest struct {
	Password string `json:"password"`
}

// handleLogin authenticates credentials (and the TOTP second factor where
// enabled) and issues a token pair.
//
// Unknown email, wrong password and a deactivated account all produce the
// same 401 so the endpoint does not reveal which accounts exist.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeBadRequest(w, "email and password are required")
		return
	}

	result, err := s.authSvc.Login(r.Context(), req.Email, req.Password, req.TwoFactorCode, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeUnauthorized(w, "invalid credentials")
		case errors.Is(err, auth.ErrTwoFactorInvalid):
			writeUnauthorized(w, "invalid two-factor code")
		default:
			s.logger.Error("login failed", "error", err)
			writeInternalError(w, "login failed")
		}
		return
	}

	if result.RequiresTwoFactor {
		writeJSON(w, http.StatusOK, twoFactorChallengeResponse{RequiresTwoFactor: true})
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		User:         result.User,
	})
}

// handleRefresh rotates a refresh token: the presented token is consumed
// and a replacement pair issued. Replayed tokens get a 401 and revoke
// every session for the account.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.RefreshToken == "" {
		writeBadRequest(w, "refreshToken is required")
		return
	}

	pair, err := s.authSvc.Refresh(r.Context(), req.RefreshToken, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			writeUnauthorized(w, "refresh token expired")
		case errors.Is(err, auth.ErrTokenReused):
			writeUnauthorized(w, "refresh token already used")
		case errors.Is(err, auth.ErrTokenInvalid):
			writeUnauthorized(w, "invalid refresh token")
		default:
			s.logger.Error("token refresh failed", "error", err)
			writeInternalError(w, "token refresh failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// handleLogout revokes the session behind the presented refresh token.
// Idempotent: an unknown or already-consumed token still gets a 200.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.authSvc.Logout(r.Context(), req.RefreshToken, clientIP(r)); err != nil {
		s.logger.Error("logout failed", "error", err)
		writeInternalError(w, "logout failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// handleLogoutAll revokes every session for the authenticated user.
func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())

	if err := s.authSvc.LogoutAll(r.Context(), principal.ID, clientIP(r)); err != nil {
		s.logger.Error("logout-all failed", "error", err, "user_id", principal.ID)
		writeInternalError(w, "logout failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out_everywhere"})
}

// handleMe returns the authenticated principal.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PrincipalFromContext(r.Context()))
}

// handleChangePassword verifies the current password, stores the new one
// and revokes every session. The client must log in again.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeBadRequest(w, "currentPassword and newPassword are required")
		return
	}

	err := s.authSvc.ChangePassword(r.Context(), principal.ID, req.CurrentPassword, req.NewPassword, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeUnauthorized(w, "current password is incorrect")
		case errors.Is(err, auth.ErrPasswordTooShort):
			writeBadRequest(w, err.Error())
		default:
			s.logger.Error("password change failed", "error", err, "user_id", principal.ID)
			writeInternalError(w, "password change failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "password_changed"})
}

// handleTwoFactorSetup generates a TOTP secret pending confirmation and
// returns the provisioning URI for the authenticator app.
func (s *Server) handleTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())

	enrollment, err := s.authSvc.BeginTwoFactorEnrollment(r.Context(), principal.ID)
	if err != nil {
		s.logger.Error("2fa setup failed", "error", err, "user_id", principal.ID)
		writeInternalError(w, "two-factor setup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"secret":          enrollment.Secret,
		"provisioningUri": enrollment.ProvisioningURI,
	})
}

// handleTwoFactorVerify confirms a pending enrollment with a live code.
func (s *Server) handleTwoFactorVerify(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())

	var req twoFactorVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Code == "" {
		writeBadRequest(w, "code is required")
		return
	}

	err := s.authSvc.ConfirmTwoFactorEnrollment(r.Context(), principal.ID, req.Code, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTwoFactorNotPending):
			writeConflict(w, "no two-factor enrollment pending")
		case errors.Is(err, auth.ErrTwoFactorInvalid):
			writeBadRequest(w, "invalid two-factor code")
		default:
			s.logger.Error("2fa verify failed", "error", err, "user_id", principal.ID)
			writeInternalError(w, "two-factor verification failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "two_factor_enabled"})
}

// handleTwoFactorDisable switches the second factor off. Requires a fresh
// password proof.
func (s *Server) handleTwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())

	var req twoFactorDisableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Password == "" {
		writeBadRequest(w, "password is required")
		return
	}

	err := s.authSvc.DisableTwoFactor(r.Context(), principal.ID, req.Password, clientIP(r))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeUnauthorized(w, "password is incorrect")
			return
		}
		s.logger.Error("2fa disable failed", "error", err, "user_id", principal.ID)
		writeInternalError(w, "two-factor disable failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "two_factor_disabled"})
}
