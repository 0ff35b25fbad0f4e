package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oakline-systems/researchportal/internal/auth"
)

type createUserRequest struct {
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Password  string    `json:"password"`
	Role      auth.Role `json:"role"`
}

type updateUserRequest struct {
	FirstName *string    `json:"firstName,omitempty"`
	LastName  *string    `json:"lastName,omitempty"`
	Role      *auth.Role `json:"role,omitempty"`
	IsActive  *bool      `json:"isActive,omitempty"`
}

type resetPasswordRequest struct {
	NewPassword string `json:"newPassword"`
}

// handleListUsers returns all user accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleCreateUser creates a new user account.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Email == "" || req.Password == "" || req.FirstName == "" || req.LastName == "" {
		writeBadRequest(w, "email, password, firstName and lastName are required")
		return
	}
	if !auth.IsValidEmail(req.Email) {
		writeBadRequest(w, "invalid email address")
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if req.Role == "" {
		req.Role = auth.RoleEmployee
	}
	if !auth.IsValidRole(req.Role) {
		writeBadRequest(w, "invalid role")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	user := &auth.User{
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: hash,
		Role:         req.Role,
		IsActive:     true,
		CreatedBy:    principal.ID,
	}

	if err := s.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrEmailExists) {
			writeConflict(w, "email already exists")
			return
		}
		s.logger.Error("create user failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	s.logger.Info("user created", "user_id", user.ID, "email", user.Email, "role", user.Role, "created_by", principal.ID)
	s.audit.Record(auth.AuditEvent{
		UserID:     principal.ID,
		Action:     "user.created",
		EntityType: "user",
		EntityID:   user.ID,
		Detail:     string(user.Role),
		IPAddress:  clientIP(r),
	})

	writeJSON(w, http.StatusCreated, user)
}

// handleGetUser returns a single user by ID.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("get user failed", "error", err)
		writeInternalError(w, "failed to get user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleUpdateUser modifies a user's mutable fields (names, role,
// activation). There is no delete: accounts are deactivated so audit
// trails stay intact, and deactivation revokes every session.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) { //nolint:gocognit // field patching + self-protection guards
	id := chi.URLParam(r, "id")
	principal := PrincipalFromContext(r.Context())

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("get user for update failed", "error", err)
		writeInternalError(w, "failed to update user")
		return
	}

	// Self-protection: cannot deactivate yourself
	if req.IsActive != nil && !*req.IsActive && id == principal.ID {
		writeForbiddenMessage(w, "cannot deactivate your own account")
		return
	}

	// Self-protection: cannot change your own role
	if req.Role != nil && id == principal.ID && *req.Role != principal.Role {
		writeForbiddenMessage(w, "cannot change your own role")
		return
	}

	if req.Role != nil && !auth.IsValidRole(*req.Role) {
		writeBadRequest(w, "invalid role")
		return
	}

	deactivated := req.IsActive != nil && !*req.IsActive && user.IsActive

	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		user.LastName = *req.LastName
	}
	if req.Role != nil {
		user.Role = *req.Role
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}

	if err := s.users.Update(r.Context(), user); err != nil {
		s.logger.Error("update user failed", "error", err)
		writeInternalError(w, "failed to update user")
		return
	}

	// A deactivated account keeps no live sessions.
	if deactivated {
		if err := s.authSvc.RevokeAllForUser(r.Context(), id); err != nil {
			s.logger.Error("revoke sessions after deactivation failed", "error", err, "user_id", id)
		}
	}

	s.logger.Info("user updated", "user_id", id, "updated_by", principal.ID)
	s.audit.Record(auth.AuditEvent{
		UserID:     principal.ID,
		Action:     "user.updated",
		EntityType: "user",
		EntityID:   id,
		IPAddress:  clientIP(r),
	})

	writeJSON(w, http.StatusOK, user)
}

// handleResetUserPassword sets a new password for a user without their
// current one (admin flow). Every session for the account is revoked.
func (s *Server) handleResetUserPassword(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	principal := PrincipalFromContext(r.Context())

	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := auth.ValidatePassword(req.NewPassword); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if _, err := s.users.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("get user for password reset failed", "error", err)
		writeInternalError(w, "failed to reset password")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to reset password")
		return
	}

	if err := s.users.UpdatePassword(r.Context(), id, hash); err != nil {
		s.logger.Error("reset password failed", "error", err, "user_id", id)
		writeInternalError(w, "failed to reset password")
		return
	}

	if err := s.authSvc.RevokeAllForUser(r.Context(), id); err != nil {
		s.logger.Error("revoke sessions after password reset failed", "error", err, "user_id", id)
	}

	s.logger.Info("password reset", "user_id", id, "reset_by", principal.ID)
	s.audit.Record(auth.AuditEvent{
		UserID:     principal.ID,
		Action:     "user.password_reset",
		EntityType: "user",
		EntityID:   id,
		IPAddress:  clientIP(r),
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "password_reset"})
}
