package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oakline-systems/researchportal/internal/auth"
	"github.com/oakline-systems/researchportal/internal/project"
)

type createProjectRequest struct {
	Code       string `json:"code"`
	Title      string `json:"title"`
	Status     string `json:"status,omitempty"`
	HeadUserID string `json:"headUserId"`
}

type updateProjectRequest struct {
	Title      *string `json:"title,omitempty"`
	Status     *string `json:"status,omitempty"`
	HeadUserID *string `json:"headUserId,omitempty"`
}

type addMemberRequest struct {
	UserID        string `json:"userId"`
	RoleOnProject string `json:"roleOnProject,omitempty"`
}

type setMemberActiveRequest struct {
	IsActive bool `json:"isActive"`
}

// handleListProjects returns the projects the principal may see. The
// visibility filter is computed from the role and ANDed onto the query,
// so restricted rows never leave the database layer.
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())

	filter := auth.ScopeProjects(principal)
	projects, err := s.projects.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list projects failed", "error", err, "user_id", principal.ID)
		writeInternalError(w, "failed to list projects")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"projects": projects,
		"count":    len(projects),
	})
}

// handleCreateProject creates a new project.
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())

	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Code == "" || req.Title == "" || req.HeadUserID == "" {
		writeBadRequest(w, "code, title and headUserId are required")
		return
	}

	if _, err := s.users.GetByID(r.Context(), req.HeadUserID); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeBadRequest(w, "headUserId does not exist")
			return
		}
		s.logger.Error("get head user failed", "error", err)
		writeInternalError(w, "failed to create project")
		return
	}

	p := &project.Project{
		Code:       req.Code,
		Title:      req.Title,
		Status:     req.Status,
		HeadUserID: req.HeadUserID,
	}

	if err := s.projects.Create(r.Context(), p); err != nil {
		switch {
		case errors.Is(err, project.ErrCodeExists):
			writeConflict(w, "project code already exists")
		case errors.Is(err, project.ErrInvalidStatus):
			writeBadRequest(w, "invalid project status")
		default:
			s.logger.Error("create project failed", "error", err)
			writeInternalError(w, "failed to create project")
		}
		return
	}

	s.logger.Info("project created", "project_id", p.ID, "code", p.Code, "created_by", principal.ID)
	s.audit.Record(auth.AuditEvent{
		UserID:     principal.ID,
		Action:     "project.created",
		EntityType: "project",
		EntityID:   p.ID,
		Detail:     p.Code,
		IPAddress:  clientIP(r),
	})

	writeJSON(w, http.StatusCreated, p)
}

// handleGetProject returns a single project.
//
// A project the principal may not see gets a 404, not a 403, so the
// endpoint does not confirm that restricted projects exist.
func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, ok := s.loadVisibleProject(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// handleUpdateProject modifies a project's mutable fields. Visibility
// applies here too: a restricted project is a 404 even with the update
// permission.
func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())

	p, ok := s.loadVisibleProject(w, r)
	if !ok {
		return
	}

	var req updateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.HeadUserID != nil {
		if _, err := s.users.GetByID(r.Context(), *req.HeadUserID); err != nil {
			if errors.Is(err, auth.ErrUserNotFound) {
				writeBadRequest(w, "headUserId does not exist")
				return
			}
			s.logger.Error("get head user failed", "error", err)
			writeInternalError(w, "failed to update project")
			return
		}
		p.HeadUserID = *req.HeadUserID
	}
	if req.Title != nil {
		p.Title = *req.Title
	}
	if req.Status != nil {
		p.Status = *req.Status
	}

	if err := s.projects.Update(r.Context(), p); err != nil {
		if errors.Is(err, project.ErrInvalidStatus) {
			writeBadRequest(w, "invalid project status")
			return
		}
		s.logger.Error("update project failed", "error", err, "project_id", p.ID)
		writeInternalError(w, "failed to update project")
		return
	}

	s.logger.Info("project updated", "project_id", p.ID, "updated_by", principal.ID)
	s.audit.Record(auth.AuditEvent{
		UserID:     principal.ID,
		Action:     "project.updated",
		EntityType: "project",
		EntityID:   p.ID,
		IPAddress:  clientIP(r),
	})

	writeJSON(w, http.StatusOK, p)
}

// handleListProjectMembers returns the staff assignments on a project.
func (s *Server) handleListProjectMembers(w http.ResponseWriter, r *http.Request) {
	p, ok := s.loadVisibleProject(w, r)
	if !ok {
		return
	}

	members, err := s.members.ListByProject(r.Context(), p.ID)
	if err != nil {
		s.logger.Error("list project members failed", "error", err, "project_id", p.ID)
		writeInternalError(w, "failed to list members")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"members": members,
		"count":   len(members),
	})
}

// handleAddProjectMember assigns a user to a project.
func (s *Server) handleAddProjectMember(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())

	p, ok := s.loadVisibleProject(w, r)
	if !ok {
		return
	}

	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeBadRequest(w, "userId is required")
		return
	}

	if _, err := s.users.GetByID(r.Context(), req.UserID); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeBadRequest(w, "userId does not exist")
			return
		}
		s.logger.Error("get user for membership failed", "error", err)
		writeInternalError(w, "failed to add member")
		return
	}

	m := &project.Membership{
		ProjectID:     p.ID,
		UserID:        req.UserID,
		RoleOnProject: req.RoleOnProject,
		IsActive:      true,
	}

	if err := s.members.Add(r.Context(), m); err != nil {
		if errors.Is(err, project.ErrMemberExists) {
			writeConflict(w, "user is already a member of this project")
			return
		}
		s.logger.Error("add project member failed", "error", err, "project_id", p.ID)
		writeInternalError(w, "failed to add member")
		return
	}

	s.logger.Info("project member added", "project_id", p.ID, "member_id", req.UserID, "added_by", principal.ID)
	s.audit.Record(auth.AuditEvent{
		UserID:     principal.ID,
		Action:     "project.member_added",
		EntityType: "project",
		EntityID:   p.ID,
		Detail:     req.UserID,
		IPAddress:  clientIP(r),
	})

	writeJSON(w, http.StatusCreated, m)
}

// handleSetProjectMemberActive toggles a membership. The row is kept
// either way so the assignment history survives.
func (s *Server) handleSetProjectMemberActive(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	userID := chi.URLParam(r, "userId")

	p, ok := s.loadVisibleProject(w, r)
	if !ok {
		return
	}

	var req setMemberActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.members.SetActive(r.Context(), p.ID, userID, req.IsActive); err != nil {
		if errors.Is(err, project.ErrMemberNotFound) {
			writeNotFound(w, "membership not found")
			return
		}
		s.logger.Error("set member active failed", "error", err, "project_id", p.ID)
		writeInternalError(w, "failed to update membership")
		return
	}

	s.logger.Info("project membership updated", "project_id", p.ID, "member_id", userID, "active", req.IsActive, "updated_by", principal.ID)
	s.audit.Record(auth.AuditEvent{
		UserID:     principal.ID,
		Action:     "project.member_updated",
		EntityType: "project",
		EntityID:   p.ID,
		Detail:     userID,
		IPAddress:  clientIP(r),
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "membership_updated"})
}

// loadVisibleProject fetches the project in the URL and applies the
// visibility check. Missing and restricted projects both produce a 404;
// callers stop when ok is false.
func (s *Server) loadVisibleProject(w http.ResponseWriter, r *http.Request) (*project.Project, bool) {
	principal := PrincipalFromContext(r.Context())
	id := chi.URLParam(r, "id")

	p, err := s.projects.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, project.ErrProjectNotFound) {
			writeNotFound(w, "project not found")
			return nil, false
		}
		s.logger.Error("get project failed", "error", err, "project_id", id)
		writeInternalError(w, "failed to get project")
		return nil, false
	}

	visible, err := auth.CanSeeProject(r.Context(), s.members, principal, p.ID, p.Status)
	if err != nil {
		s.logger.Error("visibility check failed", "error", err, "project_id", id, "user_id", principal.ID)
		writeInternalError(w, "failed to get project")
		return nil, false
	}
	if !visible {
		writeNotFound(w, "project not found")
		return nil, false
	}

	return p, true
}
