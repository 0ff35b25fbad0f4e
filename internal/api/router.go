package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oakline-systems/researchportal/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// System metrics (no auth required for basic monitoring)
		r.Get("/metrics", s.handleMetrics)

		// Credential endpoints (no auth required, rate limited)
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/refresh", s.handleRefresh)
		})

		// Logout only needs the refresh token, not a live access token,
		// so a client with an expired pair can still end its session.
		r.Post("/auth/logout", s.handleLogout)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/logout-all", s.handleLogoutAll)
			r.Post("/auth/change-password", s.handleChangePassword)

			r.Route("/auth/2fa", func(r chi.Router) {
				r.Post("/setup", s.handleTwoFactorSetup)
				r.Post("/verify", s.handleTwoFactorVerify)
				r.Post("/disable", s.handleTwoFactorDisable)
			})

			// Admin user management
			r.Route("/users", func(r chi.Router) {
				r.With(s.requirePermission(auth.ResourceUsers, auth.ActionRead)).
					Get("/", s.handleListUsers)
				r.With(s.requirePermission(auth.ResourceUsers, auth.ActionCreate)).
					Post("/", s.handleCreateUser)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.requirePermission(auth.ResourceUsers, auth.ActionRead)).
						Get("/", s.handleGetUser)
					r.With(s.requirePermission(auth.ResourceUsers, auth.ActionUpdate)).
						Patch("/", s.handleUpdateUser)
					r.With(s.requirePermission(auth.ResourceUsers, auth.ActionUpdate)).
						Post("/reset-password", s.handleResetUserPassword)
				})
			})

			// Projects: the matrix gates the verb, the visibility filter
			// scopes the rows.
			r.Route("/projects", func(r chi.Router) {
				r.With(s.requirePermission(auth.ResourceProjects, auth.ActionRead)).
					Get("/", s.handleListProjects)
				r.With(s.requirePermission(auth.ResourceProjects, auth.ActionCreate)).
					Post("/", s.handleCreateProject)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.requirePermission(auth.ResourceProjects, auth.ActionRead)).
						Get("/", s.handleGetProject)
					r.With(s.requirePermission(auth.ResourceProjects, auth.ActionUpdate)).
						Patch("/", s.handleUpdateProject)

					r.Route("/members", func(r chi.Router) {
						r.With(s.requirePermission(auth.ResourceProjects, auth.ActionRead)).
							Get("/", s.handleListProjectMembers)
						r.With(s.requirePermission(auth.ResourceProjects, auth.ActionUpdate)).
							Post("/", s.handleAddProjectMember)
						r.With(s.requirePermission(auth.ResourceProjects, auth.ActionUpdate)).
							Patch("/{userId}", s.handleSetProjectMemberActive)
					})
				})
			})

			// Audit trail: settings read is admin-only in the matrix.
			r.With(s.requirePermission(auth.ResourceSettings, auth.ActionRead)).
				Get("/audit", s.handleListAudit)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
