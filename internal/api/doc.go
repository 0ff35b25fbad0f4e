// Package api implements the HTTP REST API for Research Portal Core.
//
// This package provides:
//   - Authentication endpoints (login, refresh, logout, password change,
//     two-factor lifecycle)
//   - Admin user management (create, update, deactivate, password reset)
//   - Project endpoints scoped by the caller's visibility filter
//   - The audit trail listing for admin review
//   - Middleware stack (request ID, logging, recovery, CORS, body limit,
//     bearer auth, permission gate, login rate limiting)
//   - TLS support for production deployments
//
// # Security
//
// Every protected route runs behind the bearer-token middleware, which
// validates the access token and loads the principal fresh so a
// deactivated account loses access immediately. Route-level permission
// checks consult the static role matrix; project detail routes
// additionally apply the per-record visibility predicate, surfacing
// denial as 404 so restricted records do not leak their existence.
//
// Credential endpoints are rate limited per client IP.
package api
