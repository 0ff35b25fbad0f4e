// Package auth provides authentication and authorisation for Research Portal Core.
//
// It implements an 8-role model (admin, director, director general,
// supervisor, project head, employee, research council member, external
// owner) with:
//   - Argon2id password hashing (OWASP 2025 recommendation)
//   - JWT access tokens plus single-use rotating refresh sessions with
//     replay detection
//   - Optional TOTP second factor per account
//   - Static role/resource/action permission matrix (compile-time, no
//     database lookup)
//   - A per-record visibility filter scoping project rows by role
//
// Authorisation is deny-by-default at both layers: the matrix answers
// "may this role ever do this", the visibility filter answers "which rows
// may this principal see". A request must pass both.
package auth
