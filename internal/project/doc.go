// Package project manages research projects and their staff memberships.
//
// It is the business-layer consumer of the authorization core: list
// queries AND the caller's visibility filter onto the SQL, and the
// membership repository implements the lookup the detail-access check
// consumes.
package project
