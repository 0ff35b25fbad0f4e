package project

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// testDB creates a temporary SQLite database with the users and project
// tables applied.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	f, err := os.CreateTemp("", "project-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'EMPLOYEE',
			is_active INTEGER NOT NULL DEFAULT 1,
			two_factor_enabled INTEGER NOT NULL DEFAULT 0,
			two_factor_secret TEXT,
			last_login_at TEXT,
			created_by TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;

		CREATE TABLE projects (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'DRAFT',
			head_user_id TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			FOREIGN KEY (head_user_id) REFERENCES users(id)
		) STRICT;

		CREATE TABLE project_memberships (
			project_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role_on_project TEXT NOT NULL DEFAULT 'STAFF',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			PRIMARY KEY (project_id, user_id),
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("applying project schema: %v", err)
	}

	return db
}

// seedUser inserts a bare user row so foreign keys hold, returning its ID.
func seedUser(t *testing.T, db *sql.DB, email string) string {
	t.Helper()

	id := "usr-" + uuid.NewString()[:8]
	_, err := db.Exec(
		`INSERT INTO users (id, email, first_name, last_name, password_hash) VALUES (?, ?, 'Test', 'User', 'x')`,
		id, email,
	)
	if err != nil {
		t.Fatalf("seeding user %s: %v", email, err)
	}
	return id
}

// seedProject creates a project with the given code, status and head.
func seedProject(t *testing.T, db *sql.DB, code, status, headUserID string) *Project {
	t.Helper()

	p := &Project{
		Code:       code,
		Title:      "Project " + code,
		Status:     status,
		HeadUserID: headUserID,
	}
	if err := NewRepository(db).Create(context.Background(), p); err != nil {
		t.Fatalf("seeding project %s: %v", code, err)
	}
	return p
}

// seedMember adds a membership for a user on a project.
func seedMember(t *testing.T, db *sql.DB, projectID, userID string, active bool) {
	t.Helper()

	m := &Membership{ProjectID: projectID, UserID: userID, IsActive: active}
	if err := NewMembershipRepository(db).Add(context.Background(), m); err != nil {
		t.Fatalf("seeding membership: %v", err)
	}
}
