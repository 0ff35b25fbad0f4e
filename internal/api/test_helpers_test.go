package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/oakline-systems/researchportal/internal/audit"
	"github.com/oakline-systems/researchportal/internal/auth"
	"github.com/oakline-systems/researchportal/internal/infrastructure/config"
	"github.com/oakline-systems/researchportal/internal/infrastructure/logging"
	"github.com/oakline-systems/researchportal/internal/project"
)

const testPassword = "test-password"

// testDB creates a temporary SQLite database with the full portal schema.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	f, err := os.CreateTemp("", "api-test-*.db")
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

		CREATE TABLE sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			token_hash TEXT NOT NULL UNIQUE,
			issued_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		) STRICT;

		CREATE TABLE audit_logs (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT,
			detail TEXT,
			ip_address TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
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
		t.Fatalf("applying schema: %v", err)
	}

	return db
}

// testEnv bundles the server, its router and the backing database for
// scenario tests.
type testEnv struct {
	server  *Server
	router  http.Handler
	db      *sql.DB
	authSvc *auth.Service
}

// newTestEnv builds a full server over a temp database. Rate limiting is
// off unless the test enables it via the returned server's limiters.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testDB(t)
	logger := &logging.Logger{Logger: slog.New(slog.DiscardHandler)}
	auditRepo := audit.NewSQLiteRepository(db)
	recorder := audit.NewRecorder(auditRepo, logger.Logger, 64)
	t.Cleanup(recorder.Close)

	authSvc := auth.NewService(
		auth.NewUserRepository(db),
		auth.NewSessionRepository(db),
		recorder,
		logger.Logger,
		auth.ServiceConfig{
			AccessSecret:    "test-access-secret-32-characters!",
			RefreshSecret:   "test-refresh-secret-32-character!",
			AccessTTL:       15 * time.Minute,
			RefreshTTL:      7 * 24 * time.Hour,
			TwoFactorIssuer: "Research Portal Test",
		},
	)

	server, err := New(Deps{
		Config:    config.APIConfig{Host: "127.0.0.1", Port: 0},
		Security:  config.SecurityConfig{},
		Logger:    logger,
		Auth:      authSvc,
		Users:     auth.NewUserRepository(db),
		Projects:  project.NewRepository(db),
		Members:   project.NewMembershipRepository(db),
		AuditRepo: auditRepo,
		AuditSink: recorder,
		DB:        db,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}

	return &testEnv{
		server:  server,
		router:  server.buildRouter(),
		db:      db,
		authSvc: authSvc,
	}
}

// seedUser inserts a user with the standard test password.
func (e *testEnv) seedUser(t *testing.T, email string, role auth.Role) *auth.User {
	t.Helper()

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	user := &auth.User{
		Email:        email,
		FirstName:    "Test",
		LastName:     "User",
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := auth.NewUserRepository(e.db).Create(t.Context(), user); err != nil {
		t.Fatalf("seeding user %s: %v", email, err)
	}
	return user
}

// do issues a request against the router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshalling request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// decode unmarshals a recorder's JSON body into v.
func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

// login authenticates over the wire and returns the token pair.
func (e *testEnv) login(t *testing.T, email, password string) (access, refresh string) {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status = %d, body = %s", email, rec.Code, rec.Body.String())
	}

	var resp loginResponse
	decode(t, rec, &resp)
	return resp.AccessToken, resp.RefreshToken
}
