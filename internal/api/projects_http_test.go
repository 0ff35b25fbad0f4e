package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/oakline-systems/researchportal/internal/auth"
	"github.com/oakline-systems/researchportal/internal/project"
)

// projectFixture is a small portfolio exercising every visibility path:
// an active project with a dedicated head, an active project staffed by an
// employee, and a draft only full-access roles may see.
type projectFixture struct {
	admin, head, staff, outsider, rc *auth.User

	adminAccess string

	alpha *project.Project // ACTIVE, headed by head
	bravo *project.Project // ACTIVE, staff holds an active membership
	draft *project.Project // DRAFT, headed by admin
}

func buildProjectFixture(t *testing.T, env *testEnv) *projectFixture {
	t.Helper()

	f := &projectFixture{
		admin:    env.seedUser(t, "admin@example.com", auth.RoleAdmin),
		head:     env.seedUser(t, "head@example.com", auth.RoleProjectHead),
		staff:    env.seedUser(t, "staff@example.com", auth.RoleEmployee),
		outsider: env.seedUser(t, "outsider@example.com", auth.RoleEmployee),
		rc:       env.seedUser(t, "rc@example.com", auth.RoleRCMember),
	}
	f.adminAccess, _ = env.login(t, "admin@example.com", testPassword)

	f.alpha = f.createProject(t, env, "PRJ-ALPHA", "Alpha Study", project.StatusActive, f.head.ID)
	f.bravo = f.createProject(t, env, "PRJ-BRAVO", "Bravo Study", project.StatusActive, f.admin.ID)
	f.draft = f.createProject(t, env, "PRJ-DRAFT", "Draft Study", project.StatusDraft, f.admin.ID)

	rec := env.do(t, http.MethodPost, "/api/v1/projects/"+f.bravo.ID+"/members", f.adminAccess,
		map[string]string{"userId": f.staff.ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("staffing bravo: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	return f
}

func (f *projectFixture) createProject(t *testing.T, env *testEnv, code, title, status, headID string) *project.Project {
	t.Helper()

	rec := env.do(t, http.MethodPost, "/api/v1/projects", f.adminAccess, map[string]string{
		"code":       code,
		"title":      title,
		"status":     status,
		"headUserId": headID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("creating %s: status = %d, body = %s", code, rec.Code, rec.Body.String())
	}

	var p project.Project
	decode(t, rec, &p)
	return &p
}

// listCodes fetches /projects as the given user and returns the codes seen.
func listCodes(t *testing.T, env *testEnv, email string) []string {
	t.Helper()

	access, _ := env.login(t, email, testPassword)
	rec := env.do(t, http.MethodGet, "/api/v1/projects", access, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list as %s: status = %d, body = %s", email, rec.Code, rec.Body.String())
	}

	var resp struct {
		Projects []project.Project `json:"projects"`
		Count    int               `json:"count"`
	}
	decode(t, rec, &resp)

	codes := make([]string, 0, len(resp.Projects))
	for _, p := range resp.Projects {
		codes = append(codes, p.Code)
	}
	return codes
}

func TestListProjects_RowsScopedByRole(t *testing.T) {
	env := newTestEnv(t)
	buildProjectFixture(t, env)

	cases := []struct {
		email string
		want  []string
	}{
		{"admin@example.com", []string{"PRJ-ALPHA", "PRJ-BRAVO", "PRJ-DRAFT"}},
		{"head@example.com", []string{"PRJ-ALPHA"}},
		{"staff@example.com", []string{"PRJ-BRAVO"}},
		{"outsider@example.com", []string{}},
		{"rc@example.com", []string{"PRJ-ALPHA", "PRJ-BRAVO"}},
	}

	for _, tc := range cases {
		t.Run(tc.email, func(t *testing.T) {
			got := listCodes(t, env, tc.email)
			if len(got) != len(tc.want) {
				t.Fatalf("codes = %v, want %v", got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("codes = %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestGetProject_RestrictedIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	f := buildProjectFixture(t, env)

	staffAccess, _ := env.login(t, "staff@example.com", testPassword)
	outsiderAccess, _ := env.login(t, "outsider@example.com", testPassword)
	rcAccess, _ := env.login(t, "rc@example.com", testPassword)

	cases := []struct {
		name      string
		access    string
		projectID string
		status    int
	}{
		{"staff sees own project", staffAccess, f.bravo.ID, http.StatusOK},
		{"staff denied elsewhere", staffAccess, f.alpha.ID, http.StatusNotFound},
		{"outsider denied everywhere", outsiderAccess, f.bravo.ID, http.StatusNotFound},
		{"rc sees active", rcAccess, f.alpha.ID, http.StatusOK},
		{"rc denied draft", rcAccess, f.draft.ID, http.StatusNotFound},
		{"admin sees draft", f.adminAccess, f.draft.ID, http.StatusOK},
		{"truly missing project", f.adminAccess, "prj-missing", http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/v1/projects/"+tc.projectID, tc.access, nil)
			if rec.Code != tc.status {
				t.Errorf("status = %d, want %d", rec.Code, tc.status)
			}

			// Denials and genuine misses must be indistinguishable.
			if tc.status == http.StatusNotFound {
				var errResp Error
				decode(t, rec, &errResp)
				if errResp.Message != "project not found" {
					t.Errorf("message = %q", errResp.Message)
				}
			}
		})
	}
}

func TestUpdateProject_VisibilityAppliesToWrites(t *testing.T) {
	env := newTestEnv(t)
	f := buildProjectFixture(t, env)

	headAccess, _ := env.login(t, "head@example.com", testPassword)
	staffAccess, _ := env.login(t, "staff@example.com", testPassword)

	t.Run("head updates own project", func(t *testing.T) {
		rec := env.do(t, http.MethodPatch, "/api/v1/projects/"+f.alpha.ID, headAccess,
			map[string]string{"title": "Alpha Study (Phase 2)"})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		var p project.Project
		decode(t, rec, &p)
		if p.Title != "Alpha Study (Phase 2)" {
			t.Errorf("title = %q", p.Title)
		}
	})

	t.Run("head blocked on a project they cannot see", func(t *testing.T) {
		rec := env.do(t, http.MethodPatch, "/api/v1/projects/"+f.bravo.ID, headAccess,
			map[string]string{"title": "hijack"})
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("employee lacks the update permission outright", func(t *testing.T) {
		rec := env.do(t, http.MethodPatch, "/api/v1/projects/"+f.bravo.ID, staffAccess,
			map[string]string{"title": "hijack"})
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("invalid status rejected", func(t *testing.T) {
		rec := env.do(t, http.MethodPatch, "/api/v1/projects/"+f.alpha.ID, f.adminAccess,
			map[string]string{"status": "LIMBO"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestCreateProject_Validation(t *testing.T) {
	env := newTestEnv(t)
	f := buildProjectFixture(t, env)

	t.Run("duplicate code", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/projects", f.adminAccess, map[string]string{
			"code": "PRJ-ALPHA", "title": "Clone", "headUserId": f.head.ID,
		})
		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", rec.Code)
		}
	})

	t.Run("unknown head user", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/projects", f.adminAccess, map[string]string{
			"code": "PRJ-NEW", "title": "New", "headUserId": "usr-missing",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/projects", f.adminAccess, map[string]string{"code": "PRJ-NEW"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("status defaults to draft", func(t *testing.T) {
		p := f.createProject(t, env, "PRJ-DEFAULT", "Defaulted", "", f.head.ID)
		if p.Status != project.StatusDraft {
			t.Errorf("status = %q, want DRAFT", p.Status)
		}
		if !strings.HasPrefix(p.ID, "prj-") {
			t.Errorf("id = %q, want prj- prefix", p.ID)
		}
	})
}

func TestProjectMembers_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	f := buildProjectFixture(t, env)

	// Assign the outsider to alpha.
	rec := env.do(t, http.MethodPost, "/api/v1/projects/"+f.alpha.ID+"/members", f.adminAccess,
		map[string]string{"userId": f.outsider.ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add member status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var m project.Membership
	decode(t, rec, &m)
	if m.RoleOnProject != project.MemberRoleStaff {
		t.Errorf("role on project = %q, want STAFF default", m.RoleOnProject)
	}
	if !m.IsActive {
		t.Error("new memberships start active")
	}

	// The assignment grants visibility immediately.
	codes := listCodes(t, env, "outsider@example.com")
	if len(codes) != 1 || codes[0] != "PRJ-ALPHA" {
		t.Errorf("outsider codes after assignment = %v", codes)
	}

	t.Run("duplicate assignment", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/projects/"+f.alpha.ID+"/members", f.adminAccess,
			map[string]string{"userId": f.outsider.ID})
		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", rec.Code)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/projects/"+f.alpha.ID+"/members", f.adminAccess,
			map[string]string{"userId": "usr-missing"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	rec = env.do(t, http.MethodGet, "/api/v1/projects/"+f.alpha.ID+"/members", f.adminAccess, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list members status = %d", rec.Code)
	}
	var listResp struct {
		Members []project.Membership `json:"members"`
		Count   int                  `json:"count"`
	}
	decode(t, rec, &listResp)
	if listResp.Count != 1 {
		t.Errorf("member count = %d, want 1", listResp.Count)
	}

	// Deactivate the membership: history stays, visibility goes.
	rec = env.do(t, http.MethodPatch, "/api/v1/projects/"+f.alpha.ID+"/members/"+f.outsider.ID, f.adminAccess,
		map[string]any{"isActive": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate member status = %d, body = %s", rec.Code, rec.Body.String())
	}

	codes = listCodes(t, env, "outsider@example.com")
	if len(codes) != 0 {
		t.Errorf("outsider codes after deactivation = %v", codes)
	}

	t.Run("unknown membership", func(t *testing.T) {
		rec := env.do(t, http.MethodPatch, "/api/v1/projects/"+f.alpha.ID+"/members/"+f.staff.ID, f.adminAccess,
			map[string]any{"isActive": false})
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}
