package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"edugate.org/internal/auth"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *auth.MemStore
	svc     *auth.Service
	t       *testing.T
}

const testPassword = "Tr4verse!Nimbus"

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := auth.NewMemStore()
	svc, err := auth.NewService(store,
		auth.WithTokenSecret("httpapi-test-secret"),
		auth.WithIPThrottle(1000, time.Minute),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.EnsurePermissions(context.Background()); err != nil {
		t.Fatalf("EnsurePermissions: %v", err)
	}

	api := New(svc, ReadyProbe{}, "test", WithRateLimit(1000, 1000))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		store:   store,
		svc:     svc,
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

// registerAndLogin creates an account through the API and returns its tokens.
func (c *apiClient) registerAndLogin(email string) (userID, access, refresh string) {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/v1/auth/register", map[string]any{
		"email":    email,
		"password": testPassword,
	}, "")
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("register %s: status %d", email, resp.StatusCode)
	}
	body := decodeBody(c.t, resp)
	user := body["user"].(map[string]any)
	userID = user["id"].(string)

	resp = c.do(http.MethodPost, "/v1/auth/login", map[string]any{
		"identifier": email,
		"password":   testPassword,
	}, "")
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login %s: status %d", email, resp.StatusCode)
	}
	body = decodeBody(c.t, resp)
	return userID, body["access_token"].(string), body["refresh_token"].(string)
}

// makeAdmin promotes a registered account and seeds the admin role grant.
func (c *apiClient) makeAdmin(userID string) {
	c.t.Helper()
	ctx := context.Background()
	adminRole := auth.RoleAdmin
	if err := c.store.Users(ctx).Update(ctx, userID, auth.UserUpdate{Role: &adminRole}); err != nil {
		c.t.Fatalf("promote admin: %v", err)
	}
	if err := c.svc.GrantRolePermission(ctx, "system", auth.RoleAdmin, "all"); err != nil {
		c.t.Fatalf("seed admin grant: %v", err)
	}
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodGet, "/healthz", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["service"] != "edugate-api" {
		t.Fatalf("unexpected service: %v", body["service"])
	}

	resp = c.do(http.MethodGet, "/v1/info", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("info: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRegisterLoginSessionLogout(t *testing.T) {
	c := newTestAPI(t)
	_, access, _ := c.registerAndLogin("a@x.com")

	resp := c.do(http.MethodGet, "/v1/auth/session", nil, access)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session: %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	user := body["user"].(map[string]any)
	if user["email"] != "a@x.com" {
		t.Fatalf("unexpected session user: %v", user["email"])
	}
	if _, ok := user["password_hash"]; ok {
		t.Fatal("password hash leaked in response")
	}

	resp = c.do(http.MethodPost, "/v1/auth/logout", nil, access)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/auth/session", nil, access)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRegisterRejectsAdminRole(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodPost, "/v1/auth/register", map[string]any{
		"email":    "root@x.com",
		"password": testPassword,
		"role":     "admin",
	}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRegisterWeakPasswordViolations(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodPost, "/v1/auth/register", map[string]any{
		"email":    "weak@x.com",
		"password": "abc",
	}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	violations, ok := body["violations"].([]any)
	if !ok || len(violations) == 0 {
		t.Fatalf("expected violations list, got %v", body)
	}
}

func TestLoginInvalidCredentialsGeneric(t *testing.T) {
	c := newTestAPI(t)
	c.registerAndLogin("a@x.com")

	resp := c.do(http.MethodPost, "/v1/auth/login", map[string]any{
		"identifier": "a@x.com",
		"password":   "Wr0ng!Password",
	}, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["error"] != "invalid credentials" {
		t.Fatalf("expected generic error, got %v", body["error"])
	}
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodGet, "/v1/auth/session", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/auth/session", nil, "not-a-token")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with junk token, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRefreshEndpointRotates(t *testing.T) {
	c := newTestAPI(t)
	_, _, refresh := c.registerAndLogin("a@x.com")

	resp := c.do(http.MethodPost, "/v1/auth/refresh", map[string]any{
		"refresh_token": refresh,
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["access_token"] == "" || body["refresh_token"] == "" {
		t.Fatal("expected rotated token pair")
	}

	// The old refresh token is spent.
	resp = c.do(http.MethodPost, "/v1/auth/refresh", map[string]any{
		"refresh_token": refresh,
	}, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for spent refresh token, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestChangePasswordEndpoint(t *testing.T) {
	c := newTestAPI(t)
	_, access, _ := c.registerAndLogin("a@x.com")

	resp := c.do(http.MethodPost, "/v1/auth/password", map[string]any{
		"current_password": testPassword,
		"new_password":     "N3w!SecretHarbor",
	}, access)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("change password: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Every session died with the old password.
	resp = c.do(http.MethodGet, "/v1/auth/session", nil, access)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after password change, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/auth/login", map[string]any{
		"identifier": "a@x.com",
		"password":   "N3w!SecretHarbor",
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login with new password: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAccessCheckSelfAndPrivileged(t *testing.T) {
	c := newTestAPI(t)
	adminID, adminAccess, _ := c.registerAndLogin("admin@x.com")
	c.makeAdmin(adminID)
	// Re-login so the admin session carries the new role.
	resp := c.do(http.MethodPost, "/v1/auth/login", map[string]any{
		"identifier": "admin@x.com",
		"password":   testPassword,
	}, "")
	body := decodeBody(t, resp)
	adminAccess = body["access_token"].(string)

	studentID, studentAccess, _ := c.registerAndLogin("student@x.com")

	// Self-check works for any principal.
	resp = c.do(http.MethodPost, "/v1/access/check", map[string]any{
		"resource": "quiz",
		"action":   "write",
	}, studentAccess)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("self check: %d", resp.StatusCode)
	}
	body = decodeBody(t, resp)
	if body["granted"] != false {
		t.Fatalf("expected denial for student, got %v", body)
	}

	// Checking another user requires rbac.manage.
	resp = c.do(http.MethodPost, "/v1/access/check", map[string]any{
		"user_id":  adminID,
		"resource": "quiz",
		"action":   "write",
	}, studentAccess)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/access/check", map[string]any{
		"user_id":  studentID,
		"resource": "quiz",
		"action":   "write",
	}, adminAccess)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin check: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestPermissionAdministration(t *testing.T) {
	c := newTestAPI(t)
	adminID, _, _ := c.registerAndLogin("admin@x.com")
	c.makeAdmin(adminID)
	resp := c.do(http.MethodPost, "/v1/auth/login", map[string]any{
		"identifier": "admin@x.com",
		"password":   testPassword,
	}, "")
	adminAccess := decodeBody(t, resp)["access_token"].(string)

	studentID, studentAccess, _ := c.registerAndLogin("student@x.com")

	// A student cannot administer permissions.
	resp = c.do(http.MethodPost, "/v1/users/"+studentID+"/permissions", map[string]any{
		"permission": "report.read",
	}, studentAccess)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for student, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The admin grants, the student's effective set reflects it.
	resp = c.do(http.MethodPost, "/v1/users/"+studentID+"/permissions", map[string]any{
		"permission": "report.read",
	}, adminAccess)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("grant: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/users/"+studentID+"/permissions", nil, studentAccess)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list own permissions: %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	perms := body["permissions"].([]any)
	found := false
	for _, p := range perms {
		if p.(map[string]any)["name"] == "report.read" {
			found = true
		}
	}
	if !found {
		t.Fatalf("granted permission missing: %v", perms)
	}

	// Revoke is effective immediately.
	resp = c.do(http.MethodDelete, "/v1/users/"+studentID+"/permissions/report.read", nil, adminAccess)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/access/check", map[string]any{
		"resource": "report",
		"action":   "read",
	}, studentAccess)
	body = decodeBody(t, resp)
	if body["granted"] != false {
		t.Fatalf("revoked permission still granting: %v", body)
	}

	// Unknown permission name maps to 404.
	resp = c.do(http.MethodPost, "/v1/users/"+studentID+"/permissions", map[string]any{
		"permission": "no.such.permission",
	}, adminAccess)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRoleAssignmentEndpoint(t *testing.T) {
	c := newTestAPI(t)
	adminID, _, _ := c.registerAndLogin("admin@x.com")
	c.makeAdmin(adminID)
	resp := c.do(http.MethodPost, "/v1/auth/login", map[string]any{
		"identifier": "admin@x.com",
		"password":   testPassword,
	}, "")
	adminAccess := decodeBody(t, resp)["access_token"].(string)

	studentID, _, _ := c.registerAndLogin("student@x.com")

	resp = c.do(http.MethodPut, "/v1/users/"+studentID+"/role", map[string]any{
		"role": "teacher",
	}, adminAccess)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("assign role: %d", resp.StatusCode)
	}
	resp.Body.Close()

	moved, err := c.store.Users(context.Background()).Find(context.Background(), studentID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if moved.Role != auth.RoleTeacher {
		t.Fatalf("role not updated: %s", moved.Role)
	}

	resp = c.do(http.MethodPut, "/v1/users/"+studentID+"/role", map[string]any{
		"role": "wizard",
	}, adminAccess)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSessionPurgeEndpoint(t *testing.T) {
	c := newTestAPI(t)
	adminID, _, _ := c.registerAndLogin("admin@x.com")
	c.makeAdmin(adminID)
	resp := c.do(http.MethodPost, "/v1/auth/login", map[string]any{
		"identifier": "admin@x.com",
		"password":   testPassword,
	}, "")
	adminAccess := decodeBody(t, resp)["access_token"].(string)

	_, studentAccess, _ := c.registerAndLogin("student@x.com")

	resp = c.do(http.MethodPost, "/v1/admin/sessions/purge", nil, studentAccess)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for student, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/admin/sessions/purge", nil, adminAccess)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("purge: %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if _, ok := body["purged"]; !ok {
		t.Fatalf("expected purged count, got %v", body)
	}
}

func TestRolePermissionEndpoints(t *testing.T) {
	c := newTestAPI(t)
	adminID, _, _ := c.registerAndLogin("admin@x.com")
	c.makeAdmin(adminID)
	resp := c.do(http.MethodPost, "/v1/auth/login", map[string]any{
		"identifier": "admin@x.com",
		"password":   testPassword,
	}, "")
	adminAccess := decodeBody(t, resp)["access_token"].(string)

	_, studentAccess, _ := c.registerAndLogin("student@x.com")

	resp = c.do(http.MethodPost, "/v1/roles/student/permissions", map[string]any{
		"permission": "quiz.read",
	}, adminAccess)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("grant role permission: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/access/check", map[string]any{
		"resource": "quiz",
		"action":   "read",
	}, studentAccess)
	body := decodeBody(t, resp)
	if body["granted"] != true {
		t.Fatalf("role grant not effective: %v", body)
	}

	resp = c.do(http.MethodDelete, "/v1/roles/student/permissions/quiz.read", nil, adminAccess)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke role permission: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/access/check", map[string]any{
		"resource": "quiz",
		"action":   "read",
	}, studentAccess)
	body = decodeBody(t, resp)
	if body["granted"] != false {
		t.Fatalf("revoked role grant still effective: %v", body)
	}

	resp = c.do(http.MethodPost, "/v1/roles/wizard/permissions", map[string]any{
		"permission": "quiz.read",
	}, adminAccess)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown role, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
