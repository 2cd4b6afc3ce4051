package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"planner/api/internal/portal"
	"planner/api/internal/store"
	"planner/api/internal/workflow"
)

func newTestServer(t *testing.T) (*httptest.Server, *fakeStore, *fakeEngine, *fakePortal, *fakeUsers) {
	t.Helper()
	svc, data, engine, gateway, _, users := newTestService()
	server := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(server.Close)
	return server, data, engine, gateway, users
}

func doJSON(t *testing.T, method, url, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, payload
}

func loginAs(t *testing.T, server *httptest.Server, email string) string {
	t.Helper()
	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "",
		`{"email":"`+email+`","password":"hunter2hunter2"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signin status = %d: %v", resp.StatusCode, payload)
	}
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatal("no token in signin response")
	}
	return token
}

func TestHealthAndReady(t *testing.T) {
	server, _, _, _, _ := newTestServer(t)

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/health", "", "")
	if resp.StatusCode != http.StatusOK || payload["ok"] != true {
		t.Errorf("health = %d %v", resp.StatusCode, payload)
	}

	resp, payload = doJSON(t, http.MethodGet, server.URL+"/api/ready", "", "")
	if resp.StatusCode != http.StatusOK || payload["status"] != "ready" {
		t.Errorf("ready = %d %v", resp.StatusCode, payload)
	}
}

func TestSignInAndSessionEndpoint(t *testing.T) {
	server, data, _, _, users := newTestServer(t)
	seedUser(data, users, "u1", "maya@agency.example", "Maya Torres", "Editor", "hunter2hunter2")

	token := loginAs(t, server, "maya@agency.example")

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/session", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session status = %d", resp.StatusCode)
	}
	if payload["authenticated"] != true || payload["userName"] != "Maya Torres" {
		t.Errorf("session payload = %v", payload)
	}

	// No token reads as unauthenticated, not an error.
	resp, payload = doJSON(t, http.MethodGet, server.URL+"/api/session", "", "")
	if resp.StatusCode != http.StatusOK || payload["authenticated"] != false {
		t.Errorf("anonymous session = %d %v", resp.StatusCode, payload)
	}
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	server, data, _, _, users := newTestServer(t)
	seedUser(data, users, "u1", "maya@agency.example", "Maya Torres", "Editor", "hunter2hunter2")

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "",
		`{"email":"maya@agency.example","password":"nope"}`)
	if resp.StatusCode != http.StatusUnauthorized || payload["code"] != "INVALID_CREDENTIALS" {
		t.Errorf("signin = %d %v", resp.StatusCode, payload)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	server, _, _, _, _ := newTestServer(t)

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/posts/post-1", "", "")
	if resp.StatusCode != http.StatusUnauthorized || payload["code"] != "UNAUTHORIZED" {
		t.Errorf("unauthenticated read = %d %v", resp.StatusCode, payload)
	}
}

func TestViewerCannotCreatePosts(t *testing.T) {
	server, data, _, _, users := newTestServer(t)
	seedUser(data, users, "u1", "sam@agency.example", "Sam Ruiz", "Viewer", "hunter2hunter2")
	data.clients["cli-1"] = store.Client{ID: "cli-1", Name: "Acme Coffee"}
	token := loginAs(t, server, "sam@agency.example")

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/posts", token,
		`{"clientId":"cli-1","title":"Spring launch"}`)
	if resp.StatusCode != http.StatusForbidden || payload["code"] != "FORBIDDEN" {
		t.Errorf("viewer create = %d %v", resp.StatusCode, payload)
	}
}

func TestPostLifecycleOverHTTP(t *testing.T) {
	server, data, engine, _, users := newTestServer(t)
	seedUser(data, users, "u1", "maya@agency.example", "Maya Torres", "Editor", "hunter2hunter2")
	data.clients["cli-1"] = store.Client{ID: "cli-1", Name: "Acme Coffee"}
	token := loginAs(t, server, "maya@agency.example")

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/posts", token,
		`{"clientId":"cli-1","title":"Spring launch","copy":"Fresh beans are here."}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create post = %d %v", resp.StatusCode, payload)
	}
	postID, _ := payload["id"].(string)
	if postID == "" || payload["status"] != store.StatusDraft {
		t.Fatalf("create payload = %v", payload)
	}

	engine.submitResult = workflow.SubmitResult{Status: store.StatusInternalReview, ApproverCount: 2}
	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/posts/"+postID+"/submit-internal", token, "{}")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit-internal = %d %v", resp.StatusCode, payload)
	}
	if payload["approverCount"] != float64(2) || payload["status"] != store.StatusInternalReview {
		t.Errorf("submit payload = %v", payload)
	}
	if len(engine.calls) == 0 || engine.calls[len(engine.calls)-1] != "submit-internal:"+postID {
		t.Errorf("engine calls = %v", engine.calls)
	}
}

func TestDecisionEndpointMapsWorkflowErrors(t *testing.T) {
	server, data, engine, _, users := newTestServer(t)
	seedUser(data, users, "u1", "lee@agency.example", "Lee Park", "Admin", "hunter2hunter2")
	data.approvals["apr-1"] = store.ApprovalRecord{ID: "apr-1", PostID: "post-1", Stage: store.StageInternal}
	data.posts["post-1"] = store.Post{ID: "post-1", Status: store.StatusInternalReview}
	token := loginAs(t, server, "lee@agency.example")

	engine.decideErr = workflow.ErrAlreadyDecided
	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/approvals/apr-1/submit", token,
		`{"decision":"Approved"}`)
	if resp.StatusCode != http.StatusConflict || payload["code"] != "ALREADY_DECIDED" {
		t.Errorf("already-decided = %d %v", resp.StatusCode, payload)
	}

	engine.decideErr = nil
	engine.decideResult = workflow.DecisionResult{Status: store.StatusInternalReview, NextAction: workflow.ActionReadyForClientReview}
	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/approvals/apr-1/amend", token,
		`{"decision":"Rejected","notes":"wrong image"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("amend = %d %v", resp.StatusCode, payload)
	}
	if payload["nextAction"] != workflow.ActionReadyForClientReview {
		t.Errorf("amend payload = %v", payload)
	}
	last := engine.calls[len(engine.calls)-1]
	if !strings.HasPrefix(last, "amend:apr-1:Rejected:") {
		t.Errorf("engine calls = %v", engine.calls)
	}
}

func TestUnknownApprovalIs404(t *testing.T) {
	server, data, _, _, users := newTestServer(t)
	seedUser(data, users, "u1", "lee@agency.example", "Lee Park", "Admin", "hunter2hunter2")
	token := loginAs(t, server, "lee@agency.example")

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/approvals/apr-missing/decision", token,
		`{"decision":"Approved"}`)
	if resp.StatusCode != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Errorf("missing approval = %d %v", resp.StatusCode, payload)
	}
}

func TestPortalRoutesAuthenticateWithToken(t *testing.T) {
	server, data, engine, gateway, _ := newTestServer(t)
	data.clients["cli-1"] = store.Client{ID: "cli-1", Name: "Acme Coffee"}
	gateway.grant = store.AuthorizedClient{ID: "ac-1", ClientID: "cli-1", Email: "pat@client.example", AccessType: store.AccessTypeFull, AccessLevel: store.AccessLevelReadOnly, Status: "Active"}
	gateway.resolved = []store.Post{{ID: "post-1", ClientID: "cli-1", Title: "Spring launch", Status: store.StatusClientReview}}

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/portal/tok123", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("portal view = %d %v", resp.StatusCode, payload)
	}
	client, _ := payload["client"].(map[string]any)
	if client["name"] != "Acme Coffee" {
		t.Errorf("portal client = %v", payload)
	}
	posts, _ := payload["posts"].([]any)
	if len(posts) != 1 {
		t.Errorf("portal posts = %v", payload["posts"])
	}

	data.approvals["apr-1"] = store.ApprovalRecord{ID: "apr-1", PostID: "post-1", Stage: store.StageClient}
	data.posts["post-1"] = store.Post{ID: "post-1", ClientID: "cli-1", Status: store.StatusClientReview}
	engine.decideResult = workflow.DecisionResult{Status: store.StatusApproved, NextAction: workflow.ActionFullyApproved}
	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/portal/tok123/approvals/apr-1/decision", "",
		`{"decision":"Approved","comments":"ship it"}`)
	if resp.StatusCode != http.StatusOK || payload["nextAction"] != workflow.ActionFullyApproved {
		t.Errorf("portal decision = %d %v", resp.StatusCode, payload)
	}
}

func TestPortalInvalidTokenIs401(t *testing.T) {
	server, _, _, gateway, _ := newTestServer(t)
	gateway.validateErr = portal.ErrInvalidToken

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/portal/bad-token", "", "")
	if resp.StatusCode != http.StatusUnauthorized || payload["code"] != "INVALID_TOKEN" {
		t.Errorf("invalid token = %d %v", resp.StatusCode, payload)
	}
}

func TestNotificationRoutes(t *testing.T) {
	server, data, _, _, users := newTestServer(t)
	seedUser(data, users, "u1", "maya@agency.example", "Maya Torres", "Editor", "hunter2hunter2")
	data.notifs = []store.Notification{
		{ID: "n1", UserEmail: "maya@agency.example", Message: "Approval requested", Type: store.NotificationApprovalRequest, PostID: "post-1"},
		{ID: "n2", UserEmail: "maya@agency.example", Message: "Decision recorded", Type: store.NotificationApprovalDecision, PostID: "post-2"},
	}
	token := loginAs(t, server, "maya@agency.example")

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/notifications/count", token, "")
	if resp.StatusCode != http.StatusOK || payload["count"] != float64(2) {
		t.Errorf("count = %d %v", resp.StatusCode, payload)
	}

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/notifications/n1/read", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("mark read = %d", resp.StatusCode)
	}

	resp, payload = doJSON(t, http.MethodGet, server.URL+"/api/notifications", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list = %d", resp.StatusCode)
	}
	items, _ := payload["notifications"].([]any)
	if len(items) != 1 {
		t.Errorf("unread after mark = %v", payload["notifications"])
	}
}

func TestCreateUserRequiresAdmin(t *testing.T) {
	server, data, _, _, users := newTestServer(t)
	seedUser(data, users, "u1", "maya@agency.example", "Maya Torres", "Editor", "hunter2hunter2")
	seedUser(data, users, "u2", "lee@agency.example", "Lee Park", "Admin", "hunter2hunter2")

	editorToken := loginAs(t, server, "maya@agency.example")
	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/users", editorToken,
		`{"email":"new@agency.example","password":"password123","fullName":"New Hire","role":"Creator"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("editor create user = %d %v", resp.StatusCode, payload)
	}

	adminToken := loginAs(t, server, "lee@agency.example")
	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/users", adminToken,
		`{"email":"new@agency.example","password":"password123","fullName":"New Hire","role":"Creator"}`)
	if resp.StatusCode != http.StatusCreated || payload["role"] != "Creator" {
		t.Errorf("admin create user = %d %v", resp.StatusCode, payload)
	}
}
