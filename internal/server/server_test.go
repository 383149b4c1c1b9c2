package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"intakeline/internal/config"
	"intakeline/internal/db"
	"intakeline/internal/engine"
	"intakeline/internal/migrate"
	"intakeline/internal/obs"
)

const testSecret = "test-secret"

type fakeMailer struct {
	refuse map[string]bool
}

func (m fakeMailer) SendInvite(ctx context.Context, to string, meta engine.SessionMeta, meetingLink string) (engine.DeliveryResult, error) {
	if m.refuse[to] {
		return engine.DeliveryResult{}, &engine.AuthScopeError{Message: "token revoked"}
	}
	return engine.DeliveryResult{MessageID: "msg-" + to}, nil
}

func newTestServer(t *testing.T, mailer engine.Mailer) (string, *http.Client) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, db.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	obs.SetOutput(io.Discard)
	obs.Init()
	e := engine.New(conn, db.DriverSQLite, config.Default())
	e.Logger = log.New(io.Discard, "", 0)
	if mailer != nil {
		e.Mailer = mailer
	}
	h, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowActorHeader: true, DevLogin: true},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: h}
	go srv.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return "http://" + ln.Addr().String(), &http.Client{Timeout: 5 * time.Second}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do %s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, data)
	}
	return env
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode: %v (%s)", err, data)
	}
	return v
}

var actor = map[string]string{"X-Actor-Id": "recruiter-1"}

func intakeTemplate() map[string]any {
	return map[string]any{
		"name": "Engineering intake",
		"questions": []map[string]any{
			{"id": "title", "prompt": "Role title?", "kind": "short_text", "category": "Role", "required": true},
			{"id": "team", "prompt": "Team?", "kind": "long_text", "category": "Team"},
		},
	}
}

func TestAuthentication(t *testing.T) {
	base, client := newTestServer(t, nil)

	resp, _ := doJSON(t, client, http.MethodGet, base+"/v0/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	resp, data := doJSON(t, client, http.MethodGet, base+"/v0/templates", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", resp.StatusCode)
	}
	if env := decodeError(t, data); env.Error.Code != "unauthorized" {
		t.Fatalf("code = %q", env.Error.Code)
	}

	resp, _ = doJSON(t, client, http.MethodGet, base+"/v0/templates", nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", resp.StatusCode)
	}

	resp, data = doJSON(t, client, http.MethodPost, base+"/v0/auth/dev/login", map[string]any{"actor_id": "recruiter-2"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dev login status = %d: %s", resp.StatusCode, data)
	}
	login := decode[devLoginResponse](t, data)
	resp, data = doJSON(t, client, http.MethodGet, base+"/v0/templates", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token status = %d: %s", resp.StatusCode, data)
	}
}

func TestJWTRequiresSubjectAndHS256(t *testing.T) {
	now := time.Now()
	token, err := signDevToken(testSecret, "", nil, time.Hour, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := authenticateJWT(token, testSecret); err != errMissingSubject {
		t.Fatalf("err = %v, want missing subject", err)
	}
	token, err = signDevToken(testSecret, "u1", []string{"recruiter"}, time.Hour, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := authenticateJWT(token, "other"); err == nil {
		t.Fatalf("expected signature failure")
	}
	p, err := authenticateJWT(token, testSecret)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.ActorID != "u1" || p.Source != "jwt" || len(p.Roles) != 1 {
		t.Fatalf("principal = %+v", p)
	}
	expired, _ := signDevToken(testSecret, "u1", nil, time.Minute, now.Add(-time.Hour))
	if _, err := authenticateJWT(expired, testSecret); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestTemplateSessionFlow(t *testing.T) {
	base, client := newTestServer(t, nil)

	resp, data := doJSON(t, client, http.MethodPost, base+"/v0/templates", intakeTemplate(), actor)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create template status = %d: %s", resp.StatusCode, data)
	}
	tpl := decode[struct {
		ID        string `json:"id"`
		CreatedBy string `json:"created_by"`
	}](t, data)
	if tpl.CreatedBy != "recruiter-1" {
		t.Fatalf("created_by = %q", tpl.CreatedBy)
	}

	resp, data = doJSON(t, client, http.MethodPost, base+"/v0/sessions", map[string]any{"template_id": tpl.ID, "client_id": "acme"}, actor)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d: %s", resp.StatusCode, data)
	}
	sess := decode[struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}](t, data)
	if sess.Status != "draft" {
		t.Fatalf("status = %q", sess.Status)
	}

	resp, data = doJSON(t, client, http.MethodPost, base+"/v0/sessions/"+sess.ID+"/complete", nil, actor)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("complete incomplete status = %d: %s", resp.StatusCode, data)
	}
	env := decodeError(t, data)
	missing, _ := env.Error.Details["missing"].([]any)
	if env.Error.Code != "incomplete_session" || len(missing) != 1 || missing[0] != "title" {
		t.Fatalf("envelope = %+v", env.Error)
	}

	resp, data = doJSON(t, client, http.MethodPut, base+"/v0/sessions/"+sess.ID+"/responses/title", map[string]any{"value": "Backend Engineer"}, actor)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("record status = %d: %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, client, http.MethodPost, base+"/v0/sessions/"+sess.ID+"/complete", nil, actor)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete status = %d: %s", resp.StatusCode, data)
	}
	if got := decode[struct {
		Status string `json:"status"`
	}](t, data); got.Status != "completed" {
		t.Fatalf("status = %q", got.Status)
	}

	resp, data = doJSON(t, client, http.MethodPost, base+"/v0/sessions/"+sess.ID+"/job-description", map[string]any{}, actor)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("generate without backend status = %d: %s", resp.StatusCode, data)
	}
	if env := decodeError(t, data); env.Error.Code != "precondition_failed" {
		t.Fatalf("code = %q", env.Error.Code)
	}

	resp, data = doJSON(t, client, http.MethodDelete, base+"/v0/templates/"+tpl.ID, nil, actor)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("delete in-use template status = %d: %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, client, http.MethodGet, base+"/v0/sessions/missing", nil, actor)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing session status = %d: %s", resp.StatusCode, data)
	}
}

func TestBatchResponsesReportPerQuestion(t *testing.T) {
	base, client := newTestServer(t, nil)
	_, data := doJSON(t, client, http.MethodPost, base+"/v0/templates", intakeTemplate(), actor)
	tplID := decode[struct {
		ID string `json:"id"`
	}](t, data).ID
	_, data = doJSON(t, client, http.MethodPost, base+"/v0/sessions", map[string]any{"template_id": tplID, "client_id": "acme"}, actor)
	sessID := decode[struct {
		ID string `json:"id"`
	}](t, data).ID

	resp, data := doJSON(t, client, http.MethodPost, base+"/v0/sessions/"+sessID+"/responses", map[string]any{
		"answers": map[string]any{"title": "Staff Engineer", "nope": "x"},
	}, actor)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("batch status = %d: %s", resp.StatusCode, data)
	}
	res := decode[BatchResponse](t, data)
	if len(res.Accepted) != 1 || res.Accepted[0] != "title" {
		t.Fatalf("accepted = %v", res.Accepted)
	}
	if _, ok := res.Errors["nope"]; !ok {
		t.Fatalf("errors = %v", res.Errors)
	}
	if res.Session.Responses["title"].Text != "Staff Engineer" {
		t.Fatalf("responses = %+v", res.Session.Responses)
	}
}

func TestValidationErrorsAre400(t *testing.T) {
	base, client := newTestServer(t, nil)
	resp, data := doJSON(t, client, http.MethodPost, base+"/v0/templates", map[string]any{"name": "", "questions": []any{}}, actor)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	env := decodeError(t, data)
	if env.Error.Code != "validation_failed" {
		t.Fatalf("code = %q", env.Error.Code)
	}
	if env.Error.Details == nil {
		t.Fatalf("expected field details: %s", data)
	}
}

func TestSendInvitationsReportsReauthorization(t *testing.T) {
	base, client := newTestServer(t, fakeMailer{refuse: map[string]bool{"cto@acme.com": true}})
	_, data := doJSON(t, client, http.MethodPost, base+"/v0/templates", intakeTemplate(), actor)
	tplID := decode[struct {
		ID string `json:"id"`
	}](t, data).ID
	resp, data := doJSON(t, client, http.MethodPost, base+"/v0/sessions", map[string]any{
		"template_id": tplID,
		"client_id":   "acme",
		"attendees":   []string{"hm@acme.com", "CTO@acme.com"},
	}, actor)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d: %s", resp.StatusCode, data)
	}
	sessID := decode[struct {
		ID string `json:"id"`
	}](t, data).ID

	resp, data = doJSON(t, client, http.MethodPost, base+"/v0/sessions/"+sessID+"/invitations", map[string]any{}, actor)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("unscheduled status = %d: %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, client, http.MethodPut, base+"/v0/sessions/"+sessID+"/schedule", map[string]any{
		"scheduled_at": "2025-03-12T10:00:00Z", "duration_minutes": 45,
	}, actor)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("schedule status = %d: %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, client, http.MethodPost, base+"/v0/sessions/"+sessID+"/invitations", map[string]any{"meeting_link": "https://meet.example/abc"}, actor)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send status = %d: %s", resp.StatusCode, data)
	}
	out := decode[InvitationsResponse](t, data)
	if !out.NeedsReauthorization || len(out.Results) != 2 {
		t.Fatalf("response = %+v", out)
	}
	statuses := map[string]string{}
	for _, r := range out.Results {
		statuses[r.Email] = r.Status
	}
	if statuses["hm@acme.com"] != "delivered" || statuses["cto@acme.com"] != "failed" {
		t.Fatalf("statuses = %v", statuses)
	}

	resp, data = doJSON(t, client, http.MethodGet, base+"/v0/sessions/"+sessID+"/invitations", nil, actor)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), "hm@acme.com") {
		t.Fatalf("list status = %d: %s", resp.StatusCode, data)
	}
}

func TestEventsPagination(t *testing.T) {
	base, client := newTestServer(t, nil)
	doJSON(t, client, http.MethodPost, base+"/v0/templates", intakeTemplate(), actor)
	body := intakeTemplate()
	body["name"] = "Sales intake"
	doJSON(t, client, http.MethodPost, base+"/v0/templates", body, actor)

	resp, data := doJSON(t, client, http.MethodGet, base+"/v0/events?entity_kind=template&limit=1", nil, actor)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events status = %d: %s", resp.StatusCode, data)
	}
	page := decode[paginatedEvents](t, data)
	if len(page.Items) != 1 || page.NextCursor == "" {
		t.Fatalf("page = %+v", page)
	}
	resp, data = doJSON(t, client, http.MethodGet, base+"/v0/events?entity_kind=template&limit=1&cursor="+page.NextCursor, nil, actor)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events page 2 status = %d: %s", resp.StatusCode, data)
	}
	next := decode[paginatedEvents](t, data)
	if len(next.Items) != 1 || next.Items[0].ID == page.Items[0].ID {
		t.Fatalf("page 2 = %+v", next)
	}
}

func TestMetricsAndOpenAPIAreOpen(t *testing.T) {
	base, client := newTestServer(t, nil)
	doJSON(t, client, http.MethodGet, base+"/v0/templates", nil, actor)

	resp, data := doJSON(t, client, http.MethodGet, base+"/metrics", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(data), "intakeline_http_requests_total") {
		t.Fatalf("metrics missing request counter")
	}
	resp, data = doJSON(t, client, http.MethodGet, base+"/v0/openapi.json", nil, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), "bearerAuth") {
		t.Fatalf("openapi status = %d", resp.StatusCode)
	}
}
