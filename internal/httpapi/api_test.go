package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sitewright.io/internal/access"
	"sitewright.io/internal/store/mem"
)

// captureMailer records the tokens a real mailer would deliver.
type captureMailer struct {
	verifications []string
	resets        []string
}

func (m *captureMailer) SendVerification(_ context.Context, _, token string) {
	m.verifications = append(m.verifications, token)
}

func (m *captureMailer) SendPasswordReset(_ context.Context, _, token string) {
	m.resets = append(m.resets, token)
}

type fixture struct {
	api    *API
	srv    *httptest.Server
	store  *mem.Store
	tokens *access.ServiceTokens
	mail   *captureMailer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := mem.NewStore()

	groups, err := access.NewGroups(store, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := groups.EnsureSystemGroups(ctx); err != nil {
		t.Fatal(err)
	}
	if err := store.EnsureQuestions(ctx, []access.SecurityQuestion{
		{ID: "q-pet", Question: "First pet's name?", Position: 1, Active: true},
		{ID: "q-street", Question: "Street you grew up on?", Position: 2, Active: true},
		{ID: "q-teacher", Question: "Favourite teacher?", Position: 3, Active: true},
	}); err != nil {
		t.Fatal(err)
	}

	directory, err := access.NewDirectory(store, nil)
	if err != nil {
		t.Fatal(err)
	}
	sessions, err := access.NewSessions(store, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	mail := &captureMailer{}
	recovery, err := access.NewRecovery(store, nil, nil, access.WithMailer(mail))
	if err != nil {
		t.Fatal(err)
	}
	resolver, err := access.NewResolver(store)
	if err != nil {
		t.Fatal(err)
	}
	guard, err := access.NewGuard(store, nil)
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := access.NewServiceTokens("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	api := New(Deps{
		Log:       zerolog.Nop(),
		Version:   "test",
		Sessions:  sessions,
		Recovery:  recovery,
		Resolver:  resolver,
		Guard:     guard,
		Groups:    groups,
		Directory: directory,
		Tokens:    tokens,
	})
	// a generous bucket so only the dedicated test trips the limiter
	api.credentialLimiter.close()
	api.credentialLimiter = newIPLimiter(100, 100)
	t.Cleanup(api.Close)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &fixture{api: api, srv: srv, store: store, tokens: tokens, mail: mail}
}

func (f *fixture) post(t *testing.T, path, bearer string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp, decodeBody(t, resp)
}

func (f *fixture) get(t *testing.T, path, bearer string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.srv.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil
	}
	return out
}

// register creates and activates an account directly against the store.
func (f *fixture) register(t *testing.T, email, password, groupSlug string) *access.User {
	t.Helper()
	ctx := context.Background()
	group, err := f.store.GetGroupBySlug(ctx, groupSlug)
	if err != nil {
		t.Fatal(err)
	}
	hash, err := access.HashPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	user := &access.User{
		ID:            "u-" + email,
		GroupID:       group.ID,
		Email:         email,
		PasswordHash:  hash,
		Status:        access.StatusActive,
		EmailVerified: true,
	}
	if err := f.store.CreateUser(ctx, user); err != nil {
		t.Fatal(err)
	}
	return user
}

func (f *fixture) login(t *testing.T, email, password string) string {
	t.Helper()
	resp, body := f.post(t, "/v1/login", "", map[string]any{"email": email, "password": password})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login returned %d: %v", resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("login response carried no token")
	}
	return token
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, body := f.get(t, "/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("body %v", body)
	}
	if rid := resp.Header.Get("X-Request-Id"); rid == "" {
		t.Fatal("missing request id header")
	}
}

func TestVisitorFlow(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/v1/register", "", map[string]any{
		"email":    "flo@example.com",
		"password": "long-enough-pass",
		"answers": []map[string]string{
			{"question_id": "q-pet", "answer": "Rex"},
			{"question_id": "q-street", "answer": "Elm Street"},
			{"question_id": "q-teacher", "answer": "Ms. Honey"},
		},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("register returned %d: %v", resp.StatusCode, body)
	}
	if _, ok := body["token"]; ok {
		t.Fatal("verification token must never appear in the response")
	}

	// login is rejected until the address is verified
	resp, _ = f.post(t, "/v1/login", "", map[string]any{"email": "flo@example.com", "password": "long-enough-pass"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("pre-verification login returned %d", resp.StatusCode)
	}

	if len(f.mail.verifications) != 1 {
		t.Fatalf("expected 1 delivered verification token, got %d", len(f.mail.verifications))
	}

	resp, body = f.post(t, "/v1/register/verify", "", map[string]any{"token": f.mail.verifications[0]})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("verify returned %d: %v", resp.StatusCode, body)
	}

	session := f.login(t, "flo@example.com", "long-enough-pass")

	resp, body = f.get(t, "/v1/me", session)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me returned %d: %v", resp.StatusCode, body)
	}
	user, _ := body["user"].(map[string]any)
	if user["email"] != "flo@example.com" {
		t.Fatalf("me body %v", body)
	}

	resp, _ = f.post(t, "/v1/logout", session, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout returned %d", resp.StatusCode)
	}
	resp, _ = f.get(t, "/v1/me", session)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout returned %d", resp.StatusCode)
	}
}

func TestAdminEndpointsRequireAdminPermission(t *testing.T) {
	f := newFixture(t)
	f.register(t, "member@example.com", "member-password", access.SlugMembers)
	f.register(t, "root@example.com", "root-password-1", access.SlugAdmins)

	resp, _ := f.get(t, "/v1/admin/groups", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous admin call returned %d", resp.StatusCode)
	}

	memberSession := f.login(t, "member@example.com", "member-password")
	resp, _ = f.get(t, "/v1/admin/groups", memberSession)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("member admin call returned %d", resp.StatusCode)
	}

	adminSession := f.login(t, "root@example.com", "root-password-1")
	resp, body := f.post(t, "/v1/admin/groups", adminSession, map[string]any{
		"name":            "Paid",
		"hierarchy_level": 4,
		"permissions":     map[string]bool{"content.premium": true},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("group create returned %d: %v", resp.StatusCode, body)
	}
	if body["slug"] != "paid" {
		t.Fatalf("created group %v", body)
	}

	resp, body = f.get(t, "/v1/admin/groups", adminSession)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("group list returned %d", resp.StatusCode)
	}
	groups, _ := body["groups"].([]any)
	if len(groups) != 5 {
		t.Fatalf("expected 5 groups, got %d", len(groups))
	}
}

func TestPageDecisionEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	member := f.register(t, "vis@example.com", "visitor-pass-1", access.SlugMembers)
	admins, err := f.store.GetGroupBySlug(ctx, access.SlugAdmins)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.UpsertPage(ctx, &access.PageAccess{
		PageID:        "staff-room",
		Locked:        true,
		AllowedGroups: []string{admins.ID},
		Redirect:      access.RedirectHome,
	}); err != nil {
		t.Fatal(err)
	}

	// no service token
	resp, _ := f.post(t, "/v1/access/page", "", map[string]any{"page_id": "staff-room"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated decision returned %d", resp.StatusCode)
	}

	// wrong scope
	wrong, err := f.tokens.Issue("renderer", []string{"mail.send"})
	if err != nil {
		t.Fatal(err)
	}
	resp, _ = f.post(t, "/v1/access/page", wrong, map[string]any{"page_id": "staff-room"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong scope returned %d", resp.StatusCode)
	}

	service, err := f.tokens.Issue("renderer", []string{"access.read"})
	if err != nil {
		t.Fatal(err)
	}

	resp, body := f.post(t, "/v1/access/page", service, map[string]any{
		"page_id": "staff-room",
		"user_id": member.ID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("decision returned %d: %v", resp.StatusCode, body)
	}
	if body["allowed"] != false {
		t.Fatalf("member should be denied: %v", body)
	}
	if body["redirect_to"] != "/" {
		t.Fatalf("expected home redirect, got %v", body["redirect_to"])
	}

	// unknown pages are open
	resp, body = f.post(t, "/v1/access/page", service, map[string]any{"page_id": "landing"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("decision returned %d", resp.StatusCode)
	}
	if body["allowed"] != true {
		t.Fatalf("unknown page should be open: %v", body)
	}
}

func TestResolveEndpoint(t *testing.T) {
	f := newFixture(t)
	moderator := f.register(t, "mod2@example.com", "moderator-pass", access.SlugModerators)

	service, err := f.tokens.Issue("feature-script", []string{"access.read"})
	if err != nil {
		t.Fatal(err)
	}

	resp, body := f.post(t, "/v1/access/resolve", service, map[string]any{
		"user_id":    moderator.ID,
		"permission": access.PermViewLocked,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve returned %d: %v", resp.StatusCode, body)
	}
	if body["granted"] != true {
		t.Fatalf("moderator should hold %s: %v", access.PermViewLocked, body)
	}

	// anonymous visitors resolve to false
	resp, body = f.post(t, "/v1/access/resolve", service, map[string]any{
		"permission": access.PermViewLocked,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve returned %d", resp.StatusCode)
	}
	if body["granted"] != false {
		t.Fatalf("anonymous grant: %v", body)
	}
}

func TestCredentialRateLimit(t *testing.T) {
	f := newFixture(t)
	f.api.credentialLimiter.close()
	f.api.credentialLimiter = newIPLimiter(3, 1)
	handler := f.api.Handler()

	var last int
	for i := 0; i < 5; i++ {
		payload := fmt.Sprintf(`{"email":"probe%d@example.com","password":"guess"}`, i)
		req := httptest.NewRequest(http.MethodPost, "/v1/login", bytes.NewBufferString(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "198.51.100.7:40000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", last)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	f := newFixture(t)
	resp, body := f.post(t, "/v1/login", "", map[string]any{
		"email":    "x@example.com",
		"password": "whatever-pass",
		"surprise": true,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field returned %d: %v", resp.StatusCode, body)
	}
}

func TestIPLimiterCloseIsIdempotent(t *testing.T) {
	l := newIPLimiter(2, 1)
	if !l.allow("203.0.113.9") {
		t.Fatal("fresh bucket must admit the first request")
	}
	l.close()
	l.close()
	// closing only stops the background sweep; decisions keep working
	if !l.allow("203.0.113.9") {
		t.Fatal("limiter must keep deciding after close")
	}
}
