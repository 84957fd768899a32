package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"authly.org/internal/auth"
	"authly.org/internal/mfa"
	"authly.org/internal/notify"
	"authly.org/internal/stream"
	"authly.org/internal/tenant"
	"authly.org/internal/token"
)

type testEnv struct {
	srv   *httptest.Server
	creds *auth.InMemory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	creds := auth.NewInMemory()
	sink := notify.LogSink{}
	accounts := auth.NewService(creds, auth.NewInMemoryResets(), sink)
	guard := auth.NewGuard(creds)
	engine := mfa.NewEngine(creds, auth.NewInMemoryCodes(), sink, mfa.NewTOTP("authly-test"))
	tokens := token.NewManager(token.NewInMemory(), "access-secret", "refresh-secret")
	tstore := tenant.NewInMemory()

	api := New(ReadyProbe{}, "test", Deps{
		Accounts: accounts,
		Guard:    guard,
		MFA:      engine,
		Tokens:   tokens,
		Tenants:  tenant.NewService(tstore),
		Resolver: tenant.NewResolver(tstore),
		Stream:   stream.New(),
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, creds: creds}
}

type callOpts struct {
	token  string
	tenant string
}

func (e *testEnv) call(t *testing.T, method, path string, body any, opts callOpts) (int, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.token)
	}
	if opts.tenant != "" {
		req.Header.Set("X-Org-Id", opts.tenant)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

func errCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func (e *testEnv) register(t *testing.T, username, email, password string) string {
	t.Helper()
	status, body := e.call(t, http.MethodPost, "/v1/auth/register", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, callOpts{})
	if status != http.StatusCreated {
		t.Fatalf("register %s: status %d body %v", username, status, body)
	}
	id, _ := body["id"].(string)
	return id
}

func (e *testEnv) login(t *testing.T, identifier, password string) (access, refresh string) {
	t.Helper()
	status, body := e.call(t, http.MethodPost, "/v1/auth/login", map[string]string{
		"identifier": identifier,
		"password":   password,
	}, callOpts{})
	if status != http.StatusOK {
		t.Fatalf("login %s: status %d body %v", identifier, status, body)
	}
	access, _ = body["access_token"].(string)
	refresh, _ = body["refresh_token"].(string)
	if access == "" || refresh == "" {
		t.Fatalf("login %s: incomplete pair %v", identifier, body)
	}
	return access, refresh
}

func TestRegisterLoginRefreshReuse(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@acme.test", "s3cret-pass")

	_, refresh := env.login(t, "alice", "s3cret-pass")

	status, body := env.call(t, http.MethodPost, "/v1/auth/refresh",
		map[string]string{"refresh_token": refresh}, callOpts{})
	if status != http.StatusOK {
		t.Fatalf("rotate: status %d body %v", status, body)
	}
	next, _ := body["refresh_token"].(string)
	if next == "" || next == refresh {
		t.Fatalf("rotation must return a new refresh token")
	}

	// Replaying the retired token is a theft signal.
	status, body = env.call(t, http.MethodPost, "/v1/auth/refresh",
		map[string]string{"refresh_token": refresh}, callOpts{})
	if status != http.StatusUnauthorized || errCode(body) != "refresh_invalid" {
		t.Fatalf("reuse: status %d body %v", status, body)
	}

	// The whole session family died with it.
	status, body = env.call(t, http.MethodPost, "/v1/auth/refresh",
		map[string]string{"refresh_token": next}, callOpts{})
	if status != http.StatusUnauthorized || errCode(body) != "refresh_invalid" {
		t.Fatalf("successor after reuse: status %d body %v", status, body)
	}
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@acme.test", "s3cret-pass")

	for i := 0; i < 5; i++ {
		status, body := env.call(t, http.MethodPost, "/v1/auth/login",
			map[string]string{"identifier": "alice", "password": "wrong"}, callOpts{})
		if status != http.StatusUnauthorized || errCode(body) != "invalid_credentials" {
			t.Fatalf("attempt %d: status %d body %v", i, status, body)
		}
	}

	// Correct password is refused while the lock holds.
	status, body := env.call(t, http.MethodPost, "/v1/auth/login",
		map[string]string{"identifier": "alice", "password": "s3cret-pass"}, callOpts{})
	if status != http.StatusUnauthorized || errCode(body) != "account_locked" {
		t.Fatalf("locked login: status %d body %v", status, body)
	}
}

func TestLoginUnknownIdentifier(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.call(t, http.MethodPost, "/v1/auth/login",
		map[string]string{"identifier": "ghost", "password": "whatever"}, callOpts{})
	if status != http.StatusUnauthorized || errCode(body) != "invalid_credentials" {
		t.Fatalf("status %d body %v", status, body)
	}
}

func TestProtectedRouteNeedsBearerToken(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.call(t, http.MethodGet, "/v1/me", nil, callOpts{})
	if status != http.StatusUnauthorized || errCode(body) != "unauthorized" {
		t.Fatalf("status %d body %v", status, body)
	}
}

func TestLogoutKillsEverySession(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@acme.test", "s3cret-pass")
	access, refresh := env.login(t, "alice", "s3cret-pass")
	_, refresh2 := env.login(t, "alice", "s3cret-pass")

	status, body := env.call(t, http.MethodPost, "/v1/auth/logout", nil, callOpts{token: access})
	if status != http.StatusOK {
		t.Fatalf("logout: status %d body %v", status, body)
	}

	for _, rt := range []string{refresh, refresh2} {
		status, body = env.call(t, http.MethodPost, "/v1/auth/refresh",
			map[string]string{"refresh_token": rt}, callOpts{})
		if status != http.StatusUnauthorized {
			t.Fatalf("refresh after logout: status %d body %v", status, body)
		}
	}
}

func TestForgotNeverRevealsAccounts(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@acme.test", "s3cret-pass")

	for _, email := range []string{"alice@acme.test", "nobody@acme.test"} {
		status, _ := env.call(t, http.MethodPost, "/v1/auth/forgot",
			map[string]string{"email": email}, callOpts{})
		if status != http.StatusAccepted {
			t.Fatalf("forgot %s: status %d", email, status)
		}
	}
}

func TestTOTPEnrollConfirmAndLogin(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@acme.test", "s3cret-pass")
	access, _ := env.login(t, "alice", "s3cret-pass")

	status, body := env.call(t, http.MethodPost, "/v1/auth/mfa/enroll",
		map[string]string{"method": "totp"}, callOpts{token: access})
	if status != http.StatusOK {
		t.Fatalf("enroll: status %d body %v", status, body)
	}
	secret, _ := body["secret"].(string)
	codes, _ := body["backup_codes"].([]any)
	if secret == "" || len(codes) != 8 {
		t.Fatalf("enrollment payload incomplete: %v", body)
	}
	backup := codes[0].(string)

	totp := mfa.NewTOTP("authly-test")
	proof, err := totp.CodeAt(secret, time.Now())
	if err != nil {
		t.Fatalf("CodeAt: %v", err)
	}
	status, body = env.call(t, http.MethodPost, "/v1/auth/mfa/confirm",
		map[string]string{"code": proof}, callOpts{token: access})
	if status != http.StatusOK {
		t.Fatalf("confirm: status %d body %v", status, body)
	}

	// Password alone no longer logs in.
	status, body = env.call(t, http.MethodPost, "/v1/auth/login",
		map[string]string{"identifier": "alice", "password": "s3cret-pass"}, callOpts{})
	if status != http.StatusUnauthorized || errCode(body) != "mfa_required" {
		t.Fatalf("login without proof: status %d body %v", status, body)
	}

	proof, err = totp.CodeAt(secret, time.Now())
	if err != nil {
		t.Fatalf("CodeAt: %v", err)
	}
	status, body = env.call(t, http.MethodPost, "/v1/auth/login",
		map[string]string{"identifier": "alice", "password": "s3cret-pass", "mfa_code": proof}, callOpts{})
	if status != http.StatusOK {
		t.Fatalf("login with proof: status %d body %v", status, body)
	}

	// Backup code works exactly once.
	status, body = env.call(t, http.MethodPost, "/v1/auth/login",
		map[string]string{"identifier": "alice", "password": "s3cret-pass", "backup_code": backup}, callOpts{})
	if status != http.StatusOK {
		t.Fatalf("backup login: status %d body %v", status, body)
	}
	status, body = env.call(t, http.MethodPost, "/v1/auth/login",
		map[string]string{"identifier": "alice", "password": "s3cret-pass", "backup_code": backup}, callOpts{})
	if status != http.StatusUnauthorized || errCode(body) != "invalid_mfa_proof" {
		t.Fatalf("backup replay: status %d body %v", status, body)
	}
}

func TestTenantInviteFlow(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@acme.test", "s3cret-pass")
	env.register(t, "bob", "bob@acme.test", "s3cret-pass")
	aliceTok, _ := env.login(t, "alice", "s3cret-pass")
	bobTok, _ := env.login(t, "bob", "s3cret-pass")

	status, body := env.call(t, http.MethodPost, "/v1/tenants",
		map[string]string{"name": "Acme Rockets"}, callOpts{token: aliceTok})
	if status != http.StatusCreated {
		t.Fatalf("create tenant: status %d body %v", status, body)
	}
	tenantID, _ := body["id"].(string)
	if slug, _ := body["slug"].(string); slug != "acme-rockets" {
		t.Fatalf("derived slug: %v", body)
	}

	// The creator is the owner.
	status, body = env.call(t, http.MethodGet, "/v1/me", nil,
		callOpts{token: aliceTok, tenant: tenantID})
	if status != http.StatusOK || body["role"] != "owner" {
		t.Fatalf("me as creator: status %d body %v", status, body)
	}

	// Bob is not a member yet.
	status, body = env.call(t, http.MethodGet, "/v1/me", nil,
		callOpts{token: bobTok, tenant: tenantID})
	if status != http.StatusForbidden || errCode(body) != "not_a_member" {
		t.Fatalf("me as outsider: status %d body %v", status, body)
	}

	status, body = env.call(t, http.MethodPost, fmt.Sprintf("/v1/tenants/%s/invites", tenantID),
		map[string]string{"email": "Bob@Acme.Test", "role": "viewer"},
		callOpts{token: aliceTok, tenant: tenantID})
	if status != http.StatusCreated {
		t.Fatalf("invite: status %d body %v", status, body)
	}
	code, _ := body["code"].(string)
	if code == "" {
		t.Fatalf("invite code missing: %v", body)
	}

	status, body = env.call(t, http.MethodPost, "/v1/invites/"+code+"/accept", nil,
		callOpts{token: bobTok})
	if status != http.StatusOK || body["role"] != "viewer" {
		t.Fatalf("accept: status %d body %v", status, body)
	}

	// Viewer sees the project, cannot touch the tenant.
	status, body = env.call(t, http.MethodGet, "/v1/me", nil,
		callOpts{token: bobTok, tenant: tenantID})
	if status != http.StatusOK {
		t.Fatalf("me as viewer: status %d body %v", status, body)
	}
	perms, _ := body["permissions"].([]any)
	has := func(p string) bool {
		for _, v := range perms {
			if v == p {
				return true
			}
		}
		return false
	}
	if !has("project:read") || has("tenant:update") {
		t.Fatalf("viewer permissions wrong: %v", perms)
	}

	// Bob holds viewer, so inviting is out of reach.
	status, body = env.call(t, http.MethodPost, fmt.Sprintf("/v1/tenants/%s/invites", tenantID),
		map[string]string{"email": "carol@acme.test", "role": "viewer"},
		callOpts{token: bobTok, tenant: tenantID})
	if status != http.StatusForbidden || errCode(body) != "forbidden" {
		t.Fatalf("viewer invite: status %d body %v", status, body)
	}

	// The code was consumed on accept.
	status, body = env.call(t, http.MethodPost, "/v1/invites/"+code+"/accept", nil,
		callOpts{token: bobTok})
	if status != http.StatusNotFound {
		t.Fatalf("code replay: status %d body %v", status, body)
	}
}

func TestMeRequiresTenantSelector(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@acme.test", "s3cret-pass")
	access, _ := env.login(t, "alice", "s3cret-pass")

	status, body := env.call(t, http.MethodGet, "/v1/me", nil, callOpts{token: access})
	if status != http.StatusBadRequest || errCode(body) != "tenant_required" {
		t.Fatalf("status %d body %v", status, body)
	}
}

func TestSuperadminSkipsTenantSelector(t *testing.T) {
	env := newTestEnv(t)
	id := env.register(t, "root-op", "root@authly.test", "s3cret-pass")

	// Flag flip happens out of band, e.g. by an operator.
	cred, err := env.creds.Find(context.Background(), id)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	cred.IsSuperAdmin = true
	if err := env.creds.Save(context.Background(), cred); err != nil {
		t.Fatalf("Save: %v", err)
	}

	access, _ := env.login(t, "root-op", "s3cret-pass")
	status, body := env.call(t, http.MethodGet, "/v1/me", nil, callOpts{token: access})
	if status != http.StatusOK {
		t.Fatalf("status %d body %v", status, body)
	}
	if body["superadmin"] != true {
		t.Fatalf("superadmin flag lost: %v", body)
	}
	if perms, _ := body["permissions"].([]any); len(perms) != 0 {
		t.Fatalf("superadmin must carry an empty permission set: %v", perms)
	}
}

func TestEventsStreamIsOperatorOnly(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@acme.test", "s3cret-pass")
	access, _ := env.login(t, "alice", "s3cret-pass")

	status, body := env.call(t, http.MethodGet, "/v1/events", nil, callOpts{})
	if status != http.StatusUnauthorized {
		t.Fatalf("anonymous: status %d body %v", status, body)
	}

	// A regular account lacks sys:logs:read regardless of tenant roles.
	status, body = env.call(t, http.MethodGet, "/v1/events", nil, callOpts{token: access})
	if status != http.StatusForbidden || errCode(body) != "forbidden" {
		t.Fatalf("member: status %d body %v", status, body)
	}

	id := env.register(t, "ops", "ops@authly.test", "s3cret-pass")
	cred, err := env.creds.Find(context.Background(), id)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	cred.IsAdmin = true
	if err := env.creds.Save(context.Background(), cred); err != nil {
		t.Fatalf("Save: %v", err)
	}
	opsTok, _ := env.login(t, "ops", "s3cret-pass")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/v1/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+opsTok)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("operator: status %d", resp.StatusCode)
	}
	buf := make([]byte, 64)
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatalf("stream read: %v", err)
	}
	if !strings.Contains(string(buf[:n]), "stream started") {
		t.Fatalf("stream preamble missing: %q", buf[:n])
	}
}

func TestDuplicateRegistrationConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@acme.test", "s3cret-pass")

	status, body := env.call(t, http.MethodPost, "/v1/auth/register", map[string]string{
		"username": "alice", "email": "other@acme.test", "password": "s3cret-pass",
	}, callOpts{})
	if status != http.StatusConflict || errCode(body) != "already_exists" {
		t.Fatalf("status %d body %v", status, body)
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		status, _ := env.call(t, http.MethodGet, path, nil, callOpts{})
		if status != http.StatusOK {
			t.Fatalf("%s: status %d", path, status)
		}
	}
}
