package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/keygatehq/keygate/internal/service"
	"github.com/keygatehq/keygate/internal/store"
	"github.com/keygatehq/keygate/internal/token"
)

const (
	testSecret   = "test-secret-0123456789abcdef0123"
	testPassword = "supersecretpassword"
)

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server *Server
	store  *store.Store
	auth   *service.Auth
}

// newTestEnv creates a fresh environment on an in-memory store with a fully
// wired Server.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(store.DriverSQLite, "")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	actCodec, err := token.NewActivationCodec(testSecret)
	if err != nil {
		t.Fatalf("activation codec: %v", err)
	}
	sessCodec, err := token.NewSessionCodec(testSecret)
	if err != nil {
		t.Fatalf("session codec: %v", err)
	}

	catalog := service.NewCatalog(st, logger)
	licensing := service.NewLicensing(st, catalog, actCodec, 0, logger)
	auth := service.NewAuth(st, sessCodec, logger)

	cfg := DefaultConfig()
	cfg.RatePerMinute = 10000
	srv := New(cfg, st, licensing, catalog, auth, logger)

	return &testEnv{server: srv, store: st, auth: auth}
}

// adminToken creates an admin account and logs in, returning the bearer
// token.
func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	if _, err := e.auth.CreateAdmin(context.Background(), "admin@example.com", testPassword, "Admin"); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}

	rr := e.do(t, "POST", "/api/v1/admin/session", jsonBody(t, map[string]string{
		"email":    "admin@example.com",
		"password": testPassword,
	}), nil)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Data.Token == "" {
		t.Fatal("adminToken: got empty token from login")
	}
	return resp.Data.Token
}

// do executes an HTTP request against the test server and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// doAuth executes an authenticated HTTP request using the admin token.
func (e *testEnv) doAuth(t *testing.T, method, path string, body io.Reader, tok string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{
		"Authorization": "Bearer " + tok,
	})
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("jsonBody: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

// issueKey provisions an app and one license through the admin API,
// returning the license key.
func (e *testEnv) issueKey(t *testing.T, tok string, seats int) string {
	t.Helper()
	rr := e.doAuth(t, "POST", "/api/v1/admin/apps", jsonBody(t, map[string]string{"name": "Widget"}), tok)
	assertStatus(t, rr, http.StatusCreated)

	rr = e.doAuth(t, "POST", "/api/v1/admin/licenses", jsonBody(t, map[string]any{
		"appName":        "Widget",
		"maxActivations": seats,
	}), tok)
	assertStatus(t, rr, http.StatusCreated)

	var resp struct {
		Data []struct {
			LicenseKey string `json:"licenseKey"`
		} `json:"data"`
	}
	decodeJSON(t, rr, &resp)
	if len(resp.Data) != 1 || resp.Data[0].LicenseKey == "" {
		t.Fatalf("issue response = %+v", resp)
	}
	return resp.Data[0].LicenseKey
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/healthz", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp map[string]any
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" || resp["database"] != "sqlite" {
		t.Errorf("readyz = %+v", resp)
	}
}

func TestOpenAPIDocument(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/openapi.json", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	var doc struct {
		OpenAPI string         `json:"openapi"`
		Paths   map[string]any `json:"paths"`
	}
	decodeJSON(t, rr, &doc)
	if doc.OpenAPI != "3.1.0" {
		t.Errorf("openapi = %q", doc.OpenAPI)
	}
	if _, ok := doc.Paths["/api/v1/license/activate"]; !ok {
		t.Error("activate path missing from document")
	}
}

func TestAdminRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{
		"/api/v1/admin/apps",
		"/api/v1/admin/licenses",
		"/api/v1/admin/activations",
	} {
		rr := env.do(t, "GET", path, nil, nil)
		assertStatus(t, rr, http.StatusUnauthorized)
	}

	rr := env.do(t, "GET", "/api/v1/admin/apps", nil, map[string]string{
		"Authorization": "Bearer garbage",
	})
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestLoginLogoutFlow(t *testing.T) {
	env := newTestEnv(t)
	tok := env.adminToken(t)

	rr := env.doAuth(t, "GET", "/api/v1/admin/session", nil, tok)
	assertStatus(t, rr, http.StatusOK)

	rr = env.doAuth(t, "DELETE", "/api/v1/admin/session", nil, tok)
	assertStatus(t, rr, http.StatusOK)

	// The token is dead after logout.
	rr = env.doAuth(t, "GET", "/api/v1/admin/session", nil, tok)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestActivationProtocolOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	tok := env.adminToken(t)
	key := env.issueKey(t, tok, 1)

	// Activate.
	rr := env.do(t, "POST", "/api/v1/license/activate", jsonBody(t, map[string]any{
		"appName":    "Widget",
		"licenseKey": key,
		"machineId":  "machine-001",
		"appVersion": "1.2.3",
	}), nil)
	assertStatus(t, rr, http.StatusOK)

	var act struct {
		Success bool `json:"success"`
		Data    struct {
			ActivationToken string `json:"activationToken"`
		} `json:"data"`
	}
	decodeJSON(t, rr, &act)
	if !act.Success || act.Data.ActivationToken == "" {
		t.Fatalf("activate response = %+v", act)
	}

	// Second machine is over the one-seat limit.
	rr = env.do(t, "POST", "/api/v1/license/activate", jsonBody(t, map[string]any{
		"appName":    "Widget",
		"licenseKey": key,
		"machineId":  "machine-002",
		"appVersion": "1.2.3",
	}), nil)
	assertStatus(t, rr, http.StatusConflict)

	// Validate.
	rr = env.do(t, "POST", "/api/v1/license/validate", jsonBody(t, map[string]string{
		"appName":         "Widget",
		"machineId":       "machine-001",
		"activationToken": act.Data.ActivationToken,
	}), nil)
	assertStatus(t, rr, http.StatusOK)

	var val struct {
		Data struct {
			Valid bool `json:"valid"`
		} `json:"data"`
	}
	decodeJSON(t, rr, &val)
	if !val.Data.Valid {
		t.Fatalf("validate response = %+v", val)
	}

	// Deactivate, then the token stops validating.
	rr = env.do(t, "POST", "/api/v1/license/deactivate", jsonBody(t, map[string]string{
		"appName":         "Widget",
		"machineId":       "machine-001",
		"activationToken": act.Data.ActivationToken,
	}), nil)
	assertStatus(t, rr, http.StatusOK)

	rr = env.do(t, "POST", "/api/v1/license/validate", jsonBody(t, map[string]string{
		"appName":         "Widget",
		"machineId":       "machine-001",
		"activationToken": act.Data.ActivationToken,
	}), nil)
	assertStatus(t, rr, http.StatusOK)
	val.Data.Valid = true
	decodeJSON(t, rr, &val)
	if val.Data.Valid {
		t.Error("released token still validates")
	}
}

func TestActivateErrorStatuses(t *testing.T) {
	env := newTestEnv(t)
	tok := env.adminToken(t)
	key := env.issueKey(t, tok, 1)

	// Unknown app.
	rr := env.do(t, "POST", "/api/v1/license/activate", jsonBody(t, map[string]any{
		"appName":    "Ghost",
		"licenseKey": key,
		"machineId":  "machine-001",
		"appVersion": "1.0.0",
	}), nil)
	assertStatus(t, rr, http.StatusNotFound)

	// Unknown key.
	rr = env.do(t, "POST", "/api/v1/license/activate", jsonBody(t, map[string]any{
		"appName":    "Widget",
		"licenseKey": "AAAAA-BBBBB-CCCCC-DDDDD-EEEEE",
		"machineId":  "machine-001",
		"appVersion": "1.0.0",
	}), nil)
	assertStatus(t, rr, http.StatusNotFound)

	// Bounds violations never reach the service.
	rr = env.do(t, "POST", "/api/v1/license/activate", jsonBody(t, map[string]any{
		"appName":    "W",
		"licenseKey": key,
		"machineId":  "machine-001",
		"appVersion": "1.0.0",
	}), nil)
	assertStatus(t, rr, http.StatusBadRequest)

	rr = env.do(t, "POST", "/api/v1/license/activate", jsonBody(t, map[string]any{
		"appName":    "Widget",
		"licenseKey": key,
		"machineId":  "tiny",
		"appVersion": "1.0.0",
	}), nil)
	assertStatus(t, rr, http.StatusBadRequest)

	// A garbage token on validate is not an error, just an invalid verdict.
	rr = env.do(t, "POST", "/api/v1/license/validate", jsonBody(t, map[string]string{
		"appName":         "Widget",
		"machineId":       "machine-001",
		"activationToken": "definitely-not-a-real-token",
	}), nil)
	assertStatus(t, rr, http.StatusOK)

	var val struct {
		Data struct {
			Valid  bool   `json:"valid"`
			Reason string `json:"reason"`
		} `json:"data"`
	}
	decodeJSON(t, rr, &val)
	if val.Data.Valid || val.Data.Reason == "" {
		t.Errorf("garbage token verdict = %+v", val.Data)
	}

	// The same garbage token on deactivate is a hard 400.
	rr = env.do(t, "POST", "/api/v1/license/deactivate", jsonBody(t, map[string]string{
		"appName":         "Widget",
		"machineId":       "machine-001",
		"activationToken": "definitely-not-a-real-token",
	}), nil)
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestTokenBoundToAppAndMachineOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	tok := env.adminToken(t)
	key := env.issueKey(t, tok, 1)

	rr := env.do(t, "POST", "/api/v1/license/activate", jsonBody(t, map[string]any{
		"appName":    "Widget",
		"licenseKey": key,
		"machineId":  "machine-aaaa",
		"appVersion": "1.0.0",
	}), nil)
	assertStatus(t, rr, http.StatusOK)

	var act struct {
		Data struct {
			ActivationToken string `json:"activationToken"`
		} `json:"data"`
	}
	decodeJSON(t, rr, &act)

	// Presenting the token from another machine, or under another app name,
	// yields an invalid verdict.
	for _, body := range []map[string]string{
		{"appName": "Widget", "machineId": "machine-bbbb", "activationToken": act.Data.ActivationToken},
		{"appName": "SomeOtherApp", "machineId": "machine-aaaa", "activationToken": act.Data.ActivationToken},
	} {
		rr = env.do(t, "POST", "/api/v1/license/validate", jsonBody(t, body), nil)
		assertStatus(t, rr, http.StatusOK)

		var val struct {
			Data struct {
				Valid  bool   `json:"valid"`
				Reason string `json:"reason"`
			} `json:"data"`
		}
		decodeJSON(t, rr, &val)
		if val.Data.Valid {
			t.Errorf("token accepted for %v", body)
		}
		if !strings.Contains(val.Data.Reason, "does not match") {
			t.Errorf("reason = %q", val.Data.Reason)
		}
	}

	// Deactivation from the wrong machine is rejected outright.
	rr = env.do(t, "POST", "/api/v1/license/deactivate", jsonBody(t, map[string]string{
		"appName":         "Widget",
		"machineId":       "machine-bbbb",
		"activationToken": act.Data.ActivationToken,
	}), nil)
	assertStatus(t, rr, http.StatusBadRequest)

	// The real holder is unaffected.
	rr = env.do(t, "POST", "/api/v1/license/validate", jsonBody(t, map[string]string{
		"appName":         "Widget",
		"machineId":       "machine-aaaa",
		"activationToken": act.Data.ActivationToken,
	}), nil)
	assertStatus(t, rr, http.StatusOK)

	var val struct {
		Data struct {
			Valid bool `json:"valid"`
		} `json:"data"`
	}
	decodeJSON(t, rr, &val)
	if !val.Data.Valid {
		t.Errorf("holder verdict = %+v", val.Data)
	}
}

func TestAdminLicenseLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	tok := env.adminToken(t)
	key := env.issueKey(t, tok, 2)

	// Find the license id through the list endpoint.
	rr := env.doAuth(t, "GET", "/api/v1/admin/licenses?app=Widget&search="+key[:5], nil, tok)
	assertStatus(t, rr, http.StatusOK)

	var list struct {
		Data []struct {
			ID                   string `json:"id"`
			RemainingActivations int    `json:"remainingActivations"`
		} `json:"data"`
	}
	decodeJSON(t, rr, &list)
	if len(list.Data) != 1 {
		t.Fatalf("list returned %d rows", len(list.Data))
	}
	id := list.Data[0].ID
	if list.Data[0].RemainingActivations != 2 {
		t.Errorf("remaining = %d, want 2", list.Data[0].RemainingActivations)
	}

	// Revoke via the status endpoint; activation then fails with 403.
	rr = env.doAuth(t, "PUT", "/api/v1/admin/licenses/"+id+"/status",
		jsonBody(t, map[string]string{"status": "revoked"}), tok)
	assertStatus(t, rr, http.StatusOK)

	rr = env.do(t, "POST", "/api/v1/license/activate", jsonBody(t, map[string]any{
		"appName":    "Widget",
		"licenseKey": key,
		"machineId":  "machine-001",
		"appVersion": "1.0.0",
	}), nil)
	assertStatus(t, rr, http.StatusForbidden)

	// Delete.
	rr = env.doAuth(t, "DELETE", "/api/v1/admin/licenses/"+id, nil, tok)
	assertStatus(t, rr, http.StatusOK)

	rr = env.doAuth(t, "GET", "/api/v1/admin/licenses/"+id, nil, tok)
	assertStatus(t, rr, http.StatusNotFound)
}

func TestActivationAdminEndpoints(t *testing.T) {
	env := newTestEnv(t)
	tok := env.adminToken(t)
	key := env.issueKey(t, tok, 2)

	rr := env.do(t, "POST", "/api/v1/license/activate", jsonBody(t, map[string]any{
		"appName":    "Widget",
		"licenseKey": key,
		"machineId":  "machine-001",
		"appVersion": "1.0.0",
	}), nil)
	assertStatus(t, rr, http.StatusOK)

	rr = env.doAuth(t, "GET", "/api/v1/admin/activations?app=Widget", nil, tok)
	assertStatus(t, rr, http.StatusOK)

	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	decodeJSON(t, rr, &list)
	if len(list.Data) != 1 {
		t.Fatalf("activations = %d, want 1", len(list.Data))
	}
	id := list.Data[0].ID

	rr = env.doAuth(t, "POST", "/api/v1/admin/activations/"+id+"/revoke", nil, tok)
	assertStatus(t, rr, http.StatusOK)

	rr = env.doAuth(t, "GET", "/api/v1/admin/activations/"+id+"/logs", nil, tok)
	assertStatus(t, rr, http.StatusOK)

	var logs struct {
		Data []struct {
			Action string `json:"action"`
		} `json:"data"`
	}
	decodeJSON(t, rr, &logs)
	if len(logs.Data) != 2 || logs.Data[1].Action != "revoked" {
		t.Errorf("audit trail = %+v", logs.Data)
	}

	rr = env.doAuth(t, "GET", "/api/v1/admin/activations/stats?app=Widget", nil, tok)
	assertStatus(t, rr, http.StatusOK)

	var stats struct {
		Data struct {
			Total   int `json:"total"`
			Revoked int `json:"revoked"`
		} `json:"data"`
	}
	decodeJSON(t, rr, &stats)
	if stats.Data.Total != 1 || stats.Data.Revoked != 1 {
		t.Errorf("stats = %+v", stats.Data)
	}
}

func TestPendingActivationOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	tok := env.adminToken(t)
	key := env.issueKey(t, tok, 1)

	rr := env.doAuth(t, "POST", "/api/v1/admin/activations", jsonBody(t, map[string]any{
		"appName":    "Widget",
		"licenseKey": key,
		"machineId":  "manual-machine",
	}), tok)
	assertStatus(t, rr, http.StatusCreated)

	var created struct {
		Data struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	decodeJSON(t, rr, &created)
	if created.Data.Status != "pending" {
		t.Errorf("status = %q, want pending", created.Data.Status)
	}

	rr = env.doAuth(t, "GET", "/api/v1/admin/activations/"+created.Data.ID, nil, tok)
	assertStatus(t, rr, http.StatusOK)

	rr = env.doAuth(t, "POST", "/api/v1/admin/activations/"+created.Data.ID+"/approve", nil, tok)
	assertStatus(t, rr, http.StatusOK)

	var approved struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	decodeJSON(t, rr, &approved)
	if approved.Data.Status != "active" {
		t.Errorf("status = %q, want active", approved.Data.Status)
	}

	rr = env.doAuth(t, "GET", "/api/v1/admin/activations/missing", nil, tok)
	assertStatus(t, rr, http.StatusNotFound)

	// Field bounds are enforced before the ledger is touched.
	rr = env.doAuth(t, "POST", "/api/v1/admin/activations", jsonBody(t, map[string]any{
		"appName":    "Widget",
		"licenseKey": key,
		"machineId":  "tiny",
	}), tok)
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/healthz", nil, nil)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("response missing X-Request-ID")
	}

	rr = env.do(t, "GET", "/healthz", nil, map[string]string{"X-Request-ID": "client-id-1"})
	if got := rr.Header().Get("X-Request-ID"); got != "client-id-1" {
		t.Errorf("X-Request-ID = %q, want client-provided id", got)
	}
}
