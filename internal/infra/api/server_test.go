//go:build !integration

package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"premium-access/internal/config"
	"premium-access/internal/domain/model"
	"premium-access/internal/infra/i18n"
	"premium-access/internal/infra/memory"
	"premium-access/internal/infra/security"
	"premium-access/internal/usecase"
)

const (
	adminKey   = "admin-secret"
	serviceKey = "service-secret"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

//
// ---------------- test server over the in-memory driver ----------------
//

type testEnv struct {
	srv     *Server
	handler http.Handler
}

func newTestEnv(t *testing.T, rl config.RateLimitConfig) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	log := &logger

	codes := memory.NewCodeRepo()
	cache := memory.NewEntitlementRepo()
	snaps := memory.NewSnapshotRepo()
	sessions := memory.NewSessionRepo()
	tm := memory.NewTxManager()

	registry := usecase.NewCodeRegistryUseCase(codes, cache, tm, tm, log)
	ent := usecase.NewEntitlementUseCase(codes, cache, snaps, tm, tm, log)
	ledger := usecase.NewDeviceSessionUseCase(sessions, tm, tm, usecase.DefaultSessionWindows(), log)
	admission := usecase.NewAdmissionUseCase(ent, ledger, sessions, tm, tm, log)

	tokens, err := security.NewDeviceTokens("token-secret", 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	msgs, err := i18n.Default()
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Config{
		Server: config.ServerConfig{
			AdminAPIKey:    adminKey,
			ServiceAPIKey:  serviceKey,
			RequestTimeout: 5 * time.Second,
		},
		Sessions:  config.SessionConfig{HeartbeatInterval: 30 * time.Second},
		RateLimit: rl,
	}
	srv := NewServer(cfg, Deps{
		Codes:        registry,
		Entitlements: ent,
		Sessions:     ledger,
		Admission:    admission,
		Tokens:       tokens,
		Messages:     msgs,
	}, log)
	srv.now = func() time.Time { return t0 }
	return &testEnv{srv: srv, handler: srv.Router()}
}

func (e *testEnv) do(t *testing.T, method, path, key string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.0.0.1:1234"
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) issue(t *testing.T, kind model.CodeKind) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/admin/codes", adminKey, map[string]interface{}{
		"kind": kind, "issuer": "ops@example.com",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("generate: status %d body %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Items []model.PremiumCode `json:"items"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if len(out.Items) != 1 {
		t.Fatalf("expected one code, got %d", len(out.Items))
	}
	return out.Items[0].Code
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

//
// ---------------- tests ----------------
//

func TestHealthAndAuth(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})

	if rec := env.do(t, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/admin/codes", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: expected 401, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/admin/codes", serviceKey, nil); rec.Code != http.StatusForbidden {
		t.Errorf("service key on admin route: expected 403, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/users/u1/status", adminKey, nil); rec.Code != http.StatusForbidden {
		t.Errorf("admin key on service route: expected 403, got %d", rec.Code)
	}
}

func TestRedeemFlow(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})
	code := env.issue(t, model.KindFamille)

	t.Run("first redemption grants premium", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/users/u1/redeem", serviceKey, map[string]string{"code": code})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		rec = env.do(t, http.MethodGet, "/api/v1/users/u1/status", serviceKey, nil)
		var st struct {
			Active bool   `json:"active"`
			Tier   string `json:"tier"`
		}
		decode(t, rec, &st)
		if !st.Active || st.Tier != string(model.KindFamille) {
			t.Errorf("unexpected status %+v", st)
		}
	})

	t.Run("second redemption by the same user conflicts", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/users/u1/redeem", serviceKey, map[string]string{"code": code})
		if rec.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("unknown code is 404 with a localised message", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/users/u1/redeem", serviceKey, map[string]string{"code": "ZZZZZZZZ0000"}, "Accept-Language", "en-GB")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
		var body errorBody
		decode(t, rec, &body)
		if body.Error != "code_not_found" || body.Message != "This premium code does not exist or has been disabled." {
			t.Errorf("unexpected error body %+v", body)
		}

		rec = env.do(t, http.MethodPost, "/api/v1/users/u1/redeem", serviceKey, map[string]string{"code": "ZZZZZZZZ0000"})
		decode(t, rec, &body)
		if body.Message != "Ce code premium n'existe pas ou a été désactivé." {
			t.Errorf("expected the French default, got %q", body.Message)
		}
	})

	t.Run("admin revoke-all drops the entitlement", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/admin/users/u1/revoke-all", adminKey, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		rec = env.do(t, http.MethodGet, "/api/v1/admin/users/u1/entitlement", adminKey, nil)
		var st struct {
			Active bool `json:"active"`
		}
		decode(t, rec, &st)
		if st.Active {
			t.Error("expected user to lose premium after revoke-all")
		}
	})
}

func TestLoginDeviceCap(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})
	code := env.issue(t, model.KindIndividuel)
	if rec := env.do(t, http.MethodPost, "/api/v1/users/u1/redeem", serviceKey, map[string]string{"code": code}); rec.Code != http.StatusOK {
		t.Fatalf("redeem: %d", rec.Code)
	}

	// --- D1 logs in ---
	rec := env.do(t, http.MethodPost, "/api/v1/users/u1/login", serviceKey, map[string]string{"device_id": "D1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("D1 login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var d1 loginResponse
	decode(t, rec, &d1)
	if d1.DeviceToken == "" || !d1.Managed || d1.HeartbeatSeconds != 30 {
		t.Fatalf("unexpected login response %+v", d1)
	}

	// --- D2 is refused while D1 holds the slot ---
	rec = env.do(t, http.MethodPost, "/api/v1/users/u1/login", serviceKey, map[string]string{"device_id": "D2"})
	if rec.Code != http.StatusLocked {
		t.Fatalf("D2 login: expected 423, got %d", rec.Code)
	}
	var capBody errorBody
	decode(t, rec, &capBody)
	if capBody.Cap != 1 || len(capBody.Sessions) != 1 || capBody.Sessions[0].DeviceID != "D1" {
		t.Errorf("unexpected cap body %+v", capBody)
	}

	// --- heartbeat and logout use the device token ---
	if rec := env.do(t, http.MethodPost, "/api/v1/sessions/heartbeat", serviceKey, nil, deviceTokenHeader, d1.DeviceToken); rec.Code != http.StatusNoContent {
		t.Errorf("heartbeat: expected 204, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/sessions/logout", serviceKey, nil, deviceTokenHeader, d1.DeviceToken); rec.Code != http.StatusOK {
		t.Errorf("logout: expected 200, got %d", rec.Code)
	}

	// --- D2 now fits ---
	rec = env.do(t, http.MethodPost, "/api/v1/users/u1/login", serviceKey, map[string]string{"device_id": "D2"})
	if rec.Code != http.StatusOK {
		t.Errorf("D2 login after logout: expected 200, got %d", rec.Code)
	}
}

func TestLoginWithDeviceToken(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})

	t.Run("a returning device keeps its id", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/users/u1/login", serviceKey, map[string]string{})
		var first loginResponse
		decode(t, rec, &first)
		if first.DeviceID == "" || first.Managed {
			t.Fatalf("expected a minted device id on an unmanaged login, got %+v", first)
		}

		rec = env.do(t, http.MethodPost, "/api/v1/users/u1/login", serviceKey, map[string]string{"device_token": first.DeviceToken})
		var again loginResponse
		decode(t, rec, &again)
		if again.DeviceID != first.DeviceID {
			t.Errorf("expected device id %s, got %s", first.DeviceID, again.DeviceID)
		}
	})

	t.Run("a token issued to another user is refused", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/users/u1/login", serviceKey, map[string]string{"device_id": "D1"})
		var res loginResponse
		decode(t, rec, &res)

		rec = env.do(t, http.MethodPost, "/api/v1/users/u2/login", serviceKey, map[string]string{"device_token": res.DeviceToken})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("heartbeat without a token is refused", func(t *testing.T) {
		if rec := env.do(t, http.MethodPost, "/api/v1/sessions/heartbeat", serviceKey, nil); rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})
}

func TestAdminCodeManagement(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})
	code := env.issue(t, model.KindFamilleAnnuel)
	_ = env.do(t, http.MethodPost, "/api/v1/users/u7/redeem", serviceKey, map[string]string{"code": code})

	rec := env.do(t, http.MethodGet, "/api/v1/admin/codes?active=true", adminKey, nil)
	var list struct {
		Items []model.PremiumCode `json:"items"`
	}
	decode(t, rec, &list)
	if len(list.Items) != 1 {
		t.Fatalf("expected one active code, got %d", len(list.Items))
	}

	rec = env.do(t, http.MethodGet, "/api/v1/admin/codes/stats", adminKey, nil)
	var stats usecase.CodeStats
	decode(t, rec, &stats)
	if stats.TotalCodes != 1 || stats.TotalRedemptions != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/admin/codes/delete", adminKey, map[string][]string{"ids": {list.Items[0].ID}})
	var del struct {
		DeletedCount    int      `json:"deleted_count"`
		AffectedUserIDs []string `json:"affected_user_ids"`
	}
	decode(t, rec, &del)
	if del.DeletedCount != 1 || len(del.AffectedUserIDs) != 1 || del.AffectedUserIDs[0] != "u7" {
		t.Errorf("unexpected delete result %+v", del)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/admin/codes", adminKey, map[string]interface{}{"kind": "gold", "issuer": "ops"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown kind: expected 400, got %d", rec.Code)
	}
}

func TestAdminSnapshotRoundTrip(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})
	records := []*model.UserEntitlementStatus{{
		UserID: "u1", IsPremium: true, ActivatedAt: t0, ExpiresAt: t0.Add(48 * time.Hour), Tier: model.KindIndividuel,
	}}

	rec := env.do(t, http.MethodPut, "/api/v1/admin/snapshot", adminKey, map[string]interface{}{"records": records})
	if rec.Code != http.StatusOK {
		t.Fatalf("import: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/users/u1/status", serviceKey, nil)
	var st struct {
		Active bool `json:"active"`
	}
	decode(t, rec, &st)
	if !st.Active {
		t.Error("expected the snapshot to repair the user's status")
	}

	rec = env.do(t, http.MethodPost, "/api/v1/admin/reconcile", adminKey, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("reconcile: expected 200, got %d", rec.Code)
	}

	bad := []*model.UserEntitlementStatus{{UserID: ""}}
	rec = env.do(t, http.MethodPut, "/api/v1/admin/snapshot", adminKey, map[string]interface{}{"records": bad})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid snapshot: expected 400, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{RPS: 0.001, Burst: 1})

	if rec := env.do(t, http.MethodGet, "/api/v1/users/u1/status", serviceKey, nil); rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}
	rec := env.do(t, http.MethodGet, "/api/v1/users/u1/status", serviceKey, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request: expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected a Retry-After header")
	}
}
