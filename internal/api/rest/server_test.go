package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stlehmann/qthmi.ads/internal/ads"
	"github.com/stlehmann/qthmi.ads/internal/ads/sim"
	"github.com/stlehmann/qthmi.ads/internal/auth"
	"github.com/stlehmann/qthmi.ads/internal/config"
	"github.com/stlehmann/qthmi.ads/internal/hmi"
	"github.com/stlehmann/qthmi.ads/internal/interfaces"
	"github.com/stlehmann/qthmi.ads/internal/screens"
)

const screenYAML = `
screen:
  id: demo
  title: Demo
variables:
  - name: bit1
    byte: 100
    bit: 2
    type: BOOL
  - name: speed
    address: 10
    type: INT
  - name: temperature
    address: 20
    type: REAL
    access: read_only
widgets:
  - id: bit1-check
    kind: checkbox
    variable: bit1
  - id: speed-text
    kind: text
    variable: speed
`

type fakeLM struct {
	cfg     *config.Config
	panel   *hmi.Panel
	catalog *screens.Catalog
}

func (f *fakeLM) Config() *config.Config { return f.cfg }

func (f *fakeLM) Panel() *hmi.Panel { return f.panel }

func (f *fakeLM) Catalog() *screens.Catalog { return f.catalog }

func (f *fakeLM) Shutdown(context.Context) error { return nil }

func (f *fakeLM) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{State: "RUNNING", Screen: f.panel.Screen().Screen.ID}
}

type testEnv struct {
	srv *Server
	plc *sim.PLC
}

func newTestEnv(t *testing.T, svc *auth.AuthService) *testEnv {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "demo.yaml"), []byte(screenYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	loader, err := screens.NewLoader([]string{dir})
	if err != nil {
		t.Fatal(err)
	}
	def, err := loader.Load("demo")
	if err != nil {
		t.Fatal(err)
	}

	plc := sim.New(ads.NetID{5, 1, 2, 3, 1, 1})
	conn, err := ads.Open(plc)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	panel, err := hmi.NewPanel(conn, def, nil)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{}
	lm := &fakeLM{cfg: cfg, panel: panel, catalog: screens.NewCatalog(loader, nil, nil)}
	return &testEnv{srv: NewServer(cfg, lm, nil, nil, svc), plc: plc}
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, r)

	var out map[string]any
	json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	w, body := env.do(t, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK || body["state"] != "RUNNING" {
		t.Errorf("health = %d %v", w.Code, body)
	}
}

func TestVariablesWriteRead(t *testing.T) {
	env := newTestEnv(t, nil)

	w, body := env.do(t, http.MethodPost, "/api/v1/variables/speed/write", `{"value": 42}`, "")
	if w.Code != http.StatusOK || body["value"] != float64(42) {
		t.Fatalf("write = %d %v", w.Code, body)
	}

	w, body = env.do(t, http.MethodPost, "/api/v1/variables/bit1/write", `{"value": true}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("write bit = %d %v", w.Code, body)
	}
	if b := env.plc.Bytes(100, 1)[0]; b != 0x04 {
		t.Errorf("byte 100 = %#x, want bit 2 set", b)
	}

	w, body = env.do(t, http.MethodPost, "/api/v1/variables/speed/read", "", "")
	if w.Code != http.StatusOK || body["value"] != float64(42) || body["has_value"] != true {
		t.Errorf("read = %d %v", w.Code, body)
	}

	w, body = env.do(t, http.MethodGet, "/api/v1/variables", "", "")
	if w.Code != http.StatusOK || body["count"] != float64(3) {
		t.Errorf("list = %d %v", w.Code, body)
	}

	w, body = env.do(t, http.MethodGet, "/api/v1/widgets/speed-text", "", "")
	if w.Code != http.StatusOK || body["text"] != "42" {
		t.Errorf("widget = %d %v", w.Code, body)
	}
}

func TestVariableErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	env.plc.InjectFault(ads.IndexGroupMemoryByte, 10, 1861)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"unknown variable", http.MethodGet, "/api/v1/variables/ghost", "", http.StatusNotFound, "VAR_404"},
		{"read-only", http.MethodPost, "/api/v1/variables/temperature/write", `{"value": 1}`, http.StatusForbidden, "VAR_403"},
		{"bad value", http.MethodPost, "/api/v1/variables/bit1/write", `{"value": "maybe"}`, http.StatusBadRequest, "VAR_400"},
		{"missing value", http.MethodPost, "/api/v1/variables/bit1/write", `{}`, http.StatusBadRequest, "VAR_400"},
		{"device error", http.MethodPost, "/api/v1/variables/speed/read", "", http.StatusBadGateway, "ADS_502"},
		{"unknown widget", http.MethodGet, "/api/v1/widgets/nope", "", http.StatusNotFound, "WIDGET_404"},
		{"unknown screen", http.MethodGet, "/api/v1/screens/nope", "", http.StatusNotFound, "SCREEN_404"},
		{"no store", http.MethodPut, "/api/v1/screens/demo", `{"screen": {"id": "demo"}, "variables": [{"name": "a", "address": 1, "type": "INT"}]}`, http.StatusNotImplemented, "SCREEN_501"},
		{"id mismatch", http.MethodPut, "/api/v1/screens/demo", `{"screen": {"id": "other"}}`, http.StatusBadRequest, "SCREEN_400"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := env.do(t, tt.method, tt.path, tt.body, "")
			if w.Code != tt.status || errorCode(body) != tt.code {
				t.Errorf("%s %s = %d %v, want %d %s", tt.method, tt.path, w.Code, body, tt.status, tt.code)
			}
		})
	}

	_, body := env.do(t, http.MethodPost, "/api/v1/variables/speed/read", "", "")
	details := body["error"].(map[string]any)["details"].(map[string]any)
	if details["code"] != float64(1861) || details["address"] != float64(10) || details["operation"] != "read" {
		t.Errorf("details = %v", details)
	}
}

func TestScreensAndDevice(t *testing.T) {
	env := newTestEnv(t, nil)

	w, body := env.do(t, http.MethodGet, "/api/v1/screens", "", "")
	if w.Code != http.StatusOK || body["count"] != float64(1) || body["active"] != "demo" {
		t.Errorf("screens = %d %v", w.Code, body)
	}
	w, body = env.do(t, http.MethodGet, "/api/v1/screens/demo", "", "")
	if w.Code != http.StatusOK || body["source"] != screens.SourceFile {
		t.Errorf("screen = %d %v", w.Code, body)
	}

	w, body = env.do(t, http.MethodGet, "/api/v1/device", "", "")
	if w.Code != http.StatusOK || body["ads_state"] != "RUN" {
		t.Errorf("device = %d %v", w.Code, body)
	}
}

func TestAuthEnabled(t *testing.T) {
	t.Setenv("QTHMI_REST_JWT", strings.Repeat("r", 32))
	hasher := auth.NewPasswordHasherWithParams(1024, 1, 1)
	opHash, _ := hasher.HashPassword("op-pw")
	techHash, _ := hasher.HashPassword("tech-pw")
	store := auth.NewStaticUserStore([]config.StaticUser{
		{Username: "op", PasswordHash: opHash, Role: "operator"},
		{Username: "tech", PasswordHash: techHash, Role: "technician"},
	}, nil)
	svc := auth.NewAuthService(store, config.AuthConfig{
		JWTSecretEnv:           "QTHMI_REST_JWT",
		AccessTokenTTL:         time.Minute,
		MaxFailedLoginAttempts: 5,
		AccountLockDuration:    time.Minute,
	}, nil)
	env := newTestEnv(t, svc)

	if w, _ := env.do(t, http.MethodGet, "/api/v1/variables", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous = %d, want 401", w.Code)
	}
	if w, body := env.do(t, http.MethodPost, "/api/v1/auth/login", `{"username": "op", "password": "wrong"}`, ""); w.Code != http.StatusUnauthorized || errorCode(body) != "AUTH_401" {
		t.Errorf("bad login = %d %v", w.Code, body)
	}

	login := func(user, pw string) string {
		w, body := env.do(t, http.MethodPost, "/api/v1/auth/login", `{"username": "`+user+`", "password": "`+pw+`"}`, "")
		if w.Code != http.StatusOK {
			t.Fatalf("login %s = %d %v", user, w.Code, body)
		}
		return body["access_token"].(string)
	}
	op := login("op", "op-pw")
	tech := login("tech", "tech-pw")

	if w, _ := env.do(t, http.MethodGet, "/api/v1/variables", "", op); w.Code != http.StatusOK {
		t.Errorf("operator list = %d", w.Code)
	}
	if w, _ := env.do(t, http.MethodPost, "/api/v1/variables/speed/write", `{"value": 1}`, op); w.Code != http.StatusForbidden {
		t.Errorf("operator write = %d, want 403", w.Code)
	}
	if w, _ := env.do(t, http.MethodPost, "/api/v1/variables/speed/write", `{"value": 1}`, tech); w.Code != http.StatusOK {
		t.Errorf("technician write = %d", w.Code)
	}
	if w, _ := env.do(t, http.MethodPut, "/api/v1/screens/demo", `{}`, tech); w.Code != http.StatusForbidden {
		t.Errorf("technician put screen = %d, want 403", w.Code)
	}

	w, body := env.do(t, http.MethodGet, "/api/v1/auth/me", "", tech)
	user, _ := body["user"].(map[string]any)
	if w.Code != http.StatusOK || body["authenticated"] != true || user["username"] != "tech" {
		t.Errorf("me = %d %v", w.Code, body)
	}
}

func TestAuthDisabledMe(t *testing.T) {
	env := newTestEnv(t, nil)
	w, body := env.do(t, http.MethodGet, "/api/v1/auth/me", "", "")
	if w.Code != http.StatusOK || body["authenticated"] != false {
		t.Errorf("me = %d %v", w.Code, body)
	}
	if w, _ := env.do(t, http.MethodPost, "/api/v1/auth/login", `{}`, ""); w.Code != http.StatusNotFound {
		t.Errorf("login without auth = %d, want 404", w.Code)
	}
}
