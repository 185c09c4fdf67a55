package server

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/dtxcloud/internal/artifacts"
	"github.com/goodtune/dtxcloud/internal/audit"
	"github.com/goodtune/dtxcloud/internal/auth"
	"github.com/goodtune/dtxcloud/internal/besteffort"
	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/config"
	"github.com/goodtune/dtxcloud/internal/ratelimit"
	"github.com/goodtune/dtxcloud/internal/rollout"
	"github.com/goodtune/dtxcloud/internal/sessions"
	"github.com/goodtune/dtxcloud/internal/stats"
	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/goodtune/dtxcloud/internal/storage/memory"
	"github.com/rs/zerolog"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testSetupKey = "bootstrap-key"
	sessionOne   = "6f1c2d3e-4a5b-4c6d-8e7f-000000000001"
	sessionTwo   = "6f1c2d3e-4a5b-4c6d-8e7f-000000000002"
)

type harness struct {
	t       *testing.T
	handler http.Handler
	store   *memory.Store
	clock   *clock.TestClock
}

func newHarness(t *testing.T, policy *ratelimit.Policy) *harness {
	t.Helper()

	logger := zerolog.Nop()
	store := memory.New()
	clk := &clock.TestClock{CurrentTime: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
	runner := besteffort.New(logger)

	authSvc, err := auth.NewService(store.Users(), auth.NewLocalBlacklist(100, 24*time.Hour, clk), runner, clk, config.AuthConfig{
		JWTSecret:  testSecret,
		TokenTTL:   "1h",
		BcryptCost: 4,
	}, logger)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	recomputer := stats.NewRecomputer(store.Sessions(), store.Stats(), clk, logger)
	services := Services{
		Store:      store,
		Auth:       authSvc,
		Limiter:    ratelimit.NewLocal(100, time.Minute, clk),
		Reconciler: sessions.NewReconciler(store.Devices(), store.Sessions(), recomputer, runner, clk, logger),
		Recomputer: recomputer,
		Checker:    rollout.NewChecker(store.Firmware(), store.Rollouts(), logger),
		Analytics:  stats.NewAnalytics(store, clk),
		Recorder:   audit.NewRecorder(store.AdminLogs(), runner, clk, logger),
		Signer:     artifacts.Noop{},
		Runner:     runner,
		Clock:      clk,
	}

	cfg := Config{
		ListenAddr:     "127.0.0.1:0",
		AllowedOrigins: []string{"https://console.example.com"},
		AdminSetupKey:  testSetupKey,
		RateLimit:      policy,
	}

	return &harness{
		t:       t,
		handler: NewServer(cfg, services, logger).Handler(),
		store:   store,
		clock:   clk,
	}
}

func (h *harness) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	h.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			h.t.Fatalf("Failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.10:40000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("Expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

// signup creates an account and returns a bearer token for it.
func (h *harness) signup(email string) string {
	h.t.Helper()

	rec := h.do("POST", "/api/auth/signup", "", map[string]string{
		"email": email, "password": "correct horse", "name": "Test",
	})
	expectStatus(h.t, rec, http.StatusCreated)

	rec = h.do("POST", "/api/auth/login", "", map[string]string{
		"email": email, "password": "correct horse",
	})
	expectStatus(h.t, rec, http.StatusOK)

	var login struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	decodeBody(h.t, rec, &login)
	if login.TokenType != "bearer" {
		h.t.Errorf("Expected token type bearer, got %s", login.TokenType)
	}
	if login.ExpiresIn != 3600 {
		h.t.Errorf("Expected expires_in 3600, got %d", login.ExpiresIn)
	}
	return login.AccessToken
}

func (h *harness) registerDevice(token, serial string) string {
	h.t.Helper()

	rec := h.do("POST", "/api/devices", token, map[string]string{"serial_number": serial})
	expectStatus(h.t, rec, http.StatusCreated)

	var out struct {
		Device storage.Device `json:"device"`
	}
	decodeBody(h.t, rec, &out)
	return out.Device.ID
}

func sessionItem(id string, shotType, workingSeconds int) map[string]interface{} {
	return map[string]interface{}{
		"id":                 id,
		"shot_type":          shotType,
		"device_mode":        1,
		"level":              2,
		"start_time":         "2026-04-01T08:00:00Z",
		"end_time":           "2026-04-01T08:10:00Z",
		"working_duration":   workingSeconds,
		"completion_percent": 100,
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do("GET", "/health", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("Expected ok status, got %s", rec.Body.String())
	}
}

func TestAuthentication(t *testing.T) {
	h := newHarness(t, nil)
	token := h.signup("alice@example.com")

	tests := []struct {
		name    string
		header  string
		status  int
		message string
	}{
		{"missing", "", http.StatusUnauthorized, "Missing authorization token"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "Missing authorization token"},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized, "Invalid or expired token"},
		{"valid", "Bearer " + token, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.handler.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("Expected status %d, got %d", tt.status, rec.Code)
			}
			if tt.message != "" && !strings.Contains(rec.Body.String(), tt.message) {
				t.Errorf("Expected message %q, got %s", tt.message, rec.Body.String())
			}
		})
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	h := newHarness(t, nil)
	token := h.signup("alice@example.com")

	expectStatus(t, h.do("POST", "/api/auth/logout", token, nil), http.StatusOK)

	rec := h.do("GET", "/api/auth/me", token, nil)
	expectStatus(t, rec, http.StatusUnauthorized)
	if !strings.Contains(rec.Body.String(), "Token has been revoked") {
		t.Errorf("Expected revoked message, got %s", rec.Body.String())
	}
}

func TestLoginFailures(t *testing.T) {
	h := newHarness(t, nil)
	h.signup("alice@example.com")

	rec := h.do("POST", "/api/auth/login", "", map[string]string{"email": "alice@example.com", "password": "wrong password"})
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = h.do("POST", "/api/auth/signup", "", map[string]string{"email": "ALICE@example.com", "password": "another password"})
	expectStatus(t, rec, http.StatusConflict)

	rec = h.do("POST", "/api/auth/signup", "", map[string]string{"email": "not-an-email", "password": "short"})
	expectStatus(t, rec, http.StatusBadRequest)

	var body struct {
		Details map[string][]string `json:"details"`
	}
	decodeBody(t, rec, &body)
	if len(body.Details["email"]) == 0 || len(body.Details["password"]) == 0 {
		t.Errorf("Expected email and password details, got %v", body.Details)
	}
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	token := h.signup("alice@example.com")
	deviceID := h.registerDevice(token, "DTX-0001")

	batch := map[string]interface{}{
		"device_id": deviceID,
		"sessions": []interface{}{
			sessionItem(sessionOne, 0, 600),
			sessionItem(sessionTwo, 1, 300),
		},
	}

	rec := h.do("POST", "/api/sessions/upload", token, batch)
	expectStatus(t, rec, http.StatusOK)
	var result sessions.Result
	decodeBody(t, rec, &result)
	if result.Uploaded != 2 || result.Duplicates != 0 || result.Errors != 0 {
		t.Errorf("Expected 2 uploaded, got %+v", result)
	}

	// Retrying the same batch is idempotent.
	rec = h.do("POST", "/api/sessions/upload", token, batch)
	expectStatus(t, rec, http.StatusOK)
	decodeBody(t, rec, &result)
	if result.Uploaded != 0 || result.Duplicates != 2 {
		t.Errorf("Expected 2 duplicates, got %+v", result)
	}

	rec = h.do("GET", "/api/stats/daily?date=2026-04-01", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var daily stats.DailySummary
	decodeBody(t, rec, &daily)
	if daily.TotalSessions != 2 {
		t.Errorf("Expected 2 sessions in daily stats, got %d", daily.TotalSessions)
	}
	if daily.TotalDuration != 900 {
		t.Errorf("Expected total duration 900, got %d", daily.TotalDuration)
	}

	rec = h.do("GET", "/api/sessions?limit=1", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var list struct {
		Sessions []storage.UsageSession `json:"sessions"`
		Total    int                    `json:"total"`
		Limit    int                    `json:"limit"`
	}
	decodeBody(t, rec, &list)
	if list.Total != 2 || len(list.Sessions) != 1 || list.Limit != 1 {
		t.Errorf("Expected 1 of 2 sessions with limit 1, got %d of %d (limit %d)", len(list.Sessions), list.Total, list.Limit)
	}

	rec = h.do("GET", "/api/sessions/export", token, nil)
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Expected text/csv, got %s", ct)
	}
	records, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse CSV: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("Expected header plus 2 rows, got %d records", len(records))
	}

	expectStatus(t, h.do("DELETE", "/api/sessions/"+sessionTwo, token, nil), http.StatusOK)
	expectStatus(t, h.do("DELETE", "/api/sessions/"+sessionTwo, token, nil), http.StatusNotFound)

	rec = h.do("GET", "/api/stats/daily?date=2026-04-01", token, nil)
	expectStatus(t, rec, http.StatusOK)
	decodeBody(t, rec, &daily)
	if daily.TotalSessions != 1 || daily.TotalDuration != 600 {
		t.Errorf("Expected daily stats refreshed after delete, got %d sessions / %d seconds", daily.TotalSessions, daily.TotalDuration)
	}
}

func TestUploadValidation(t *testing.T) {
	// Each batch pairs a valid item with a broken one; nothing may be stored.
	withItem := func(mutate func(item map[string]interface{})) []interface{} {
		broken := sessionItem(sessionTwo, 0, 60)
		mutate(broken)
		return []interface{}{sessionItem(sessionOne, 0, 60), broken}
	}

	tooMany := make([]interface{}, 101)
	for i := range tooMany {
		tooMany[i] = sessionItem(sessionOne, 0, 60)
	}

	tests := []struct {
		name     string
		sessions []interface{}
		field    string
	}{
		{"no items", []interface{}{}, "sessions"},
		{"too many items", tooMany, "sessions"},
		{"missing start time", withItem(func(item map[string]interface{}) { delete(item, "start_time") }), "sessions[1].start_time"},
		{"zone offset", withItem(func(item map[string]interface{}) { item["start_time"] = "2026-04-02T01:00:00+09:00" }), "sessions[1].start_time"},
		{"end time offset", withItem(func(item map[string]interface{}) { item["end_time"] = "2026-04-01T10:10:00+02:00" }), "sessions[1].end_time"},
		{"shot type out of range", withItem(func(item map[string]interface{}) { item["shot_type"] = 3 }), "sessions[1].shot_type"},
		{"device mode zero", withItem(func(item map[string]interface{}) { item["device_mode"] = 0 }), "sessions[1].device_mode"},
		{"level zero", withItem(func(item map[string]interface{}) { item["level"] = 0 }), "sessions[1].level"},
		{"voltage too high", withItem(func(item map[string]interface{}) {
			item["battery_samples"] = []interface{}{map[string]int{"elapsed_seconds": 10, "voltage_mv": 5001}}
		}), "sessions[1].battery_samples[0].voltage_mv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			token := h.signup("alice@example.com")
			deviceID := h.registerDevice(token, "DTX-0001")

			rec := h.do("POST", "/api/sessions/upload", token, map[string]interface{}{
				"device_id": deviceID,
				"sessions":  tt.sessions,
			})
			expectStatus(t, rec, http.StatusBadRequest)

			var body struct {
				Message string              `json:"message"`
				Details map[string][]string `json:"details"`
			}
			decodeBody(t, rec, &body)
			if body.Message != "Validation failed" {
				t.Errorf("Expected validation failure, got %q", body.Message)
			}
			if len(body.Details[tt.field]) == 0 {
				t.Errorf("Expected details for %s, got %v", tt.field, body.Details)
			}

			ctx := context.Background()
			n, err := h.store.Sessions().Count(ctx, storage.SessionFilter{})
			if err != nil {
				t.Fatalf("Count failed: %v", err)
			}
			if n != 0 {
				t.Errorf("Expected no sessions stored, got %d", n)
			}
			device, err := h.store.Devices().Get(ctx, deviceID)
			if err != nil {
				t.Fatalf("Get device failed: %v", err)
			}
			if device.TotalSessions != 0 {
				t.Errorf("Expected device counter 0, got %d", device.TotalSessions)
			}
		})
	}
}

func TestUploadToForeignDevice(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.signup("alice@example.com")
	bob := h.signup("bob@example.com")
	deviceID := h.registerDevice(alice, "DTX-0001")

	rec := h.do("POST", "/api/sessions/upload", bob, map[string]interface{}{
		"device_id": deviceID,
		"sessions":  []interface{}{sessionItem(sessionOne, 0, 60)},
	})
	expectStatus(t, rec, http.StatusNotFound)

	n, err := h.store.Sessions().Count(context.Background(), storage.SessionFilter{})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected no sessions stored, got %d", n)
	}

	rec = h.do("GET", "/api/devices/"+deviceID, bob, nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestAdminBootstrap(t *testing.T) {
	h := newHarness(t, nil)
	token := h.signup("root@example.com")

	rec := h.do("GET", "/api/admin/stats", token, nil)
	expectStatus(t, rec, http.StatusForbidden)

	rec = h.do("POST", "/api/admin/setup", "", map[string]string{"email": "root@example.com", "setup_key": "wrong"})
	expectStatus(t, rec, http.StatusForbidden)

	rec = h.do("POST", "/api/admin/setup", "", map[string]string{"email": "root@example.com", "setup_key": testSetupKey})
	expectStatus(t, rec, http.StatusOK)

	rec = h.do("POST", "/api/admin/setup", "", map[string]string{"email": "root@example.com", "setup_key": testSetupKey})
	expectStatus(t, rec, http.StatusForbidden)

	// Role is read from storage on every request, so the old token now
	// carries admin rights.
	rec = h.do("GET", "/api/admin/stats", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var platform struct {
		TotalUsers int `json:"total_users"`
	}
	decodeBody(t, rec, &platform)
	if platform.TotalUsers != 1 {
		t.Errorf("Expected 1 user, got %d", platform.TotalUsers)
	}

	rec = h.do("GET", "/api/admin/logs?action=admin.setup", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var logs struct {
		Logs  []storage.AdminLog `json:"logs"`
		Total int                `json:"total"`
	}
	decodeBody(t, rec, &logs)
	if logs.Total != 1 || len(logs.Logs) != 1 {
		t.Fatalf("Expected one setup log entry, got %d", logs.Total)
	}
	if ip := logs.Logs[0].IPAddress; ip == nil || *ip != "192.0.2.10" {
		t.Errorf("Expected client address recorded, got %v", ip)
	}
}

func TestFirmwareRolloutFlow(t *testing.T) {
	h := newHarness(t, nil)
	admin := h.signup("root@example.com")
	expectStatus(t, h.do("POST", "/api/admin/setup", "", map[string]string{"email": "root@example.com", "setup_key": testSetupKey}), http.StatusOK)
	user := h.signup("alice@example.com")

	rec := h.do("GET", "/api/firmware/latest", user, nil)
	expectStatus(t, rec, http.StatusNotFound)

	rec = h.do("POST", "/api/admin/firmware", admin, map[string]interface{}{
		"version":      "1.2.0",
		"version_code": 120,
		"binary_url":   "https://firmware.example.com/1.2.0.bin",
	})
	expectStatus(t, rec, http.StatusCreated)
	var fw storage.FirmwareVersion
	decodeBody(t, rec, &fw)

	rec = h.do("GET", "/api/firmware/check?current_version_code=110", user, nil)
	expectStatus(t, rec, http.StatusOK)
	var decision rollout.Decision
	decodeBody(t, rec, &decision)
	if !decision.UpdateAvailable || decision.Firmware == nil || decision.Firmware.VersionCode != 120 {
		t.Errorf("Expected ungated update to 120, got %+v", decision)
	}

	rec = h.do("GET", "/api/firmware/check?current_version_code=120", user, nil)
	expectStatus(t, rec, http.StatusOK)
	decision = rollout.Decision{}
	decodeBody(t, rec, &decision)
	if decision.UpdateAvailable {
		t.Error("Expected no update when already current")
	}

	// Codes beyond every firmware never receive a downgrade.
	for _, code := range []string{"99999999999999999999", "1e30", "Infinity"} {
		rec = h.do("GET", "/api/firmware/check?current_version_code="+code, user, nil)
		expectStatus(t, rec, http.StatusOK)
		decision = rollout.Decision{}
		decodeBody(t, rec, &decision)
		if decision.UpdateAvailable {
			t.Errorf("Expected no update for current_version_code=%s, got %+v", code, decision)
		}
	}

	rec = h.do("POST", "/api/admin/firmware/rollouts", admin, map[string]interface{}{
		"firmware_version_id": fw.ID,
		"target_percentage":   50,
	})
	expectStatus(t, rec, http.StatusCreated)
	var ro storage.FirmwareRollout
	decodeBody(t, rec, &ro)
	if ro.Status != storage.RolloutDraft {
		t.Errorf("Expected draft rollout, got %s", ro.Status)
	}

	rec = h.do("PUT", "/api/admin/firmware/rollouts/"+ro.ID, admin, map[string]string{"status": "completed"})
	expectStatus(t, rec, http.StatusConflict)

	rec = h.do("PUT", "/api/admin/firmware/rollouts/"+ro.ID, admin, map[string]string{"status": "active"})
	expectStatus(t, rec, http.StatusOK)

	rec = h.do("GET", "/api/admin/firmware/rollouts", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	var rollouts struct {
		Rollouts []storage.RolloutView `json:"rollouts"`
	}
	decodeBody(t, rec, &rollouts)
	if len(rollouts.Rollouts) != 1 {
		t.Errorf("Expected 1 rollout, got %d", len(rollouts.Rollouts))
	}

	rec = h.do("POST", "/api/admin/firmware/upload", admin, map[string]string{"filename": "fw.bin"})
	expectStatus(t, rec, http.StatusServiceUnavailable)
}

func TestRateLimit(t *testing.T) {
	policy := &ratelimit.Policy{
		Window: time.Minute,
		Limits: map[string]int{
			ratelimit.BucketGeneral: 3,
			ratelimit.BucketUpload:  1,
			ratelimit.BucketAdmin:   3,
		},
	}
	h := newHarness(t, policy)
	token := h.signup("alice@example.com")

	for i := 0; i < 3; i++ {
		expectStatus(t, h.do("GET", "/api/devices", token, nil), http.StatusOK)
	}

	rec := h.do("GET", "/api/devices", token, nil)
	expectStatus(t, rec, http.StatusTooManyRequests)
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("Expected X-RateLimit-Reset header")
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("Expected remaining 0, got %q", got)
	}

	// Uploads draw from their own bucket.
	rec = h.do("POST", "/api/sessions/upload", token, map[string]interface{}{})
	expectStatus(t, rec, http.StatusBadRequest)

	h.clock.Advance(time.Minute)
	expectStatus(t, h.do("GET", "/api/devices", token, nil), http.StatusOK)
}

func TestCORS(t *testing.T) {
	h := newHarness(t, nil)

	req := httptest.NewRequest("OPTIONS", "/api/devices", nil)
	req.Header.Set("Origin", "https://console.example.com")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://console.example.com" {
		t.Errorf("Expected origin echoed, got %q", got)
	}

	req = httptest.NewRequest("OPTIONS", "/api/devices", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no CORS header for unknown origin, got %q", got)
	}
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do("GET", "/api/nope", "", nil)
	expectStatus(t, rec, http.StatusNotFound)
}
