package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pimonitor/pimonitor-core/internal/action"
	"github.com/pimonitor/pimonitor-core/internal/auth"
	"github.com/pimonitor/pimonitor-core/internal/device"
	"github.com/pimonitor/pimonitor-core/internal/infrastructure/config"
	"github.com/pimonitor/pimonitor-core/internal/infrastructure/database"
	"github.com/pimonitor/pimonitor-core/internal/infrastructure/logging"
	"github.com/pimonitor/pimonitor-core/internal/piapi"
	"github.com/pimonitor/pimonitor-core/internal/preset"
	"github.com/pimonitor/pimonitor-core/migrations"
)

const (
	testHost   = "10.0.0.5"
	testSecret = "test-secret-key-at-least-32-characters-long"
)

// fakeActions records calls and returns canned results.
type fakeActions struct {
	mu    sync.Mutex
	calls []string
	rec   piapi.Recording
	ev    device.Event
	err   error
}

func (f *fakeActions) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeActions) StartRecording(_ context.Context, hostID string) (piapi.Recording, error) {
	f.record("start " + hostID)
	return f.rec, f.err
}

func (f *fakeActions) StopAndSaveRecording(_ context.Context, hostID string) (piapi.Recording, error) {
	f.record("stop " + hostID)
	return f.rec, f.err
}

func (f *fakeActions) CancelRecording(_ context.Context, hostID string) (piapi.Recording, error) {
	f.record("cancel " + hostID)
	return f.rec, f.err
}

func (f *fakeActions) TriggerEvent(_ context.Context, hostID, name string) (device.Event, error) {
	f.record("event " + hostID + " " + name)
	return f.ev, f.err
}

func (f *fakeActions) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeBroker struct{ connected bool }

func (b fakeBroker) IsConnected() bool { return b.connected }

type testEnv struct {
	srv      *Server
	handler  http.Handler
	registry *device.Registry
	actions  *fakeActions
	presets  *preset.Store
	history  *device.SQLiteHistoryRepository
}

// testServer builds a Server around a real registry with one device and
// a preset store and history repository on in-memory SQLite.
func testServer(t *testing.T, opts ...func(*Deps)) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	registry := device.NewRegistry()
	registry.UpsertFromDiscovery(testHost, "http://"+testHost+":8080/api")

	presets := preset.NewStore(preset.NewSQLiteKV(db.DB), 3)
	if err := presets.Load(ctx); err != nil {
		t.Fatalf("presets.Load() error = %v", err)
	}

	env := &testEnv{
		registry: registry,
		actions:  &fakeActions{},
		presets:  presets,
		history:  device.NewSQLiteHistoryRepository(db.DB),
	}

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
			CORS:     config.CORSConfig{AllowedOrigins: []string{"http://tablet.local"}},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:   logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test"),
		Registry: registry,
		Actions:  env.actions,
		Presets:  presets,
		History:  env.history,
		Version:  "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.srv = srv
	env.handler = srv.buildRouter()
	return env
}

func withJWT(d *Deps) {
	d.Security.JWT = config.JWTConfig{Enabled: true, Secret: testSecret, AccessTokenTTL: 15}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var e Error
	decode(t, w, &e)
	return e.Code
}

func token(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken("tablet-1", role, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	return tok
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiredDeps(t *testing.T) {
	env := testServer(t)
	base := Deps{
		Logger:   env.srv.logger,
		Registry: env.registry,
		Actions:  env.actions,
		Presets:  env.presets,
	}

	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"no logger", func(d *Deps) { d.Logger = nil }},
		{"no registry", func(d *Deps) { d.Registry = nil }},
		{"no actions", func(d *Deps) { d.Actions = nil }},
		{"no presets", func(d *Deps) { d.Presets = nil }},
		{"jwt without secret", func(d *Deps) { d.Security.JWT.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := base
			tt.mutate(&deps)
			if _, err := New(deps); err == nil {
				t.Error("New() succeeded")
			}
		})
	}

	if _, err := New(base); err != nil {
		t.Errorf("New(base) error = %v", err)
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t, func(d *Deps) {
		d.MQTT = fakeBroker{connected: true}
		d.InfluxDB = fakeBroker{connected: false}
	})

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body map[string]any
	decode(t, w, &body)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
	if body["devices"] != float64(1) || body["mqtt_connected"] != true || body["influxdb_connected"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestHealth_WithoutMQTT(t *testing.T) {
	env := testServer(t)

	var body map[string]any
	decode(t, env.do(t, http.MethodGet, "/api/v1/health", ""), &body)
	if _, ok := body["mqtt_connected"]; ok {
		t.Errorf("mqtt_connected reported without a broker: %v", body)
	}
	if _, ok := body["influxdb_connected"]; ok {
		t.Errorf("influxdb_connected reported without InfluxDB: %v", body)
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodGet, "/api/v1/health", "", "X-Request-ID", "abc-123")
	if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestCORS(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodOptions, "/api/v1/devices", "", "Origin", "http://tablet.local")
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://tablet.local" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	w = env.do(t, http.MethodGet, "/api/v1/health", "", "Origin", "http://elsewhere")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t)
	if w := env.do(t, http.MethodGet, "/api/v1/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRecovery(t *testing.T) {
	env := testServer(t)
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ─── Auth Tests ────────────────────────────────────────────────────

func TestAuth(t *testing.T) {
	env := testServer(t, withJWT)
	viewer := "Bearer " + token(t, auth.RoleViewer)
	operator := "Bearer " + token(t, auth.RoleOperator)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		header []string
		want   int
	}{
		{"health is public", http.MethodGet, "/api/v1/health", "", nil, http.StatusOK},
		{"missing token", http.MethodGet, "/api/v1/devices", "", nil, http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/v1/devices", "", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"non-bearer scheme", http.MethodGet, "/api/v1/devices", "", []string{"Authorization", "Basic abc"}, http.StatusUnauthorized},
		{"viewer reads", http.MethodGet, "/api/v1/devices", "", []string{"Authorization", viewer}, http.StatusOK},
		{"viewer cannot select", http.MethodPost, "/api/v1/devices/" + testHost + "/select", "", []string{"Authorization", viewer}, http.StatusForbidden},
		{"viewer cannot edit presets", http.MethodPut, "/api/v1/presets/0", `{"name":"x"}`, []string{"Authorization", viewer}, http.StatusForbidden},
		{"operator selects", http.MethodPost, "/api/v1/devices/" + testHost + "/select", "", []string{"Authorization", operator}, http.StatusOK},
		{"operator edits presets", http.MethodPut, "/api/v1/presets/0", `{"name":"x"}`, []string{"Authorization", operator}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.body, tt.header...)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAuth_QueryToken(t *testing.T) {
	env := testServer(t, withJWT)
	w := env.do(t, http.MethodGet, "/api/v1/devices?token="+token(t, auth.RoleViewer), "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestAuth_WrongSecret(t *testing.T) {
	env := testServer(t, withJWT)
	tok, err := auth.GenerateAccessToken("tablet-1", auth.RoleOperator, "another-secret-that-is-long-enough", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	w := env.do(t, http.MethodGet, "/api/v1/devices", "", "Authorization", "Bearer "+tok)
	if w.Code != http.StatusUnauthorized || errorCode(t, w) != ErrCodeUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

// ─── Device Tests ──────────────────────────────────────────────────

func TestListDevices(t *testing.T) {
	env := testServer(t)
	env.registry.UpsertFromDiscovery("10.0.0.6:9000", "http://10.0.0.6:9000/api")

	w := env.do(t, http.MethodGet, "/api/v1/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Devices      []device.Device `json:"devices"`
		Count        int             `json:"count"`
		ActiveHostID string          `json:"active_host_id"`
	}
	decode(t, w, &body)
	if body.Count != 2 || len(body.Devices) != 2 {
		t.Errorf("count = %d, devices = %d", body.Count, len(body.Devices))
	}
	if body.ActiveHostID != testHost {
		t.Errorf("active_host_id = %q, want %q", body.ActiveHostID, testHost)
	}
}

func TestGetDevice(t *testing.T) {
	env := testServer(t)
	env.registry.UpsertFromDiscovery("10.0.0.6:9000", "http://10.0.0.6:9000/api")

	w := env.do(t, http.MethodGet, "/api/v1/devices/10.0.0.6:9000", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var d device.Device
	decode(t, w, &d)
	if d.HostID != "10.0.0.6:9000" || d.APIURL != "http://10.0.0.6:9000/api" {
		t.Errorf("device = %+v", d)
	}

	w = env.do(t, http.MethodGet, "/api/v1/devices/10.0.0.99", "")
	if w.Code != http.StatusNotFound || errorCode(t, w) != ErrCodeNotFound {
		t.Errorf("unknown device status = %d", w.Code)
	}
}

func TestStats(t *testing.T) {
	env := testServer(t)
	var stats device.Stats
	decode(t, env.do(t, http.MethodGet, "/api/v1/stats", ""), &stats)
	if stats.TotalDevices != 1 || stats.ActiveHostID != testHost {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSelectDevice(t *testing.T) {
	env := testServer(t)
	env.registry.UpsertFromDiscovery("10.0.0.6", "http://10.0.0.6:8080/api")

	w := env.do(t, http.MethodPost, "/api/v1/devices/10.0.0.6/select", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if active, ok := env.registry.ActiveDevice(); !ok || active.HostID != "10.0.0.6" {
		t.Errorf("active device = %v, %v", active, ok)
	}

	if w := env.do(t, http.MethodPost, "/api/v1/devices/10.0.0.99/select", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", w.Code)
	}
	if active, _ := env.registry.ActiveDevice(); active.HostID != "10.0.0.6" {
		t.Errorf("failed select changed the active device to %q", active.HostID)
	}
}

func TestDrainNotifications(t *testing.T) {
	env := testServer(t)
	if err := env.registry.PushNotification(testHost, "Recording saved", device.SeveritySuccess); err != nil {
		t.Fatal(err)
	}

	path := "/api/v1/devices/" + testHost + "/notifications"
	var body struct {
		Notifications []device.Notification `json:"notifications"`
	}
	decode(t, env.do(t, http.MethodGet, path, ""), &body)
	if len(body.Notifications) != 1 || body.Notifications[0].Message != "Recording saved" {
		t.Fatalf("notifications = %+v", body.Notifications)
	}

	body.Notifications = nil
	decode(t, env.do(t, http.MethodGet, path, ""), &body)
	if len(body.Notifications) != 0 {
		t.Errorf("second drain = %+v", body.Notifications)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/devices/10.0.0.99/notifications", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", w.Code)
	}
}

func TestDeviceHistory(t *testing.T) {
	env := testServer(t)
	ctx := context.Background()
	for _, name := range []string{"blink", "look left"} {
		err := env.history.Record(ctx, device.HistoryEntry{
			HostID:      testHost,
			RecordingID: "r1",
			Kind:        device.HistoryKindEvent,
			EventName:   name,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	path := "/api/v1/devices/" + testHost + "/history"
	var body struct {
		Entries []device.HistoryEntry `json:"entries"`
		Count   int                   `json:"count"`
	}
	decode(t, env.do(t, http.MethodGet, path+"?limit=1", ""), &body)
	if body.Count != 1 || len(body.Entries) != 1 {
		t.Errorf("limit=1 returned %d entries", body.Count)
	}

	for _, bad := range []string{"0", "-1", "x"} {
		if w := env.do(t, http.MethodGet, path+"?limit="+bad, ""); w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", bad, w.Code)
		}
	}
}

func TestDeviceHistory_Disabled(t *testing.T) {
	env := testServer(t, func(d *Deps) { d.History = nil })
	w := env.do(t, http.MethodGet, "/api/v1/devices/"+testHost+"/history", "")
	if w.Code != http.StatusServiceUnavailable || errorCode(t, w) != ErrCodeUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

// ─── Action Tests ──────────────────────────────────────────────────

func TestRecordingActions(t *testing.T) {
	env := testServer(t)
	env.actions.rec = piapi.Recording{ID: "r1", Action: piapi.RecordingStart}

	for _, op := range []string{"start", "stop_and_save", "cancel"} {
		w := env.do(t, http.MethodPost, "/api/v1/devices/"+testHost+"/recording:"+op, "")
		if w.Code != http.StatusOK {
			t.Errorf("%s status = %d (%s)", op, w.Code, w.Body.String())
			continue
		}
		var body struct {
			Recording piapi.Recording `json:"recording"`
		}
		decode(t, w, &body)
		if body.Recording.ID != "r1" {
			t.Errorf("%s recording = %+v", op, body.Recording)
		}
	}

	want := []string{"start " + testHost, "stop " + testHost, "cancel " + testHost}
	if got := env.actions.called(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestSendEvent(t *testing.T) {
	env := testServer(t)
	env.actions.ev = device.Event{Name: "blink", Timestamp: 42}

	w := env.do(t, http.MethodPost, "/api/v1/devices/"+testHost+"/events", `{"name":"blink"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Event device.Event `json:"event"`
	}
	decode(t, w, &body)
	if body.Event != env.actions.ev {
		t.Errorf("event = %+v", body.Event)
	}

	if w := env.do(t, http.MethodPost, "/api/v1/devices/"+testHost+"/events", `{`); w.Code != http.StatusBadRequest {
		t.Errorf("bad JSON status = %d, want 400", w.Code)
	}
}

func TestActionErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"unknown device", device.ErrDeviceNotFound, http.StatusNotFound, ErrCodeNotFound},
		{
			"validation",
			&action.Error{Op: action.OpStart, Message: "The event needs a name", Err: action.ErrEventNameRequired},
			http.StatusUnprocessableEntity, ErrCodeValidation,
		},
		{
			"timeout",
			&action.Error{Op: action.OpStart, Message: "Request timed out", Err: fmt.Errorf("%w after 5s", action.ErrTimedOut)},
			http.StatusGatewayTimeout, ErrCodeTimeout,
		},
		{
			"device refused",
			&action.Error{Op: action.OpStart, Message: "Already recording", Err: &piapi.APIError{StatusCode: 400, Message: "Already recording"}},
			http.StatusBadGateway, ErrCodeDeviceError,
		},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)
			env.actions.err = tt.err

			w := env.do(t, http.MethodPost, "/api/v1/devices/"+testHost+"/recording:start", "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var e Error
			decode(t, w, &e)
			if e.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", e.Code, tt.wantErr)
			}
			var actErr *action.Error
			if errors.As(tt.err, &actErr) && e.Message != actErr.Message {
				t.Errorf("message = %q, want %q", e.Message, actErr.Message)
			}
		})
	}
}

func TestSendEvent_WithCoordinator(t *testing.T) {
	env := testServer(t)
	coord := action.NewCoordinator(env.registry, action.HTTPClients(http.DefaultClient), action.DefaultTimeouts())
	env.srv.actions = coord
	env.handler = env.srv.buildRouter()

	w := env.do(t, http.MethodPost, "/api/v1/devices/"+testHost+"/events", `{"name":"blink"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 without a running recording", w.Code)
	}
	notes, err := env.registry.DrainNotifications(testHost)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 || notes[0].Severity != device.SeverityError {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestRateLimit(t *testing.T) {
	env := testServer(t, func(d *Deps) {
		d.Config.RateLimit = config.ActionRateLimitCfg{Enabled: true, RequestsPerSec: 0.01, Burst: 1}
	})
	env.registry.UpsertFromDiscovery("10.0.0.6", "http://10.0.0.6:8080/api")

	path := "/api/v1/devices/" + testHost + "/recording:start"
	if w := env.do(t, http.MethodPost, path, ""); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d", w.Code)
	}

	w := env.do(t, http.MethodPost, path, "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After not set")
	}
	if errorCode(t, w) != ErrCodeRateLimited {
		t.Error("wrong error code")
	}

	if w := env.do(t, http.MethodPost, "/api/v1/devices/10.0.0.6/recording:start", ""); w.Code != http.StatusOK {
		t.Errorf("other device limited: status = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/devices/"+testHost, ""); w.Code != http.StatusOK {
		t.Errorf("reads limited: status = %d", w.Code)
	}
	if got := len(env.actions.called()); got != 2 {
		t.Errorf("actions reached = %d, want 2", got)
	}
}

// ─── Preset Tests ──────────────────────────────────────────────────

func TestPresets(t *testing.T) {
	env := testServer(t)

	var list struct {
		Presets []string `json:"presets"`
		Slots   int      `json:"slots"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/presets", ""), &list)
	if list.Slots != 3 || len(list.Presets) != 3 || list.Presets[0] != "Event 1" {
		t.Fatalf("presets = %+v", list)
	}

	w := env.do(t, http.MethodPut, "/api/v1/presets/1", `{"name":"Blink"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d", w.Code)
	}
	decode(t, w, &list)
	if list.Presets[1] != "Blink" {
		t.Errorf("presets after edit = %v", list.Presets)
	}
	if got := env.presets.List()[1]; got != "Blink" {
		t.Errorf("store = %q", got)
	}
}

func TestEditPreset_Errors(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"non-integer index", "/api/v1/presets/first", `{"name":"x"}`, http.StatusBadRequest},
		{"bad JSON", "/api/v1/presets/0", `{`, http.StatusBadRequest},
		{"index out of range", "/api/v1/presets/3", `{"name":"x"}`, http.StatusNotFound},
		{"negative index", "/api/v1/presets/-1", `{"name":"x"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, http.MethodPut, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

// ─── WebSocket Hub Tests ───────────────────────────────────────────

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := newTestHub(t)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelDeviceChanged: {}},
	}
	hub.Register(client)

	hub.Broadcast(ChannelDeviceChanged, map[string]any{"host_id": testHost})

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != ChannelDeviceChanged {
			t.Errorf("message = %+v", wsMsg)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := newTestHub(t)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"other": {}},
	}
	hub.Register(client)

	hub.Broadcast(ChannelDeviceChanged, map[string]any{"host_id": testHost})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := newTestHub(t)
	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

// ─── WebSocket Integration Tests ───────────────────────────────────

// startFeed serves the router over a real listener with the hub and
// registry relay running.
func startFeed(t *testing.T, env *testEnv) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	env.srv.startBackground(ctx)
	ts := httptest.NewServer(env.handler)
	t.Cleanup(func() {
		ts.Close()
		cancel()
		env.srv.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
}

func dialFeed(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", url, err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // Test deadline
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func subscribe(t *testing.T, conn *websocket.Conn, chans ...string) WSMessage {
	t.Helper()
	err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: chans},
	})
	if err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	resp := readMessage(t, conn)
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}
	return resp
}

func TestWebSocket_SubscribeSendsSnapshot(t *testing.T) {
	env := testServer(t)
	conn := dialFeed(t, startFeed(t, env), nil)

	resp := subscribe(t, conn, ChannelDeviceChanged)
	raw, err := json.Marshal(resp.Payload)
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Subscribed []string        `json:"subscribed"`
		Devices    []device.Device `json:"devices"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Subscribed) != 1 || len(body.Devices) != 1 || body.Devices[0].HostID != testHost {
		t.Errorf("subscribe payload = %+v", body)
	}
}

func TestWebSocket_DeviceChanged(t *testing.T) {
	env := testServer(t)
	conn := dialFeed(t, startFeed(t, env), nil)
	subscribe(t, conn, ChannelDeviceChanged)

	if err := env.registry.PushNotification(testHost, "Recording saved", device.SeveritySuccess); err != nil {
		t.Fatal(err)
	}

	msg := readMessage(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelDeviceChanged {
		t.Fatalf("message = %+v", msg)
	}
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		t.Fatal(err)
	}
	var change device.Change
	if err := json.Unmarshal(raw, &change); err != nil {
		t.Fatal(err)
	}
	if change.Kind != device.ChangeNotification || change.HostID != testHost {
		t.Errorf("change = %+v", change)
	}
	if change.Device == nil || len(change.Device.Notifications) != 1 {
		t.Errorf("change device = %+v", change.Device)
	}
}

func TestWebSocket_Unsubscribe(t *testing.T) {
	env := testServer(t)
	conn := dialFeed(t, startFeed(t, env), nil)
	subscribe(t, conn, ChannelDeviceChanged)

	err := conn.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "unsub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelDeviceChanged}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp := readMessage(t, conn); resp.ID != "unsub-1" {
		t.Fatalf("unsubscribe response = %+v", resp)
	}

	env.registry.SetActiveDevice(testHost)
	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p"}); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, conn); msg.Type != WSTypePong {
		t.Errorf("got %+v after unsubscribing, want only the pong", msg)
	}
}

func TestWebSocket_ProtocolErrors(t *testing.T) {
	env := testServer(t)
	conn := dialFeed(t, startFeed(t, env), nil)

	tests := []struct {
		name string
		raw  string
		id   string
	}{
		{"invalid JSON", `{not json`, ""},
		{"unknown type", `{"type":"shout","id":"x1"}`, "x1"},
		{"bad subscribe payload", `{"type":"subscribe","id":"x2","payload":{"channels":"all"}}`, "x2"},
		{"empty subscribe", `{"type":"subscribe","id":"x3","payload":{"channels":[]}}`, "x3"},
		{"unknown channel", `{"type":"subscribe","id":"x4","payload":{"channels":["scene.activated"]}}`, "x4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.raw)); err != nil {
				t.Fatal(err)
			}
			msg := readMessage(t, conn)
			if msg.Type != WSTypeError || msg.ID != tt.id {
				t.Errorf("message = %+v", msg)
			}
		})
	}
}

func TestWebSocket_RequiresToken(t *testing.T) {
	env := testServer(t, withJWT)
	url := startFeed(t, env)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v", resp)
	}

	conn := dialFeed(t, url+"?token="+token(t, auth.RoleViewer), nil)
	subscribe(t, conn, ChannelDeviceChanged)
}

func TestServer_StartAndClose(t *testing.T) {
	env := testServer(t)
	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start succeeded")
	}

	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
