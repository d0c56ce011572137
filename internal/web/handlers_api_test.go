package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mesh-ctl-client/internal/automation"
	"mesh-ctl-client/internal/ctl"
	"mesh-ctl-client/internal/mesh"
	"mesh-ctl-client/internal/node"
	"mesh-ctl-client/internal/simstack"
	"mesh-ctl-client/internal/store"
)

type fakeCommander struct {
	mu      sync.Mutex
	opcodes []uint16
	data    [][]byte
	handled bool
	err     error
}

func (f *fakeCommander) Submit(_ context.Context, opcode uint16, payload []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.opcodes = append(f.opcodes, opcode)
	f.data = append(f.data, payload)
	return f.handled, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestServer(t *testing.T, cmd Commander, opts ...ServerOption) (*Server, *store.BoltStore, *node.EventBus) {
	t.Helper()
	logger := testLogger()

	db, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	bus := node.NewEventBus(logger)
	srv := NewServer(bus, cmd, db, logger, opts...)
	t.Cleanup(srv.Stop)
	return srv, db, bus
}

func do(srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func seedStatus(t *testing.T, db *store.BoltStore, eventType string, src uint16, data string) {
	t.Helper()
	if err := db.SaveStatus(&store.StatusRecord{
		Type:       eventType,
		Src:        src,
		Data:       json.RawMessage(data),
		ReceivedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
}

func TestAPIVersion(t *testing.T) {
	srv, _, _ := setupTestServer(t, &fakeCommander{}, WithVersion("1.2.3"))
	w := do(srv, "GET", "/api/version", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["version"] != "1.2.3" {
		t.Errorf("version = %q", resp["version"])
	}
}

func TestAPIConfig(t *testing.T) {
	tests := []struct {
		name     string
		lowPower bool
		features uint16
	}{
		{"full node", false, mesh.FeatureFriend | mesh.FeatureRelay | mesh.FeatureProxy},
		{"low power", true, mesh.FeatureLowPower},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := setupTestServer(t, &fakeCommander{}, WithLowPower(tt.lowPower))
			w := do(srv, "GET", "/api/config", "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			var resp configResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Name != ctl.DeviceName || resp.Manufacturer != "Cypress" || resp.Model != "1234" {
				t.Errorf("identity = %q %q %q", resp.Name, resp.Manufacturer, resp.Model)
			}
			if resp.LowPower != tt.lowPower || resp.Composition.Features != tt.features {
				t.Errorf("low_power = %v features = 0x%X", resp.LowPower, resp.Composition.Features)
			}
			if len(resp.Commands) != 8 {
				t.Errorf("commands = %v", resp.Commands)
			}
		})
	}
}

func TestAPINode(t *testing.T) {
	srv, db, _ := setupTestServer(t, &fakeCommander{})

	if w := do(srv, "GET", "/api/node", ""); w.Code != http.StatusNotFound {
		t.Errorf("before save: status = %d, want 404", w.Code)
	}

	if err := db.SaveNodeState(&store.NodeState{Provisioned: true}); err != nil {
		t.Fatal(err)
	}
	w := do(srv, "GET", "/api/node", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var state store.NodeState
	if err := json.NewDecoder(w.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	if !state.Provisioned {
		t.Error("provisioned = false")
	}
}

func TestAPIStatus(t *testing.T) {
	srv, db, _ := setupTestServer(t, &fakeCommander{})
	seedStatus(t, db, "ctl_status", 0x0010, `{"present":{"lightness":100}}`)
	seedStatus(t, db, "ctl_status", 0x0011, `{"present":{"lightness":200}}`)
	seedStatus(t, db, "tx_complete", 0x0010, `{"tx_flag":2,"dst":16}`)

	tests := []struct {
		path  string
		count int
	}{
		{"/api/status", 3},
		{"/api/status?type=ctl_status", 2},
		{"/api/status?type=ctl_default_status", 0},
	}
	for _, tt := range tests {
		w := do(srv, "GET", tt.path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", tt.path, w.Code)
		}
		var recs []store.StatusRecord
		if err := json.NewDecoder(w.Body).Decode(&recs); err != nil {
			t.Fatal(err)
		}
		if len(recs) != tt.count {
			t.Errorf("%s: count = %d, want %d", tt.path, len(recs), tt.count)
		}
	}
}

func TestAPIGetStatus(t *testing.T) {
	srv, db, _ := setupTestServer(t, &fakeCommander{})
	seedStatus(t, db, "ctl_status", 0x0011, `{"present":{"lightness":200}}`)

	tests := []struct {
		path string
		want int
	}{
		{"/api/status/ctl_status/0011", http.StatusOK},
		{"/api/status/ctl_status/0x11", http.StatusOK},
		{"/api/status/ctl_status/0012", http.StatusNotFound},
		{"/api/status/tx_complete/0011", http.StatusNotFound},
		{"/api/status/ctl_status/zz", http.StatusBadRequest},
		{"/api/status/ctl_status/10000", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if w := do(srv, "GET", tt.path, ""); w.Code != tt.want {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAPIDeleteStatus(t *testing.T) {
	srv, db, _ := setupTestServer(t, &fakeCommander{})
	seedStatus(t, db, "ctl_status", 0x0010, `{}`)

	if w := do(srv, "DELETE", "/api/status", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	recs, err := db.ListStatuses()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("remaining = %d", len(recs))
	}
}

func TestAPICommand(t *testing.T) {
	cmd := &fakeCommander{handled: true}
	srv, _, bus := setupTestServer(t, cmd)

	var events []node.CommandEvent
	bus.On(node.EventCommand, func(e node.Event) {
		events = append(events, e.Data.(node.CommandEvent))
	})

	w := do(srv, "POST", "/api/commands/set", `{"dst":16,"reliable":true,"lightness":1000,"temperature":3000,"transition_time":500}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp commandResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Command != "set" || resp.Opcode != "0x1661" || !resp.Handled {
		t.Errorf("resp = %+v", resp)
	}

	if len(cmd.opcodes) != 1 || cmd.opcodes[0] != ctl.CommandSet {
		t.Fatalf("opcodes = %v", cmd.opcodes)
	}
	hdr, rest, err := mesh.ParseCommandHeader(cmd.data[0])
	if err != nil {
		t.Fatal(err)
	}
	set, err := ctl.DecodeSet(rest)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Dst != 16 || set.Target.Lightness != 1000 || set.TransitionTime != 500 {
		t.Errorf("header %+v set %+v", hdr, set)
	}

	if len(events) != 1 || events[0].Source != "http" || events[0].Name != "set" {
		t.Errorf("events = %+v", events)
	}
}

func TestAPICommandErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		err  error
		want int
	}{
		{"unknown command", "/api/commands/blink", "", nil, http.StatusNotFound},
		{"bad json", "/api/commands/set", "{", nil, http.StatusBadRequest},
		{"stopped", "/api/commands/get", "", node.ErrStopped, http.StatusServiceUnavailable},
		{"timeout", "/api/commands/get", "", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", "/api/commands/get", "", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := setupTestServer(t, &fakeCommander{err: tt.err})
			if w := do(srv, "POST", tt.path, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAPICommandThroughRuntime(t *testing.T) {
	logger := testLogger()
	bus := node.NewEventBus(logger)
	rt := node.NewRuntime(logger)
	stack := simstack.New(simstack.Config{OwnAddr: 0x0001, ServerAddr: 0x0010}, rt, logger)
	rt.Attach(ctl.NewApp(stack, node.NewRelay(bus, nil, logger), logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx)
	if err := rt.Start(true); err != nil {
		t.Fatal(err)
	}

	statuses := make(chan node.Event, 4)
	bus.On("ctl_status", func(e node.Event) { statuses <- e })

	db, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	srv := NewServer(bus, rt, db, logger)
	defer srv.Stop()

	w := do(srv, "POST", "/api/commands/get", `{"dst":16,"reliable":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	select {
	case e := <-statuses:
		if ev := e.Data.(*ctl.HostEvent); ev.Header.Src != 0x0010 {
			t.Errorf("status src = 0x%04X", ev.Header.Src)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no status event")
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, _, _ := setupTestServer(t, &fakeCommander{}, WithAPIKey("secret-key"))

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"correct", "secret-key", http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "wrong-key", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/version", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	srv, _, _ := setupTestServer(t, &fakeCommander{handled: true}, WithAllowedOrigins([]string{"http://panel.local"}))

	tests := []struct {
		name   string
		method string
		origin string
		want   int
	}{
		{"preflight allowed", http.MethodOptions, "http://panel.local", http.StatusNoContent},
		{"preflight denied", http.MethodOptions, "http://evil.example", http.StatusForbidden},
		{"post allowed", http.MethodPost, "http://panel.local", http.StatusOK},
		{"post denied", http.MethodPost, "http://evil.example", http.StatusForbidden},
		{"get any origin", http.MethodGet, "http://evil.example", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/api/commands/get"
			if tt.method == http.MethodGet {
				path = "/api/version"
			}
			req := httptest.NewRequest(tt.method, path, nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in   string
		want uint16
		ok   bool
	}{
		{"0010", 0x0010, true},
		{"0x7FFF", 0x7FFF, true},
		{"ffff", 0xFFFF, true},
		{"", 0, false},
		{"12345", 0, false},
		{"g1", 0, false},
	}
	for _, tt := range tests {
		got, err := parseAddress(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("parseAddress(%q) = 0x%04X, %v", tt.in, got, err)
		}
	}
}

func TestAPIScriptsWithoutAutomation(t *testing.T) {
	srv, _, _ := setupTestServer(t, &fakeCommander{})

	if w := do(srv, "GET", "/api/scripts", ""); w.Code != http.StatusOK || w.Body.String() != "[]\n" {
		t.Errorf("list: %d %q", w.Code, w.Body.String())
	}
	if w := do(srv, "POST", "/api/scripts", `{"name":"x"}`); w.Code != http.StatusNotImplemented {
		t.Errorf("create: %d", w.Code)
	}
	if w := do(srv, "POST", "/api/scripts/x/run", ""); w.Code != http.StatusNotImplemented {
		t.Errorf("run: %d", w.Code)
	}
}

func setupAutomationServer(t *testing.T, cmd Commander) *Server {
	t.Helper()
	logger := testLogger()
	mgr, err := automation.NewManager(filepath.Join(t.TempDir(), "scripts"), logger)
	if err != nil {
		t.Fatal(err)
	}
	if mgr == nil {
		t.Skip("automation disabled")
	}
	db, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	bus := node.NewEventBus(logger)
	engine := automation.NewEngine(bus, cmd, db, mgr, logger, automation.SystemConfig{})
	engine.Start()
	t.Cleanup(engine.Stop)

	srv := NewServer(bus, cmd, db, logger, WithAutomation(engine, mgr))
	t.Cleanup(srv.Stop)
	return srv
}

func TestAPIScriptsLifecycle(t *testing.T) {
	srv := setupAutomationServer(t, &fakeCommander{handled: true})

	w := do(srv, "POST", "/api/scripts", `{"name":"Night Mode","lua_code":"ctl.on(\"ctl_status\", function(e) end)","enabled":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var created automation.Script
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.ID != "night_mode" {
		t.Fatalf("id = %q", created.ID)
	}

	list := func() []automation.ScriptInfo {
		t.Helper()
		w := do(srv, "GET", "/api/scripts", "")
		var infos []automation.ScriptInfo
		if err := json.NewDecoder(w.Body).Decode(&infos); err != nil {
			t.Fatal(err)
		}
		return infos
	}
	if infos := list(); len(infos) != 1 || !infos[0].Running || infos[0].Handlers != 1 {
		t.Fatalf("infos = %+v", infos)
	}

	if w := do(srv, "POST", "/api/scripts/night_mode/toggle", ""); w.Code != http.StatusOK {
		t.Fatalf("toggle: %d", w.Code)
	}
	if infos := list(); len(infos) != 1 || infos[0].Running {
		t.Errorf("after toggle: %+v", infos)
	}

	if w := do(srv, "GET", "/api/scripts/night_mode", ""); w.Code != http.StatusOK {
		t.Errorf("get: %d", w.Code)
	}
	if w := do(srv, "PUT", "/api/scripts/night_mode", `{"name":"Night Mode","lua_code":"x = 1","enabled":true}`); w.Code != http.StatusOK {
		t.Errorf("update: %d", w.Code)
	}
	if w := do(srv, "DELETE", "/api/scripts/night_mode", ""); w.Code != http.StatusOK {
		t.Errorf("delete: %d", w.Code)
	}
	if w := do(srv, "GET", "/api/scripts/night_mode", ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete: %d", w.Code)
	}
	if w := do(srv, "POST", "/api/scripts", `{"id":"../x","name":"bad"}`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid id: %d", w.Code)
	}
}

func TestAPIRunInline(t *testing.T) {
	cmd := &fakeCommander{handled: true}
	srv := setupAutomationServer(t, cmd)

	w := do(srv, "POST", "/api/scripts/_inline/run", `{"lua_code":"local ok = ctl.send(\"default_get\", {dst = 16})\nctl.log(tostring(ok))"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var res automation.RunResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if !res.OK || len(res.Logs) != 1 || res.Logs[0] != "true" {
		t.Errorf("result = %+v", res)
	}
	if len(cmd.opcodes) != 1 || cmd.opcodes[0] != ctl.CommandDefaultGet {
		t.Errorf("opcodes = %v", cmd.opcodes)
	}
}
