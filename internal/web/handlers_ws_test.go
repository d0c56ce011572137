package web

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"mesh-ctl-client/internal/ctl"
	"mesh-ctl-client/internal/node"
)

func newTestHub() *WSHub {
	return NewWSHub(testLogger())
}

func clientCount(hub *WSHub) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.clients)
}

func TestWSHubRegisterUnregister(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	client := &wsClient{send: make(chan []byte, 16)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)
	if n := clientCount(hub); n != 1 {
		t.Errorf("after register: count = %d, want 1", n)
	}

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)
	if n := clientCount(hub); n != 0 {
		t.Errorf("after unregister: count = %d, want 0", n)
	}
}

func TestWSHubBroadcastFiltersByType(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	all := &wsClient{send: make(chan []byte, 16)}
	statusOnly := &wsClient{send: make(chan []byte, 16), types: parseTypes("ctl_status")}
	hub.register <- all
	hub.register <- statusOnly
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(node.Event{Type: "tx_complete", Data: ctl.TxComplete{TxFlag: 2, Dst: 16}})
	hub.Broadcast(node.Event{Type: "ctl_status"})
	time.Sleep(10 * time.Millisecond)

	if n := len(all.send); n != 2 {
		t.Errorf("unfiltered client got %d messages, want 2", n)
	}
	if n := len(statusOnly.send); n != 1 {
		t.Fatalf("filtered client got %d messages, want 1", n)
	}
	var ev struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(<-statusOnly.send, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "ctl_status" {
		t.Errorf("type = %q", ev.Type)
	}
}

func TestParseTypes(t *testing.T) {
	if parseTypes("") != nil || parseTypes(" , ") != nil {
		t.Error("empty filter should be nil")
	}
	got := parseTypes("ctl_status, tx_complete")
	if len(got) != 2 || !got["ctl_status"] || !got["tx_complete"] {
		t.Errorf("parseTypes = %v", got)
	}
}

func TestWSHubSlowClientEviction(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	slow := &wsClient{send: make(chan []byte, 1)}
	fast := &wsClient{send: make(chan []byte, 64)}
	hub.register <- slow
	hub.register <- fast
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(node.Event{Type: "a"})
	time.Sleep(10 * time.Millisecond)
	hub.Broadcast(node.Event{Type: "b"})
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	_, slowPresent := hub.clients[slow]
	_, fastPresent := hub.clients[fast]
	hub.mu.RUnlock()
	if slowPresent {
		t.Error("slow client should have been evicted")
	}
	if !fastPresent {
		t.Error("fast client should still be present")
	}
}

func TestWSHubBroadcastDropsWhenFull(t *testing.T) {
	hub := newTestHub()
	defer hub.Stop()

	// Run is not started, so the queue fills up.
	for i := 0; i < 256; i++ {
		hub.Broadcast(node.Event{Type: "x"})
	}
	done := make(chan struct{})
	go func() {
		hub.Broadcast(node.Event{Type: "overflow"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Broadcast blocked when channel is full")
	}
}

func TestWSHubStopClosesClients(t *testing.T) {
	hub := newTestHub()
	go hub.Run()

	client := &wsClient{send: make(chan []byte, 16)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.Stop()
	hub.Stop()
	time.Sleep(10 * time.Millisecond)

	if _, ok := <-client.send; ok {
		t.Error("client.send should be closed after hub stop")
	}
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, msg, err := conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var ev map[string]json.RawMessage
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatal(err)
	}
	return ev
}

func TestWSStreamsBusEvents(t *testing.T) {
	srv, _, bus := setupTestServer(t, &fakeCommander{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dialWS(t, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws?types=node_state")
	time.Sleep(20 * time.Millisecond)

	bus.Emit(node.Event{Type: "ctl_status"})
	bus.Emit(node.Event{Type: node.EventNodeState, Data: node.NodeStateEvent{Provisioned: true}})

	ev := readEvent(t, conn)
	if string(ev["type"]) != `"node_state"` || string(ev["data"]) != `{"provisioned":true,"low_power":false}` {
		t.Errorf("event = %s %s", ev["type"], ev["data"])
	}
}

func TestWSCommand(t *testing.T) {
	cmd := &fakeCommander{handled: true}
	srv, _, _ := setupTestServer(t, cmd)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dialWS(t, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws?types=command_result")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg := `{"id":"1","command":"temperature_get","request":{"dst":16}}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		t.Fatal(err)
	}

	ev := readEvent(t, conn)
	if string(ev["type"]) != `"command_result"` {
		t.Fatalf("type = %s", ev["type"])
	}
	var reply wsReply
	if err := json.Unmarshal(ev["data"], &reply); err != nil {
		t.Fatal(err)
	}
	if reply.ID != "1" || reply.Command != "temperature_get" || !reply.Handled || reply.Error != "" {
		t.Errorf("reply = %+v", reply)
	}
	cmd.mu.Lock()
	defer cmd.mu.Unlock()
	if len(cmd.opcodes) != 1 || cmd.opcodes[0] != ctl.CommandTemperatureGet {
		t.Errorf("opcodes = %v", cmd.opcodes)
	}
}

func TestWSCommandInvalid(t *testing.T) {
	srv, _, _ := setupTestServer(t, &fakeCommander{handled: true})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dialWS(t, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, msg := range []string{`not json`, `{"command":"blink"}`} {
		if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
			t.Fatal(err)
		}
		ev := readEvent(t, conn)
		var reply wsReply
		if err := json.Unmarshal(ev["data"], &reply); err != nil {
			t.Fatal(err)
		}
		if reply.Handled || reply.Error == "" {
			t.Errorf("%s: reply = %+v", msg, reply)
		}
	}
}
