//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"mesh-ctl-client/internal/ctl"
	"mesh-ctl-client/internal/mesh"
	"mesh-ctl-client/internal/node"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

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
	f.opcodes = append(f.opcodes, opcode)
	f.data = append(f.data, payload)
	return f.handled, f.err
}

func newTestBridge(cmd Commander, discovery bool) (*Bridge, *node.EventBus, *[]published) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := node.NewEventBus(logger)
	b := newBridge(bus, cmd, Config{TopicPrefix: "mesh", Discovery: discovery}, logger)
	var out []published
	b.pub = func(topic string, payload []byte, retained bool) {
		out = append(out, published{topic, payload, retained})
	}
	return b, bus, &out
}

func statusEvent(src uint16) *ctl.HostEvent {
	return &ctl.HostEvent{
		Opcode: ctl.EventStatus,
		Kind:   mesh.EventLightCTLStatus,
		Type:   "ctl_status",
		Header: mesh.HCIEvent{Src: src},
		Data:   mesh.LightCTLStatus{Present: mesh.LightCTLState{Lightness: 100, Temperature: 3000}},
	}
}

func TestEventTopic(t *testing.T) {
	if got := eventTopic("mesh", "ctl_status", 0x00AB); got != "mesh/ctl_status/00AB" {
		t.Errorf("topic = %q", got)
	}
}

func TestHandleEventPublishesRetainedJSON(t *testing.T) {
	b, bus, out := newTestBridge(&fakeCommander{}, false)
	b.Start()

	bus.Emit(node.Event{Type: "ctl_status", Data: statusEvent(0x0010)})

	if len(*out) != 1 {
		t.Fatalf("published %d messages, want 1", len(*out))
	}
	msg := (*out)[0]
	if msg.topic != "mesh/ctl_status/0010" || !msg.retained {
		t.Errorf("message = %s retained=%v", msg.topic, msg.retained)
	}
	var body struct {
		Type string `json:"type"`
		Data struct {
			Present struct {
				Lightness   int `json:"lightness"`
				Temperature int `json:"temperature"`
			} `json:"present"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg.payload, &body); err != nil {
		t.Fatal(err)
	}
	if body.Type != "ctl_status" || body.Data.Present.Lightness != 100 || body.Data.Present.Temperature != 3000 {
		t.Errorf("body = %s", msg.payload)
	}
}

func TestHandleEventNodeState(t *testing.T) {
	b, _, out := newTestBridge(&fakeCommander{}, false)
	b.handleEvent(node.Event{Type: node.EventNodeState, Data: node.NodeStateEvent{Provisioned: true}})
	if len(*out) != 1 || (*out)[0].topic != "mesh/bridge/node" {
		t.Fatalf("published = %+v", *out)
	}
}

func TestDiscoveryPublishedOncePerSource(t *testing.T) {
	b, _, out := newTestBridge(&fakeCommander{}, true)

	b.handleEvent(node.Event{Type: "ctl_status", Data: statusEvent(0x0010)})
	b.handleEvent(node.Event{Type: "ctl_status", Data: statusEvent(0x0010)})

	discovery := 0
	for _, m := range *out {
		if len(m.topic) > 14 && m.topic[:14] == "homeassistant/" {
			discovery++
		}
	}
	if want := len(buildDiscovery(0x0010, "mesh")); discovery != want {
		t.Errorf("discovery messages = %d, want %d", discovery, want)
	}
}

func TestDiscoveryPayload(t *testing.T) {
	msgs := buildDiscovery(0x0010, "mesh")
	var lightness *discoveryMsg
	for i := range msgs {
		if msgs[i].Topic == "homeassistant/sensor/mesh_ctl_0010/lightness/config" {
			lightness = &msgs[i]
		}
	}
	if lightness == nil {
		t.Fatal("lightness discovery not found")
	}
	var payload haDiscovery
	if err := json.Unmarshal(lightness.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.StateTopic != "mesh/ctl_status/0010" {
		t.Errorf("state_topic = %q", payload.StateTopic)
	}
	if payload.AvailabilityTopic != "mesh/bridge/state" {
		t.Errorf("availability_topic = %q", payload.AvailabilityTopic)
	}
	if payload.UniqueID != "mesh_ctl_0010_lightness" {
		t.Errorf("unique_id = %q", payload.UniqueID)
	}
}

func TestCommandName(t *testing.T) {
	tests := []struct {
		topic string
		name  string
		ok    bool
	}{
		{"mesh/command/set", "set", true},
		{"mesh/command/temperature_range_get", "temperature_range_get", true},
		{"mesh/command/", "", false},
		{"other/command/set", "", false},
		{"mesh/command/set/extra", "", false},
	}
	for _, tt := range tests {
		name, ok := commandName("mesh", tt.topic)
		if name != tt.name || ok != tt.ok {
			t.Errorf("commandName(%q) = %q, %v; want %q, %v", tt.topic, name, ok, tt.name, tt.ok)
		}
	}
}

func TestHandleCommandSubmits(t *testing.T) {
	cmd := &fakeCommander{handled: true}
	b, bus, _ := newTestBridge(cmd, false)

	var events []node.Event
	bus.On(node.EventCommand, func(e node.Event) { events = append(events, e) })

	b.handleCommand("mesh/command/default_get", []byte(`{"dst":16}`))

	if len(cmd.opcodes) != 1 || cmd.opcodes[0] != ctl.CommandDefaultGet {
		t.Fatalf("submitted = %v", cmd.opcodes)
	}
	if len(cmd.data[0]) != mesh.CommandHeaderLen {
		t.Errorf("payload len = %d, want header only", len(cmd.data[0]))
	}
	if len(events) != 1 || events[0].Data.(node.CommandEvent).Source != "mqtt" {
		t.Errorf("command events = %+v", events)
	}
}

func TestHandleCommandRejects(t *testing.T) {
	cmd := &fakeCommander{err: errors.New("stopped")}
	b, bus, _ := newTestBridge(cmd, false)
	var events int
	bus.OnAll(func(node.Event) { events++ })

	b.handleCommand("mesh/command/unknown", nil)
	b.handleCommand("mesh/other", nil)
	if len(cmd.opcodes) != 0 {
		t.Errorf("submitted %v for invalid commands", cmd.opcodes)
	}

	b.handleCommand("mesh/command/get", nil)
	if len(cmd.opcodes) != 1 {
		t.Errorf("submitted = %v", cmd.opcodes)
	}
	if events != 0 {
		t.Errorf("events = %d, want none for a failed submit", events)
	}
}

func TestMustJSON(t *testing.T) {
	if got := string(mustJSON(map[string]int{"a": 1})); got != `{"a":1}` {
		t.Errorf("mustJSON = %s", got)
	}
	if got := string(mustJSON(make(chan int))); got != "{}" {
		t.Errorf("mustJSON(chan) = %s", got)
	}
}
