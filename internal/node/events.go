package node

import (
	"log/slog"
	"sync"
)

// Event types emitted besides the host event types of package ctl
// (tx_complete, ctl_status, ...).
const (
	EventNodeState = "node_state"
	EventCommand   = "command"
)

// Event is one bus message.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// CommandEvent is the payload of EventCommand.
type CommandEvent struct {
	Name    string `json:"name"`
	Opcode  uint16 `json:"opcode"`
	Source  string `json:"source"`
	Handled bool   `json:"handled"`
}

// NodeStateEvent is the payload of EventNodeState.
type NodeStateEvent struct {
	Provisioned bool `json:"provisioned"`
	LowPower    bool `json:"low_power"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus provides pub/sub for node events.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]EventHandler // "" holds the catch-all handlers
	nextID uint64
	logger *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		subs:   make(map[string]map[uint64]EventHandler),
		logger: logger,
	}
}

// On registers a handler for a specific event type.
// Returns an unsubscribe function.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	return eb.subscribe(eventType, handler)
}

// OnAll registers a handler that receives all events.
// Returns an unsubscribe function.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	return eb.subscribe("", handler)
}

func (eb *EventBus) subscribe(key string, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	if eb.subs[key] == nil {
		eb.subs[key] = make(map[uint64]EventHandler)
	}
	eb.subs[key][id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.subs[key], id)
	}
}

// Emit sends an event to all matching handlers.
// Handlers run synchronously on the emitting goroutine, which for host
// events is the node loop: they must not wait on the runtime.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.subs[event.Type])+len(eb.subs[""]))
	if event.Type != "" {
		for _, h := range eb.subs[event.Type] {
			handlers = append(handlers, h)
		}
	}
	for _, h := range eb.subs[""] {
		handlers = append(handlers, h)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		eb.call(h, event)
	}
}

func (eb *EventBus) call(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
		}
	}()
	h(event)
}
