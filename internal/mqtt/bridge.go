//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"mesh-ctl-client/internal/ctl"
	"mesh-ctl-client/internal/node"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	Discovery   bool // publish Home Assistant discovery for each Light CTL server
}

// Commander runs host commands on the node.
type Commander interface {
	Submit(ctx context.Context, opcode uint16, payload []byte) (bool, error)
}

// Bridge publishes node events to MQTT and feeds commands from MQTT into the
// node.
type Bridge struct {
	client    pahomqtt.Client
	bus       *node.EventBus
	commander Commander
	prefix    string
	discovery bool
	logger    *slog.Logger
	unsub     func()
	ctx       context.Context
	cancel    context.CancelFunc

	// pub is the publish function; tests replace it.
	pub func(topic string, payload []byte, retained bool)

	// Sources for which discovery was published.
	mu   sync.Mutex
	seen map[uint16]bool
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(bus *node.EventBus, commander Commander, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(bus, commander, cfg, logger)
	b.pub = b.publish

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("mesh-ctl-client-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.republishDiscovery()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

func newBridge(bus *node.EventBus, commander Commander, cfg Config, logger *slog.Logger) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		bus:       bus,
		commander: commander,
		prefix:    cfg.TopicPrefix,
		discovery: cfg.Discovery,
		logger:    logger.With("component", "mqtt"),
		ctx:       ctx,
		cancel:    cancel,
		seen:      make(map[uint16]bool),
	}
}

// Start subscribes to node events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.bus.OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event node.Event) {
	switch data := event.Data.(type) {
	case *ctl.HostEvent:
		src := data.Header.Src
		if b.discovery && data.Type != "tx_complete" {
			b.ensureDiscovery(src)
		}
		b.pub(eventTopic(b.prefix, data.Type, src), mustJSON(data), true)
	case node.NodeStateEvent:
		b.pub(b.prefix+"/bridge/node", mustJSON(data), true)
	}
}

func (b *Bridge) ensureDiscovery(src uint16) {
	b.mu.Lock()
	if b.seen[src] {
		b.mu.Unlock()
		return
	}
	b.seen[src] = true
	b.mu.Unlock()
	b.publishServerDiscovery(src)
}

// republishDiscovery sends discovery again after a reconnect.
func (b *Bridge) republishDiscovery() {
	if !b.discovery {
		return
	}
	b.mu.Lock()
	srcs := make([]uint16, 0, len(b.seen))
	for src := range b.seen {
		srcs = append(srcs, src)
	}
	b.mu.Unlock()
	for _, src := range srcs {
		b.publishServerDiscovery(src)
	}
}

func (b *Bridge) publishServerDiscovery(src uint16) {
	for _, msg := range buildDiscovery(src, b.prefix) {
		b.pub(msg.Topic, msg.Payload, true)
	}
	b.logger.Info("published HA discovery", "src", fmt.Sprintf("0x%04X", src))
}

func (b *Bridge) publishBridgeState(state string) {
	b.pub(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) subscribeCommands() {
	topic := b.prefix + "/command/+"
	b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(msg.Topic(), msg.Payload())
	})
}

func (b *Bridge) handleCommand(topic string, payload []byte) {
	name, ok := commandName(b.prefix, topic)
	if !ok {
		b.logger.Warn("command on unexpected topic", "topic", topic)
		return
	}
	opcode, data, err := ctl.EncodeRequest(name, payload)
	if err != nil {
		b.logger.Warn("invalid command", "cmd", name, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()
	handled, err := b.commander.Submit(ctx, opcode, data)
	if err != nil {
		b.logger.Warn("command failed", "cmd", name, "err", err)
		return
	}
	if !handled {
		b.logger.Warn("command not handled", "cmd", name)
		return
	}
	b.bus.Emit(node.Event{Type: node.EventCommand, Data: node.CommandEvent{
		Name: name, Opcode: opcode, Source: "mqtt", Handled: handled,
	}})
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

// eventTopic is "<prefix>/<event type>/<source address in hex>".
func eventTopic(prefix, eventType string, src uint16) string {
	return fmt.Sprintf("%s/%s/%04X", prefix, eventType, src)
}

// commandName extracts the command name from "<prefix>/command/<name>".
func commandName(prefix, topic string) (string, bool) {
	name, ok := strings.CutPrefix(topic, prefix+"/command/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
