package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"mesh-ctl-client/internal/ctl"
	"mesh-ctl-client/internal/discovery"
	"mesh-ctl-client/internal/hci"
	"mesh-ctl-client/internal/mesh"
	"mesh-ctl-client/internal/node"
	"mesh-ctl-client/internal/simstack"
	"mesh-ctl-client/internal/store"
	"mesh-ctl-client/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	HCI struct {
		Port string `yaml:"port"` // empty runs without a host link
		Baud int    `yaml:"baud"`
	} `yaml:"hci"`
	Stack struct {
		Type       string `yaml:"type"` // "sim"
		OwnAddr    uint16 `yaml:"own_addr"`
		ServerAddr uint16 `yaml:"server_addr"`
	} `yaml:"stack"`
	Device struct {
		LowPower    bool  `yaml:"low_power"`
		Provisioned *bool `yaml:"provisioned"` // nil keeps the stored state
	} `yaml:"device"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		MDNS           bool     `yaml:"mdns"`           // advertise the API over mDNS
		MDNSInterface  string   `yaml:"mdns_interface"` // empty means all interfaces
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
		Discovery   bool   `yaml:"discovery"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Exec struct {
		Allowlist []string `yaml:"allowlist"`
		Timeout   string   `yaml:"timeout"`
	} `yaml:"exec"`
	ScriptsDir string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	if c.Stack.Type != "sim" {
		return fmt.Errorf("stack.type: unknown stack %q (supported: sim)", c.Stack.Type)
	}
	if !mesh.IsUnicast(c.Stack.OwnAddr) {
		return fmt.Errorf("stack.own_addr must be a unicast address, got 0x%04X", c.Stack.OwnAddr)
	}
	if !mesh.IsUnicast(c.Stack.ServerAddr) {
		return fmt.Errorf("stack.server_addr must be a unicast address, got 0x%04X", c.Stack.ServerAddr)
	}
	if c.Stack.OwnAddr == c.Stack.ServerAddr {
		return fmt.Errorf("stack.own_addr and stack.server_addr must differ")
	}
	if c.HCI.Port != "" && c.HCI.Baud <= 0 {
		return fmt.Errorf("hci.baud must be positive, got %d", c.HCI.Baud)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.Web.MDNS {
		if _, err := discovery.ListenPort(c.Web.Listen); err != nil {
			return fmt.Errorf("web.listen: %w", err)
		}
	}
	if c.Exec.Timeout != "" {
		if _, err := time.ParseDuration(c.Exec.Timeout); err != nil {
			return fmt.Errorf("exec.timeout: %w", err)
		}
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("mesh-ctl-client starting", "version", version)

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	provisioned, err := resolveProvisioned(cfg, db)
	if err != nil {
		logger.Error("node state", "err", err)
		os.Exit(1)
	}

	// Optional host link.
	var link *hci.Transport
	var out mesh.HostTransport
	if cfg.HCI.Port != "" {
		link, err = hci.Open(cfg.HCI.Port, cfg.HCI.Baud, logger)
		if err != nil {
			logger.Error("open hci port", "err", err)
			os.Exit(1)
		}
		defer link.Close()
		out = link
	}

	bus := node.NewEventBus(logger)
	rt := node.NewRuntime(logger)
	stack := simstack.New(simstack.Config{OwnAddr: cfg.Stack.OwnAddr, ServerAddr: cfg.Stack.ServerAddr}, rt, logger)
	rt.Attach(ctl.NewApp(stack, node.NewRelay(bus, out, logger), logger))
	recorder := node.NewRecorder(bus, db, logger)

	if link != nil {
		link.OnFrame(func(opcode uint16, payload []byte) {
			if !ctl.IsCommand(opcode) {
				logger.Warn("unexpected hci frame", "opcode", fmt.Sprintf("0x%04X", opcode))
				return
			}
			rt.Dispatch(opcode, payload)
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		rt.Run(ctx)
	}()
	recDone := make(chan struct{})
	go func() {
		defer close(recDone)
		recorder.Run(ctx)
	}()

	if err := rt.Start(provisioned); err != nil {
		logger.Error("start node", "err", err)
		os.Exit(1)
	}
	bus.Emit(node.Event{Type: node.EventNodeState, Data: node.NodeStateEvent{
		Provisioned: provisioned,
		LowPower:    cfg.Device.LowPower,
	}})
	logger.Info("node started", "provisioned", provisioned, "low_power", cfg.Device.LowPower,
		"own_addr", fmt.Sprintf("0x%04X", cfg.Stack.OwnAddr), "server_addr", fmt.Sprintf("0x%04X", cfg.Stack.ServerAddr))

	// Automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(bus, rt, db, cfg, logger)

	webOpts := []web.ServerOption{
		web.WithVersion(version),
		web.WithLowPower(cfg.Device.LowPower),
	}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, autoWebOpts...)
	webServer := web.NewServer(bus, rt, db, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "err", err)
		}
	}()

	// MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(bus, rt, cfg, logger)

	var mdns *discovery.Advertiser
	if cfg.Web.MDNS {
		port, _ := discovery.ListenPort(cfg.Web.Listen)
		mdns = discovery.NewAdvertiser(cfg.Web.MDNSInterface, logger)
		err := mdns.Advertise(discovery.Info{
			Instance:    ctl.DeviceName,
			Port:        port,
			Version:     version,
			OwnAddr:     cfg.Stack.OwnAddr,
			LowPower:    cfg.Device.LowPower,
			Provisioned: provisioned,
		})
		if err != nil {
			logger.Warn("mdns advertise", "err", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if mdns != nil {
		mdns.Stop()
	}
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()

	cancel()
	<-loopDone
	<-recDone

	logger.Info("goodbye")
}

// resolveProvisioned decides the provisioned state passed to Init. An
// explicit device.provisioned wins over the store; the result is persisted.
func resolveProvisioned(cfg *Config, st store.Store) (bool, error) {
	provisioned := false
	state, err := st.GetNodeState()
	switch {
	case err == nil:
		provisioned = state.Provisioned
	case !errors.Is(err, store.ErrNotFound):
		return false, fmt.Errorf("read node state: %w", err)
	}
	if cfg.Device.Provisioned != nil {
		provisioned = *cfg.Device.Provisioned
	}

	if err := st.SaveNodeState(&store.NodeState{
		Provisioned: provisioned,
		LowPower:    cfg.Device.LowPower,
		UpdatedAt:   time.Now(),
	}); err != nil {
		return false, fmt.Errorf("save node state: %w", err)
	}
	return provisioned, nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.HCI.Baud == 0 {
		cfg.HCI.Baud = 115200
	}
	if cfg.Stack.Type == "" {
		cfg.Stack.Type = "sim"
	}
	if cfg.Stack.OwnAddr == 0 {
		cfg.Stack.OwnAddr = simstack.DefaultOwnAddr
	}
	if cfg.Stack.ServerAddr == 0 {
		cfg.Stack.ServerAddr = simstack.DefaultServerAddr
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "ctl-client.db"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "mesh"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
