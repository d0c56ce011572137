//go:build no_automation

package automation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mesh-ctl-client/internal/node"
	"mesh-ctl-client/internal/store"
)

var (
	// ErrInvalidID is returned for script ids that are not safe file names.
	ErrInvalidID = errors.New("automation: invalid script id")
	// ErrScriptNotFound is returned when no file exists for an id.
	ErrScriptNotFound = errors.New("automation: script not found")
)

// ScriptMeta holds user-editable metadata for a script.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script is a stub when automation is disabled.
type Script struct {
	ID       string     `json:"id"`
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

// Enabled returns false.
func (s *Script) Enabled() bool { return false }

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// ScriptInfo describes a loaded script.
type ScriptInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Running  bool   `json:"running"`
	Handlers int    `json:"handlers"`
}

// SystemConfig holds system exec settings (stub).
type SystemConfig struct {
	ExecAllowlist []string
	ExecTimeout   time.Duration
}

// Commander runs host commands on the node.
type Commander interface {
	Submit(ctx context.Context, opcode uint16, payload []byte) (bool, error)
}

// StatusReader looks up the last recorded status of a server.
type StatusReader interface {
	GetStatus(eventType string, src uint16) (*store.StatusRecord, error)
}

// Manager is a no-op stub when automation is disabled.
type Manager struct{}

// NewManager returns a nil manager when automation is disabled.
func NewManager(_ string, _ *slog.Logger) (*Manager, error) { return nil, nil }

// List returns nil.
func (m *Manager) List() ([]*Script, error) { return nil, nil }

// Get returns nil.
func (m *Manager) Get(_ string) (*Script, error) { return nil, nil }

// Save returns the script unchanged.
func (m *Manager) Save(s *Script) (*Script, error) { return s, nil }

// Delete is a no-op.
func (m *Manager) Delete(_ string) error { return nil }

// Engine is a no-op stub when automation is disabled.
type Engine struct{}

// NewEngine returns a no-op engine when automation is disabled.
func NewEngine(_ *node.EventBus, _ Commander, _ StatusReader, _ *Manager, _ *slog.Logger, _ SystemConfig) *Engine {
	return &Engine{}
}

// Start is a no-op.
func (e *Engine) Start() {}

// Stop is a no-op.
func (e *Engine) Stop() {}

// ReloadScript is a no-op.
func (e *Engine) ReloadScript(_ string) error { return nil }

// StopScript is a no-op.
func (e *Engine) StopScript(_ string) {}

// Scripts returns nil.
func (e *Engine) Scripts() ([]ScriptInfo, error) { return nil, nil }

// RunScript returns a stub result.
func (e *Engine) RunScript(_ string) *RunResult {
	return &RunResult{OK: false, Error: "automation disabled"}
}

// RunLuaCode returns a stub result.
func (e *Engine) RunLuaCode(_ string) *RunResult {
	return &RunResult{OK: false, Error: "automation disabled"}
}
