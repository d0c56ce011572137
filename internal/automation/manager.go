//go:build !no_automation

package automation

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
)

const scriptExt = ".lua"

// maxSlugLen bounds ids generated from script names.
const maxSlugLen = 40

var (
	// ErrInvalidID is returned for script ids that are not safe file names.
	ErrInvalidID = errors.New("automation: invalid script id")
	// ErrScriptNotFound is returned when no file exists for an id.
	ErrScriptNotFound = errors.New("automation: script not found")
)

// Manager keeps the scripts of one directory, one file per script.
type Manager struct {
	dir    string
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewManager opens the script directory, creating it if needed.
func NewManager(dir string, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("automation: create scripts dir: %w", err)
	}
	return &Manager{dir: dir, logger: logger.With("component", "scripts")}, nil
}

func checkID(id string) error {
	if id == "" || strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.dir, id+scriptExt)
}

// List returns every readable script, ordered by id. Unreadable files are
// logged and skipped.
func (m *Manager) List() ([]*Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("automation: read scripts dir: %w", err)
	}
	var scripts []*Script
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != scriptExt {
			continue
		}
		s, err := m.parseFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			m.logger.Warn("skip script", "file", e.Name(), "err", err)
			continue
		}
		scripts = append(scripts, s)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].ID < scripts[j].ID })
	return scripts, nil
}

// Get loads the script stored under id.
func (m *Manager) Get(id string) (*Script, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.parseFile(m.path(id))
}

// Save writes s to disk, replacing any previous version atomically. A script
// without an id gets one derived from its name.
func (m *Manager) Save(s *Script) (*Script, error) {
	if s.ID != "" {
		if err := checkID(s.ID); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = m.freeID(slugify(s.Meta.Name))
	}
	s.FilePath = m.path(s.ID)
	s.hasMeta = true

	if err := atomic.WriteFile(s.FilePath, strings.NewReader(serializeScript(s))); err != nil {
		return nil, fmt.Errorf("automation: write script %s: %w", s.ID, err)
	}
	m.logger.Debug("script saved", "id", s.ID, "enabled", s.Meta.Enabled)
	return s, nil
}

// freeID returns base, or base_N for the first N not already on disk.
func (m *Manager) freeID(base string) string {
	if base == "" {
		base = "script"
	}
	id := base
	for n := 1; ; n++ {
		if _, err := os.Stat(m.path(id)); errors.Is(err, fs.ErrNotExist) {
			return id
		}
		id = base + "_" + strconv.Itoa(n)
	}
}

// Delete removes the script stored under id.
func (m *Manager) Delete(id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	err := os.Remove(m.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrScriptNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("automation: delete script %s: %w", id, err)
	}
	return nil
}

func (m *Manager) parseFile(path string) (*Script, error) {
	id := strings.TrimSuffix(filepath.Base(path), scriptExt)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	meta, body, hasMeta, err := splitHeader(string(data))
	if err != nil {
		// The file stays listed but disabled until the header is fixed.
		m.logger.Warn("script header", "file", path, "err", err)
	}
	return &Script{ID: id, Meta: meta, LuaCode: body, FilePath: path, hasMeta: hasMeta}, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	s := nonSlug.ReplaceAllString(strings.ToLower(name), "_")
	s = strings.Trim(s, "_")
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "_")
	}
	return s
}
