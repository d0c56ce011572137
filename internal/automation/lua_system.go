//go:build !no_automation

package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

const (
	// maxExecOutput caps the stdout returned by system.exec.
	maxExecOutput      = 64 << 10
	defaultExecTimeout = 10 * time.Second
)

// SystemConfig controls the host access granted to scripts.
type SystemConfig struct {
	ExecAllowlist []string      // absolute command paths scripts may run
	ExecTimeout   time.Duration // zero means 10s
}

var (
	errExecBlocked = errors.New("exec blocked")
	errExecEmpty   = errors.New("empty command")
)

// datetimeParts are the components accepted by system.datetime.
var datetimeParts = map[string]func(time.Time) lua.LValue{
	"hour":      func(t time.Time) lua.LValue { return lua.LNumber(t.Hour()) },
	"minute":    func(t time.Time) lua.LValue { return lua.LNumber(t.Minute()) },
	"second":    func(t time.Time) lua.LValue { return lua.LNumber(t.Second()) },
	"weekday":   func(t time.Time) lua.LValue { return lua.LNumber(t.Weekday()) },
	"day":       func(t time.Time) lua.LValue { return lua.LNumber(t.Day()) },
	"month":     func(t time.Time) lua.LValue { return lua.LNumber(t.Month()) },
	"year":      func(t time.Time) lua.LValue { return lua.LNumber(t.Year()) },
	"timestamp": func(t time.Time) lua.LValue { return lua.LNumber(t.Unix()) },
	"time_str":  func(t time.Time) lua.LValue { return lua.LString(t.Format(time.TimeOnly)) },
	"date_str":  func(t time.Time) lua.LValue { return lua.LString(t.Format(time.DateOnly)) },
}

var scriptLogLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// registerSystemModule installs the `system` table: clock helpers, leveled
// logging and allowlisted command execution.
func registerSystemModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"datetime": func(L *lua.LState) int {
			name := L.CheckString(1)
			part, ok := datetimeParts[name]
			if !ok {
				L.ArgError(1, "unknown component: "+name)
				return 0
			}
			L.Push(part(time.Now()))
			return 1
		},
		"time_between": func(L *lua.LState) int {
			L.Push(lua.LBool(hourBetween(time.Now().Hour(), L.CheckInt(1), L.CheckInt(2))))
			return 1
		},
		"log": func(L *lua.LState) int {
			level, msg := L.CheckString(1), L.CheckString(2)
			if vm.logs != nil {
				vm.logs("[" + level + "] " + msg)
			}
			lvl, ok := scriptLogLevels[level]
			if !ok {
				lvl = slog.LevelInfo
			}
			e.logger.Log(context.Background(), lvl, "script log", "msg", msg)
			return 0
		},
		"exec": func(L *lua.LState) int {
			out, err := e.exec(L.CheckString(1))
			if err != nil {
				if errors.Is(err, errExecEmpty) {
					L.ArgError(1, "empty command")
					return 0
				}
				L.Push(lua.LString(""))
				L.Push(lua.LString(err.Error()))
				return 2
			}
			L.Push(lua.LString(out))
			return 1
		},
	})
	L.SetGlobal("system", mod)
}

// hourBetween reports whether hour lies in [from, to). The window wraps past
// midnight when from > to.
func hourBetween(hour, from, to int) bool {
	if from > to {
		return hour >= from || hour < to
	}
	return hour >= from && hour < to
}

// exec runs an allowlisted command line and returns its stdout, truncated to
// maxExecOutput. Arguments are split on whitespace; no shell is involved.
func (e *Engine) exec(cmdline string) (string, error) {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return "", errExecEmpty
	}
	bin := fields[0]
	switch {
	case !filepath.IsAbs(bin):
		e.logger.Warn("exec blocked: not an absolute path", "cmd", bin)
		return "", fmt.Errorf("%w: %s is not an absolute path", errExecBlocked, bin)
	case !slices.Contains(e.systemCfg.ExecAllowlist, bin):
		e.logger.Warn("exec blocked: not in allowlist", "cmd", bin)
		return "", fmt.Errorf("%w: %s is not allowlisted", errExecBlocked, bin)
	}

	timeout := e.systemCfg.ExecTimeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, bin, fields[1:]...).Output()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		e.logger.Warn("exec timeout", "cmd", bin, "timeout", timeout)
		return "", fmt.Errorf("exec %s: timeout after %s", bin, timeout)
	}
	if err != nil {
		e.logger.Warn("exec failed", "cmd", bin, "err", err)
		return "", fmt.Errorf("exec %s: %w", bin, err)
	}
	if len(out) > maxExecOutput {
		out = out[:maxExecOutput]
	}
	return string(out), nil
}
