//go:build !no_automation

package automation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	lua "github.com/yuin/gopher-lua"

	"mesh-ctl-client/internal/ctl"
	"mesh-ctl-client/internal/store"
)

const (
	maxHandlersPerScript = 100
	sendTimeout          = 5 * time.Second
)

// registerCtlModule registers the `ctl` global table.
func registerCtlModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	// ctl.on(event_type, [filter], fn)
	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		eventType := L.CheckString(1)
		src := -1
		var fn *lua.LFunction
		if L.GetTop() >= 3 {
			if filter := L.OptTable(2, nil); filter != nil {
				if v, ok := filter.RawGetString("src").(lua.LNumber); ok {
					src = int(v)
				}
			}
			fn = L.CheckFunction(3)
		} else {
			fn = L.CheckFunction(2)
		}

		vm.mu.Lock()
		defer vm.mu.Unlock()
		if len(vm.handlers) >= maxHandlersPerScript {
			L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
			return 0
		}
		vm.handlers = append(vm.handlers, luaEventHandler{eventType: eventType, src: src, fn: fn})
		return 0
	}))

	// ctl.send(name, [request]) -> handled, err
	mod.RawSetString("send", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		req := L.OptTable(2, L.NewTable())
		handled, err := e.send(vm.ctx, name, luaToGo(req))
		if err != nil {
			e.logger.Warn("ctl.send failed", "cmd", name, "err", err)
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LBool(handled))
		return 1
	}))

	// ctl.status(event_type, src) -> table or nil
	mod.RawSetString("status", L.NewFunction(func(L *lua.LState) int {
		eventType := L.CheckString(1)
		src := L.CheckInt(2)
		if src < 0 || src > 0xFFFF {
			L.ArgError(2, "address out of range")
			return 0
		}
		if e.statuses == nil {
			L.Push(lua.LNil)
			return 1
		}
		rec, err := e.statuses.GetStatus(eventType, uint16(src))
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				e.logger.Warn("ctl.status failed", "type", eventType, "err", err)
			}
			L.Push(lua.LNil)
			return 1
		}
		var data any
		if err := json.Unmarshal(rec.Data, &data); err != nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(goToLua(L, data))
		return 1
	}))

	// ctl.after(seconds, fn) runs fn on the script goroutine.
	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		seconds := float64(L.CheckNumber(1))
		fn := L.CheckFunction(2)
		ctx := vm.ctx
		time.AfterFunc(time.Duration(seconds*float64(time.Second)), func() {
			if ctx.Err() != nil {
				return
			}
			select {
			case vm.commands <- func(L *lua.LState) {
				if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
					e.logger.Error("ctl.after callback error", "err", err)
				}
			}:
			case <-ctx.Done():
			}
		})
		return 0
	}))

	// ctl.log(msg)
	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		msg := L.CheckString(1)
		if vm.logs != nil {
			vm.logs(msg)
		}
		e.logger.Info("script log", "msg", msg)
		return 0
	}))

	// ctl.commands() lists the command names accepted by ctl.send.
	mod.RawSetString("commands", L.NewFunction(func(L *lua.LState) int {
		L.Push(goToLua(L, ctl.CommandNames()))
		return 1
	}))

	L.SetGlobal("ctl", mod)
}

// send encodes a named command from its table form and submits it.
func (e *Engine) send(ctx context.Context, name string, req any) (bool, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return false, err
	}
	opcode, data, err := ctl.EncodeRequest(name, body)
	if err != nil {
		return false, err
	}
	if e.commander == nil {
		return false, errors.New("automation: no commander")
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return e.commander.Submit(ctx, opcode, data)
}
