// Package ctl implements a Bluetooth Mesh Light CTL client node: the device
// composition, the host command dispatcher that forwards requests into the
// mesh stack, and the relay that turns model status events into host events.
package ctl

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"mesh-ctl-client/internal/mesh"
)

// Stack is the part of the mesh stack the Light CTL client needs.
type Stack interface {
	mesh.Stack
	mesh.LightCTLClient
}

// App is the Light CTL client application. It implements mesh.App.
type App struct {
	stack     Stack
	transport mesh.HostTransport
	logger    *slog.Logger
}

var _ mesh.App = (*App)(nil)

// NewApp creates the application on top of stack. Host events are written
// to transport.
func NewApp(stack Stack, transport mesh.HostTransport, logger *slog.Logger) *App {
	return &App{
		stack:     stack,
		transport: transport,
		logger:    logger.With("component", "ctl"),
	}
}

// Init names the device, advertises it when unprovisioned and registers the
// Light CTL client model.
func (a *App) Init(provisioned bool) {
	a.stack.SetDeviceName(DeviceName)
	a.stack.SetAppearance(AppearanceTouchPanel)

	// Only the scan response is ours to fill: name and appearance.
	if !provisioned {
		elems := []mesh.AdvertElement{
			{Type: mesh.AdvertTypeNameComplete, Data: []byte(DeviceName)},
			{Type: mesh.AdvertTypeAppearance, Data: binary.LittleEndian.AppendUint16(nil, AppearanceTouchPanel)},
		}
		if err := a.stack.SetRawScanResponseData(elems); err != nil {
			a.logger.Warn("set scan response", "err", err)
		}
	}

	if err := a.stack.InitLightCTLClient(ElementIndex, a.HandleMessage, provisioned); err != nil {
		a.logger.Error("init light ctl client", "err", err)
		return
	}
	a.logger.Info("light ctl client initialized", "provisioned", provisioned)
}

// ProcessCommand forwards a host command to the stack. It returns false only
// for opcodes that are not Light CTL commands.
func (a *App) ProcessCommand(opcode uint16, data []byte) bool {
	if !IsCommand(opcode) {
		return false
	}
	name := CommandName(opcode)

	ev, payload, err := a.stack.CreateEventFromHCI(opcode, mesh.CompanyBluetoothSIG, mesh.ModelLightCTLClient, data)
	if err != nil || ev == nil {
		a.logger.Warn("ctl bad hdr", "cmd", name, "err", err)
		return true
	}

	if err := a.send(opcode, ev, payload); err != nil {
		a.logger.Warn("ctl send failed", "cmd", name, "dst", ev.Dst, "err", err)
	}
	return true
}

// send decodes the payload of opcode and hands ev to the matching stack
// call. ev is released here when decoding fails.
func (a *App) send(opcode uint16, ev *mesh.Event, payload []byte) error {
	c := a.stack
	switch opcode {
	case CommandGet:
		return c.SendGet(ev)

	case CommandSet:
		set, err := DecodeSet(payload)
		if err != nil {
			c.ReleaseEvent(ev)
			return err
		}
		a.logger.Debug("ctl set", "lightness", set.Target.Lightness, "temperature", set.Target.Temperature,
			"delta_uv", set.Target.DeltaUV, "transition_time", set.TransitionTime, "delay", set.Delay)
		return c.SendSet(ev, set)

	case CommandTemperatureGet:
		return c.SendTemperatureGet(ev)

	case CommandTemperatureSet:
		set, err := DecodeTemperatureSet(payload)
		if err != nil {
			c.ReleaseEvent(ev)
			return err
		}
		return c.SendTemperatureSet(ev, set)

	case CommandTemperatureRangeGet:
		return c.SendTemperatureRangeGet(ev)

	case CommandTemperatureRangeSet:
		set, err := DecodeTemperatureRangeSet(payload)
		if err != nil {
			c.ReleaseEvent(ev)
			return err
		}
		return c.SendTemperatureRangeSet(ev, set)

	case CommandDefaultGet:
		return c.SendDefaultGet(ev)

	case CommandDefaultSet:
		set, err := DecodeDefaultSet(payload)
		if err != nil {
			c.ReleaseEvent(ev)
			return err
		}
		return c.SendDefaultSet(ev, set)
	}

	// Unreachable: ProcessCommand filters opcodes first.
	c.ReleaseEvent(ev)
	return nil
}

// HandleMessage is the model event handler registered with the stack. The
// event is released exactly once, whatever the kind.
func (a *App) HandleMessage(kind mesh.EventKind, ev *mesh.Event, data any) {
	defer a.stack.ReleaseEvent(ev)

	a.logger.Debug("ctl client msg", "event", kind.String())

	switch kind {
	case mesh.EventTxComplete:
		a.logger.Info("tx complete", "status", ev.TxFlag, "dst", ev.Dst)
		a.relay(ev, EventTxComplete, func(b []byte) []byte {
			return AppendTxComplete(b, ev.TxFlag, ev.Dst)
		})

	case mesh.EventLightCTLStatus:
		s, ok := data.(mesh.LightCTLStatus)
		if !ok {
			a.logger.Warn("ctl status: unexpected data", "type", typeName(data))
			return
		}
		a.logger.Info("light status",
			"present_lightness", s.Present.Lightness, "present_temperature", s.Present.Temperature,
			"target_lightness", s.Target.Lightness, "target_temperature", s.Target.Temperature,
			"remaining_time", s.RemainingTime)
		a.relay(ev, EventStatus, func(b []byte) []byte { return AppendStatus(b, s) })

	case mesh.EventLightCTLDefaultStatus:
		s, ok := data.(mesh.LightCTLState)
		if !ok {
			a.logger.Warn("ctl default status: unexpected data", "type", typeName(data))
			return
		}
		a.logger.Info("default status", "lightness", s.Lightness, "temperature", s.Temperature, "delta_uv", s.DeltaUV)
		a.relay(ev, EventDefaultStatus, func(b []byte) []byte { return AppendDefaultStatus(b, s) })

	case mesh.EventLightCTLTemperatureStatus:
		s, ok := data.(mesh.LightCTLStatus)
		if !ok {
			a.logger.Warn("ctl temperature status: unexpected data", "type", typeName(data))
			return
		}
		a.logger.Info("temp status",
			"present_temperature", s.Present.Temperature, "present_delta_uv", s.Present.DeltaUV,
			"target_temperature", s.Target.Temperature, "target_delta_uv", s.Target.DeltaUV,
			"remaining_time", s.RemainingTime)
		a.relay(ev, EventTemperatureStatus, func(b []byte) []byte { return AppendTemperatureStatus(b, s) })

	case mesh.EventLightCTLTemperatureRangeStatus:
		s, ok := data.(mesh.LightCTLTemperatureRangeStatus)
		if !ok {
			a.logger.Warn("ctl temperature range status: unexpected data", "type", typeName(data))
			return
		}
		a.logger.Info("temp range status", "status", s.Status, "min", s.Min, "max", s.Max)
		a.relay(ev, EventTemperatureRangeStatus, func(b []byte) []byte { return AppendTemperatureRangeStatus(b, s) })
	}
}

// relay builds the host event for ev and sends it. Nothing is sent when the
// stack cannot produce an event header.
func (a *App) relay(ev *mesh.Event, opcode uint16, encode func([]byte) []byte) {
	hdr := a.stack.CreateHCIEvent(ev)
	if hdr == nil {
		return
	}
	buf := hdr.AppendBinary(make([]byte, 0, mesh.HCIEventHeaderLen+12))
	buf = encode(buf)
	if err := a.transport.SendData(opcode, buf); err != nil {
		a.logger.Warn("host send failed", "opcode", opcode, "err", err)
	}
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}
