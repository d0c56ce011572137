package node

import (
	"fmt"
	"log/slog"

	"mesh-ctl-client/internal/ctl"
	"mesh-ctl-client/internal/mesh"
)

// Relay is the host transport of the application. Each host event is
// written to the serial link, when there is one, and published on the bus.
type Relay struct {
	bus    *EventBus
	out    mesh.HostTransport
	logger *slog.Logger
}

var _ mesh.HostTransport = (*Relay)(nil)

// NewRelay creates a relay. out may be nil.
func NewRelay(bus *EventBus, out mesh.HostTransport, logger *slog.Logger) *Relay {
	return &Relay{bus: bus, out: out, logger: logger.With("component", "relay")}
}

func (r *Relay) SendData(opcode uint16, data []byte) error {
	var err error
	if r.out != nil {
		err = r.out.SendData(opcode, data)
	}

	ev, derr := ctl.DecodeEvent(opcode, data)
	if derr != nil {
		r.logger.Warn("undecodable host event", "opcode", fmt.Sprintf("0x%04X", opcode), "err", derr)
		return err
	}
	r.bus.Emit(Event{Type: ev.Type, Data: ev})
	return err
}
