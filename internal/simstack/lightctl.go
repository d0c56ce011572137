package simstack

import (
	"fmt"

	"mesh-ctl-client/internal/mesh"
)

func (s *Stack) InitLightCTLClient(elementIdx uint8, handler mesh.MessageHandler, provisioned bool) error {
	if handler == nil {
		return fmt.Errorf("simstack: light ctl client: %w", mesh.ErrNoHandler)
	}
	s.mu.Lock()
	s.handler = handler
	s.elementIdx = elementIdx
	s.provisioned = provisioned
	s.mu.Unlock()
	s.logger.Info("light ctl client registered", "element", elementIdx, "provisioned", provisioned)
	return nil
}

func (s *Stack) SendGet(ev *mesh.Event) error {
	return s.transact(ev, true, func(st *serverState) (mesh.EventKind, any) {
		return mesh.EventLightCTLStatus, mesh.LightCTLStatus{Present: st.present, Target: st.present}
	})
}

func (s *Stack) SendSet(ev *mesh.Event, set mesh.LightCTLSet) error {
	return s.transact(ev, ev.Reliable, func(st *serverState) (mesh.EventKind, any) {
		target := set.Target
		target.Temperature = st.clamp(target.Temperature)
		status := st.move(target, set.TransitionTime)
		return mesh.EventLightCTLStatus, status
	})
}

func (s *Stack) SendTemperatureGet(ev *mesh.Event) error {
	return s.transact(ev, true, func(st *serverState) (mesh.EventKind, any) {
		return mesh.EventLightCTLTemperatureStatus, mesh.LightCTLStatus{Present: st.present, Target: st.present}
	})
}

func (s *Stack) SendTemperatureSet(ev *mesh.Event, set mesh.LightCTLTemperatureSet) error {
	return s.transact(ev, ev.Reliable, func(st *serverState) (mesh.EventKind, any) {
		target := st.present
		target.Temperature = st.clamp(set.TargetTemperature)
		target.DeltaUV = set.TargetDeltaUV
		return mesh.EventLightCTLTemperatureStatus, st.move(target, set.TransitionTime)
	})
}

func (s *Stack) SendTemperatureRangeGet(ev *mesh.Event) error {
	return s.transact(ev, true, func(st *serverState) (mesh.EventKind, any) {
		return mesh.EventLightCTLTemperatureRangeStatus, mesh.LightCTLTemperatureRangeStatus{
			Status: mesh.RangeStatusSuccess, Min: st.rangeMin, Max: st.rangeMax,
		}
	})
}

func (s *Stack) SendTemperatureRangeSet(ev *mesh.Event, set mesh.LightCTLTemperatureRange) error {
	return s.transact(ev, ev.Reliable, func(st *serverState) (mesh.EventKind, any) {
		status := mesh.RangeStatusSuccess
		switch {
		case set.Min < TemperatureMin || set.Min > set.Max:
			status = mesh.RangeStatusCannotMin
		case set.Max > TemperatureMax:
			status = mesh.RangeStatusCannotMax
		default:
			st.rangeMin, st.rangeMax = set.Min, set.Max
			st.present.Temperature = st.clamp(st.present.Temperature)
		}
		return mesh.EventLightCTLTemperatureRangeStatus, mesh.LightCTLTemperatureRangeStatus{
			Status: status, Min: st.rangeMin, Max: st.rangeMax,
		}
	})
}

func (s *Stack) SendDefaultGet(ev *mesh.Event) error {
	return s.transact(ev, true, func(st *serverState) (mesh.EventKind, any) {
		return mesh.EventLightCTLDefaultStatus, st.def
	})
}

func (s *Stack) SendDefaultSet(ev *mesh.Event, set mesh.LightCTLState) error {
	return s.transact(ev, ev.Reliable, func(st *serverState) (mesh.EventKind, any) {
		set.Temperature = st.clamp(set.Temperature)
		st.def = set
		return mesh.EventLightCTLDefaultStatus, st.def
	})
}

// transact takes ownership of the request, applies it to the server and
// posts the transmit complete followed by the server's reply, if any.
func (s *Stack) transact(ev *mesh.Event, reply bool, apply func(*serverState) (mesh.EventKind, any)) error {
	if ev == nil {
		return fmt.Errorf("simstack: nil event")
	}
	if !s.untrack(ev) {
		return fmt.Errorf("simstack: event for opcode 0x%04X already released", ev.Opcode)
	}

	s.mu.Lock()
	kind, data := apply(&s.server)
	s.mu.Unlock()

	tx := &mesh.Event{
		Opcode:     ev.Opcode,
		CompanyID:  ev.CompanyID,
		ModelID:    ev.ModelID,
		Src:        ev.Dst,
		Dst:        ev.Dst,
		AppKeyIdx:  ev.AppKeyIdx,
		ElementIdx: ev.ElementIdx,
		TxFlag:     mesh.TxCompleted,
	}
	if reply {
		tx.TxFlag = mesh.TxAckReceived
	}
	s.deliver(mesh.EventTxComplete, tx, nil)

	if !reply {
		return nil
	}
	status := &mesh.Event{
		Opcode:     ev.Opcode,
		CompanyID:  ev.CompanyID,
		ModelID:    ev.ModelID,
		Src:        s.cfg.ServerAddr,
		Dst:        ev.Src,
		AppKeyIdx:  ev.AppKeyIdx,
		ElementIdx: ev.ElementIdx,
	}
	s.deliver(kind, status, data)
	return nil
}

func (st *serverState) clamp(t uint16) uint16 {
	if t < st.rangeMin {
		return st.rangeMin
	}
	if t > st.rangeMax {
		return st.rangeMax
	}
	return t
}

// move sets the new state and reports the transition towards it. With a
// transition time the report still shows the old state as present.
func (st *serverState) move(target mesh.LightCTLState, transition uint32) mesh.LightCTLStatus {
	prev := st.present
	st.present = target
	if transition == 0 {
		return mesh.LightCTLStatus{Present: target, Target: target}
	}
	return mesh.LightCTLStatus{Present: prev, Target: target, RemainingTime: transition}
}
