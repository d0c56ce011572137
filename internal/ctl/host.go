package ctl

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"mesh-ctl-client/internal/mesh"
)

// ErrUnknownOpcode is returned for opcodes that are not Light CTL commands
// or events.
var ErrUnknownOpcode = errors.New("ctl: unknown opcode")

// ErrUnknownCommand is returned by EncodeRequest for names that are not in
// CommandNames.
var ErrUnknownCommand = errors.New("ctl: unknown command")

// Request is the host-side form of a Light CTL command. Only the fields used
// by the command are encoded.
type Request struct {
	mesh.CommandHeader

	Lightness      uint16 `json:"lightness"`
	Temperature    uint16 `json:"temperature"`
	DeltaUV        uint16 `json:"delta_uv"`
	TransitionTime uint32 `json:"transition_time"`
	Delay          uint16 `json:"delay"`
	Min            uint16 `json:"min_level"`
	Max            uint16 `json:"max_level"`
}

// BuildCommand encodes the command header and payload for opcode.
func BuildCommand(opcode uint16, req Request) ([]byte, error) {
	if !IsCommand(opcode) {
		return nil, fmt.Errorf("%w: 0x%04X", ErrUnknownOpcode, opcode)
	}
	b := req.CommandHeader.AppendBinary(make([]byte, 0, mesh.CommandHeaderLen+setLen))
	switch opcode {
	case CommandSet:
		b = appendState(b, mesh.LightCTLState{Lightness: req.Lightness, Temperature: req.Temperature, DeltaUV: req.DeltaUV})
		b = binary.LittleEndian.AppendUint32(b, req.TransitionTime)
		b = binary.LittleEndian.AppendUint16(b, req.Delay)
	case CommandTemperatureSet:
		b = binary.LittleEndian.AppendUint16(b, req.Temperature)
		b = binary.LittleEndian.AppendUint16(b, req.DeltaUV)
		b = binary.LittleEndian.AppendUint32(b, req.TransitionTime)
		b = binary.LittleEndian.AppendUint16(b, req.Delay)
	case CommandTemperatureRangeSet:
		b = binary.LittleEndian.AppendUint16(b, req.Min)
		b = binary.LittleEndian.AppendUint16(b, req.Max)
	case CommandDefaultSet:
		b = appendState(b, mesh.LightCTLState{Lightness: req.Lightness, Temperature: req.Temperature, DeltaUV: req.DeltaUV})
	}
	return b, nil
}

// EncodeRequest builds a command from its short name and a JSON Request. An
// empty body is a request with a zero header.
func EncodeRequest(name string, body []byte) (uint16, []byte, error) {
	opcode, ok := CommandOpcode(name)
	if !ok {
		return 0, nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	var req Request
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return 0, nil, fmt.Errorf("ctl: decode %s: %w", name, err)
		}
	}
	data, err := BuildCommand(opcode, req)
	if err != nil {
		return 0, nil, err
	}
	return opcode, data, nil
}

// TxComplete is the payload of a transmit complete event.
type TxComplete struct {
	TxFlag uint8  `json:"tx_flag"`
	Dst    uint16 `json:"dst"`
}

// HostEvent is a decoded host event.
type HostEvent struct {
	Opcode uint16         `json:"opcode"`
	Kind   mesh.EventKind `json:"-"`
	Type   string         `json:"type"`
	Header mesh.HCIEvent  `json:"header"`
	// Data is one of TxComplete, mesh.LightCTLStatus,
	// mesh.LightCTLTemperatureRangeStatus or mesh.LightCTLState.
	Data any `json:"data"`
}

// DecodeEvent parses a host event written by the application.
func DecodeEvent(opcode uint16, data []byte) (*HostEvent, error) {
	kind, ok := EventKindOf(opcode)
	if !ok {
		return nil, fmt.Errorf("%w: event 0x%04X", ErrUnknownOpcode, opcode)
	}
	hdr, p, err := mesh.ParseHCIEvent(data)
	if err != nil {
		return nil, err
	}
	ev := &HostEvent{Opcode: opcode, Kind: kind, Type: kind.String(), Header: hdr}

	switch kind {
	case mesh.EventTxComplete:
		if err := checkLen("tx complete", p, 3); err != nil {
			return nil, err
		}
		ev.Data = TxComplete{TxFlag: p[0], Dst: binary.LittleEndian.Uint16(p[1:3])}

	case mesh.EventLightCTLStatus:
		if err := checkLen("status", p, 12); err != nil {
			return nil, err
		}
		ev.Data = mesh.LightCTLStatus{
			Present: mesh.LightCTLState{
				Lightness:   binary.LittleEndian.Uint16(p[0:2]),
				Temperature: binary.LittleEndian.Uint16(p[2:4]),
			},
			Target: mesh.LightCTLState{
				Lightness:   binary.LittleEndian.Uint16(p[4:6]),
				Temperature: binary.LittleEndian.Uint16(p[6:8]),
			},
			RemainingTime: binary.LittleEndian.Uint32(p[8:12]),
		}

	case mesh.EventLightCTLTemperatureStatus:
		if err := checkLen("temperature status", p, 12); err != nil {
			return nil, err
		}
		ev.Data = mesh.LightCTLStatus{
			Present: mesh.LightCTLState{
				Temperature: binary.LittleEndian.Uint16(p[0:2]),
				DeltaUV:     binary.LittleEndian.Uint16(p[2:4]),
			},
			Target: mesh.LightCTLState{
				Temperature: binary.LittleEndian.Uint16(p[4:6]),
				DeltaUV:     binary.LittleEndian.Uint16(p[6:8]),
			},
			RemainingTime: binary.LittleEndian.Uint32(p[8:12]),
		}

	case mesh.EventLightCTLTemperatureRangeStatus:
		if err := checkLen("temperature range status", p, 5); err != nil {
			return nil, err
		}
		ev.Data = mesh.LightCTLTemperatureRangeStatus{
			Status: p[0],
			Min:    binary.LittleEndian.Uint16(p[1:3]),
			Max:    binary.LittleEndian.Uint16(p[3:5]),
		}

	case mesh.EventLightCTLDefaultStatus:
		if err := checkLen("default status", p, 6); err != nil {
			return nil, err
		}
		ev.Data = decodeState(p)
	}
	return ev, nil
}
