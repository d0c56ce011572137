package ctl

import "mesh-ctl-client/internal/mesh"

// HCIGroupMesh is the host-control group of all mesh commands and events.
const HCIGroupMesh = 0x16

// Host-control commands handled by the Light CTL client.
const (
	CommandGet                 uint16 = HCIGroupMesh<<8 | 0x60
	CommandSet                 uint16 = HCIGroupMesh<<8 | 0x61
	CommandTemperatureGet      uint16 = HCIGroupMesh<<8 | 0x62
	CommandTemperatureSet      uint16 = HCIGroupMesh<<8 | 0x63
	CommandTemperatureRangeGet uint16 = HCIGroupMesh<<8 | 0x64
	CommandTemperatureRangeSet uint16 = HCIGroupMesh<<8 | 0x65
	CommandDefaultGet          uint16 = HCIGroupMesh<<8 | 0x66
	CommandDefaultSet          uint16 = HCIGroupMesh<<8 | 0x67
)

// Host-control events sent by the Light CTL client.
const (
	EventTxComplete             uint16 = HCIGroupMesh<<8 | 0x02
	EventStatus                 uint16 = HCIGroupMesh<<8 | 0x40
	EventTemperatureStatus      uint16 = HCIGroupMesh<<8 | 0x41
	EventTemperatureRangeStatus uint16 = HCIGroupMesh<<8 | 0x42
	EventDefaultStatus          uint16 = HCIGroupMesh<<8 | 0x43
)

var commandNames = map[uint16]string{
	CommandGet:                 "get",
	CommandSet:                 "set",
	CommandTemperatureGet:      "temperature_get",
	CommandTemperatureSet:      "temperature_set",
	CommandTemperatureRangeGet: "temperature_range_get",
	CommandTemperatureRangeSet: "temperature_range_set",
	CommandDefaultGet:          "default_get",
	CommandDefaultSet:          "default_set",
}

var commandOpcodes = func() map[string]uint16 {
	m := make(map[string]uint16, len(commandNames))
	for op, name := range commandNames {
		m[name] = op
	}
	return m
}()

// eventKinds maps host event opcodes to the model event they carry.
var eventKinds = map[uint16]mesh.EventKind{
	EventTxComplete:             mesh.EventTxComplete,
	EventStatus:                 mesh.EventLightCTLStatus,
	EventTemperatureStatus:      mesh.EventLightCTLTemperatureStatus,
	EventTemperatureRangeStatus: mesh.EventLightCTLTemperatureRangeStatus,
	EventDefaultStatus:          mesh.EventLightCTLDefaultStatus,
}

// IsCommand reports whether opcode is one of the Light CTL commands.
func IsCommand(opcode uint16) bool {
	_, ok := commandNames[opcode]
	return ok
}

// CommandName returns the short name of a command opcode, or "" if unknown.
func CommandName(opcode uint16) string {
	return commandNames[opcode]
}

// CommandOpcode looks up a command by its short name.
func CommandOpcode(name string) (uint16, bool) {
	op, ok := commandOpcodes[name]
	return op, ok
}

// CommandNames lists the short names of all commands.
func CommandNames() []string {
	return []string{
		"get", "set",
		"temperature_get", "temperature_set",
		"temperature_range_get", "temperature_range_set",
		"default_get", "default_set",
	}
}

// EventKindOf returns the model event kind carried by a host event opcode.
func EventKindOf(opcode uint16) (mesh.EventKind, bool) {
	k, ok := eventKinds[opcode]
	return k, ok
}
