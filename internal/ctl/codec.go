package ctl

import (
	"encoding/binary"
	"fmt"

	"mesh-ctl-client/internal/mesh"
)

// Fixed payload sizes of the set commands.
const (
	setLen                 = 12
	temperatureSetLen      = 10
	temperatureRangeSetLen = 4
	defaultSetLen          = 6
)

func checkLen(name string, data []byte, want int) error {
	if len(data) < want {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", mesh.ErrShortPayload, name, want, len(data))
	}
	return nil
}

// DecodeSet reads lightness, temperature, delta UV, transition time and delay.
func DecodeSet(data []byte) (mesh.LightCTLSet, error) {
	if err := checkLen("set", data, setLen); err != nil {
		return mesh.LightCTLSet{}, err
	}
	return mesh.LightCTLSet{
		Target:         decodeState(data),
		TransitionTime: binary.LittleEndian.Uint32(data[6:10]),
		Delay:          binary.LittleEndian.Uint16(data[10:12]),
	}, nil
}

// DecodeTemperatureSet reads temperature, delta UV, transition time and delay.
func DecodeTemperatureSet(data []byte) (mesh.LightCTLTemperatureSet, error) {
	if err := checkLen("temperature set", data, temperatureSetLen); err != nil {
		return mesh.LightCTLTemperatureSet{}, err
	}
	return mesh.LightCTLTemperatureSet{
		TargetTemperature: binary.LittleEndian.Uint16(data[0:2]),
		TargetDeltaUV:     binary.LittleEndian.Uint16(data[2:4]),
		TransitionTime:    binary.LittleEndian.Uint32(data[4:8]),
		Delay:             binary.LittleEndian.Uint16(data[8:10]),
	}, nil
}

// DecodeTemperatureRangeSet reads the range min and max.
func DecodeTemperatureRangeSet(data []byte) (mesh.LightCTLTemperatureRange, error) {
	if err := checkLen("temperature range set", data, temperatureRangeSetLen); err != nil {
		return mesh.LightCTLTemperatureRange{}, err
	}
	return mesh.LightCTLTemperatureRange{
		Min: binary.LittleEndian.Uint16(data[0:2]),
		Max: binary.LittleEndian.Uint16(data[2:4]),
	}, nil
}

// DecodeDefaultSet reads the default lightness, temperature and delta UV.
func DecodeDefaultSet(data []byte) (mesh.LightCTLState, error) {
	if err := checkLen("default set", data, defaultSetLen); err != nil {
		return mesh.LightCTLState{}, err
	}
	return decodeState(data), nil
}

func decodeState(data []byte) mesh.LightCTLState {
	return mesh.LightCTLState{
		Lightness:   binary.LittleEndian.Uint16(data[0:2]),
		Temperature: binary.LittleEndian.Uint16(data[2:4]),
		DeltaUV:     binary.LittleEndian.Uint16(data[4:6]),
	}
}

// AppendStatus appends a Light CTL Status: present lightness and temperature,
// target lightness and temperature, remaining time.
func AppendStatus(b []byte, s mesh.LightCTLStatus) []byte {
	b = binary.LittleEndian.AppendUint16(b, s.Present.Lightness)
	b = binary.LittleEndian.AppendUint16(b, s.Present.Temperature)
	b = binary.LittleEndian.AppendUint16(b, s.Target.Lightness)
	b = binary.LittleEndian.AppendUint16(b, s.Target.Temperature)
	return binary.LittleEndian.AppendUint32(b, s.RemainingTime)
}

// AppendTemperatureStatus appends a Light CTL Temperature Status: present
// temperature and delta UV, target temperature and delta UV, remaining time.
func AppendTemperatureStatus(b []byte, s mesh.LightCTLStatus) []byte {
	b = binary.LittleEndian.AppendUint16(b, s.Present.Temperature)
	b = binary.LittleEndian.AppendUint16(b, s.Present.DeltaUV)
	b = binary.LittleEndian.AppendUint16(b, s.Target.Temperature)
	b = binary.LittleEndian.AppendUint16(b, s.Target.DeltaUV)
	return binary.LittleEndian.AppendUint32(b, s.RemainingTime)
}

// AppendTemperatureRangeStatus appends status, min and max.
func AppendTemperatureRangeStatus(b []byte, s mesh.LightCTLTemperatureRangeStatus) []byte {
	b = append(b, s.Status)
	b = binary.LittleEndian.AppendUint16(b, s.Min)
	return binary.LittleEndian.AppendUint16(b, s.Max)
}

// AppendDefaultStatus appends the default lightness, temperature and delta UV.
func AppendDefaultStatus(b []byte, s mesh.LightCTLState) []byte {
	return appendState(b, s)
}

func appendState(b []byte, s mesh.LightCTLState) []byte {
	b = binary.LittleEndian.AppendUint16(b, s.Lightness)
	b = binary.LittleEndian.AppendUint16(b, s.Temperature)
	return binary.LittleEndian.AppendUint16(b, s.DeltaUV)
}

// AppendTxComplete appends the transmit flag and the destination of the
// completed request.
func AppendTxComplete(b []byte, txFlag uint8, dst uint16) []byte {
	b = append(b, txFlag)
	return binary.LittleEndian.AppendUint16(b, dst)
}
