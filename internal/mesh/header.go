package mesh

import (
	"encoding/binary"
	"fmt"
)

// CommandHeaderLen is the size of the header in front of every host command.
const CommandHeaderLen = 11

// CommandHeader addresses a host command: where it goes, with which key and
// how the stack should transmit it.
type CommandHeader struct {
	Dst                uint16 `json:"dst"`
	AppKeyIdx          uint16 `json:"app_key_idx"`
	ElementIdx         uint8  `json:"element_idx"`
	Reliable           bool   `json:"reliable"`
	SendSegmented      bool   `json:"send_segmented"`
	TTL                uint8  `json:"ttl"`
	RetransmitCount    uint8  `json:"retransmit_count"`
	RetransmitInterval uint8  `json:"retransmit_interval"`
	ReplyTimeout       uint8  `json:"reply_timeout"`
}

// AppendBinary appends the wire form of h to b.
func (h CommandHeader) AppendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint16(b, h.Dst)
	b = binary.LittleEndian.AppendUint16(b, h.AppKeyIdx)
	return append(b,
		h.ElementIdx,
		boolByte(h.Reliable),
		boolByte(h.SendSegmented),
		h.TTL,
		h.RetransmitCount,
		h.RetransmitInterval,
		h.ReplyTimeout,
	)
}

// ParseCommandHeader reads the header at the start of data and returns the
// remaining payload.
func ParseCommandHeader(data []byte) (CommandHeader, []byte, error) {
	if len(data) < CommandHeaderLen {
		return CommandHeader{}, nil, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(data))
	}
	h := CommandHeader{
		Dst:                binary.LittleEndian.Uint16(data[0:2]),
		AppKeyIdx:          binary.LittleEndian.Uint16(data[2:4]),
		ElementIdx:         data[4],
		Reliable:           data[5] != 0,
		SendSegmented:      data[6] != 0,
		TTL:                data[7],
		RetransmitCount:    data[8],
		RetransmitInterval: data[9],
		ReplyTimeout:       data[10],
	}
	return h, data[CommandHeaderLen:], nil
}

// HCIEventHeaderLen is the size of the header in front of every host event.
const HCIEventHeaderLen = 5

// HCIEvent is the header of an event sent to the host.
type HCIEvent struct {
	Src        uint16 `json:"src"`
	AppKeyIdx  uint16 `json:"app_key_idx"`
	ElementIdx uint8  `json:"element_idx"`
}

// AppendBinary appends the wire form of h to b.
func (h HCIEvent) AppendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint16(b, h.Src)
	b = binary.LittleEndian.AppendUint16(b, h.AppKeyIdx)
	return append(b, h.ElementIdx)
}

// ParseHCIEvent reads the event header at the start of data.
func ParseHCIEvent(data []byte) (HCIEvent, []byte, error) {
	if len(data) < HCIEventHeaderLen {
		return HCIEvent{}, nil, fmt.Errorf("%w: event header %d bytes", ErrShortHeader, len(data))
	}
	h := HCIEvent{
		Src:        binary.LittleEndian.Uint16(data[0:2]),
		AppKeyIdx:  binary.LittleEndian.Uint16(data[2:4]),
		ElementIdx: data[4],
	}
	return h, data[HCIEventHeaderLen:], nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
