// Package hci implements the host-control UART link between the node and
// its host application: frame encoding and a serial transport.
package hci

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// PktTypeCommand starts every frame on the link.
const PktTypeCommand byte = 0x19

// HeaderLen is the frame header size: packet type, opcode and length.
const HeaderLen = 5

// MaxPayload is the largest payload accepted on the link.
const MaxPayload = 1024

// ErrFrameTooLarge is returned when a frame announces a payload larger than
// MaxPayload.
var ErrFrameTooLarge = errors.New("hci: frame too large")

// EncodeFrame returns the wire form of one frame.
func EncodeFrame(opcode uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	b := make([]byte, 0, HeaderLen+len(payload))
	b = append(b, PktTypeCommand)
	b = binary.LittleEndian.AppendUint16(b, opcode)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(payload)))
	return append(b, payload...), nil
}

// ReadFrame reads the next frame from r. Bytes before a packet type marker
// are skipped.
func ReadFrame(r *bufio.Reader) (uint16, []byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, nil, err
		}
		if b == PktTypeCommand {
			break
		}
	}

	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	opcode := binary.LittleEndian.Uint16(hdr[0:2])
	n := int(binary.LittleEndian.Uint16(hdr[2:4]))
	if n > MaxPayload {
		// A short stream surfaces on the next read.
		_, _ = r.Discard(n)
		return opcode, nil, fmt.Errorf("%w: opcode 0x%04X announces %d bytes", ErrFrameTooLarge, opcode, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return opcode, payload, nil
}
