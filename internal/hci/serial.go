package hci

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// FrameHandler receives every frame read from the link.
type FrameHandler func(opcode uint16, payload []byte)

// Transport is a framed host-control link over a serial port or any other
// byte stream. It implements mesh.HostTransport.
type Transport struct {
	port   io.ReadWriteCloser
	reader *bufio.Reader
	logger *slog.Logger

	writeMu sync.Mutex

	handlerMu sync.RWMutex
	onFrame   FrameHandler

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open opens a serial port and starts reading frames from it.
func Open(portName string, baudRate int, logger *slog.Logger) (*Transport, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("hci: open %s: %w", portName, err)
	}

	// USB CDC ACM bridges only pass data once DTR/RTS are asserted.
	_ = port.SetDTR(true)
	_ = port.SetRTS(true)

	logger.Info("hci port opened", "port", portName, "baud", baudRate)
	return New(port, logger), nil
}

// New starts a transport on an already open stream.
func New(port io.ReadWriteCloser, logger *slog.Logger) *Transport {
	t := &Transport{
		port:   port,
		reader: bufio.NewReader(port),
		logger: logger.With("component", "hci"),
		done:   make(chan struct{}),
	}
	t.wg.Add(1)
	go t.readLoop()
	return t
}

// OnFrame sets the handler for inbound frames. It is called from the read
// goroutine.
func (t *Transport) OnFrame(fn FrameHandler) {
	t.handlerMu.Lock()
	t.onFrame = fn
	t.handlerMu.Unlock()
}

// SendData writes one frame.
func (t *Transport) SendData(opcode uint16, data []byte) error {
	frame, err := EncodeFrame(opcode, data)
	if err != nil {
		return err
	}
	select {
	case <-t.done:
		return fmt.Errorf("hci: send 0x%04X: transport closed", opcode)
	default:
	}

	t.writeMu.Lock()
	_, err = t.port.Write(frame)
	t.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("hci: write 0x%04X: %w", opcode, err)
	}
	t.logger.Debug("hci frame sent", "opcode", fmt.Sprintf("0x%04X", opcode), "len", len(data))
	return nil
}

func (t *Transport) readLoop() {
	defer t.wg.Done()

	backoff := 10 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		select {
		case <-t.done:
			return
		default:
		}

		opcode, payload, err := ReadFrame(t.reader)
		if err != nil {
			if errors.Is(err, ErrFrameTooLarge) {
				t.logger.Warn("hci frame dropped", "err", err)
				continue
			}
			select {
			case <-t.done:
				return
			default:
			}
			if err != io.EOF && !strings.Contains(err.Error(), "closed") {
				t.logger.Error("hci read error", "err", err)
			}
			select {
			case <-time.After(backoff):
			case <-t.done:
				return
			}
			if backoff < maxBackoff {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}
		backoff = 10 * time.Millisecond

		t.logger.Debug("hci frame received", "opcode", fmt.Sprintf("0x%04X", opcode), "len", len(payload))

		t.handlerMu.RLock()
		fn := t.onFrame
		t.handlerMu.RUnlock()
		if fn != nil {
			fn(opcode, payload)
		}
	}
}

// Close stops the read loop and closes the port.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.port.Close()
	})
	t.wg.Wait()
	return err
}
