// Package simstack is an in-process mesh stack that answers Light CTL client
// requests from a simulated Light CTL server. It implements the stack API of
// package mesh and delivers model events through a mesh.Scheduler, so the
// application sees the same callback order a real stack produces.
package simstack

import (
	"fmt"
	"log/slog"
	"sync"

	"mesh-ctl-client/internal/mesh"
)

// Temperature limits of the Light CTL Temperature state, in Kelvin.
const (
	TemperatureMin uint16 = 800
	TemperatureMax uint16 = 20000
)

// Addresses used when Config leaves them zero.
const (
	DefaultOwnAddr    uint16 = 0x0001
	DefaultServerAddr uint16 = 0x0010
)

// Config configures the simulated network.
type Config struct {
	OwnAddr    uint16 // unicast address of this node
	ServerAddr uint16 // unicast address of the simulated Light CTL server
}

// Stack is the simulated stack. All model events are posted to the
// scheduler; none is delivered from inside a send call.
type Stack struct {
	cfg    Config
	sched  mesh.Scheduler
	logger *slog.Logger

	mu             sync.Mutex
	handler        mesh.MessageHandler
	elementIdx     uint8
	provisioned    bool
	deviceName     string
	appearance     uint16
	scanResponse   []mesh.AdvertElement
	outstanding    map[*mesh.Event]struct{}
	doubleReleases int

	server serverState
}

type serverState struct {
	present  mesh.LightCTLState
	rangeMin uint16
	rangeMax uint16
	def      mesh.LightCTLState
}

// New creates a stack that posts model events to sched.
func New(cfg Config, sched mesh.Scheduler, logger *slog.Logger) *Stack {
	if cfg.OwnAddr == 0 {
		cfg.OwnAddr = DefaultOwnAddr
	}
	if cfg.ServerAddr == 0 {
		cfg.ServerAddr = DefaultServerAddr
	}
	return &Stack{
		cfg:         cfg,
		sched:       sched,
		logger:      logger.With("component", "simstack"),
		outstanding: make(map[*mesh.Event]struct{}),
		server: serverState{
			present:  mesh.LightCTLState{Lightness: 0x8000, Temperature: 4000},
			rangeMin: TemperatureMin,
			rangeMax: TemperatureMax,
			def:      mesh.LightCTLState{Lightness: 0xFFFF, Temperature: 6500},
		},
	}
}

func (s *Stack) SetDeviceName(name string) {
	s.mu.Lock()
	s.deviceName = name
	s.mu.Unlock()
}

func (s *Stack) SetAppearance(appearance uint16) {
	s.mu.Lock()
	s.appearance = appearance
	s.mu.Unlock()
}

func (s *Stack) SetRawScanResponseData(elems []mesh.AdvertElement) error {
	total := 0
	for _, e := range elems {
		total += 2 + len(e.Data)
	}
	// Legacy scan response is limited to 31 bytes.
	if total > 31 {
		return fmt.Errorf("simstack: scan response %d bytes exceeds 31", total)
	}
	s.mu.Lock()
	s.scanResponse = append([]mesh.AdvertElement(nil), elems...)
	s.mu.Unlock()
	return nil
}

// DeviceName returns the name set by the application.
func (s *Stack) DeviceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceName
}

// Appearance returns the GAP appearance set by the application.
func (s *Stack) Appearance() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appearance
}

// ScanResponse returns the scan response elements set by the application.
func (s *Stack) ScanResponse() []mesh.AdvertElement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mesh.AdvertElement(nil), s.scanResponse...)
}

func (s *Stack) CreateEventFromHCI(opcode, companyID, modelID uint16, data []byte) (*mesh.Event, []byte, error) {
	hdr, rest, err := mesh.ParseCommandHeader(data)
	if err != nil {
		return nil, nil, err
	}
	ev := &mesh.Event{
		Opcode:             opcode,
		CompanyID:          companyID,
		ModelID:            modelID,
		Src:                s.cfg.OwnAddr,
		Dst:                hdr.Dst,
		AppKeyIdx:          hdr.AppKeyIdx,
		ElementIdx:         hdr.ElementIdx,
		Reliable:           hdr.Reliable,
		SendSegmented:      hdr.SendSegmented,
		TTL:                hdr.TTL,
		RetransmitCount:    hdr.RetransmitCount,
		RetransmitInterval: hdr.RetransmitInterval,
		ReplyTimeout:       hdr.ReplyTimeout,
	}
	s.track(ev)
	return ev, rest, nil
}

func (s *Stack) CreateHCIEvent(ev *mesh.Event) *mesh.HCIEvent {
	if ev == nil {
		return nil
	}
	return &mesh.HCIEvent{Src: ev.Src, AppKeyIdx: ev.AppKeyIdx, ElementIdx: ev.ElementIdx}
}

func (s *Stack) ReleaseEvent(ev *mesh.Event) {
	if !s.untrack(ev) {
		s.logger.Error("release of event not owned by the application", "opcode", ev.Opcode)
	}
}

// Outstanding returns the number of events handed out and not yet returned.
func (s *Stack) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outstanding)
}

// DoubleReleases returns how many releases hit an event that was not
// outstanding.
func (s *Stack) DoubleReleases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doubleReleases
}

func (s *Stack) track(ev *mesh.Event) {
	s.mu.Lock()
	s.outstanding[ev] = struct{}{}
	s.mu.Unlock()
}

func (s *Stack) untrack(ev *mesh.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outstanding[ev]; !ok {
		s.doubleReleases++
		return false
	}
	delete(s.outstanding, ev)
	return true
}

// deliver posts a model event. The event is outstanding until the handler
// releases it.
func (s *Stack) deliver(kind mesh.EventKind, ev *mesh.Event, data any) {
	s.track(ev)
	s.sched.Post(func() {
		s.mu.Lock()
		h := s.handler
		s.mu.Unlock()
		if h == nil {
			s.logger.Warn("drop model event", "event", kind.String(), "err", mesh.ErrNoHandler)
			s.ReleaseEvent(ev)
			return
		}
		h(kind, ev, data)
	})
}
