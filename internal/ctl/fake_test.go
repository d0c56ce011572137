package ctl

import (
	"errors"
	"io"
	"log/slog"

	"mesh-ctl-client/internal/mesh"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStack records every call the application makes into the stack.
type fakeStack struct {
	name       string
	appearance uint16
	scanResp   []mesh.AdvertElement
	initElem   uint8
	initProv   bool
	handler    mesh.MessageHandler
	createErr  error
	noHCIEvent bool
	sends      []string
	lastSet    any
	released   map[*mesh.Event]int
	sendErr    error
}

func newFakeStack() *fakeStack {
	return &fakeStack{released: make(map[*mesh.Event]int)}
}

func (f *fakeStack) SetDeviceName(name string) { f.name = name }
func (f *fakeStack) SetAppearance(appearance uint16) { f.appearance = appearance }
func (f *fakeStack) SetRawScanResponseData(elems []mesh.AdvertElement) error {
	f.scanResp = elems
	return nil
}

func (f *fakeStack) CreateEventFromHCI(opcode, companyID, modelID uint16, data []byte) (*mesh.Event, []byte, error) {
	if f.createErr != nil {
		return nil, nil, f.createErr
	}
	hdr, rest, err := mesh.ParseCommandHeader(data)
	if err != nil {
		return nil, nil, err
	}
	return &mesh.Event{
		Opcode: opcode, CompanyID: companyID, ModelID: modelID,
		Dst: hdr.Dst, AppKeyIdx: hdr.AppKeyIdx, ElementIdx: hdr.ElementIdx, Reliable: hdr.Reliable,
	}, rest, nil
}

func (f *fakeStack) CreateHCIEvent(ev *mesh.Event) *mesh.HCIEvent {
	if f.noHCIEvent {
		return nil
	}
	return &mesh.HCIEvent{Src: ev.Src, AppKeyIdx: ev.AppKeyIdx, ElementIdx: ev.ElementIdx}
}

func (f *fakeStack) ReleaseEvent(ev *mesh.Event) { f.released[ev]++ }

func (f *fakeStack) InitLightCTLClient(elementIdx uint8, handler mesh.MessageHandler, provisioned bool) error {
	f.initElem = elementIdx
	f.handler = handler
	f.initProv = provisioned
	return nil
}

func (f *fakeStack) record(name string, set any) error {
	f.sends = append(f.sends, name)
	f.lastSet = set
	return f.sendErr
}

func (f *fakeStack) SendGet(*mesh.Event) error { return f.record("get", nil) }
func (f *fakeStack) SendSet(_ *mesh.Event, set mesh.LightCTLSet) error {
	return f.record("set", set)
}
func (f *fakeStack) SendTemperatureGet(*mesh.Event) error { return f.record("temperature_get", nil) }
func (f *fakeStack) SendTemperatureSet(_ *mesh.Event, set mesh.LightCTLTemperatureSet) error {
	return f.record("temperature_set", set)
}
func (f *fakeStack) SendTemperatureRangeGet(*mesh.Event) error {
	return f.record("temperature_range_get", nil)
}
func (f *fakeStack) SendTemperatureRangeSet(_ *mesh.Event, set mesh.LightCTLTemperatureRange) error {
	return f.record("temperature_range_set", set)
}
func (f *fakeStack) SendDefaultGet(*mesh.Event) error { return f.record("default_get", nil) }
func (f *fakeStack) SendDefaultSet(_ *mesh.Event, set mesh.LightCTLState) error {
	return f.record("default_set", set)
}

func (f *fakeStack) totalReleases() int {
	n := 0
	for _, c := range f.released {
		n += c
	}
	return n
}

type sentFrame struct {
	opcode uint16
	data   []byte
}

type fakeTransport struct {
	frames []sentFrame
	err    error
}

func (t *fakeTransport) SendData(opcode uint16, data []byte) error {
	t.frames = append(t.frames, sentFrame{opcode: opcode, data: append([]byte(nil), data...)})
	return t.err
}

var errFake = errors.New("fake failure")
