// Package mesh defines the boundary between a node application and the
// Bluetooth Mesh stack it runs on: static configuration tables, the stack's
// event handle, the host-control headers and the stack API the application
// calls into. The protocol engine itself lives behind the Stack interfaces.
package mesh

import "errors"

var (
	// ErrShortHeader is returned when a host command is too short to carry
	// the command header.
	ErrShortHeader = errors.New("mesh: short command header")
	// ErrShortPayload is returned when a command payload is shorter than its
	// fixed field layout.
	ErrShortPayload = errors.New("mesh: short payload")
	// ErrNoHandler is returned when a model event arrives before the model
	// was registered.
	ErrNoHandler = errors.New("mesh: no model handler registered")
)

// Company identifiers assigned by the Bluetooth SIG.
const (
	CompanyBluetoothSIG uint16 = 0x0000
	CompanyCypress      uint16 = 0x0131
)

// SIG model identifiers used by this node.
const (
	ModelConfigServer   uint16 = 0x0000
	ModelHealthServer   uint16 = 0x0002
	ModelLightCTLClient uint16 = 0x1305
)

// Feature bits of the composition data.
const (
	FeatureRelay    uint16 = 0x01
	FeatureProxy    uint16 = 0x02
	FeatureFriend   uint16 = 0x04
	FeatureLowPower uint16 = 0x08
)

// IsUnicast reports whether addr is a unicast element address.
func IsUnicast(addr uint16) bool {
	return addr != 0 && addr&0x8000 == 0
}

// GATT namespace descriptor for the main element location.
const ElementLocationMain uint16 = 0x0106

// On power up behaviour of an element.
const (
	OnPowerUpOff     uint8 = 0x00
	OnPowerUpDefault uint8 = 0x01
	OnPowerUpRestore uint8 = 0x02
)

// Transmit complete flags reported with EventTxComplete.
const (
	TxCompleted   uint8 = 0x00
	TxFailed      uint8 = 0x01
	TxAckReceived uint8 = 0x02
)

// EventKind identifies a model event delivered by the stack.
type EventKind uint16

const (
	EventTxComplete EventKind = iota + 1
	EventLightCTLStatus
	EventLightCTLTemperatureStatus
	EventLightCTLTemperatureRangeStatus
	EventLightCTLDefaultStatus
)

func (k EventKind) String() string {
	switch k {
	case EventTxComplete:
		return "tx_complete"
	case EventLightCTLStatus:
		return "ctl_status"
	case EventLightCTLTemperatureStatus:
		return "ctl_temperature_status"
	case EventLightCTLTemperatureRangeStatus:
		return "ctl_temperature_range_status"
	case EventLightCTLDefaultStatus:
		return "ctl_default_status"
	default:
		return "unknown"
	}
}

// Event is the stack's handle for one outgoing request or incoming message.
// The stack allocates it; whoever holds it last must give it back, either by
// passing it to a send function or by calling ReleaseEvent.
type Event struct {
	Opcode             uint16 // host-control opcode that created the event
	CompanyID          uint16
	ModelID            uint16
	Src                uint16
	Dst                uint16
	AppKeyIdx          uint16
	ElementIdx         uint8
	Reliable           bool
	SendSegmented      bool
	TTL                uint8
	RetransmitCount    uint8
	RetransmitInterval uint8
	ReplyTimeout       uint8
	TxFlag             uint8
}

// AdvertElement is one AD structure of the scan response.
type AdvertElement struct {
	Type uint8
	Data []byte
}

// Advertising data types used in the scan response.
const (
	AdvertTypeNameComplete uint8 = 0x09
	AdvertTypeAppearance   uint8 = 0x19
)

// MessageHandler receives model events. data carries the kind-specific
// payload (LightCTLStatus, LightCTLState, ...) or nil.
type MessageHandler func(kind EventKind, ev *Event, data any)

// Stack is the core API of the mesh stack used by a node application.
type Stack interface {
	SetDeviceName(name string)
	SetAppearance(appearance uint16)
	SetRawScanResponseData(elems []AdvertElement) error

	// CreateEventFromHCI parses the command header at the start of data and
	// returns the event together with the remaining payload.
	CreateEventFromHCI(opcode, companyID, modelID uint16, data []byte) (*Event, []byte, error)
	// CreateHCIEvent returns the header for a host event about ev, or nil
	// when none can be produced.
	CreateHCIEvent(ev *Event) *HCIEvent
	ReleaseEvent(ev *Event)
}

// LightCTLClient is the Light CTL client model API. Send functions take
// ownership of the event.
type LightCTLClient interface {
	InitLightCTLClient(elementIdx uint8, handler MessageHandler, provisioned bool) error

	SendGet(ev *Event) error
	SendSet(ev *Event, set LightCTLSet) error
	SendTemperatureGet(ev *Event) error
	SendTemperatureSet(ev *Event, set LightCTLTemperatureSet) error
	SendTemperatureRangeGet(ev *Event) error
	SendTemperatureRangeSet(ev *Event, set LightCTLTemperatureRange) error
	SendDefaultGet(ev *Event) error
	SendDefaultSet(ev *Event, set LightCTLState) error
}

// HostTransport carries events from the node to the host application.
type HostTransport interface {
	SendData(opcode uint16, data []byte) error
}

// App is the set of callbacks a node application hands to the runtime at
// startup.
type App interface {
	// Init is called once, before any command is processed.
	Init(provisioned bool)
	// ProcessCommand handles a host command and reports whether the opcode
	// belonged to this application.
	ProcessCommand(opcode uint16, data []byte) bool
}

// Scheduler runs work on the node event loop.
type Scheduler interface {
	Post(fn func())
}
