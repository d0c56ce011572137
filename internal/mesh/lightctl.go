package mesh

// LightCTLState is a lightness / temperature / delta UV triple.
type LightCTLState struct {
	Lightness   uint16 `json:"lightness"`
	Temperature uint16 `json:"temperature"`
	DeltaUV     uint16 `json:"delta_uv"`
}

// LightCTLSet is the data of a Light CTL Set request.
type LightCTLSet struct {
	Target         LightCTLState `json:"target"`
	TransitionTime uint32        `json:"transition_time"` // ms
	Delay          uint16        `json:"delay"`           // ms
}

// LightCTLTemperatureSet is the data of a Light CTL Temperature Set request.
type LightCTLTemperatureSet struct {
	TargetTemperature uint16 `json:"target_temperature"`
	TargetDeltaUV     uint16 `json:"target_delta_uv"`
	TransitionTime    uint32 `json:"transition_time"`
	Delay             uint16 `json:"delay"`
}

// LightCTLTemperatureRange is the data of a Light CTL Temperature Range Set
// request.
type LightCTLTemperatureRange struct {
	Min uint16 `json:"min_level"`
	Max uint16 `json:"max_level"`
}

// Temperature range status codes.
const (
	RangeStatusSuccess   uint8 = 0x00
	RangeStatusCannotMin uint8 = 0x01
	RangeStatusCannotMax uint8 = 0x02
)

// LightCTLTemperatureRangeStatus is reported by a server after a range get
// or set.
type LightCTLTemperatureRangeStatus struct {
	Status uint8  `json:"status"`
	Min    uint16 `json:"min_level"`
	Max    uint16 `json:"max_level"`
}

// LightCTLStatus is reported for both Light CTL Status and Light CTL
// Temperature Status.
type LightCTLStatus struct {
	Present       LightCTLState `json:"present"`
	Target        LightCTLState `json:"target"`
	RemainingTime uint32        `json:"remaining_time"` // ms
}
