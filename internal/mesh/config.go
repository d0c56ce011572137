package mesh

// ModelID identifies a model by company and model number.
type ModelID struct {
	CompanyID uint16 `json:"company_id"`
	ModelID   uint16 `json:"model_id"`
}

// Element is an addressable unit of the node.
type Element struct {
	Location              uint16    `json:"location"`
	DefaultTransitionTime uint32    `json:"default_transition_time_ms"`
	OnPowerUpState        uint8     `json:"onpowerup_state"`
	DefaultLevel          uint16    `json:"default_level"`
	RangeMin              uint16    `json:"range_min"`
	RangeMax              uint16    `json:"range_max"`
	MoveRollover          bool      `json:"move_rollover"`
	Models                []ModelID `json:"models"`
}

// FriendConfig configures the Friend feature.
type FriendConfig struct {
	ReceiveWindow uint8  `json:"receive_window_ms"`
	CacheBufLen   uint16 `json:"cache_buf_len"`
	MaxLPNNum     uint8  `json:"max_lpn_num"`
}

// LowPowerConfig configures the Low Power feature.
type LowPowerConfig struct {
	RSSIFactor          uint8  `json:"rssi_factor"`
	ReceiveWindowFactor uint8  `json:"receive_window_factor"`
	MinCacheSizeLog     uint8  `json:"min_cache_size_log"`
	ReceiveDelay        uint8  `json:"receive_delay_ms"`
	PollTimeout         uint32 `json:"poll_timeout"` // 100 ms units
}

// CoreConfig is the node composition handed to the stack at startup.
type CoreConfig struct {
	CompanyID      uint16         `json:"company_id"`
	ProductID      uint16         `json:"product_id"`
	VendorID       uint16         `json:"vendor_id"`
	Features       uint16         `json:"features"`
	Friend         FriendConfig   `json:"friend"`
	LowPower       LowPowerConfig `json:"low_power"`
	GATTClientOnly bool           `json:"gatt_client_only"`
	Elements       []Element      `json:"elements"`
}

// HasFeature reports whether all bits of f are set.
func (c CoreConfig) HasFeature(f uint16) bool {
	return c.Features&f == f
}
