package ctl

import "mesh-ctl-client/internal/mesh"

// Product identification.
const (
	ProductID uint16 = 0x3007
	VendorID  uint16 = 0x0002
)

// Identity advertised by the node.
const (
	DeviceName = "CTL Control"
	// AppearanceTouchPanel is the GAP appearance "Control Device: Touch Panel".
	AppearanceTouchPanel uint16 = 0x0B06
)

// ElementIndex is the element the Light CTL client lives on.
const ElementIndex uint8 = 0

// DefaultTransitionTime of the element, in milliseconds.
const DefaultTransitionTime uint32 = 0

// Device information properties.
var (
	ManufacturerName = []byte{'C', 'y', 'p', 'r', 'e', 's', 's', 0}
	ModelNumber      = []byte{'1', '2', '3', '4', 0, 0, 0, 0}
	SystemID         = []byte{0xbb, 0xb8, 0xa1, 0x80, 0x5f, 0x9f, 0x91, 0x71}
)

// ElementModels returns the models of the single element: the generic device
// models followed by the Light CTL client.
func ElementModels() []mesh.ModelID {
	return []mesh.ModelID{
		{CompanyID: mesh.CompanyBluetoothSIG, ModelID: mesh.ModelConfigServer},
		{CompanyID: mesh.CompanyBluetoothSIG, ModelID: mesh.ModelHealthServer},
		{CompanyID: mesh.CompanyBluetoothSIG, ModelID: mesh.ModelLightCTLClient},
	}
}

// DeviceConfig returns the composition of the node. A low power node runs
// without relay, proxy and friend.
func DeviceConfig(lowPower bool) mesh.CoreConfig {
	cfg := mesh.CoreConfig{
		CompanyID: mesh.CompanyCypress,
		ProductID: ProductID,
		VendorID:  VendorID,
		Elements: []mesh.Element{{
			Location:              mesh.ElementLocationMain,
			DefaultTransitionTime: DefaultTransitionTime,
			OnPowerUpState:        mesh.OnPowerUpRestore,
			DefaultLevel:          0,
			RangeMin:              1,
			RangeMax:              0xFFFF,
			Models:                ElementModels(),
		}},
	}
	if lowPower {
		cfg.Features = mesh.FeatureLowPower
		cfg.LowPower = mesh.LowPowerConfig{
			RSSIFactor:          2,
			ReceiveWindowFactor: 2,
			MinCacheSizeLog:     3,
			ReceiveDelay:        100,
			PollTimeout:         36000,
		}
		return cfg
	}
	cfg.Features = mesh.FeatureFriend | mesh.FeatureRelay | mesh.FeatureProxy
	cfg.Friend = mesh.FriendConfig{
		ReceiveWindow: 20,
		CacheBufLen:   300,
		MaxLPNNum:     4,
	}
	return cfg
}
