//go:build !no_mqtt

package mqtt

import "fmt"

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/mesh_ctl_0010/lightness/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	Device            haDevice `json:"device"`
}

// serverIdentifier is the HA device id of a Light CTL server seen on the mesh.
func serverIdentifier(src uint16) string {
	return fmt.Sprintf("mesh_ctl_%04X", src)
}

// buildDiscovery generates HA sensors for a Light CTL server from the status
// events it sends.
func buildDiscovery(src uint16, prefix string) []discoveryMsg {
	avail := prefix + "/bridge/state"
	nodeID := serverIdentifier(src)
	displayName := fmt.Sprintf("Light CTL 0x%04X", src)
	haDev := haDevice{
		Identifiers: []string{nodeID},
		Model:       "Light CTL Server",
		Name:        displayName,
	}

	status := eventTopic(prefix, "ctl_status", src)
	temp := eventTopic(prefix, "ctl_temperature_status", src)
	def := eventTopic(prefix, "ctl_default_status", src)

	return []discoveryMsg{
		buildSensor(nodeID, displayName, status, avail, haDev,
			"lightness", "Lightness", "", "", "measurement",
			"{{ value_json.data.present.lightness }}"),
		buildSensor(nodeID, displayName, status, avail, haDev,
			"target_lightness", "Target Lightness", "", "", "measurement",
			"{{ value_json.data.target.lightness }}"),
		buildSensor(nodeID, displayName, temp, avail, haDev,
			"temperature", "Color Temperature", "", "K", "measurement",
			"{{ value_json.data.present.temperature }}"),
		buildSensor(nodeID, displayName, temp, avail, haDev,
			"delta_uv", "Delta UV", "", "", "measurement",
			"{{ value_json.data.present.delta_uv }}"),
		buildSensor(nodeID, displayName, def, avail, haDev,
			"default_temperature", "Default Temperature", "", "K", "",
			"{{ value_json.data.temperature }}"),
	}
}

func buildSensor(nodeID, displayName, stateTopic, avail string, haDev haDevice,
	objectID, suffix, deviceClass, unit, stateClass, valueTmpl string) discoveryMsg {

	topic := fmt.Sprintf("homeassistant/sensor/%s/%s/config", nodeID, objectID)
	payload := haDiscovery{
		Name:              displayName + " " + suffix,
		UniqueID:          nodeID + "_" + objectID,
		StateTopic:        stateTopic,
		AvailabilityTopic: avail,
		ValueTemplate:     valueTmpl,
		UnitOfMeasurement: unit,
		DeviceClass:       deviceClass,
		StateClass:        stateClass,
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}
