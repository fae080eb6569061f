package mqtt

// TopicPrefix is the root of every topic the monitor publishes.
const TopicPrefix = "pimonitor"

// Topics builds the monitor's MQTT topic names.
//
//	pimonitor/system/status        online/offline (retained, LWT)
//	pimonitor/state/{hostID}       device snapshot (retained)
//	pimonitor/presets              shared preset list (retained)
type Topics struct{}

// SystemStatus is where each instance announces itself online or offline.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// DeviceState is the retained snapshot topic for one device.
func (Topics) DeviceState(hostID string) string {
	return TopicPrefix + "/state/" + hostID
}

// Presets is the default topic for sharing the preset list.
func (Topics) Presets() string {
	return TopicPrefix + "/presets"
}
