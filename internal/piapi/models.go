package piapi

// Model discriminators carried in the "model" field of a status frame.
const (
	ModelPhone         = "Phone"
	ModelSensor        = "Sensor"
	ModelNetworkDevice = "NetworkDevice"
	ModelRecording     = "Recording"
	ModelHardware      = "Hardware"
)

// ResourceState grades battery and storage levels reported by the phone.
type ResourceState string

const (
	ResourceOK       ResourceState = "OK"
	ResourceLow      ResourceState = "LOW"
	ResourceCritical ResourceState = "CRITICAL"
)

// Phone is the companion phone's own status.
type Phone struct {
	IP           string        `json:"ip"`
	Port         int           `json:"port,omitempty"`
	DeviceID     string        `json:"device_id"`
	DeviceName   string        `json:"device_name"`
	BatteryLevel int           `json:"battery_level"`
	BatteryState ResourceState `json:"battery_state,omitempty"`
	Memory       int64         `json:"memory"`
	MemoryState  ResourceState `json:"memory_state"`
}

// SensorKind names which camera stream a sensor carries.
type SensorKind string

const (
	SensorWorld SensorKind = "world"
	SensorGaze  SensorKind = "gaze"
)

// ConnType is how a sensor stream is exposed.
type ConnType string

const (
	ConnDirect    ConnType = "DIRECT"
	ConnWebSocket ConnType = "WEBSOCKET"
)

// Sensor describes one sensor stream endpoint on the phone.
type Sensor struct {
	Sensor    SensorKind `json:"sensor"`
	ConnType  ConnType   `json:"conn_type"`
	Protocol  string     `json:"protocol,omitempty"`
	IP        string     `json:"ip"`
	Port      int        `json:"port"`
	Params    string     `json:"params"`
	Connected bool       `json:"connected"`
}

// Key identifies a sensor within one device: kind and connection type.
func (s Sensor) Key() string {
	return string(s.Sensor) + "-" + string(s.ConnType)
}

// RecordingAction is the lifecycle step a recording frame reports.
type RecordingAction string

const (
	RecordingStart   RecordingAction = "START"
	RecordingStop    RecordingAction = "STOP"
	RecordingSave    RecordingAction = "SAVE"
	RecordingDiscard RecordingAction = "DISCARD"
	RecordingError   RecordingAction = "ERROR"
)

// Recording is the server's view of a capture session.
type Recording struct {
	ID         string          `json:"id"`
	Action     RecordingAction `json:"action"`
	DurationNs int64           `json:"rec_duration_ns"`
	Message    string          `json:"message"`
}

// NetworkDevice is a peer device announced by another phone.
// Port is absent on older firmware.
type NetworkDevice struct {
	IP         string `json:"ip"`
	Port       int    `json:"port,omitempty"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	Connected  bool   `json:"connected"`
}

// Hardware lists the serial numbers of the attached glasses.
type Hardware struct {
	Version           string `json:"version"`
	GlassesSerial     string `json:"glasses_serial"`
	WorldCameraSerial string `json:"world_camera_serial"`
	ModuleSerial      string `json:"module_serial,omitempty"`
}

// Event is a named marker the device stored in the running recording.
// Timestamp is Unix time in nanoseconds.
type Event struct {
	Name        string `json:"name"`
	RecordingID string `json:"recording_id,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}
