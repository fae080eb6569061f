package device

import (
	"time"

	"github.com/pimonitor/pimonitor-core/internal/piapi"
)

// ConnectionState is the lifecycle of a device's status socket.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateUnknown      ConnectionState = "unknown"
)

// Valid reports whether s is one of the defined connection states.
func (s ConnectionState) Valid() bool {
	switch s {
	case StateDisconnected, StateConnecting, StateConnected, StateUnknown:
		return true
	}
	return false
}

// Severity grades a user-facing notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is a named marker inside a recording. Timestamp is Unix nanoseconds
// as assigned by the phone.
type Event struct {
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
}

// Time converts the event timestamp to a time.Time.
func (e Event) Time() time.Time {
	return time.Unix(0, e.Timestamp)
}

// Recording is the device's current capture session plus the events
// appended to it during this process's lifetime.
type Recording struct {
	ID         string                `json:"id"`
	Action     piapi.RecordingAction `json:"action"`
	DurationNs int64                 `json:"rec_duration_ns"`
	Message    string                `json:"message"`
	Events     []Event               `json:"events"`
}

// Active reports whether the recording is running and accepts events.
func (r *Recording) Active() bool {
	return r != nil && r.Action == piapi.RecordingStart
}

// Notification is a transient message for whoever displays the device.
type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	CreatedAt time.Time `json:"created_at"`
}

// Device is everything known about one phone.
//
// Online follows State unless IsDummy is set. At most one device in a
// registry has ShowPlayer set.
type Device struct {
	HostID string          `json:"host_id"`
	APIURL string          `json:"api_url"`
	State  ConnectionState `json:"state"`
	Online bool            `json:"online"`

	IsDummy    bool `json:"is_dummy,omitempty"`
	ShowPlayer bool `json:"show_player"`

	Phone    *piapi.Phone    `json:"phone,omitempty"`
	Hardware *piapi.Hardware `json:"hardware,omitempty"`

	// Sensors holds one entry per Sensor.Key(), in first-seen order.
	Sensors     []piapi.Sensor `json:"sensors"`
	WorldSensor *piapi.Sensor  `json:"world_sensor,omitempty"`
	GazeSensor  *piapi.Sensor  `json:"gaze_sensor,omitempty"`

	CurrentRecording *Recording `json:"current_recording,omitempty"`

	Notifications []Notification `json:"notifications"`

	// LastError is the message of the most recent failed action, cleared
	// by the next successful one.
	LastError string `json:"last_error,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Sensor returns the sensor stored under key, if any.
func (d *Device) Sensor(key string) (piapi.Sensor, bool) {
	for _, s := range d.Sensors {
		if s.Key() == key {
			return s, true
		}
	}
	return piapi.Sensor{}, false
}

// DeepCopy returns a copy that shares no memory with d.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d

	if d.Phone != nil {
		p := *d.Phone
		cpy.Phone = &p
	}
	if d.Hardware != nil {
		h := *d.Hardware
		cpy.Hardware = &h
	}
	if d.Sensors != nil {
		cpy.Sensors = make([]piapi.Sensor, len(d.Sensors))
		copy(cpy.Sensors, d.Sensors)
	}
	if d.WorldSensor != nil {
		s := *d.WorldSensor
		cpy.WorldSensor = &s
	}
	if d.GazeSensor != nil {
		s := *d.GazeSensor
		cpy.GazeSensor = &s
	}
	if d.CurrentRecording != nil {
		rec := *d.CurrentRecording
		if d.CurrentRecording.Events != nil {
			rec.Events = make([]Event, len(d.CurrentRecording.Events))
			copy(rec.Events, d.CurrentRecording.Events)
		}
		cpy.CurrentRecording = &rec
	}
	if d.Notifications != nil {
		cpy.Notifications = make([]Notification, len(d.Notifications))
		copy(cpy.Notifications, d.Notifications)
	}

	return &cpy
}
