package device

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pimonitor/pimonitor-core/internal/piapi"
)

// DefaultMaxNotifications bounds each device's pending notification queue.
// The oldest entries are dropped first.
const DefaultMaxNotifications = 100

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the in-memory view of every known device.
//
// Every mutation happens under one lock and is visible to readers only
// once complete. Reads return deep copies; callers can safely modify them.
// Devices are never removed.
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device
	order   []string // host ids in insertion order

	// everPopulated is set by the first insertion and never cleared.
	everPopulated bool

	observers      []observerEntry
	nextObserverID int
	pending        []Change
	draining       bool

	maxNotifications int
	logger           Logger
	now              func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices:          make(map[string]*Device),
		maxNotifications: DefaultMaxNotifications,
		logger:           noopLogger{},
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetMaxNotifications changes the per-device notification cap.
func (r *Registry) SetMaxNotifications(n int) {
	if n < 1 {
		n = 1
	}
	r.mu.Lock()
	r.maxNotifications = n
	r.mu.Unlock()
}

// insertLocked adds a new device. The first device ever inserted becomes
// the shown device. Caller holds r.mu.
func (r *Registry) insertLocked(d *Device) {
	if !r.everPopulated {
		d.ShowPlayer = true
		r.everPopulated = true
	}
	d.UpdatedAt = r.now()
	r.devices[d.HostID] = d
	r.order = append(r.order, d.HostID)
	r.emitLocked(ChangeAdded, d)
}

// UpsertFromDiscovery adds a device first seen through a peer announcement
// or a configured host. It starts disconnected and offline. Returns false
// without changing anything if the device already exists.
func (r *Registry) UpsertFromDiscovery(hostID, apiURL string) bool {
	if hostID == "" {
		return false
	}

	r.mu.Lock()
	if _, ok := r.devices[hostID]; ok {
		r.mu.Unlock()
		return false
	}
	r.insertLocked(&Device{
		HostID: hostID,
		APIURL: apiURL,
		State:  StateDisconnected,
	})
	r.mu.Unlock()
	r.flush()

	r.logger.Info("device discovered", "host_id", hostID, "api_url", apiURL)
	return true
}

// ApplyPhoneSnapshot stores a phone status, replacing the previous one.
// The device is keyed by the phone's own address and created if absent;
// a device first known through telemetry starts online but disconnected.
func (r *Registry) ApplyPhoneSnapshot(phone piapi.Phone) (hostID string) {
	hostID = HostID(phone.IP, phone.Port)
	if hostID == "" {
		return ""
	}
	p := phone

	r.mu.Lock()
	d, ok := r.devices[hostID]
	if !ok {
		d = &Device{
			HostID: hostID,
			APIURL: APIURL(phone.IP, phone.Port),
			State:  StateDisconnected,
			Online: true,
			Phone:  &p,
		}
		r.insertLocked(d)
	} else {
		d.Phone = &p
		d.UpdatedAt = r.now()
		r.emitLocked(ChangePhone, d)
	}
	r.mu.Unlock()
	r.flush()

	return hostID
}

// ApplyConnectionState records a status socket transition. Online is
// recomputed from the new state except on the demo device.
func (r *Registry) ApplyConnectionState(hostID string, state ConnectionState) error {
	if !state.Valid() {
		return ErrInvalidState
	}

	err := r.update(hostID, ChangeConnection, func(d *Device) {
		d.State = state
		if !d.IsDummy {
			d.Online = state == StateConnected
		}
	})
	if err == nil {
		r.logger.Debug("device connection state", "host_id", hostID, "state", state)
	}
	return err
}

// ApplySensorSnapshot merges a sensor into the device's sensor set, keyed
// by kind and connection type. An existing key is replaced where it
// stands. Streaming (websocket) sensors also become the device's current
// world or gaze stream.
func (r *Registry) ApplySensorSnapshot(hostID string, sensor piapi.Sensor) error {
	return r.update(hostID, ChangeSensor, func(d *Device) {
		key := sensor.Key()
		replaced := false
		for i := range d.Sensors {
			if d.Sensors[i].Key() == key {
				d.Sensors[i] = sensor
				replaced = true
				break
			}
		}
		if !replaced {
			d.Sensors = append(d.Sensors, sensor)
		}

		if sensor.ConnType == piapi.ConnWebSocket {
			s := sensor
			switch sensor.Sensor {
			case piapi.SensorWorld:
				d.WorldSensor = &s
			case piapi.SensorGaze:
				d.GazeSensor = &s
			}
		}
	})
}

// ApplyRecordingSnapshot stores a recording update. A START resets the
// event list; any other action carries the previous events forward.
func (r *Registry) ApplyRecordingSnapshot(hostID string, rec piapi.Recording) error {
	return r.update(hostID, ChangeRecording, func(d *Device) {
		var events []Event
		if rec.Action != piapi.RecordingStart && d.CurrentRecording != nil {
			events = d.CurrentRecording.Events
		}
		if events == nil {
			events = []Event{}
		}
		d.CurrentRecording = &Recording{
			ID:         rec.ID,
			Action:     rec.Action,
			DurationNs: rec.DurationNs,
			Message:    rec.Message,
			Events:     events,
		}
	})
}

// ApplyHardwareSnapshot stores the latest hardware description.
func (r *Registry) ApplyHardwareSnapshot(hostID string, hw piapi.Hardware) error {
	return r.update(hostID, ChangeHardware, func(d *Device) {
		h := hw
		d.Hardware = &h
	})
}

// AppendEvent adds an event to the device's running recording. Returns
// false, and changes nothing, if no recording is running.
func (r *Registry) AppendEvent(hostID, name string, timestampNs int64) (bool, error) {
	r.mu.Lock()
	d, ok := r.devices[hostID]
	if !ok {
		r.mu.Unlock()
		return false, ErrDeviceNotFound
	}
	if !d.CurrentRecording.Active() {
		r.mu.Unlock()
		return false, nil
	}

	ev := Event{Name: name, Timestamp: timestampNs}
	d.CurrentRecording.Events = append(d.CurrentRecording.Events, ev)
	d.UpdatedAt = r.now()
	r.pending = append(r.pending, Change{
		Kind:   ChangeEvent,
		HostID: hostID,
		Device: d.DeepCopy(),
		Event:  &ev,
	})
	r.mu.Unlock()
	r.flush()

	return true, nil
}

// PushNotification queues a message for the device. When the queue is
// full the oldest entry is dropped.
func (r *Registry) PushNotification(hostID, message string, severity Severity) error {
	return r.update(hostID, ChangeNotification, func(d *Device) {
		d.Notifications = append(d.Notifications, Notification{
			ID:        uuid.NewString(),
			Message:   message,
			Severity:  severity,
			CreatedAt: r.now(),
		})
		if over := len(d.Notifications) - r.maxNotifications; over > 0 {
			d.Notifications = append([]Notification(nil), d.Notifications[over:]...)
		}
	})
}

// DrainNotifications removes and returns the device's queued notifications
// in the order they were pushed. Emptying a non-empty queue is reported to
// observers as a ChangeNotification.
func (r *Registry) DrainNotifications(hostID string) ([]Notification, error) {
	r.mu.Lock()
	d, ok := r.devices[hostID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrDeviceNotFound
	}
	out := d.Notifications
	d.Notifications = nil
	if len(out) > 0 {
		d.UpdatedAt = r.now()
		r.emitLocked(ChangeNotification, d)
	}
	r.mu.Unlock()
	r.flush()

	if out == nil {
		out = []Notification{}
	}
	return out, nil
}

// SetActiveDevice marks hostID as the shown device and clears the flag on
// every other device. An unknown id changes nothing and returns false.
func (r *Registry) SetActiveDevice(hostID string) bool {
	r.mu.Lock()
	if _, ok := r.devices[hostID]; !ok {
		r.mu.Unlock()
		return false
	}
	for _, id := range r.order {
		d := r.devices[id]
		show := id == hostID
		if d.ShowPlayer != show {
			d.ShowPlayer = show
			d.UpdatedAt = r.now()
			r.emitLocked(ChangeActive, d)
		}
	}
	r.mu.Unlock()
	r.flush()
	return true
}

// SetLastError records the latest action failure. An empty message
// clears it.
func (r *Registry) SetLastError(hostID, message string) error {
	return r.update(hostID, ChangeError, func(d *Device) {
		d.LastError = message
	})
}

// GetDevice returns a copy of the device.
func (r *Registry) GetDevice(hostID string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[hostID]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

// ListDevices returns copies of all devices in insertion order.
func (r *Registry) ListDevices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.devices[id].DeepCopy())
	}
	return out
}

// ActiveDevice returns the shown device, if any.
func (r *Registry) ActiveDevice() (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		if d := r.devices[id]; d.ShowPlayer {
			return d.DeepCopy(), true
		}
	}
	return nil, false
}

// DeviceCount returns the number of known devices.
func (r *Registry) DeviceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Stats summarises the registry for health reporting.
type Stats struct {
	TotalDevices int                     `json:"total_devices"`
	Online       int                     `json:"online"`
	Recording    int                     `json:"recording"`
	ByState      map[ConnectionState]int `json:"by_state"`
	ActiveHostID string                  `json:"active_host_id,omitempty"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.devices),
		ByState:      make(map[ConnectionState]int),
	}
	for _, d := range r.devices {
		stats.ByState[d.State]++
		if d.Online {
			stats.Online++
		}
		if d.CurrentRecording.Active() {
			stats.Recording++
		}
		if d.ShowPlayer {
			stats.ActiveHostID = d.HostID
		}
	}
	return stats
}

// update applies fn to the device under the lock and emits one change.
func (r *Registry) update(hostID string, kind ChangeKind, fn func(*Device)) error {
	r.mu.Lock()
	d, ok := r.devices[hostID]
	if !ok {
		r.mu.Unlock()
		return ErrDeviceNotFound
	}
	fn(d)
	d.UpdatedAt = r.now()
	r.emitLocked(kind, d)
	r.mu.Unlock()
	r.flush()
	return nil
}
