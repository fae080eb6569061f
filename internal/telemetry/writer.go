package telemetry

import (
	"time"

	"github.com/pimonitor/pimonitor-core/internal/device"
)

// PointWriter is the subset of the InfluxDB client the Writer uses.
type PointWriter interface {
	WritePhoneMetrics(hostID string, batteryLevel int, memory int64, at time.Time)
	WriteRecording(hostID, recordingID, action string, durationNs int64, at time.Time)
	WriteEvent(hostID, recordingID, name string, at time.Time)
}

// Logger defines the logging interface used by telemetry.
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

// Writer is a registry observer that turns phone, recording and event
// changes into time-series points. The demo device is not recorded.
type Writer struct {
	points PointWriter
	now    func() time.Time
}

// NewWriter creates a Writer on points.
func NewWriter(points PointWriter) *Writer {
	return &Writer{points: points, now: time.Now}
}

// Observe is a registry Observer.
func (w *Writer) Observe(c device.Change) {
	d := c.Device
	if d == nil || d.IsDummy {
		return
	}

	switch c.Kind {
	case device.ChangeAdded, device.ChangePhone:
		if d.Phone != nil {
			w.points.WritePhoneMetrics(c.HostID, d.Phone.BatteryLevel, d.Phone.Memory, w.now())
		}
	case device.ChangeRecording:
		if rec := d.CurrentRecording; rec != nil {
			w.points.WriteRecording(c.HostID, rec.ID, string(rec.Action), rec.DurationNs, w.now())
		}
	case device.ChangeEvent:
		if c.Event == nil {
			return
		}
		var recordingID string
		if d.CurrentRecording != nil {
			recordingID = d.CurrentRecording.ID
		}
		at := c.Event.Time()
		if c.Event.Timestamp == 0 {
			at = w.now()
		}
		w.points.WriteEvent(c.HostID, recordingID, c.Event.Name, at)
	}
}
