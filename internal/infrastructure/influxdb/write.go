package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementPhone     = "phone"
	MeasurementRecording = "recording"
	MeasurementEvent     = "event"
)

// WritePhoneMetrics records a phone's battery level (percent) and free
// memory (bytes).
func (c *Client) WritePhoneMetrics(hostID string, batteryLevel int, memory int64, at time.Time) {
	c.writePoint(MeasurementPhone,
		map[string]string{"host_id": hostID},
		map[string]interface{}{
			"battery_level": batteryLevel,
			"memory":        memory,
		},
		at,
	)
}

// WriteRecording records a recording lifecycle step and its duration so far.
func (c *Client) WriteRecording(hostID, recordingID, action string, durationNs int64, at time.Time) {
	c.writePoint(MeasurementRecording,
		map[string]string{
			"host_id": hostID,
			"action":  action,
		},
		map[string]interface{}{
			"recording_id": recordingID,
			"duration_ns":  durationNs,
		},
		at,
	)
}

// WriteEvent records a named event at the time the phone assigned to it.
// The event name is a field, not a tag, because operators type it freely.
func (c *Client) WriteEvent(hostID, recordingID, name string, at time.Time) {
	c.writePoint(MeasurementEvent,
		map[string]string{"host_id": hostID},
		map[string]interface{}{
			"recording_id": recordingID,
			"name":         name,
		},
		at,
	)
}

// writePoint queues one point. Points offered after Close are counted as
// dropped.
func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]interface{}, at time.Time) {
	if !c.IsConnected() {
		if c != nil {
			c.dropped.Add(1)
		}
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
	c.written.Add(1)
}
