package device

import (
	"github.com/pimonitor/pimonitor-core/internal/piapi"
)

// DemoHostID is the address of the synthetic demo device.
const DemoHostID = "192.168.1.1"

// SeedDemoDevice inserts an always-online synthetic device with a running
// recording, so the API has something to show without hardware. Returns
// false if a device with DemoHostID already exists.
func (r *Registry) SeedDemoDevice() bool {
	r.mu.Lock()
	if _, ok := r.devices[DemoHostID]; ok {
		r.mu.Unlock()
		return false
	}

	r.insertLocked(&Device{
		HostID:  DemoHostID,
		APIURL:  APIURL(DemoHostID, DefaultDevicePort),
		State:   StateDisconnected,
		Online:  true,
		IsDummy: true,
		Phone: &piapi.Phone{
			IP:           DemoHostID,
			Port:         DefaultDevicePort,
			DeviceID:     "dummy",
			DeviceName:   "Dummy Device",
			BatteryLevel: 60,
			BatteryState: piapi.ResourceOK,
			Memory:       1 << 30,
			MemoryState:  piapi.ResourceOK,
		},
		CurrentRecording: &Recording{
			ID:      "dummy-recording",
			Action:  piapi.RecordingStart,
			Message: "Demo recording",
			Events: []Event{
				{Name: "Dummy Event 1", Timestamp: 1_600_000_000_000_000_000},
				{Name: "Dummy Event 2", Timestamp: 1_600_000_005_000_000_000},
			},
		},
	})
	r.mu.Unlock()
	r.flush()

	r.logger.Info("demo device seeded", "host_id", DemoHostID)
	return true
}
