// Package device provides the Device Registry for PI Monitor Core.
//
// The registry is the single in-memory view of every phone the monitor
// knows about. Status sockets, operator actions and discovery all write
// to it concurrently; the API, telemetry and history read from it or
// subscribe to its changes.
//
// # Architecture
//
//	  status socket frames      operator actions        discovery
//	  (supervisor)              (action.Coordinator)    (announcements, bootstrap)
//	        │                          │                        │
//	        ▼                          ▼                        ▼
//	┌──────────────────────────────────────────────────────────────────┐
//	│                         Registry (registry.go)                    │
//	│  • one lock, atomic mutations, deep-copied reads                  │
//	│  • insertion-ordered devices, first device auto-selected          │
//	│  • event list reset on every recording START                      │
//	│  • bounded notification queue per device                          │
//	└──────────────────────────────────────────────────────────────────┘
//	        │ Subscribe(Observer), in commit order (observer.go)
//	        ▼
//	  api.Hub · telemetry · HistoryRecorder → recording_history (SQLite)
//
// # Host identity
//
// Devices are keyed by HostID: the bare IP for phones on DefaultDevicePort,
// "ip:port" otherwise. APIURL derives the control API base from the same
// pair.
//
// # Usage
//
//	registry := device.NewRegistry()
//	registry.SetLogger(log)
//
//	registry.UpsertFromDiscovery("10.0.0.5", device.APIURL("10.0.0.5", 8080))
//	_ = registry.ApplyConnectionState("10.0.0.5", device.StateConnected)
//
//	unsubscribe := registry.Subscribe(func(c device.Change) {
//	    log.Info("device changed", "host_id", c.HostID, "kind", c.Kind)
//	})
//	defer unsubscribe()
package device
