// Package mqtt connects the monitor to an MQTT broker.
//
// The broker is optional. When enabled it carries:
//   - the shared preset list, so several monitor instances on one site
//     see the same quick-event labels
//   - a retained JSON snapshot of every device for dashboards
//   - each instance's online/offline status, with a Last Will so a crash
//     is reported too
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishRetained(mqtt.Topics{}.DeviceState(hostID), payload)
package mqtt
