// Package influxdb stores device telemetry in InfluxDB.
//
// Three measurements are written, all tagged with host_id:
//   - phone: battery_level and memory from each Phone snapshot
//   - recording: duration_ns per lifecycle step, tagged with the action
//   - event: each named event appended to a recording
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WritePhoneMetrics("10.0.0.5", 80, 2<<30, time.Now())
//
// Writes are batched according to batch_size and flush_interval and
// never block the caller. Failed batches are reported to the SetOnError
// callback.
package influxdb
