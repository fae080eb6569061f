// Package telemetry exports registry changes to the outside world.
//
// Writer sends phone battery and memory, recording transitions and events
// to InfluxDB. Publisher keeps a retained JSON snapshot of each device on
// pimonitor/state/{host_id} so dashboards can read current state from the
// broker without talking to the API.
//
// Both are registry observers and are wired only when their backend is
// enabled in configuration.
package telemetry
