// Package api implements the local HTTP API and WebSocket feed for the
// monitor.
//
// This package provides:
//   - REST endpoints for listing devices, selecting the active one and
//     draining its notifications
//   - recording and event actions routed through the action coordinator
//   - preset event labels (read and edit)
//   - a WebSocket hub that relays every registry change on the
//     "device.changed" channel
//
// # Security
//
// When JWT is enabled every endpoint except /api/v1/health requires a
// bearer token. Viewers may read; operators may also run actions and
// edit presets. Browsers that cannot set headers on a WebSocket upgrade
// may pass the token in the "token" query parameter instead.
//
// # Rate limiting
//
// Actions are rate limited per device. A request over the limit gets 429
// with a Retry-After header.
//
// # Graceful Degradation
//
// The server runs without MQTT or InfluxDB. History endpoints answer 503
// when no history repository is configured.
package api
