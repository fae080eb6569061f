// Package transport opens the long-lived status sockets that phones push
// telemetry over.
//
// Transport is the seam the supervisor depends on; tests substitute a fake.
// Reconnecting is the production implementation on gorilla/websocket. It
// owns retry, backoff and keepalive so callers only see open, message,
// close and error callbacks.
package transport
