// Package piapi speaks the companion phone's local API.
//
// A phone exposes a small HTTP control surface under /api and a
// websocket at /api/status that streams {model, data} frames. This package
// owns the wire types for both, the sealed Status union those frames
// decode into, and a Client for the control endpoints:
//
//	POST /recording:start
//	POST /recording:stop_and_save
//	POST /recording:cancel
//	POST /event            {"name": "..."}
//	GET  /status           {"result": [{model, data}, ...]}
//
// Replies are wrapped as {"result": T}. Failures carry a "message" field
// which is surfaced as APIError.Message.
package piapi
