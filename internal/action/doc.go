// Package action runs operator commands against a device's control API:
// start, stop-and-save and cancel a recording, and send named events.
//
// Every command is one HTTP request bounded by a per-action guard
// (Timeouts). The outcome lands on the device in the registry as a single
// notification; failures also set Device.LastError, which the next
// success clears. Failure text is the device's own message when it sends
// one, otherwise "Network error", or "Network error: request timed out"
// when the guard fired first.
//
// TriggerEvent is the entry point for operator-typed events. It rejects an
// empty name or a device with no running recording before any request is
// made.
package action
