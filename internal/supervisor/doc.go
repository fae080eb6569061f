// Package supervisor keeps one status socket open per device and feeds
// what arrives on it into the device registry.
//
// A Supervisor maps socket lifecycle onto connection states:
//
//	Start        → connecting
//	socket open  → connected
//	socket close → disconnected (unless Stop caused it)
//
// Frames are decoded into piapi.Status values and dispatched by visitor, so
// a new status model cannot be added without a handler here. Frames that
// fail to decode are logged and dropped without touching the registry.
//
// Manager starts at most one supervisor per device and stops them all on
// shutdown. Retry and backoff live in the transport, not here.
package supervisor
