package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // unknown host id
//	}
var (
	// ErrDeviceNotFound is returned when a host id is not in the registry.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidState is returned for a connection state outside the defined set.
	ErrInvalidState = errors.New("device: invalid connection state")

	// ErrInvalidHostID is returned when a host id is empty.
	ErrInvalidHostID = errors.New("device: invalid host id")
)
