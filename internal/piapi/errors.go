package piapi

import (
	"errors"
	"fmt"
)

// Decoding errors.
var (
	ErrMalformedFrame = errors.New("piapi: malformed status frame")
	ErrMissingData    = errors.New("piapi: status frame has no data")
	ErrUnknownModel   = errors.New("piapi: unknown status model")
)

// ErrInvalidURL is returned when a device API URL cannot be parsed.
var ErrInvalidURL = errors.New("piapi: invalid device url")

// APIError is a non-2xx reply from the device control API.
// Message is the server's "message" field and may be empty.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("piapi: device returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("piapi: device returned status %d: %s", e.StatusCode, e.Message)
}
