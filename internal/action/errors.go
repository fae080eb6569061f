package action

import (
	"errors"
	"fmt"
)

// Op names an operator action.
type Op string

const (
	OpStart       Op = "recording:start"
	OpStopAndSave Op = "recording:stop_and_save"
	OpCancel      Op = "recording:cancel"
	OpEvent       Op = "event"
)

// Sentinel errors for action outcomes.
var (
	ErrTimedOut          = errors.New("action: request timed out")
	ErrEventNameRequired = errors.New("action: event name required")
	ErrNoActiveRecording = errors.New("action: no recording in progress")
)

// Error is a failed action. Message is the text shown to the operator.
type Error struct {
	Op      Op
	HostID  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s on %s: %s: %v", e.Op, e.HostID, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err was rejected before any request was made.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEventNameRequired) || errors.Is(err, ErrNoActiveRecording)
}
