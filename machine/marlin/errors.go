package marlin

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned for commands abandoned because the engine was closed.
	ErrClosed = errors.New("marlin: engine closed")

	// ErrResponseTimeout is returned for a sent command that was never acknowledged.
	ErrResponseTimeout = errors.New("marlin: response timeout")
)

// ValidationError is returned when a command or parameter is rejected before
// anything is queued.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "marlin: invalid command: " + e.Reason
}

func invalid(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// DeviceError reports an acknowledgement other than "ok".
type DeviceError struct {
	Description string
	Command     string
	Response    string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("marlin: %s (%s) failed: %q", e.Description, e.Command, e.Response)
}
