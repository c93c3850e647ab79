package serial

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection covers ports that cannot be opened and writes that fail.
	ErrConnection = errors.New("serial connection error")
	// ErrNotOpen is returned by exchanges attempted on a closed session.
	ErrNotOpen = errors.New("serial port not open")
	// ErrNoResponse means the read timed out before any byte arrived.
	ErrNoResponse = errors.New("no response from device")
	// ErrNoStatus means the block status reply was not a 23 field frame.
	ErrNoStatus = errors.New("no status available")
	// ErrRejectedSetpoint is matched by every *SetpointError.
	ErrRejectedSetpoint = errors.New("setpoint rejected")
)

// ParseError reports a response (or status field) that did not convert to a number.
type ParseError struct {
	Command string
	Field   string
	Text    string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: field %s: cannot parse %q: %v", e.Command, e.Field, e.Text, e.Err)
	}
	return fmt.Sprintf("%s: cannot parse %q: %v", e.Command, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SetpointError is returned when a setpoint fails validation. Nothing is sent to the device.
type SetpointError struct {
	Quantity string
	Value    float64
	Max      float64
	Reason   string
}

func (e *SetpointError) Error() string {
	return fmt.Sprintf("%s %g rejected: %s (allowed 0..%g)", e.Quantity, e.Value, e.Reason, e.Max)
}

func (e *SetpointError) Is(target error) bool { return target == ErrRejectedSetpoint }
