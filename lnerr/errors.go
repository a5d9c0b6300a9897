// Package lnerr defines the failure taxonomy for linediff.
//
// Every error surfaced by the codec, the oracle, the device adapters, or the
// CLI maps to exactly one FailureClass, which determines the exit code and
// lets tests check how a run failed, not just that it failed.
package lnerr

import "fmt"

// FailureClass is a stable failure category.
type FailureClass string

const (
	// MalformedProgram names an ILLEGAL terminal state. Interpreters report it
	// as a status, never as a returned error; it exists so reports can name it.
	MalformedProgram FailureClass = "MALFORMED_PROGRAM"
	FieldMismatch    FailureClass = "FIELD_MISMATCH"
	DeviceTimeout    FailureClass = "DEVICE_TIMEOUT"
	CodecError       FailureClass = "CODEC_ERROR"
	ConfigInvalid    FailureClass = "CONFIG_INVALID"
	CLIUsage         FailureClass = "CLI_USAGE"
	DeviceIO         FailureClass = "DEVICE_IO"
	InternalIO       FailureClass = "INTERNAL_IO"
	InternalError    FailureClass = "INTERNAL_ERROR"
)

// ExitCode returns the process exit code for this failure class.
func (fc FailureClass) ExitCode() int {
	switch fc {
	case FieldMismatch, DeviceTimeout, MalformedProgram:
		return 1
	case DeviceIO, InternalIO, InternalError:
		return 10
	default:
		return 2
	}
}

// Error is the structured error type for all linediff failures.
type Error struct {
	Class FailureClass
	// Row is the zero-based output row the failure was observed on, or -1.
	Row int
	// Field names the first disagreeing state field for FieldMismatch.
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	if e.Row >= 0 {
		return fmt.Sprintf("lnerr: %s at row %d: %s", e.Class, e.Row, msg)
	}
	return fmt.Sprintf("lnerr: %s: %s", e.Class, msg)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given class and message.
func New(class FailureClass, row int, message string) *Error {
	return &Error{Class: class, Row: row, Message: message}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(class FailureClass, row int, message string, cause error) *Error {
	return &Error{Class: class, Row: row, Message: message, Cause: cause}
}

// Mismatch reports the first field on which the device disagreed with the
// reference interpreter.
func Mismatch(field string, row int, want, got uint32) *Error {
	return &Error{
		Class:   FieldMismatch,
		Row:     row,
		Field:   field,
		Message: fmt.Sprintf("0x%x (dut) != 0x%x (ref)", got, want),
	}
}
