package vdec

import (
	"errors"
	"fmt"
)

// Status is the coarse result class reported at the public API boundary.
type Status int

// Status values.
const (
	StatusSuccess Status = iota
	StatusInvalidParameter
	StatusUnsupportedCodec
	StatusRuntimeError
	StatusNotImplemented
)

// String returns the human-readable string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalidParameter:
		return "INVALID_PARAMETER"
	case StatusUnsupportedCodec:
		return "UNSUPPORTED_CODEC"
	case StatusRuntimeError:
		return "RUNTIME_ERROR"
	case StatusNotImplemented:
		return "NOT_IMPLEMENTED"
	}
	return "UNKNOWN"
}

// StatusError is a sentinel error carrying a Status.
type StatusError struct {
	Status Status
	msg    string
}

// Error returns the error message for StatusError.
func (e *StatusError) Error() string {
	return e.msg
}

// Sentinel errors of the status taxonomy. Wrap them with fmt.Errorf("%w") to add context.
var (
	ErrInvalidParameter = &StatusError{Status: StatusInvalidParameter, msg: "invalid parameter"}
	ErrUnsupportedCodec = &StatusError{Status: StatusUnsupportedCodec, msg: "unsupported codec"}
	ErrRuntime          = &StatusError{Status: StatusRuntimeError, msg: "runtime error"}
	ErrNotImplemented   = &StatusError{Status: StatusNotImplemented, msg: "not implemented"}
)

// ErrCapacity is returned when no decode buffer can be found. It is fatal for the session.
var ErrCapacity = fmt.Errorf("%w: decode buffer pool exhausted", ErrRuntime)

// ParseError reports a bitstream that violates the codec syntax. The offending picture is dropped
// and decoding continues with the next access unit.
type ParseError struct {
	Msg string
}

// NewParseError formats a ParseError.
func NewParseError(format string, args ...any) *ParseError {
	return &ParseError{Msg: fmt.Sprintf(format, args...)}
}

// Error returns the error message for ParseError.
func (e *ParseError) Error() string {
	return "parse error: " + e.Msg
}

// Unwrap classifies parse errors as runtime errors.
func (e *ParseError) Unwrap() error {
	return ErrRuntime
}

// IsParseError reports whether err is or wraps a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// StatusOf maps err onto the status taxonomy. Errors outside of it are runtime errors.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return StatusRuntimeError
}
