package register

import (
	"errors"
	"fmt"
)

// Sentinel errors covering the failure kinds a caller needs to
// distinguish. They are not meant to be exhaustive types, only stable
// comparison points for errors.Is.
var (
	// ErrNoResponse means a request timed out waiting for a tagged
	// reply (TransportFailure).
	ErrNoResponse = errors.New("register: no response")
	// ErrRequestFailed means a response arrived with a non-OK status
	// (ProtocolFailure). Prefer errors.As(err, *StatusError) to recover
	// the status byte.
	ErrRequestFailed = errors.New("register: request failed on registry")
	// ErrInvalidMessage means a response was malformed: a variable-int
	// ran past the buffer, or the payload was shorter than expected
	// (ProtocolFailure).
	ErrInvalidMessage = errors.New("register: invalid message")
	// ErrWriteOnReadOnly is raised by Register.SetValue for a read-only
	// register.
	ErrWriteOnReadOnly = errors.New("register: write on read-only register")
	// ErrInvalidArgument marks a synchronous construction/set-site
	// failure: a register id out of range, a non-positive interval, a
	// nil codec or collection.
	ErrInvalidArgument = errors.New("register: invalid argument")
	// ErrCodecInvalid means a codec rejected a value as not
	// representable (DecodeRejection); Register treats it identically
	// to a read failure.
	ErrCodecInvalid = errors.New("register: codec rejected value")
	// ErrNotConvertible means a codec could not encode a local value to
	// its wire representation.
	ErrNotConvertible = errors.New("register: value not convertible")
	// ErrGatewayNotRunning means a request was attempted while the
	// Gateway's messenger was not started.
	ErrGatewayNotRunning = errors.New("register: gateway not running")
)

// Status is a response's status byte.
type Status byte

const (
	StatusFailed     Status = 0x00
	StatusOK         Status = 0x01
	StatusUnwritable Status = 0x02
)

// StatusError reports a non-OK response status from a registry. It
// unwraps to ErrRequestFailed so callers can use errors.Is against
// the sentinel without caring about the exact status byte.
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	switch e.Status {
	case StatusFailed:
		return "register: request failed on registry"
	case StatusUnwritable:
		return "register: unwritable register"
	default:
		return fmt.Sprintf("register: unexpected response status %#x", byte(e.Status))
	}
}

func (e *StatusError) Unwrap() error { return ErrRequestFailed }

func statusError(res []byte) error {
	if len(res) == 0 {
		return ErrNoResponse
	}
	return &StatusError{Status: Status(res[0])}
}
