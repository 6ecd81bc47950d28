package session

import (
	"fmt"
)

// ErrorKind is the session-level failure category
type ErrorKind string

const (
	DeviceNotFound   ErrorKind = "device_not_found"
	ConnectionFailed ErrorKind = "connection_failed"
	LinkLost         ErrorKind = "link_lost"
	InvalidState     ErrorKind = "invalid_state"
)

// Error is a session-level failure. The underlying transport error, if any,
// is available through errors.Unwrap.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is
var (
	ErrDeviceNotFound   = &Error{Kind: DeviceNotFound}
	ErrConnectionFailed = &Error{Kind: ConnectionFailed}
	ErrLinkLost         = &Error{Kind: LinkLost}
	ErrInvalidState     = &Error{Kind: InvalidState}
)

func invalidState(op string, st State) error {
	return &Error{Kind: InvalidState, Msg: fmt.Sprintf("%s not allowed while %s", op, st)}
}
