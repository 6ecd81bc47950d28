package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload is matched by every decode failure.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrInvalidCommandArgument is matched by every command validation failure.
	// Validation happens before any byte is produced.
	ErrInvalidCommandArgument = errors.New("invalid command argument")
)

// MalformedPayloadError describes a payload that cannot be decoded as Kind
type MalformedPayloadError struct {
	Kind   string // "emg", "imu", "classifier", ...
	Want   int    // expected length in bytes
	Got    int    // actual length in bytes
	Reason string // set when the length matched but a fixed field did not
}

func (e *MalformedPayloadError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("malformed %s payload: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("malformed %s payload: want %d bytes, got %d", e.Kind, e.Want, e.Got)
}

// Is allows errors.Is(err, ErrMalformedPayload)
func (e *MalformedPayloadError) Is(target error) bool {
	return target == ErrMalformedPayload
}

// InvalidArgumentError describes a command field outside its allowed range
type InvalidArgumentError struct {
	Command string
	Field   string
	Value   int
	Reason  string
}

func (e *InvalidArgumentError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid %s argument %s=%d: %s", e.Command, e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s argument %s=%d", e.Command, e.Field, e.Value)
}

// Is allows errors.Is(err, ErrInvalidCommandArgument)
func (e *InvalidArgumentError) Is(target error) bool {
	return target == ErrInvalidCommandArgument
}

func checkLen(kind string, b []byte, want int) error {
	if len(b) != want {
		return &MalformedPayloadError{Kind: kind, Want: want, Got: len(b)}
	}
	return nil
}
