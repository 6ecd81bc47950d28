package main

import (
	"errors"

	"github.com/srg/myoctl/internal/session"
	"github.com/srg/myoctl/internal/transport/goble"
)

// FormatUserError turns known failures into a message a user can act on
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, goble.ErrBluetoothOff):
		return "Bluetooth is turned off - please enable Bluetooth and retry"
	case errors.Is(err, goble.ErrUnsupported):
		return "Bluetooth is not supported on this platform"
	case errors.Is(err, session.ErrDeviceNotFound):
		return "no Myo armband found - make sure it is awake and not connected to another host (" + err.Error() + ")"
	case errors.Is(err, session.ErrLinkLost):
		return "connection to the armband was lost: " + err.Error()
	default:
		return err.Error()
	}
}
