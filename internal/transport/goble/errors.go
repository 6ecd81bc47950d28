package goble

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrNotConnected = errors.New("device not connected")
	ErrUnsupported  = errors.New("bluetooth is not supported on this platform")
	ErrLinkClosed   = errors.New("link closed")
)

// MissingCharacteristicError reports a layout characteristic the connected device does not expose
type MissingCharacteristicError struct {
	Names []string
}

func (e *MissingCharacteristicError) Error() string {
	return fmt.Sprintf("device is missing characteristics: %s", strings.Join(e.Names, ", "))
}

// NormalizeError maps known go-ble error strings to the package sentinels,
// wrapping the original error to keep its context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "have=4"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	default:
		return err
	}
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
