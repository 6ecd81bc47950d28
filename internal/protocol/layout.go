package protocol

import (
	"fmt"
	"strings"
)

// Handle is an ATT attribute handle on the device
type Handle uint16

// Attribute handles, fixed by the device firmware
const (
	HandleDeviceName Handle = 0x03
	HandleBattery    Handle = 0x11
	HandleFirmware   Handle = 0x17
	HandleCommand    Handle = 0x19
	HandleIMU        Handle = 0x1c
	HandleMotion     Handle = 0x1f
	HandleClassifier Handle = 0x23
	HandleFV         Handle = 0x27
	HandleEMG0       Handle = 0x2b
	HandleEMG1       Handle = 0x2e
	HandleEMG2       Handle = 0x31
	HandleEMG3       Handle = 0x34
)

// CCCD returns the client characteristic configuration handle of a notifying value handle
func (h Handle) CCCD() Handle {
	return h + 1
}

func (h Handle) String() string {
	if c, ok := LookupHandle(h); ok {
		return fmt.Sprintf("%#04x(%s)", uint16(h), c.Name)
	}
	return fmt.Sprintf("%#04x", uint16(h))
}

// MyoUUID expands a 16-bit Myo identifier into the vendor 128-bit UUID
func MyoUUID(short uint16) string {
	return fmt.Sprintf("d506%04x-a904-deb9-4748-2c7f4a124842", short)
}

// Vendor services
var (
	ServiceUUID           = MyoUUID(0x0001) // control service, advertised by the device
	IMUServiceUUID        = MyoUUID(0x0002)
	ClassifierServiceUUID = MyoUUID(0x0003)
	EMGServiceUUID        = MyoUUID(0x0005)
)

// Standard services
const (
	GAPServiceUUID     = "1800"
	BatteryServiceUUID = "180f"
)

// Characteristic is one entry of the device's GATT layout
type Characteristic struct {
	Handle  Handle
	Name    string
	Service string
	UUID    string
	Notify  bool // value handle is followed by a CCCD
}

// Layout lists every characteristic the driver uses, in handle order
var Layout = []Characteristic{
	{Handle: HandleDeviceName, Name: "device_name", Service: GAPServiceUUID, UUID: "2a00"},
	{Handle: HandleBattery, Name: "battery", Service: BatteryServiceUUID, UUID: "2a19"},
	{Handle: HandleFirmware, Name: "firmware", Service: ServiceUUID, UUID: MyoUUID(0x0201)},
	{Handle: HandleCommand, Name: "command", Service: ServiceUUID, UUID: MyoUUID(0x0401)},
	{Handle: HandleIMU, Name: "imu", Service: IMUServiceUUID, UUID: MyoUUID(0x0402), Notify: true},
	{Handle: HandleMotion, Name: "motion", Service: IMUServiceUUID, UUID: MyoUUID(0x0502), Notify: true},
	{Handle: HandleClassifier, Name: "classifier", Service: ClassifierServiceUUID, UUID: MyoUUID(0x0103), Notify: true},
	{Handle: HandleFV, Name: "fv", Service: ServiceUUID, UUID: MyoUUID(0x0104), Notify: true},
	{Handle: HandleEMG0, Name: "emg0", Service: EMGServiceUUID, UUID: MyoUUID(0x0105), Notify: true},
	{Handle: HandleEMG1, Name: "emg1", Service: EMGServiceUUID, UUID: MyoUUID(0x0205), Notify: true},
	{Handle: HandleEMG2, Name: "emg2", Service: EMGServiceUUID, UUID: MyoUUID(0x0305), Notify: true},
	{Handle: HandleEMG3, Name: "emg3", Service: EMGServiceUUID, UUID: MyoUUID(0x0405), Notify: true},
}

// EMGHandles are the four raw EMG characteristics, in subscription order
var EMGHandles = []Handle{HandleEMG0, HandleEMG1, HandleEMG2, HandleEMG3}

// LookupHandle finds the layout entry for a value handle
func LookupHandle(h Handle) (Characteristic, bool) {
	for _, c := range Layout {
		if c.Handle == h {
			return c, true
		}
	}
	return Characteristic{}, false
}

// LookupUUID finds the layout entry for a characteristic UUID.
// Dashes and case are ignored.
func LookupUUID(uuid string) (Characteristic, bool) {
	want := normalizeUUID(uuid)
	for _, c := range Layout {
		if normalizeUUID(c.UUID) == want {
			return c, true
		}
	}
	return Characteristic{}, false
}

func normalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(uuid), "-", ""))
}
