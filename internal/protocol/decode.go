package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Fixed payload sizes of the streamed characteristics
const (
	EMGPayloadSize        = 16
	FVPayloadSize         = 17
	IMUPayloadSize        = 20
	ClassifierPayloadSize = 6
	MotionPayloadSize     = 3
	FirmwarePayloadSize   = 8
	BatteryPayloadSize    = 1
)

// EMGChannels is the number of electrodes on the armband
const EMGChannels = 8

// IMU fixed-point scales
const (
	OrientationScale   = 16384.0
	AccelerometerScale = 2048.0 // g
	GyroscopeScale     = 16.0   // deg/s
)

// RawNotification is a notification as delivered by the transport
type RawNotification struct {
	Handle  Handle
	Payload []byte
	At      time.Time
}

// EMGFrame is one sample of all eight electrodes
type EMGFrame [EMGChannels]int8

// DecodeEMG splits a 16-byte EMG notification into the two samples it carries
func DecodeEMG(b []byte) ([2]EMGFrame, error) {
	var frames [2]EMGFrame
	if err := checkLen("emg", b, EMGPayloadSize); err != nil {
		return frames, err
	}
	for i := 0; i < EMGChannels; i++ {
		frames[0][i] = int8(b[i])
		frames[1][i] = int8(b[EMGChannels+i])
	}
	return frames, nil
}

// FVFrame is one filtered EMG sample (per-channel magnitude) plus its mask byte
type FVFrame struct {
	Values [EMGChannels]uint16 `json:"fv"`
	Mask   uint8               `json:"mask"`
}

// DecodeFV decodes a filtered EMG notification
func DecodeFV(b []byte) (FVFrame, error) {
	var f FVFrame
	if err := checkLen("fv", b, FVPayloadSize); err != nil {
		return f, err
	}
	for i := 0; i < EMGChannels; i++ {
		f.Values[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	f.Mask = b[16]
	return f, nil
}

// IMUFrame holds the raw fixed-point IMU values
type IMUFrame struct {
	Orientation   [4]int16 `json:"orientation"` // w, x, y, z
	Accelerometer [3]int16 `json:"accelerometer"`
	Gyroscope     [3]int16 `json:"gyroscope"`
}

// DecodeIMU decodes a 20-byte IMU notification
func DecodeIMU(b []byte) (IMUFrame, error) {
	var f IMUFrame
	if err := checkLen("imu", b, IMUPayloadSize); err != nil {
		return f, err
	}
	word := func(i int) int16 { return int16(binary.LittleEndian.Uint16(b[2*i:])) }
	for i := 0; i < 4; i++ {
		f.Orientation[i] = word(i)
	}
	for i := 0; i < 3; i++ {
		f.Accelerometer[i] = word(4 + i)
		f.Gyroscope[i] = word(7 + i)
	}
	return f, nil
}

// Quaternion returns the scaled orientation
func (f IMUFrame) Quaternion() Quaternion {
	return Quaternion{
		W: float64(f.Orientation[0]) / OrientationScale,
		X: float64(f.Orientation[1]) / OrientationScale,
		Y: float64(f.Orientation[2]) / OrientationScale,
		Z: float64(f.Orientation[3]) / OrientationScale,
	}
}

// Acceleration returns the accelerometer reading in g
func (f IMUFrame) Acceleration() [3]float64 {
	return [3]float64{
		float64(f.Accelerometer[0]) / AccelerometerScale,
		float64(f.Accelerometer[1]) / AccelerometerScale,
		float64(f.Accelerometer[2]) / AccelerometerScale,
	}
}

// AngularVelocity returns the gyroscope reading in deg/s
func (f IMUFrame) AngularVelocity() [3]float64 {
	return [3]float64{
		float64(f.Gyroscope[0]) / GyroscopeScale,
		float64(f.Gyroscope[1]) / GyroscopeScale,
		float64(f.Gyroscope[2]) / GyroscopeScale,
	}
}

// ClassifierEvent is a decoded classifier notification.
// Only the fields relevant to Kind are populated.
type ClassifierEvent struct {
	Kind       ClassifierEventKind
	Arm        Arm
	XDirection XDirection
	Pose       Pose
	SyncResult SyncResult
	Warmup     WarmupResult
}

// MarshalJSON emits only the fields relevant to the event kind, with names instead of raw values
func (e ClassifierEvent) MarshalJSON() ([]byte, error) {
	m := map[string]string{"kind": e.Kind.String()}
	switch e.Kind {
	case EventArmSynced:
		m["arm"] = e.Arm.String()
		m["x_direction"] = e.XDirection.String()
	case EventPose:
		m["pose"] = e.Pose.String()
	case EventSyncFailed:
		m["sync_result"] = e.SyncResult.String()
	case EventWarmup:
		m["warmup"] = e.Warmup.String()
	}
	return json.Marshal(m)
}

func (e ClassifierEvent) String() string {
	switch e.Kind {
	case EventArmSynced:
		return fmt.Sprintf("%s(arm=%s, x=%s)", e.Kind, e.Arm, e.XDirection)
	case EventPose:
		return fmt.Sprintf("%s(%s)", e.Kind, e.Pose)
	case EventSyncFailed:
		return fmt.Sprintf("%s(%s)", e.Kind, e.SyncResult)
	case EventWarmup:
		return fmt.Sprintf("%s(%s)", e.Kind, e.Warmup)
	default:
		return e.Kind.String()
	}
}

// Convenience constructors, mostly used by tests and simulations.

func SyncEvent(arm Arm, x XDirection) ClassifierEvent {
	return ClassifierEvent{Kind: EventArmSynced, Arm: arm, XDirection: x}
}

func UnsyncEvent() ClassifierEvent { return ClassifierEvent{Kind: EventArmUnsynced} }

func PoseEvent(p Pose) ClassifierEvent { return ClassifierEvent{Kind: EventPose, Pose: p} }

func SyncFailedEvent(r SyncResult) ClassifierEvent {
	return ClassifierEvent{Kind: EventSyncFailed, SyncResult: r}
}

func WarmupEvent(r WarmupResult) ClassifierEvent {
	return ClassifierEvent{Kind: EventWarmup, Warmup: r}
}

// DecodeClassifier decodes a 6-byte classifier event.
// Unknown event kinds and values are kept as raw values.
func DecodeClassifier(b []byte) (ClassifierEvent, error) {
	if err := checkLen("classifier", b, ClassifierPayloadSize); err != nil {
		return ClassifierEvent{}, err
	}
	ev := ClassifierEvent{Kind: ClassifierEventKind(b[0])}
	switch ev.Kind {
	case EventArmSynced:
		ev.Arm = Arm(b[1])
		ev.XDirection = XDirection(b[2])
	case EventPose:
		ev.Pose = Pose(binary.LittleEndian.Uint16(b[1:3]))
	case EventSyncFailed:
		ev.SyncResult = SyncResult(b[1])
	case EventWarmup:
		ev.Warmup = WarmupResult(b[1])
	}
	return ev, nil
}

// EncodeClassifier is the inverse of DecodeClassifier, used to simulate a device
func EncodeClassifier(ev ClassifierEvent) []byte {
	b := make([]byte, ClassifierPayloadSize)
	b[0] = byte(ev.Kind)
	switch ev.Kind {
	case EventArmSynced:
		b[1] = byte(ev.Arm)
		b[2] = byte(ev.XDirection)
	case EventPose:
		binary.LittleEndian.PutUint16(b[1:3], uint16(ev.Pose))
	case EventSyncFailed:
		b[1] = byte(ev.SyncResult)
	case EventWarmup:
		b[1] = byte(ev.Warmup)
	}
	return b
}

// MotionEvent is a decoded motion notification
type MotionEvent struct {
	Kind         MotionEventKind `json:"kind"`
	TapDirection uint8           `json:"tap_direction"`
	TapCount     uint8           `json:"tap_count"`
}

// DecodeMotion decodes a 3-byte motion event
func DecodeMotion(b []byte) (MotionEvent, error) {
	if err := checkLen("motion", b, MotionPayloadSize); err != nil {
		return MotionEvent{}, err
	}
	return MotionEvent{Kind: MotionEventKind(b[0]), TapDirection: b[1], TapCount: b[2]}, nil
}

// FirmwareVersion is the value of the firmware characteristic
type FirmwareVersion struct {
	Major            uint16 `json:"major"`
	Minor            uint16 `json:"minor"`
	Patch            uint16 `json:"patch"`
	HardwareRevision uint16 `json:"hardware_revision"`
}

func (v FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d.%d (hw rev %d)", v.Major, v.Minor, v.Patch, v.HardwareRevision)
}

// DecodeFirmware decodes the four 16-bit firmware version fields
func DecodeFirmware(b []byte) (FirmwareVersion, error) {
	if err := checkLen("firmware", b, FirmwarePayloadSize); err != nil {
		return FirmwareVersion{}, err
	}
	return FirmwareVersion{
		Major:            binary.LittleEndian.Uint16(b[0:]),
		Minor:            binary.LittleEndian.Uint16(b[2:]),
		Patch:            binary.LittleEndian.Uint16(b[4:]),
		HardwareRevision: binary.LittleEndian.Uint16(b[6:]),
	}, nil
}

// DecodeBattery decodes the battery level percentage
func DecodeBattery(b []byte) (uint8, error) {
	if err := checkLen("battery", b, BatteryPayloadSize); err != nil {
		return 0, err
	}
	return b[0], nil
}

// DecodeDeviceName decodes the UTF-8 device name, trimming NUL padding
func DecodeDeviceName(b []byte) string {
	return strings.TrimSpace(strings.TrimRight(string(b), "\x00"))
}
