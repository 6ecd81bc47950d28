package protocol

import (
	"fmt"
	"strings"
)

func unknownName(raw uint64) string {
	return fmt.Sprintf("unknown(%#x)", raw)
}

// Enums render as their names in JSON.

func (m EMGMode) MarshalText() ([]byte, error)         { return []byte(m.String()), nil }
func (m IMUMode) MarshalText() ([]byte, error)         { return []byte(m.String()), nil }
func (m ClassifierMode) MarshalText() ([]byte, error)  { return []byte(m.String()), nil }
func (p Pose) MarshalText() ([]byte, error)            { return []byte(p.String()), nil }
func (a Arm) MarshalText() ([]byte, error)             { return []byte(a.String()), nil }
func (x XDirection) MarshalText() ([]byte, error)      { return []byte(x.String()), nil }
func (k MotionEventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// EMGMode selects what the EMG characteristics stream
type EMGMode uint8

const (
	EMGNone         EMGMode = 0x00
	EMGSendFiltered EMGMode = 0x01 // filtered magnitudes on the FV characteristic
	EMGSendEMG      EMGMode = 0x02
	EMGSendRaw      EMGMode = 0x03 // unfiltered, device-side processing disabled
)

func (m EMGMode) Known() bool { return m <= EMGSendRaw }

func (m EMGMode) String() string {
	switch m {
	case EMGNone:
		return "none"
	case EMGSendFiltered:
		return "filtered"
	case EMGSendEMG:
		return "emg"
	case EMGSendRaw:
		return "raw"
	default:
		return unknownName(uint64(m))
	}
}

// IMUMode selects what the IMU characteristics stream
type IMUMode uint8

const (
	IMUNone       IMUMode = 0x00
	IMUSendData   IMUMode = 0x01
	IMUSendEvents IMUMode = 0x02 // motion events only
	IMUSendAll    IMUMode = 0x03
	IMUSendRaw    IMUMode = 0x04
)

func (m IMUMode) Known() bool { return m <= IMUSendRaw }

// SendsEvents reports whether the mode enables the motion event characteristic
func (m IMUMode) SendsEvents() bool { return m == IMUSendEvents || m == IMUSendAll }

func (m IMUMode) String() string {
	switch m {
	case IMUNone:
		return "none"
	case IMUSendData:
		return "data"
	case IMUSendEvents:
		return "events"
	case IMUSendAll:
		return "all"
	case IMUSendRaw:
		return "raw"
	default:
		return unknownName(uint64(m))
	}
}

// ClassifierMode enables or disables on-device pose classification
type ClassifierMode uint8

const (
	ClassifierDisabled ClassifierMode = 0x00
	ClassifierEnabled  ClassifierMode = 0x01
)

func (m ClassifierMode) Known() bool { return m <= ClassifierEnabled }

func (m ClassifierMode) String() string {
	switch m {
	case ClassifierDisabled:
		return "disabled"
	case ClassifierEnabled:
		return "enabled"
	default:
		return unknownName(uint64(m))
	}
}

// ParseEMGMode converts a configuration string to an EMGMode
func ParseEMGMode(s string) (EMGMode, error) {
	for m := EMGNone; m <= EMGSendRaw; m++ {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("invalid EMG mode %q: use none, filtered, emg, or raw", s)
}

// ParseIMUMode converts a configuration string to an IMUMode
func ParseIMUMode(s string) (IMUMode, error) {
	for m := IMUNone; m <= IMUSendRaw; m++ {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("invalid IMU mode %q: use none, data, events, all, or raw", s)
}

// Pose is a classifier pose. Transmitted as a little-endian uint16.
type Pose uint16

const (
	PoseRest          Pose = 0x0000
	PoseFist          Pose = 0x0001
	PoseWaveIn        Pose = 0x0002
	PoseWaveOut       Pose = 0x0003
	PoseFingersSpread Pose = 0x0004
	PoseDoubleTap     Pose = 0x0005
	PoseUnknown       Pose = 0xffff
)

func (p Pose) Known() bool { return p <= PoseDoubleTap }

func (p Pose) String() string {
	switch p {
	case PoseRest:
		return "rest"
	case PoseFist:
		return "fist"
	case PoseWaveIn:
		return "wave_in"
	case PoseWaveOut:
		return "wave_out"
	case PoseFingersSpread:
		return "fingers_spread"
	case PoseDoubleTap:
		return "double_tap"
	case PoseUnknown:
		return "unknown"
	default:
		return unknownName(uint64(p))
	}
}

// Arm is the arm the device reports it is worn on
type Arm uint8

const (
	ArmRight   Arm = 0x01
	ArmLeft    Arm = 0x02
	ArmUnknown Arm = 0xff
)

func (a Arm) String() string {
	switch a {
	case ArmRight:
		return "right"
	case ArmLeft:
		return "left"
	case ArmUnknown:
		return "unknown"
	default:
		return unknownName(uint64(a))
	}
}

// XDirection is the orientation of the device's +x axis on the arm
type XDirection uint8

const (
	XTowardWrist XDirection = 0x01
	XTowardElbow XDirection = 0x02
	XUnknown     XDirection = 0xff
)

func (x XDirection) String() string {
	switch x {
	case XTowardWrist:
		return "toward_wrist"
	case XTowardElbow:
		return "toward_elbow"
	case XUnknown:
		return "unknown"
	default:
		return unknownName(uint64(x))
	}
}

// ClassifierEventKind is the first byte of a classifier event
type ClassifierEventKind uint8

const (
	EventArmSynced   ClassifierEventKind = 0x01
	EventArmUnsynced ClassifierEventKind = 0x02
	EventPose        ClassifierEventKind = 0x03
	EventUnlocked    ClassifierEventKind = 0x04
	EventLocked      ClassifierEventKind = 0x05
	EventSyncFailed  ClassifierEventKind = 0x06
	EventWarmup      ClassifierEventKind = 0x07
)

func (k ClassifierEventKind) Known() bool { return k >= EventArmSynced && k <= EventWarmup }

func (k ClassifierEventKind) String() string {
	switch k {
	case EventArmSynced:
		return "arm_synced"
	case EventArmUnsynced:
		return "arm_unsynced"
	case EventPose:
		return "pose"
	case EventUnlocked:
		return "unlocked"
	case EventLocked:
		return "locked"
	case EventSyncFailed:
		return "sync_failed"
	case EventWarmup:
		return "warmup"
	default:
		return unknownName(uint64(k))
	}
}

// SyncResult is the failure reason carried by a sync_failed event
type SyncResult uint8

const (
	SyncFailedTooHard SyncResult = 0x01
)

func (r SyncResult) String() string {
	if r == SyncFailedTooHard {
		return "failed_too_hard"
	}
	return unknownName(uint64(r))
}

// WarmupResult is carried by a warmup event
type WarmupResult uint8

const (
	WarmupUnknown       WarmupResult = 0x00
	WarmupSuccess       WarmupResult = 0x01
	WarmupFailedTimeout WarmupResult = 0x02
)

func (r WarmupResult) String() string {
	switch r {
	case WarmupUnknown:
		return "unknown"
	case WarmupSuccess:
		return "success"
	case WarmupFailedTimeout:
		return "failed_timeout"
	default:
		return unknownName(uint64(r))
	}
}

// MotionEventKind is the first byte of a motion event
type MotionEventKind uint8

const (
	MotionTap MotionEventKind = 0x00
)

func (k MotionEventKind) String() string {
	if k == MotionTap {
		return "tap"
	}
	return unknownName(uint64(k))
}

// VibrationType is the fixed-length vibration of the Vibrate command
type VibrationType uint8

const (
	VibrationNone   VibrationType = 0x00
	VibrationShort  VibrationType = 0x01
	VibrationMedium VibrationType = 0x02
	VibrationLong   VibrationType = 0x03
)

func (v VibrationType) Known() bool { return v <= VibrationLong }

func (v VibrationType) String() string {
	switch v {
	case VibrationNone:
		return "none"
	case VibrationShort:
		return "short"
	case VibrationMedium:
		return "medium"
	case VibrationLong:
		return "long"
	default:
		return unknownName(uint64(v))
	}
}

// ParseVibrationType converts a CLI/API string to a VibrationType
func ParseVibrationType(s string) (VibrationType, error) {
	for v := VibrationNone; v <= VibrationLong; v++ {
		if strings.EqualFold(s, v.String()) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("invalid vibration %q: use none, short, medium, or long", s)
}

// SleepMode controls whether the device sleeps when not worn
type SleepMode uint8

const (
	SleepNormal SleepMode = 0x00
	SleepNever  SleepMode = 0x01
)

func (m SleepMode) Known() bool { return m <= SleepNever }

// UnlockType is the argument of the Unlock command
type UnlockType uint8

const (
	UnlockLock  UnlockType = 0x00 // re-lock immediately
	UnlockTimed UnlockType = 0x01 // unlock for a fixed period
	UnlockHold  UnlockType = 0x02 // unlock until told otherwise
)

func (u UnlockType) Known() bool { return u <= UnlockHold }

// UserActionType is the argument of the UserAction command
type UserActionType uint8

const (
	UserActionSingle UserActionType = 0x00
)
