// Package gesture tracks the arm-sync, pose and lock status reported by the
// on-device classifier.
package gesture

import (
	"fmt"

	"github.com/srg/myoctl/internal/protocol"
)

// State is the classifier status of one session.
//
// When Synced is false, Arm, XDirection and Pose are Unknown. The one exception is
// a sync_failed event with Options.ClearOnSyncFailed unset, which keeps the last
// known Arm and XDirection.
type State struct {
	Synced               bool                `json:"synced"`
	Arm                  protocol.Arm        `json:"arm"`
	XDirection           protocol.XDirection `json:"x_direction"`
	Pose                 protocol.Pose       `json:"pose"`
	Locked               bool                `json:"locked"`
	WarmingUp            bool                `json:"warming_up"`
	SyncFailures         int                 `json:"sync_failures"` // consecutive, reset by a successful sync
	ReferenceOrientation protocol.Quaternion `json:"reference_orientation"`
	LastIMUOrientation   protocol.Quaternion `json:"last_imu_orientation"`
}

// Unsynced is the state a session starts in
func Unsynced() State {
	return State{
		Arm:                  protocol.ArmUnknown,
		XDirection:           protocol.XUnknown,
		Pose:                 protocol.PoseUnknown,
		ReferenceOrientation: protocol.Identity(),
		LastIMUOrientation:   protocol.Identity(),
	}
}

func (s State) String() string {
	if !s.Synced {
		return fmt.Sprintf("unsynced(locked=%t, warming_up=%t, failures=%d)", s.Locked, s.WarmingUp, s.SyncFailures)
	}
	return fmt.Sprintf("synced(arm=%s, x=%s, pose=%s, locked=%t)", s.Arm, s.XDirection, s.Pose, s.Locked)
}

// RelativeOrientation is the last pose orientation relative to the orientation
// captured at sync time
func (s State) RelativeOrientation() protocol.Quaternion {
	return s.ReferenceOrientation.Conjugate().Multiply(s.LastIMUOrientation).Normalize()
}

// Options tune the transitions that have more than one reasonable reading
type Options struct {
	// ClearOnSyncFailed makes sync_failed forget arm and x direction, like arm_unsynced
	ClearOnSyncFailed bool `json:"clear_on_sync_failed" yaml:"clear_on_sync_failed"`
}

// Apply returns the state after ev. currentIMU is the latest orientation reported
// by the IMU stream. Apply never mutates its input.
func Apply(s State, ev protocol.ClassifierEvent, currentIMU protocol.Quaternion, opts Options) State {
	switch ev.Kind {
	case protocol.EventArmSynced:
		s.Synced = true
		s.Arm = ev.Arm
		s.XDirection = ev.XDirection
		s.ReferenceOrientation = currentIMU
		s.SyncFailures = 0

	case protocol.EventArmUnsynced:
		s = unsync(s)

	case protocol.EventPose:
		if ev.Pose == protocol.PoseUnknown {
			return unsync(s)
		}
		if !s.Synced {
			return s
		}
		s.Pose = ev.Pose
		s.LastIMUOrientation = currentIMU

	case protocol.EventLocked:
		s.Locked = true

	case protocol.EventUnlocked:
		s.Locked = false

	case protocol.EventSyncFailed:
		s.Synced = false
		s.Pose = protocol.PoseUnknown
		s.SyncFailures++
		if opts.ClearOnSyncFailed {
			s.Arm = protocol.ArmUnknown
			s.XDirection = protocol.XUnknown
		}

	case protocol.EventWarmup:
		s.WarmingUp = ev.Warmup != protocol.WarmupSuccess
	}
	return s
}

// unsync clears everything tied to the current sync. Device flags survive.
func unsync(s State) State {
	s.Synced = false
	s.Arm = protocol.ArmUnknown
	s.XDirection = protocol.XUnknown
	s.Pose = protocol.PoseUnknown
	s.ReferenceOrientation = protocol.Identity()
	return s
}
