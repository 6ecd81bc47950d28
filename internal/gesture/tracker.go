package gesture

import (
	"sync"

	"github.com/srg/myoctl/internal/protocol"
)

// Transition is the result of applying one classifier event
type Transition struct {
	Before State
	After  State
	Event  protocol.ClassifierEvent
}

// Changed reports whether the event altered the state
func (t Transition) Changed() bool {
	return t.Before != t.After
}

// Tracker owns the State of one session together with the latest IMU orientation.
// Updates come from a single decode goroutine; Snapshot may be called from anywhere.
type Tracker struct {
	mu      sync.RWMutex
	state   State
	current protocol.Quaternion
	opts    Options
}

// NewTracker returns a tracker in the unsynced state
func NewTracker(opts Options) *Tracker {
	return &Tracker{
		state:   Unsynced(),
		current: protocol.Identity(),
		opts:    opts,
	}
}

// ApplyIMU records the latest orientation from the IMU stream
func (t *Tracker) ApplyIMU(q protocol.Quaternion) {
	t.mu.Lock()
	t.current = q
	t.mu.Unlock()
}

// Apply runs one classifier event through the state machine
func (t *Tracker) Apply(ev protocol.ClassifierEvent) Transition {
	t.mu.Lock()
	defer t.mu.Unlock()

	before := t.state
	t.state = Apply(before, ev, t.current, t.opts)
	return Transition{Before: before, After: t.state, Event: ev}
}

// Snapshot returns a copy of the current state
func (t *Tracker) Snapshot() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Orientation returns the latest IMU orientation
func (t *Tracker) Orientation() protocol.Quaternion {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}
