package session

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/myoctl/internal/demux"
	"github.com/srg/myoctl/internal/gesture"
)

// Options are the tunables of a Controller. Zero fields are filled from the
// default tags.
type Options struct {
	CommandTimeout time.Duration   `default:"5s"`
	NeverSleep     bool            `default:"true"`  // keep the armband awake while connected
	ResyncAfter    int             `default:"0"`     // auto-resync after N consecutive sync failures, 0 disables
	WarmupStep     time.Duration   `default:"500ms"` // pause between LED colours of Warmup
	FanoutBuffer   int             `default:"128"`   // per-subscriber channel capacity
	Gesture        gesture.Options // state machine tunables
}

// Handlers receive decoded data. Every handler except OnStateChange is called
// from the single decode goroutine of the session, one at a time, in
// notification order. A panicking handler is recovered and counted.
type Handlers struct {
	OnEMG        func(demux.EMGEvent)
	OnFV         func(demux.FVEvent)
	OnIMU        func(demux.IMUEvent)
	OnClassifier func(demux.ClassifierEvent, gesture.Transition)
	OnMotion     func(demux.MotionEvent)
	OnAggregated func(AggregatedData)
	OnLinkLost   func(error)

	// OnStateChange runs on the goroutine that caused the change
	OnStateChange func(from, to State)
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger. A nil logger is replaced by logrus.New().
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHandlers sets the decoded data handlers
func WithHandlers(h Handlers) Option {
	return func(c *Controller) {
		c.handlers = h
	}
}

// WithDemuxer replaces the default route table
func WithDemuxer(d *demux.Demuxer) Option {
	return func(c *Controller) {
		if d != nil {
			c.demux = d
		}
	}
}

// WithCommandTimeout bounds every command write and characteristic read
func WithCommandTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.opts.CommandTimeout = d
	}
}

// WithNeverSleep controls whether negotiation disables device sleep
func WithNeverSleep(never bool) Option {
	return func(c *Controller) {
		c.opts.NeverSleep = never
	}
}

// WithResyncAfter enables automatic resync after n consecutive sync failures
func WithResyncAfter(n int) Option {
	return func(c *Controller) {
		c.opts.ResyncAfter = n
	}
}

// WithGestureOptions sets the gesture state machine options
func WithGestureOptions(o gesture.Options) Option {
	return func(c *Controller) {
		c.opts.Gesture = o
	}
}

// WithWarmupStep sets the pause between warmup LED colours
func WithWarmupStep(d time.Duration) Option {
	return func(c *Controller) {
		c.opts.WarmupStep = d
	}
}

// WithFanoutBuffer sets the channel capacity of Subscribe
func WithFanoutBuffer(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.opts.FanoutBuffer = n
		}
	}
}
