package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/myoctl/internal/demux"
	"github.com/srg/myoctl/internal/groutine"
	"github.com/srg/myoctl/internal/protocol"
)

// decodeLoop is the single consumer of the link's notifications.
// Classifier events are applied in arrival order.
func (c *Controller) decodeLoop(ctx context.Context, r *run) {
	notifications := r.link.Notifications()
	for {
		select {
		case <-r.stop:
			return
		case <-r.link.Done():
			c.linkLost(r)
			return
		case n, ok := <-notifications:
			if !ok {
				c.linkLost(r)
				return
			}
			// nothing new is dispatched once disconnecting has begun
			select {
			case <-r.stop:
				return
			default:
			}
			r.dispatching.Store(true)
			c.handle(ctx, r, n)
			r.dispatching.Store(false)
		}
	}
}

func (c *Controller) linkLost(r *run) {
	select {
	case <-r.stop:
		// closing on purpose, Close finishes the teardown
		return
	default:
	}
	c.finish(r, lostError(r, r.link.Err()))
}

// lostError is the LinkLost error of r for the transport's cause
func lostError(r *run, cause error) error {
	if cause == nil {
		cause = errors.New("link closed by transport")
	}
	return &Error{Kind: LinkLost, Msg: r.device.Address, Err: cause}
}

func (c *Controller) handle(ctx context.Context, r *run, n protocol.RawNotification) {
	ev, err := c.demux.Route(n)
	if err != nil {
		fields := logrus.Fields{"handle": n.Handle, "len": len(n.Payload)}
		if errors.Is(err, demux.ErrUnknownHandle) {
			r.log.WithFields(fields).Debug("Dropped notification from unrouted handle")
		} else {
			r.log.WithFields(fields).WithError(err).Warn("Dropped malformed notification")
		}
		return
	}
	defer c.processed.Inc()

	switch e := ev.(type) {
	case demux.EMGEvent:
		if c.handlers.OnEMG != nil {
			c.call("emg", func() { c.handlers.OnEMG(e) })
		}
		c.publish(e, TopicEMG)
		for i := range e.Frames {
			frame := e.Frames[i]
			c.aggregate(r, AggregatedData{At: e.Time(), EMG: &frame})
		}

	case demux.FVEvent:
		if c.handlers.OnFV != nil {
			c.call("fv", func() { c.handlers.OnFV(e) })
		}
		c.publish(e, TopicFV)
		frame := e.Frame
		c.aggregate(r, AggregatedData{At: e.Time(), FV: &frame})

	case demux.IMUEvent:
		frame := e.Frame
		r.lastIMU = &frame
		r.tracker.ApplyIMU(frame.Quaternion().Normalize())
		if c.handlers.OnIMU != nil {
			c.call("imu", func() { c.handlers.OnIMU(e) })
		}
		c.publish(e, TopicIMU)

	case demux.ClassifierEvent:
		tx := r.tracker.Apply(e.Event)
		entry := r.log.WithFields(logrus.Fields{"event": e.Event.String(), "gesture": tx.After.String()})
		if tx.Changed() {
			entry.Info("Classifier event")
		} else {
			entry.Debug("Classifier event")
		}
		if c.handlers.OnClassifier != nil {
			c.call("classifier", func() { c.handlers.OnClassifier(e, tx) })
		}
		c.publish(e, TopicClassifier)

		if e.Event.Kind == protocol.EventSyncFailed && c.shouldResync(tx.After.SyncFailures) {
			c.autoResync(ctx, r, tx.After.SyncFailures)
		}

	case demux.MotionEvent:
		if c.handlers.OnMotion != nil {
			c.call("motion", func() { c.handlers.OnMotion(e) })
		}
		c.publish(e, TopicMotion)
	}
}

func (c *Controller) aggregate(r *run, agg AggregatedData) {
	if r.lastIMU != nil {
		imu := *r.lastIMU
		agg.IMU = &imu
	}
	agg.Gesture = r.tracker.Snapshot()

	c.snapshot.Store(&agg)
	c.latest.Send(agg)
	if c.handlers.OnAggregated != nil {
		c.call("aggregated", func() { c.handlers.OnAggregated(agg) })
	}
	c.publish(agg, TopicAggregated)
}

// call runs one handler, recovering and counting panics
func (c *Controller) call(name string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			c.panics.Inc()
			c.logger.WithFields(logrus.Fields{
				"handler": name,
				"panic":   fmt.Sprint(p),
			}).Error("Handler panicked")
		}
	}()
	fn()
	c.dispatched.Inc()
}

func (c *Controller) shouldResync(failures int) bool {
	n := c.opts.ResyncAfter
	return n > 0 && failures > 0 && failures%n == 0
}

// autoResync runs Resync off the decode goroutine, so the commands never
// wait on notification handling
func (c *Controller) autoResync(ctx context.Context, r *run, failures int) {
	r.log.WithField("sync_failures", failures).Info("Repeated sync failures, resyncing classifier")
	groutine.Go(ctx, "myo-resync-"+r.id[:8], func(ctx context.Context) {
		if err := c.Resync(ctx); err != nil {
			r.log.WithError(err).Warn("Automatic resync failed")
		}
	})
}
