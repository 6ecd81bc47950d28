// Package session drives one armband connection: discovery, connection, mode
// negotiation, notification streaming and teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cskr/pubsub/v2"
	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"

	"github.com/srg/myoctl/internal/demux"
	"github.com/srg/myoctl/internal/gesture"
	"github.com/srg/myoctl/internal/groutine"
	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/ringchan"
)

// State is the lifecycle state of a Controller
type State int32

const (
	Disconnected State = iota
	Discovering
	Connecting
	Negotiating
	Streaming
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Discovering:
		return "discovering"
	case Connecting:
		return "connecting"
	case Negotiating:
		return "negotiating"
	case Streaming:
		return "streaming"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText renders the state name in JSON and YAML
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DeviceHandle identifies one discovered armband
type DeviceHandle struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	RSSI    int    `json:"rssi"`
}

// Filter selects the device to connect to. An empty Address matches any
// device advertising ServiceUUID.
type Filter struct {
	Address     string
	ServiceUUID string
	Timeout     time.Duration // discovery gives up with ErrDeviceNotFound after this long
}

// Transport discovers and connects armbands
type Transport interface {
	Discover(ctx context.Context, f Filter) (DeviceHandle, error)
	Connect(ctx context.Context, dev DeviceHandle) (Link, error)
}

// Link is one established connection, addressed by attribute handle.
// Writing a subscribe value to a CCCD handle enables notifications for the
// value handle before it.
type Link interface {
	Read(ctx context.Context, h protocol.Handle) ([]byte, error)
	Write(ctx context.Context, h protocol.Handle, data []byte, withResponse bool) error
	Notifications() <-chan protocol.RawNotification
	// Done is closed when the link drops or is closed
	Done() <-chan struct{}
	// Err reports why Done was closed, nil after Close
	Err() error
	Close() error
}

// DeviceInfo is read from the device during negotiation
type DeviceInfo struct {
	Name     string                    `json:"name"`
	Firmware *protocol.FirmwareVersion `json:"firmware,omitempty"`
	Battery  *uint8                    `json:"battery,omitempty"`
}

// AggregatedData combines the latest EMG sample with the latest IMU sample and
// the gesture state. One is produced per EMG or FV frame.
type AggregatedData struct {
	At      time.Time          `json:"at"`
	EMG     *protocol.EMGFrame `json:"emg,omitempty"`
	FV      *protocol.FVFrame  `json:"fv,omitempty"`
	IMU     *protocol.IMUFrame `json:"imu,omitempty"`
	Gesture gesture.State      `json:"gesture"`
}

// Topic names a Subscribe stream
type Topic string

const (
	TopicEMG        Topic = "emg"
	TopicFV         Topic = "fv"
	TopicIMU        Topic = "imu"
	TopicClassifier Topic = "classifier"
	TopicMotion     Topic = "motion"
	TopicAggregated Topic = "aggregated"
	TopicSession    Topic = "session"
)

// StateChange is published on TopicSession
type StateChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}

// run is everything tied to one connection. It is discarded on disconnect.
type run struct {
	id      string
	device  DeviceHandle
	link    Link
	tracker *gesture.Tracker
	log     *logrus.Entry

	stop        chan struct{}
	stopOnce    sync.Once
	done        <-chan struct{} // decode goroutine exited
	dispatching atomic.Bool     // decode goroutine is inside handle

	ended   chan struct{}
	endOnce sync.Once
	err     error // set before ended is closed

	subscribed []protocol.Handle // CCCDs written during negotiation
	lastIMU    *protocol.IMUFrame
}

func (r *run) halt() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Controller owns at most one connection at a time
type Controller struct {
	transport Transport
	opts      Options
	logger    *logrus.Logger
	handlers  Handlers
	demux     *demux.Demuxer

	mu     sync.RWMutex
	state  State
	cur    *run // active connection
	last   *run // most recent connection, kept for Done/Err
	mode   protocol.ModeConfiguration
	info   DeviceInfo
	closed bool

	cancelOpen context.CancelFunc // aborts an Open in progress
	nextSink   uint64

	cmdMu sync.Mutex // single in-flight command slot

	bus      *pubsub.PubSub[Topic, any]
	sinks    atomic.Pointer[[]sinkEntry]
	latest   *ringchan.RingChannel[AggregatedData]
	snapshot atomic.Pointer[AggregatedData]

	processed  *xsync.Counter
	dispatched *xsync.Counter
	panics     *xsync.Counter
	resyncs    *xsync.Counter
}

// New creates a disconnected Controller using transport
func New(transport Transport, opts ...Option) *Controller {
	c := &Controller{
		transport:  transport,
		logger:     logrus.New(),
		demux:      demux.Default(),
		state:      Disconnected,
		latest:     ringchan.New[AggregatedData](1),
		processed:  xsync.NewCounter(),
		dispatched: xsync.NewCounter(),
		panics:     xsync.NewCounter(),
		resyncs:    xsync.NewCounter(),
	}
	defaults.SetDefaults(&c.opts)
	for _, opt := range opts {
		opt(c)
	}
	c.bus = pubsub.New[Topic, any](c.opts.FanoutBuffer)
	return c
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Mode returns the last requested mode configuration
func (c *Controller) Mode() protocol.ModeConfiguration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// Device returns the connected device, false when disconnected
func (c *Controller) Device() (DeviceHandle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cur == nil {
		return DeviceHandle{}, false
	}
	return c.cur.device, true
}

// Info returns the device information read during negotiation
func (c *Controller) Info() DeviceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// Gesture returns the gesture state of the active connection, or the
// unsynced state when there is none
func (c *Controller) Gesture() gesture.State {
	c.mu.RLock()
	r := c.cur
	c.mu.RUnlock()
	if r == nil {
		return gesture.Unsynced()
	}
	return r.tracker.Snapshot()
}

// Snapshot returns the most recent aggregated frame
func (c *Controller) Snapshot() (AggregatedData, bool) {
	p := c.snapshot.Load()
	if p == nil {
		return AggregatedData{}, false
	}
	return *p, true
}

// Latest is a capacity-1 queue holding only the newest aggregated frame.
// Stale frames are dropped instead of blocking the decode path.
func (c *Controller) Latest() *ringchan.RingChannel[AggregatedData] {
	return c.latest
}

// Subscribe returns a channel receiving the events of topics.
// Slow subscribers miss events rather than stall decoding; consumers that
// must see every value register a Sink instead. After Shutdown the returned
// channel is already closed.
func (c *Controller) Subscribe(topics ...Topic) chan any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		ch := make(chan any)
		close(ch)
		return ch
	}
	return c.bus.Sub(topics...)
}

// Unsubscribe stops delivery to ch and closes it once it has no topics left.
// After Shutdown it does nothing.
func (c *Controller) Unsubscribe(ch chan any, topics ...Topic) {
	// the bus only ever publishes without waiting, so Unsub returns promptly;
	// holding the read lock keeps Shutdown from stopping the bus underneath it
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.bus.Unsub(ch, topics...)
}

// Sink receives every value published to any topic, synchronously on the
// goroutine that publishes it. Offer must not block.
type Sink interface {
	Offer(v any)
}

type sinkEntry struct {
	id   uint64
	sink Sink
}

// AddSink registers s and returns the function that removes it
func (c *Controller) AddSink(s Sink) (remove func()) {
	c.mu.Lock()
	c.nextSink++
	id := c.nextSink
	c.storeSinks(func(cur []sinkEntry) []sinkEntry {
		return append(cur, sinkEntry{id: id, sink: s})
	})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.storeSinks(func(cur []sinkEntry) []sinkEntry {
			var out []sinkEntry
			for _, e := range cur {
				if e.id != id {
					out = append(out, e)
				}
			}
			return out
		})
	}
}

// storeSinks must be called with mu held
func (c *Controller) storeSinks(update func([]sinkEntry) []sinkEntry) {
	var cur []sinkEntry
	if p := c.sinks.Load(); p != nil {
		cur = append(cur, (*p)...)
	}
	next := update(cur)
	c.sinks.Store(&next)
}

// publish fans v out to topic subscribers and to every sink
func (c *Controller) publish(v any, topic Topic) {
	c.mu.RLock()
	if !c.closed {
		c.bus.TryPub(v, topic)
	}
	c.mu.RUnlock()

	if p := c.sinks.Load(); p != nil {
		for _, e := range *p {
			e.sink.Offer(v)
		}
	}
}

// Done is closed when the current (or most recent) connection ends.
// Before the first Open it is already closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.RLock()
	r := c.last
	c.mu.RUnlock()
	if r == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return r.ended
}

// Err reports why the most recent connection ended: an ErrLinkLost error after
// link loss, nil after Close or while still connected
func (c *Controller) Err() error {
	c.mu.RLock()
	r := c.last
	c.mu.RUnlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.ended:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the current connection ends or ctx is done
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.Done():
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// setState moves to the given state and reports the change
func (c *Controller) setState(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	c.notifyState(from, to)
}

func (c *Controller) notifyState(from, to State) {
	if from == to {
		return
	}
	c.logger.WithFields(logrus.Fields{"from": from, "to": to}).Debug("Session state changed")
	c.publish(StateChange{From: from, To: to}, TopicSession)
	if c.handlers.OnStateChange != nil {
		c.call("state_change", func() { c.handlers.OnStateChange(from, to) })
	}
}

// Open discovers a device matching f, connects and negotiates mode.
// It returns once the session is streaming. There is no automatic retry.
// Close aborts an Open in progress.
func (c *Controller) Open(ctx context.Context, f Filter, mode protocol.ModeConfiguration) error {
	if _, err := (protocol.SetMode{Mode: mode}).Encode(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return invalidState("open", Disconnected)
	}
	if c.state != Disconnected {
		st := c.state
		c.mu.Unlock()
		return invalidState("open", st)
	}
	c.state = Discovering
	c.cancelOpen = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancelOpen = nil
		c.mu.Unlock()
	}()
	c.notifyState(Disconnected, Discovering)

	dev, err := c.discover(ctx, f)
	if err != nil {
		c.setState(Disconnected)
		return err
	}

	c.setState(Connecting)
	link, err := c.transport.Connect(ctx, dev)
	if err != nil {
		c.setState(Disconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Kind: ConnectionFailed, Msg: dev.Address, Err: err}
	}
	if ctx.Err() != nil {
		// Close ran while connecting
		_ = link.Close()
		c.setState(Disconnected)
		return ctx.Err()
	}

	r := &run{
		id:      uuid.NewString(),
		device:  dev,
		link:    link,
		tracker: gesture.NewTracker(c.opts.Gesture),
		stop:    make(chan struct{}),
		ended:   make(chan struct{}),
	}
	r.log = c.logger.WithFields(logrus.Fields{"session": r.id, "address": dev.Address})
	r.done = groutine.Go(context.Background(), "myo-decode-"+r.id[:8], func(ctx context.Context) {
		c.decodeLoop(ctx, r)
	})

	c.mu.Lock()
	c.cur, c.last = r, r
	c.mode = mode
	c.info = DeviceInfo{Name: dev.Name}
	c.state = Negotiating
	c.mu.Unlock()
	c.notifyState(Connecting, Negotiating)

	r.log.WithField("mode", mode).Info("Connected, negotiating")
	if err := c.negotiate(ctx, r, mode); err != nil {
		r.log.WithError(err).Warn("Negotiation failed")
		r.halt()
		<-r.done

		var cause error
		if linkErr := r.link.Err(); linkErr != nil {
			cause = lostError(r, linkErr)
		}
		c.finish(r, cause)
		if r.err != nil {
			// the link dropped under negotiation, here or on the decode goroutine
			return r.err
		}
		return err
	}

	c.mu.Lock()
	if c.cur != r || c.state != Negotiating {
		// link dropped or Close ran during negotiation
		c.mu.Unlock()
		if err := c.Err(); err != nil {
			return err
		}
		return invalidState("open", c.State())
	}
	c.state = Streaming
	c.mu.Unlock()
	c.notifyState(Negotiating, Streaming)

	r.log.Info("Streaming")
	return nil
}

func (c *Controller) discover(ctx context.Context, f Filter) (DeviceHandle, error) {
	dctx := ctx
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	c.logger.WithFields(logrus.Fields{
		"address": f.Address,
		"service": f.ServiceUUID,
		"timeout": f.Timeout,
	}).Info("Discovering device")

	dev, err := c.transport.Discover(dctx, f)
	switch {
	case err == nil:
		return dev, nil
	case ctx.Err() != nil:
		// caller cancelled, not a discovery timeout
		return DeviceHandle{}, ctx.Err()
	case errors.Is(err, ErrDeviceNotFound):
		return DeviceHandle{}, err
	case errors.Is(err, context.DeadlineExceeded):
		return DeviceHandle{}, &Error{Kind: DeviceNotFound, Msg: fmt.Sprintf("no match within %s", f.Timeout), Err: err}
	default:
		return DeviceHandle{}, fmt.Errorf("discovery: %w", err)
	}
}

// Close stops the active connection, or aborts an Open still discovering or
// connecting. In-flight notifications are finished, nothing new is dispatched,
// subscriptions are removed on a best-effort basis and the link is closed.
// Close may be called from a handler; it then returns without waiting for
// that handler. Close is idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.cancelOpen != nil {
		c.cancelOpen()
	}
	r := c.cur
	if r == nil || c.state == Disconnecting {
		c.mu.Unlock()
		return nil
	}
	from := c.state
	c.state = Disconnecting
	c.mu.Unlock()
	c.notifyState(from, Disconnecting)

	r.log.Info("Disconnecting")
	r.halt()
	if !r.dispatching.Load() {
		<-r.done
	}

	c.unsubscribe(r)
	return c.finish(r, nil)
}

// Shutdown closes the connection and releases the fan-out bus and the
// latest-frame queue. The Controller cannot be reopened.
func (c *Controller) Shutdown() error {
	err := c.Close()

	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()
	if !already {
		c.bus.Shutdown()
		c.latest.Close()
	}
	return err
}

// finish tears a connection down exactly once
func (c *Controller) finish(r *run, cause error) error {
	var closeErr error
	r.endOnce.Do(func() {
		closeErr = r.link.Close()
		r.err = cause

		c.mu.Lock()
		from := c.state
		if c.cur == r {
			c.cur = nil
		}
		c.state = Disconnected
		c.mu.Unlock()

		close(r.ended)
		c.notifyState(from, Disconnected)

		if cause != nil {
			r.log.WithError(cause).Warn("Link lost")
			if c.handlers.OnLinkLost != nil {
				c.call("link_lost", func() { c.handlers.OnLinkLost(cause) })
			}
		} else {
			r.log.Info("Disconnected")
		}
	})
	return closeErr
}

func (c *Controller) unsubscribe(r *run) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	for i := len(r.subscribed) - 1; i >= 0; i-- {
		h := r.subscribed[i]
		ctx, cancel := c.commandContext(context.Background())
		err := r.link.Write(ctx, h.CCCD(), protocol.Unsubscribe, true)
		cancel()
		if err != nil {
			r.log.WithError(err).WithField("handle", h).Debug("Unsubscribe failed")
		}
	}
	r.subscribed = nil
}

func (c *Controller) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.CommandTimeout > 0 {
		return context.WithTimeout(ctx, c.opts.CommandTimeout)
	}
	return context.WithCancel(ctx)
}

// Stats are the drop and dispatch counters of the Controller
type Stats struct {
	demux.Stats
	Processed         int64 `json:"processed"` // routed notifications whose handlers have all returned
	Dispatched        int64 `json:"dispatched"`
	HandlerPanics     int64 `json:"handler_panics"`
	Resyncs           int64 `json:"resyncs"`
	LatestOverwritten int64 `json:"latest_overwritten"`
}

// Stats returns a snapshot of the counters
func (c *Controller) Stats() Stats {
	return Stats{
		Stats:             c.demux.Stats(),
		Processed:         c.processed.Value(),
		Dispatched:        c.dispatched.Value(),
		HandlerPanics:     c.panics.Value(),
		Resyncs:           c.resyncs.Value(),
		LatestOverwritten: c.latest.Metrics().Overwritten,
	}
}
