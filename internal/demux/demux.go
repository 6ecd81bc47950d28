// Package demux routes raw notifications to the decoder of the characteristic
// they came from.
package demux

import (
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/myoctl/internal/protocol"
)

// ErrUnknownHandle is matched by notifications from a handle without a route
var ErrUnknownHandle = errors.New("unknown handle")

// UnknownHandleError carries the handle that had no route
type UnknownHandleError struct {
	Handle protocol.Handle
}

func (e *UnknownHandleError) Error() string {
	return fmt.Sprintf("no route for notification handle %s", e.Handle)
}

// Is allows errors.Is(err, ErrUnknownHandle)
func (e *UnknownHandleError) Is(target error) bool {
	return target == ErrUnknownHandle
}

// Kind is the stream a handle carries
type Kind int

const (
	KindEMG Kind = iota
	KindFV
	KindIMU
	KindClassifier
	KindMotion
)

func (k Kind) String() string {
	switch k {
	case KindEMG:
		return "emg"
	case KindFV:
		return "fv"
	case KindIMU:
		return "imu"
	case KindClassifier:
		return "classifier"
	case KindMotion:
		return "motion"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is a decoded notification. It is one of EMGEvent, FVEvent, IMUEvent,
// ClassifierEvent or MotionEvent.
type Event interface {
	Kind() Kind
	Source() protocol.Handle
	Time() time.Time
}

// header is embedded in every event
type header struct {
	Handle protocol.Handle `json:"handle"`
	At     time.Time       `json:"at"`
}

func (h header) Source() protocol.Handle { return h.Handle }

// Time is when the transport received the notification
func (h header) Time() time.Time { return h.At }

// EMGEvent carries the two samples of one EMG notification
type EMGEvent struct {
	header
	Frames [2]protocol.EMGFrame `json:"frames"`
}

func (EMGEvent) Kind() Kind { return KindEMG }

// FVEvent carries one filtered EMG sample
type FVEvent struct {
	header
	Frame protocol.FVFrame `json:"frame"`
}

func (FVEvent) Kind() Kind { return KindFV }

// IMUEvent carries one IMU sample
type IMUEvent struct {
	header
	Frame protocol.IMUFrame `json:"frame"`
}

func (IMUEvent) Kind() Kind { return KindIMU }

// ClassifierEvent carries one classifier event
type ClassifierEvent struct {
	header
	Event protocol.ClassifierEvent `json:"event"`
}

func (ClassifierEvent) Kind() Kind { return KindClassifier }

// MotionEvent carries one motion event
type MotionEvent struct {
	header
	Event protocol.MotionEvent `json:"event"`
}

func (MotionEvent) Kind() Kind { return KindMotion }

// RouteEntry binds a value handle to the kind it streams
type RouteEntry struct {
	Handle protocol.Handle
	Kind   Kind
}

// Stats counts routed and dropped notifications
type Stats struct {
	Routed    int64 `json:"routed"`
	Unknown   int64 `json:"unknown_handle"`
	Malformed int64 `json:"malformed"`
}

// Dropped is the number of notifications that produced no event
func (s Stats) Dropped() int64 { return s.Unknown + s.Malformed }

// Demuxer maps handles to decoders. The route table is fixed after construction,
// so Route is safe for concurrent use.
type Demuxer struct {
	routes    *orderedmap.OrderedMap[protocol.Handle, Kind]
	routed    *xsync.Counter
	unknown   *xsync.Counter
	malformed *xsync.Counter
}

// New builds a demuxer from routes. A later entry for the same handle replaces
// the earlier one but keeps its position.
func New(routes ...RouteEntry) *Demuxer {
	d := &Demuxer{
		routes:    orderedmap.New[protocol.Handle, Kind](),
		routed:    xsync.NewCounter(),
		unknown:   xsync.NewCounter(),
		malformed: xsync.NewCounter(),
	}
	for _, r := range routes {
		d.routes.Set(r.Handle, r.Kind)
	}
	return d
}

// Default returns the route table of the device layout
func Default() *Demuxer {
	return New(
		RouteEntry{protocol.HandleIMU, KindIMU},
		RouteEntry{protocol.HandleClassifier, KindClassifier},
		RouteEntry{protocol.HandleFV, KindFV},
		RouteEntry{protocol.HandleEMG0, KindEMG},
		RouteEntry{protocol.HandleEMG1, KindEMG},
		RouteEntry{protocol.HandleEMG2, KindEMG},
		RouteEntry{protocol.HandleEMG3, KindEMG},
		RouteEntry{protocol.HandleMotion, KindMotion},
	)
}

// Lookup returns the kind routed from handle
func (d *Demuxer) Lookup(h protocol.Handle) (Kind, bool) {
	return d.routes.Get(h)
}

// Handles lists the handles routed to kind, in insertion order
func (d *Demuxer) Handles(kind Kind) []protocol.Handle {
	var out []protocol.Handle
	for pair := d.routes.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value == kind {
			out = append(out, pair.Key)
		}
	}
	return out
}

// Route decodes n into the typed event of its handle.
// Every call that returns an error increments exactly one drop counter.
func (d *Demuxer) Route(n protocol.RawNotification) (Event, error) {
	kind, ok := d.routes.Get(n.Handle)
	if !ok {
		d.unknown.Inc()
		return nil, &UnknownHandleError{Handle: n.Handle}
	}

	ev, err := decode(kind, n)
	if err != nil {
		d.malformed.Inc()
		return nil, fmt.Errorf("handle %s: %w", n.Handle, err)
	}
	d.routed.Inc()
	return ev, nil
}

func decode(kind Kind, n protocol.RawNotification) (Event, error) {
	h := header{Handle: n.Handle, At: n.At}
	switch kind {
	case KindEMG:
		frames, err := protocol.DecodeEMG(n.Payload)
		if err != nil {
			return nil, err
		}
		return EMGEvent{header: h, Frames: frames}, nil
	case KindFV:
		f, err := protocol.DecodeFV(n.Payload)
		if err != nil {
			return nil, err
		}
		return FVEvent{header: h, Frame: f}, nil
	case KindIMU:
		f, err := protocol.DecodeIMU(n.Payload)
		if err != nil {
			return nil, err
		}
		return IMUEvent{header: h, Frame: f}, nil
	case KindClassifier:
		ev, err := protocol.DecodeClassifier(n.Payload)
		if err != nil {
			return nil, err
		}
		return ClassifierEvent{header: h, Event: ev}, nil
	case KindMotion:
		ev, err := protocol.DecodeMotion(n.Payload)
		if err != nil {
			return nil, err
		}
		return MotionEvent{header: h, Event: ev}, nil
	default:
		return nil, fmt.Errorf("no decoder for %s", kind)
	}
}

// Stats returns a snapshot of the counters
func (d *Demuxer) Stats() Stats {
	return Stats{
		Routed:    d.routed.Value(),
		Unknown:   d.unknown.Value(),
		Malformed: d.malformed.Value(),
	}
}
