package goble

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/myoctl/internal/groutine"
	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/ringchan"
	"github.com/srg/myoctl/internal/session"
)

// link is one go-ble connection addressed by attribute handle
type link struct {
	client ble.Client
	chars  map[protocol.Handle]*ble.Characteristic
	logger *logrus.Entry

	writeMu sync.Mutex // go-ble clients do not tolerate concurrent ATT requests

	mu     sync.Mutex
	subs   map[protocol.Handle]bool // subscribed value handle -> indicate
	closed bool
	err    error

	notes   *ringchan.RingChannel[protocol.RawNotification]
	dropped atomic.Uint64

	done     chan struct{}
	doneOnce sync.Once
}

var _ session.Link = (*link)(nil)

func newLink(client ble.Client, chars map[protocol.Handle]*ble.Characteristic, buffer int, logger *logrus.Entry) *link {
	l := &link{
		client: client,
		chars:  chars,
		logger: logger,
		subs:   make(map[protocol.Handle]bool),
		notes:  ringchan.New[protocol.RawNotification](buffer),
		done:   make(chan struct{}),
	}

	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "myo-link-monitor", func(ctx context.Context) {
			select {
			case <-dc.Disconnected():
				l.lost(ErrNotConnected)
			case <-l.done:
			}
		})
	}
	return l
}

func (l *link) Notifications() <-chan protocol.RawNotification {
	return l.notes.C()
}

func (l *link) Done() <-chan struct{} {
	return l.done
}

func (l *link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// lost records an unexpected disconnect. It is ignored after Close.
func (l *link) lost(err error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.err = err
	l.mu.Unlock()

	l.logger.WithError(err).Warn("BLE link lost")
	l.doneOnce.Do(func() { close(l.done) })
}

func (l *link) characteristic(h protocol.Handle) (*ble.Characteristic, error) {
	c, ok := l.chars[h]
	if !ok {
		return nil, fmt.Errorf("characteristic %s not found on device", h)
	}
	return c, nil
}

// Read reads a characteristic value, bounded by ctx
func (l *link) Read(ctx context.Context, h protocol.Handle) ([]byte, error) {
	if l.isClosed() {
		return nil, ErrLinkClosed
	}
	c, err := l.characteristic(h)
	if err != nil {
		return nil, err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return await(ctx, func() ([]byte, error) {
		b, err := l.client.ReadCharacteristic(c)
		return b, NormalizeError(err)
	})
}

// Write writes a characteristic value. A write to the CCCD of a notifying
// characteristic is translated into a go-ble subscription change.
func (l *link) Write(ctx context.Context, h protocol.Handle, data []byte, withResponse bool) error {
	if l.isClosed() {
		return ErrLinkClosed
	}
	if value, ok := cccdOwner(h); ok {
		return l.configure(ctx, value, data)
	}
	c, err := l.characteristic(h)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_, err = await(ctx, func() (struct{}, error) {
		return struct{}{}, NormalizeError(l.client.WriteCharacteristic(c, data, !withResponse))
	})
	return err
}

// cccdOwner returns the notifying value handle whose CCCD is h
func cccdOwner(h protocol.Handle) (protocol.Handle, bool) {
	if h == 0 {
		return 0, false
	}
	value := h - 1
	e, ok := protocol.LookupHandle(value)
	if !ok || !e.Notify || value.CCCD() != h {
		return 0, false
	}
	return value, true
}

func (l *link) configure(ctx context.Context, value protocol.Handle, data []byte) error {
	switch {
	case bytes.Equal(data, protocol.SubscribeNotify):
		return l.subscribe(ctx, value, false)
	case bytes.Equal(data, protocol.SubscribeIndicate):
		return l.subscribe(ctx, value, true)
	case bytes.Equal(data, protocol.Unsubscribe):
		return l.unsubscribe(ctx, value)
	default:
		return fmt.Errorf("invalid CCCD value % x for %s", data, value)
	}
}

func (l *link) subscribe(ctx context.Context, value protocol.Handle, indicate bool) error {
	c, err := l.characteristic(value)
	if err != nil {
		return err
	}

	l.mu.Lock()
	current, subscribed := l.subs[value]
	l.mu.Unlock()
	if subscribed && current == indicate {
		return nil
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if subscribed {
		if err := NormalizeError(l.client.Unsubscribe(c, current)); err != nil {
			return fmt.Errorf("failed to unsubscribe from %s: %w", value, err)
		}
	}
	_, err = await(ctx, func() (struct{}, error) {
		return struct{}{}, NormalizeError(l.client.Subscribe(c, indicate, l.handler(value)))
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", value, err)
	}

	l.mu.Lock()
	l.subs[value] = indicate
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"handle":   value.String(),
		"indicate": indicate,
	}).Debug("Subscribed")
	return nil
}

func (l *link) unsubscribe(ctx context.Context, value protocol.Handle) error {
	c, err := l.characteristic(value)
	if err != nil {
		return err
	}

	l.mu.Lock()
	indicate, subscribed := l.subs[value]
	l.mu.Unlock()
	if !subscribed {
		return nil
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_, err = await(ctx, func() (struct{}, error) {
		return struct{}{}, NormalizeError(l.client.Unsubscribe(c, indicate))
	})

	l.mu.Lock()
	delete(l.subs, value)
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", value, err)
	}
	return nil
}

// handler queues notifications of one value handle. The go-ble callback must
// not block, so a full queue drops its oldest notification.
func (l *link) handler(h protocol.Handle) ble.NotificationHandler {
	return func(data []byte) {
		n := protocol.RawNotification{
			Handle:  h,
			Payload: append([]byte(nil), data...),
			At:      time.Now(),
		}
		if l.notes.Send(n) {
			if l.dropped.Add(1) == 1 {
				l.logger.WithField("handle", h.String()).Warn("Notification queue full, dropping oldest notifications")
			}
		}
	}
}

// Close removes remaining subscriptions and cancels the connection.
// It is safe to call more than once.
func (l *link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	subs := make(map[protocol.Handle]bool, len(l.subs))
	for h, ind := range l.subs {
		subs[h] = ind
	}
	l.subs = make(map[protocol.Handle]bool)
	l.mu.Unlock()

	l.writeMu.Lock()
	for h, ind := range subs {
		if err := NormalizeError(l.client.Unsubscribe(l.chars[h], ind)); err != nil {
			l.logger.WithFields(logrus.Fields{
				"handle": h.String(),
				"error":  err,
			}).Debug("Failed to unsubscribe during close")
		}
	}
	err := NormalizeError(l.client.CancelConnection())
	l.writeMu.Unlock()

	l.doneOnce.Do(func() { close(l.done) })
	l.notes.Close()

	if errors.Is(err, ErrNotConnected) {
		err = nil
	}
	if dropped := l.dropped.Load(); dropped > 0 {
		l.logger.WithField("dropped", dropped).Warn("Notifications were dropped during the connection")
	}
	return err
}

// await runs fn in a goroutine and gives up when ctx is done. go-ble calls
// have no context of their own.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
