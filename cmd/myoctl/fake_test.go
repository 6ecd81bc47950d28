package main

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/session"
)

const testAddress = "00:00:00:00:00:01"

// fakeTransport hands out one in-memory link
type fakeTransport struct {
	link        *fakeLink
	discoverErr error
	filter      session.Filter
}

func (t *fakeTransport) Discover(_ context.Context, f session.Filter) (session.DeviceHandle, error) {
	t.filter = f
	if t.discoverErr != nil {
		return session.DeviceHandle{}, t.discoverErr
	}
	return session.DeviceHandle{Address: testAddress, Name: "Myo", RSSI: -52}, nil
}

func (t *fakeTransport) Connect(context.Context, session.DeviceHandle) (session.Link, error) {
	return t.link, nil
}

type write struct {
	Handle protocol.Handle
	Data   []byte
}

// fakeLink answers reads from a fixed table and records writes
type fakeLink struct {
	mu     sync.Mutex
	writes []write

	notes    chan protocol.RawNotification
	done     chan struct{}
	doneOnce sync.Once
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		notes: make(chan protocol.RawNotification, 256),
		done:  make(chan struct{}),
	}
}

var fakeReads = map[protocol.Handle][]byte{
	protocol.HandleDeviceName: []byte("Myo\x00"),
	protocol.HandleFirmware:   {1, 0, 5, 0, 0xb2, 0x07, 2, 0},
	protocol.HandleBattery:    {87},
}

func (l *fakeLink) Read(_ context.Context, h protocol.Handle) ([]byte, error) {
	b, ok := fakeReads[h]
	if !ok {
		return nil, fmt.Errorf("no value for handle %s", h)
	}
	return b, nil
}

func (l *fakeLink) Write(_ context.Context, h protocol.Handle, data []byte, _ bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes = append(l.writes, write{Handle: h, Data: append([]byte(nil), data...)})
	return nil
}

func (l *fakeLink) Notifications() <-chan protocol.RawNotification { return l.notes }

func (l *fakeLink) Done() <-chan struct{} { return l.done }

func (l *fakeLink) Err() error { return nil }

func (l *fakeLink) Close() error {
	l.doneOnce.Do(func() { close(l.done) })
	return nil
}

// subscribed reports whether a subscribe value was written to the CCCD of h
func (l *fakeLink) subscribed(h protocol.Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.writes {
		if w.Handle == h.CCCD() && !bytes.Equal(w.Data, protocol.Unsubscribe) {
			return true
		}
	}
	return false
}

// commandWrites returns what was written to the command characteristic
func (l *fakeLink) commandWrites() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out [][]byte
	for _, w := range l.writes {
		if w.Handle == protocol.HandleCommand {
			out = append(out, w.Data)
		}
	}
	return out
}

func (l *fakeLink) wrote(cmd protocol.Command) bool {
	want, err := cmd.Encode()
	if err != nil {
		panic(err)
	}
	for _, b := range l.commandWrites() {
		if bytes.Equal(b, want) {
			return true
		}
	}
	return false
}

// fakeWatcher stands in for a controller in streamLoop tests
type fakeWatcher struct {
	done chan struct{}
	err  error
}

func (w *fakeWatcher) Done() <-chan struct{} { return w.done }
func (w *fakeWatcher) Err() error            { return w.err }

// syncBuffer is a bytes.Buffer safe for concurrent writers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
