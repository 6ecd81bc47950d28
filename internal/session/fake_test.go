package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/srg/myoctl/internal/protocol"
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Discover(ctx context.Context, f Filter) (DeviceHandle, error) {
	args := m.Called(ctx, f)
	return args.Get(0).(DeviceHandle), args.Error(1)
}

func (m *mockTransport) Connect(ctx context.Context, dev DeviceHandle) (Link, error) {
	args := m.Called(ctx, dev)
	link, _ := args.Get(0).(Link)
	return link, args.Error(1)
}

type write struct {
	Handle protocol.Handle
	Data   []byte
}

// fakeLink is an in-memory Link recording every write
type fakeLink struct {
	mu        sync.Mutex
	writes    []write
	reads     map[protocol.Handle][]byte
	failWrite map[protocol.Handle]error
	err       error
	closes    int

	beforeWrite func(w write) error // runs outside the lock, may block

	notes    chan protocol.RawNotification
	done     chan struct{}
	doneOnce sync.Once
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		reads: map[protocol.Handle][]byte{
			protocol.HandleDeviceName: []byte("Myo\x00"),
			protocol.HandleFirmware:   {1, 0, 5, 0, 0xb2, 0x07, 2, 0},
			protocol.HandleBattery:    {87},
		},
		failWrite: map[protocol.Handle]error{},
		notes:     make(chan protocol.RawNotification, 256),
		done:      make(chan struct{}),
	}
}

func (l *fakeLink) Read(_ context.Context, h protocol.Handle) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.reads[h]
	if !ok {
		return nil, fmt.Errorf("no value for handle %s", h)
	}
	return b, nil
}

func (l *fakeLink) Write(_ context.Context, h protocol.Handle, data []byte, _ bool) error {
	w := write{Handle: h, Data: append([]byte(nil), data...)}

	l.mu.Lock()
	hook := l.beforeWrite
	l.mu.Unlock()
	if hook != nil {
		if err := hook(w); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failWrite[h]; err != nil {
		return err
	}
	l.writes = append(l.writes, w)
	return nil
}

func (l *fakeLink) setBeforeWrite(fn func(w write) error) {
	l.mu.Lock()
	l.beforeWrite = fn
	l.mu.Unlock()
}

func (l *fakeLink) Notifications() <-chan protocol.RawNotification { return l.notes }

func (l *fakeLink) Done() <-chan struct{} { return l.done }

func (l *fakeLink) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	l.closes++
	l.mu.Unlock()
	l.doneOnce.Do(func() { close(l.done) })
	return nil
}

// drop simulates the transport losing the link
func (l *fakeLink) drop(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
	l.doneOnce.Do(func() { close(l.done) })
}

func (l *fakeLink) Writes() []write {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]write(nil), l.writes...)
}

func (l *fakeLink) Closes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}

func (l *fakeLink) push(h protocol.Handle, payload []byte) {
	l.notes <- protocol.RawNotification{Handle: h, Payload: payload, At: time.Now()}
}

func (l *fakeLink) pushClassifier(ev protocol.ClassifierEvent) {
	l.push(protocol.HandleClassifier, protocol.EncodeClassifier(ev))
}

func imuPayload(w, x, y, z int16) []byte {
	b := make([]byte, 0, protocol.IMUPayloadSize)
	for _, v := range []int16{w, x, y, z, 0, 0, 2048, 0, 0, 0} {
		b = binary.LittleEndian.AppendUint16(b, uint16(v))
	}
	return b
}

func emgPayload(base int8) []byte {
	b := make([]byte, protocol.EMGPayloadSize)
	for i := range b {
		b[i] = byte(base + int8(i))
	}
	return b
}

func cmdBytes(cmd protocol.Command) []byte {
	b, err := cmd.Encode()
	if err != nil {
		panic(err)
	}
	return b
}

// collectSink is a Sink keeping every offered value
type collectSink struct {
	mu     sync.Mutex
	values []any
}

func (s *collectSink) Offer(v any) {
	s.mu.Lock()
	s.values = append(s.values, v)
	s.mu.Unlock()
}

func (s *collectSink) count(match func(v any) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.values {
		if match(v) {
			n++
		}
	}
	return n
}
