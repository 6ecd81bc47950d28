package demux

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/myoctl/internal/protocol"
)

func notification(h protocol.Handle, payload []byte) protocol.RawNotification {
	return protocol.RawNotification{Handle: h, Payload: payload, At: time.Unix(1700000000, 0)}
}

func TestRoute_EachKind(t *testing.T) {
	d := Default()

	imu := make([]byte, 0, protocol.IMUPayloadSize)
	for _, w := range []uint16{16384, 0, 0, 0, 2048, 0, 0, 16, 0, 0} {
		imu = binary.LittleEndian.AppendUint16(imu, w)
	}

	tests := []struct {
		name    string
		n       protocol.RawNotification
		kind    Kind
		inspect func(t *testing.T, ev Event)
	}{
		{
			name: "emg yields two frames",
			n:    notification(protocol.HandleEMG2, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}),
			kind: KindEMG,
			inspect: func(t *testing.T, ev Event) {
				e := ev.(EMGEvent)
				assert.Equal(t, protocol.EMGFrame{1, 2, 3, 4, 5, 6, 7, 8}, e.Frames[0])
				assert.Equal(t, protocol.EMGFrame{9, 10, 11, 12, 13, 14, 15, 16}, e.Frames[1])
			},
		},
		{
			name: "fv",
			n:    notification(protocol.HandleFV, make([]byte, protocol.FVPayloadSize)),
			kind: KindFV,
		},
		{
			name: "imu",
			n:    notification(protocol.HandleIMU, imu),
			kind: KindIMU,
			inspect: func(t *testing.T, ev Event) {
				assert.Equal(t, protocol.Identity(), ev.(IMUEvent).Frame.Quaternion())
			},
		},
		{
			name: "classifier",
			n:    notification(protocol.HandleClassifier, protocol.EncodeClassifier(protocol.PoseEvent(protocol.PoseFist))),
			kind: KindClassifier,
			inspect: func(t *testing.T, ev Event) {
				assert.Equal(t, protocol.PoseFist, ev.(ClassifierEvent).Event.Pose)
			},
		},
		{
			name: "motion",
			n:    notification(protocol.HandleMotion, []byte{0, 1, 2}),
			kind: KindMotion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := d.Route(tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, ev.Kind())
			assert.Equal(t, tt.n.Handle, ev.Source())
			assert.Equal(t, tt.n.At, ev.Time())
			if tt.inspect != nil {
				tt.inspect(t, ev)
			}
		})
	}

	assert.Equal(t, Stats{Routed: int64(len(tests))}, d.Stats())
}

func TestRoute_Drops(t *testing.T) {
	// GOAL: every dropped notification increments exactly one counter and yields no event
	d := Default()

	ev, err := d.Route(notification(0x99, []byte{1}))
	assert.Nil(t, ev)
	require.ErrorIs(t, err, ErrUnknownHandle)
	var uErr *UnknownHandleError
	require.ErrorAs(t, err, &uErr)
	assert.Equal(t, protocol.Handle(0x99), uErr.Handle)

	ev, err = d.Route(notification(protocol.HandleIMU, make([]byte, 19)))
	assert.Nil(t, ev)
	require.ErrorIs(t, err, protocol.ErrMalformedPayload)
	assert.NotErrorIs(t, err, ErrUnknownHandle)

	ev, err = d.Route(notification(protocol.HandleEMG0, nil))
	assert.Nil(t, ev)
	require.ErrorIs(t, err, protocol.ErrMalformedPayload)

	stats := d.Stats()
	assert.Equal(t, Stats{Unknown: 1, Malformed: 2}, stats)
	assert.Equal(t, int64(3), stats.Dropped())
}

func TestHandles_InsertionOrder(t *testing.T) {
	d := Default()
	assert.Equal(t, protocol.EMGHandles, d.Handles(KindEMG))
	assert.Equal(t, []protocol.Handle{protocol.HandleFV}, d.Handles(KindFV))
	assert.Empty(t, New().Handles(KindIMU))

	custom := New(RouteEntry{Handle: 0x40, Kind: KindIMU}, RouteEntry{Handle: 0x30, Kind: KindIMU}, RouteEntry{Handle: 0x40, Kind: KindIMU})
	assert.Equal(t, []protocol.Handle{0x40, 0x30}, custom.Handles(KindIMU))

	kind, ok := d.Lookup(protocol.HandleMotion)
	require.True(t, ok)
	assert.Equal(t, KindMotion, kind)
}
