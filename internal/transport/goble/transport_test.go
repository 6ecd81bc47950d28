package goble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func uuidKey(s string) string {
	return ble.MustParse(s).String()
}

type TransportTestSuite struct {
	suite.Suite
	originalFactory func() (ble.Device, error)
	dev             *fakeDevice
	client          *fakeClient
	logger          *logrus.Logger
	hook            *test.Hook
	transport       *Transport
}

func (suite *TransportTestSuite) SetupSuite() {
	suite.originalFactory = DeviceFactory
}

func (suite *TransportTestSuite) TearDownSuite() {
	DeviceFactory = suite.originalFactory
}

func (suite *TransportTestSuite) SetupTest() {
	suite.client = newFakeClient(myoProfile())
	suite.dev = &fakeDevice{client: suite.client}
	DeviceFactory = func() (ble.Device, error) { return suite.dev, nil }

	suite.logger, suite.hook = test.NewNullLogger()
	suite.logger.SetLevel(logrus.DebugLevel)
	suite.transport = New(WithLogger(suite.logger), WithNotificationBuffer(4))
}

func (suite *TransportTestSuite) connect() *link {
	l, err := suite.transport.Connect(context.Background(), session.DeviceHandle{Address: "aa:bb:cc:dd:ee:ff"})
	suite.Require().NoError(err, "MUST connect")
	return l.(*link)
}

func (suite *TransportTestSuite) TestDiscoverReturnsFirstMatch() {
	// GOAL: Verify discovery stops at the first advertisement of the armband service
	//
	// TEST SCENARIO: Unrelated device, then two armbands → first armband returned

	suite.dev.advs = []ble.Advertisement{
		&fakeAdv{name: "Speaker", addr: "11:11:11:11:11:11", rssi: -30, services: []ble.UUID{ble.MustParse("180f")}},
		myoAdv("22:22:22:22:22:22", -70),
		myoAdv("33:33:33:33:33:33", -40),
	}

	dev, err := suite.transport.Discover(context.Background(), session.Filter{})
	suite.Require().NoError(err)
	suite.Equal("22:22:22:22:22:22", dev.Address, "MUST return the first matching device")
	suite.Equal("Myo", dev.Name)
	suite.Equal(-70, dev.RSSI)
}

func (suite *TransportTestSuite) TestDiscoverByAddress() {
	// GOAL: Verify an address filter overrides the service filter
	//
	// TEST SCENARIO: Two armbands, filter names the second (different case) → second returned

	suite.dev.advs = []ble.Advertisement{
		myoAdv("22:22:22:22:22:22", -70),
		myoAdv("33:33:33:33:33:33", -40),
	}

	dev, err := suite.transport.Discover(context.Background(), session.Filter{Address: "33:33:33:33:33:33"})
	suite.Require().NoError(err)
	suite.Equal("33:33:33:33:33:33", dev.Address)
}

func (suite *TransportTestSuite) TestDiscoverTimeout() {
	// GOAL: Verify discovery without a match ends with the caller's deadline error
	//
	// TEST SCENARIO: No armband advertising, 50ms deadline → context.DeadlineExceeded

	suite.dev.advs = []ble.Advertisement{
		&fakeAdv{name: "Speaker", addr: "11:11:11:11:11:11", services: []ble.UUID{ble.MustParse("180f")}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := suite.transport.Discover(ctx, session.Filter{})
	suite.ErrorIs(err, context.DeadlineExceeded, "MUST report the deadline")
}

func (suite *TransportTestSuite) TestDiscoverScanFailure() {
	// GOAL: Verify adapter errors are normalized
	//
	// TEST SCENARIO: Scan fails with the CoreBluetooth powered-off message → ErrBluetoothOff

	suite.dev.scanErr = errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")

	_, err := suite.transport.Discover(context.Background(), session.Filter{})
	suite.ErrorIs(err, ErrBluetoothOff)
}

func (suite *TransportTestSuite) TestDiscoverFactoryFailure() {
	// GOAL: Verify a missing adapter is reported, not hidden

	DeviceFactory = func() (ble.Device, error) { return nil, ErrUnsupported }
	t := New(WithLogger(suite.logger))

	_, err := t.Discover(context.Background(), session.Filter{})
	suite.ErrorIs(err, ErrUnsupported)
}

func (suite *TransportTestSuite) TestScanDeduplicatesAndSorts() {
	// GOAL: Verify scan reports each armband once, strongest signal first
	//
	// TEST SCENARIO: Three advertisements from two armbands → two results, onNew called twice

	suite.dev.advs = []ble.Advertisement{
		myoAdv("22:22:22:22:22:22", -70),
		myoAdv("33:33:33:33:33:33", -60),
		myoAdv("22:22:22:22:22:22", -50),
		&fakeAdv{name: "Speaker", addr: "11:11:11:11:11:11"},
	}

	var announced []string
	found, err := suite.transport.Scan(context.Background(), session.Filter{Timeout: 50 * time.Millisecond}, func(a Advertisement) {
		announced = append(announced, a.Address)
	})
	suite.Require().NoError(err)
	suite.Equal([]string{"22:22:22:22:22:22", "33:33:33:33:33:33"}, announced, "MUST announce each device once")
	suite.Require().Len(found, 2)
	suite.Equal("22:22:22:22:22:22", found[0].Address, "MUST keep the latest RSSI and sort by it")
	suite.Equal(-50, found[0].RSSI)
	suite.Equal("33:33:33:33:33:33", found[1].Address)
}

func (suite *TransportTestSuite) TestConnectResolvesLayout() {
	// GOAL: Verify the handle layout is resolved by UUID on a handle-less profile

	l := suite.connect()

	suite.Len(l.chars, len(protocol.Layout), "MUST resolve every layout characteristic")
	suite.Equal(uuidKey(protocol.MyoUUID(0x0401)), l.chars[protocol.HandleCommand].UUID.String())
	suite.Equal([]string{"aa:bb:cc:dd:ee:ff"}, suite.dev.dialed)
}

func (suite *TransportTestSuite) TestConnectFailures() {
	// GOAL: Verify dial, discovery and layout failures release the connection

	suite.Run("dial error", func() {
		suite.dev.dialErr = errors.New("connection timed out")
		defer func() { suite.dev.dialErr = nil }()

		_, err := suite.transport.Connect(context.Background(), session.DeviceHandle{Address: "aa"})
		suite.ErrorContains(err, "failed to connect")
	})

	suite.Run("profile discovery error", func() {
		suite.client.profile = nil
		defer func() { suite.client.profile = myoProfile() }()

		_, err := suite.transport.Connect(context.Background(), session.DeviceHandle{Address: "aa"})
		suite.ErrorContains(err, "failed to discover profile")
		suite.Equal(1, suite.client.cancelled, "MUST cancel the half-open connection")
	})

	suite.Run("not an armband", func() {
		suite.client.profile = &ble.Profile{Services: []*ble.Service{{
			UUID:            ble.MustParse("180f"),
			Characteristics: []*ble.Characteristic{{UUID: ble.MustParse("2a19")}},
		}}}
		defer func() { suite.client.profile = myoProfile() }()

		_, err := suite.transport.Connect(context.Background(), session.DeviceHandle{Address: "aa"})
		var missing *MissingCharacteristicError
		suite.Require().ErrorAs(err, &missing)
		suite.Contains(missing.Names, "command")
		suite.NotContains(missing.Names, "battery")
	})
}

func (suite *TransportTestSuite) TestReadWrite() {
	// GOAL: Verify reads and writes reach the characteristic behind each handle

	suite.client.reads[uuidKey("2a19")] = []byte{87}
	l := suite.connect()

	b, err := l.Read(context.Background(), protocol.HandleBattery)
	suite.Require().NoError(err)
	suite.Equal([]byte{87}, b)

	cmd := []byte{0x03, 0x01, 0x01}
	suite.Require().NoError(l.Write(context.Background(), protocol.HandleCommand, cmd, true))
	suite.Equal([][]byte{cmd}, suite.client.writes)
	suite.Equal([]bool{false}, suite.client.noRsp, "MUST request a write response")

	_, err = l.Read(context.Background(), protocol.Handle(0x99))
	suite.ErrorContains(err, "not found")
}

func (suite *TransportTestSuite) TestCCCDWritesMapToSubscriptions() {
	// GOAL: Verify CCCD writes become go-ble subscriptions in the requested mode
	//
	// TEST SCENARIO: Notify IMU, indicate classifier, unsubscribe IMU → three client calls

	l := suite.connect()
	ctx := context.Background()

	suite.Require().NoError(l.Write(ctx, protocol.HandleIMU.CCCD(), protocol.SubscribeNotify, true))
	suite.Require().NoError(l.Write(ctx, protocol.HandleClassifier.CCCD(), protocol.SubscribeIndicate, true))
	suite.Require().NoError(l.Write(ctx, protocol.HandleClassifier.CCCD(), protocol.SubscribeIndicate, true), "MUST tolerate a repeated subscribe")
	suite.Require().NoError(l.Write(ctx, protocol.HandleIMU.CCCD(), protocol.Unsubscribe, true))
	suite.Require().NoError(l.Write(ctx, protocol.HandleIMU.CCCD(), protocol.Unsubscribe, true), "MUST tolerate a repeated unsubscribe")

	imu := uuidKey(protocol.MyoUUID(0x0402))
	cls := uuidKey(protocol.MyoUUID(0x0103))
	suite.Equal([]subscribeCall{
		{uuid: imu, indicate: false, on: true},
		{uuid: cls, indicate: true, on: true},
		{uuid: imu, indicate: false, on: false},
	}, suite.client.calls())
	suite.Empty(suite.client.writes, "MUST NOT write CCCD values as plain characteristic writes")

	err := l.Write(ctx, protocol.HandleIMU.CCCD(), []byte{0x05, 0x00}, true)
	suite.ErrorContains(err, "invalid CCCD value")
}

func (suite *TransportTestSuite) TestNotificationsAreQueuedInOrder() {
	// GOAL: Verify notifications keep their order and their own copy of the payload

	l := suite.connect()
	ctx := context.Background()
	suite.Require().NoError(l.Write(ctx, protocol.HandleIMU.CCCD(), protocol.SubscribeNotify, true))
	suite.Require().NoError(l.Write(ctx, protocol.HandleClassifier.CCCD(), protocol.SubscribeIndicate, true))

	buf := []byte{1, 2, 3}
	suite.client.notify(uuidKey(protocol.MyoUUID(0x0402)), buf)
	buf[0] = 9
	suite.client.notify(uuidKey(protocol.MyoUUID(0x0103)), []byte{4})

	first := <-l.Notifications()
	second := <-l.Notifications()
	suite.Equal(protocol.HandleIMU, first.Handle)
	suite.Equal([]byte{1, 2, 3}, first.Payload, "MUST copy the payload")
	suite.False(first.At.IsZero())
	suite.Equal(protocol.HandleClassifier, second.Handle)
}

func (suite *TransportTestSuite) TestFullQueueDropsOldest() {
	// GOAL: Verify a full queue never blocks the BLE callback and keeps the newest notifications
	//
	// TEST SCENARIO: Buffer of 4, six notifications → values 3..6 remain, one warning logged

	l := suite.connect()
	suite.Require().NoError(l.Write(context.Background(), protocol.HandleIMU.CCCD(), protocol.SubscribeNotify, true))

	for i := byte(1); i <= 6; i++ {
		suite.client.notify(uuidKey(protocol.MyoUUID(0x0402)), []byte{i})
	}

	var got []byte
	for i := 0; i < 4; i++ {
		n := <-l.Notifications()
		got = append(got, n.Payload[0])
	}
	suite.Equal([]byte{3, 4, 5, 6}, got)
	suite.EqualValues(2, l.dropped.Load())

	warnings := 0
	for _, e := range suite.hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	suite.Equal(1, warnings, "MUST warn once, not per dropped notification")
}

func (suite *TransportTestSuite) TestDisconnectClosesDone() {
	// GOAL: Verify a peer disconnect closes Done with ErrNotConnected

	l := suite.connect()
	close(suite.client.disconnected)

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		suite.FailNow("Done MUST close on disconnect")
	}
	suite.ErrorIs(l.Err(), ErrNotConnected)
	suite.NoError(l.Close(), "MUST close cleanly after a disconnect")
	suite.ErrorIs(l.Err(), ErrNotConnected, "MUST keep the disconnect cause after Close")
}

func (suite *TransportTestSuite) TestCloseUnsubscribesAndCancels() {
	// GOAL: Verify Close cleans up remaining subscriptions once and reports no error

	l := suite.connect()
	suite.Require().NoError(l.Write(context.Background(), protocol.HandleEMG0.CCCD(), protocol.SubscribeNotify, true))

	suite.Require().NoError(l.Close())
	suite.Require().NoError(l.Close(), "MUST be idempotent")

	calls := suite.client.calls()
	suite.Require().Len(calls, 2)
	suite.False(calls[1].on, "MUST unsubscribe the remaining characteristic")
	suite.Equal(1, suite.client.cancelled)
	suite.Nil(l.Err(), "MUST NOT report an error after Close")

	_, open := <-l.Notifications()
	suite.False(open, "MUST close the notification channel")
	suite.ErrorIs(l.Write(context.Background(), protocol.HandleCommand, []byte{1}, true), ErrLinkClosed)
}

func TestTransportTestSuite(t *testing.T) {
	suite.Run(t, new(TransportTestSuite))
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"powered off", errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), ErrBluetoothOff},
		{"turned off", errors.New("Bluetooth is turned off"), ErrBluetoothOff},
		{"not connected", errors.New("device not connected"), ErrNotConnected},
		{"disconnected", errors.New("peripheral disconnected"), ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NormalizeError(tt.err)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), tt.err.Error(), "MUST keep the original message")
		})
	}

	assert.NoError(t, NormalizeError(nil))
	other := errors.New("boom")
	assert.Same(t, other, NormalizeError(other))
}

func TestAdvertisementMatches(t *testing.T) {
	adv := Advertisement{Address: "AA:BB", Services: []string{"d5060001a904deb947482c7f4a124842"}}

	assert.True(t, adv.Matches(session.Filter{}), "default filter MUST match the control service")
	assert.True(t, adv.Matches(session.Filter{Address: "aa:bb"}))
	assert.False(t, adv.Matches(session.Filter{Address: "cc:dd"}))
	assert.False(t, adv.Matches(session.Filter{ServiceUUID: "180f"}))
	assert.True(t, Advertisement{Services: []string{"0000180f-0000-1000-8000-00805f9b34fb"}}.Matches(session.Filter{ServiceUUID: "180F"}))
}

func TestShortUUID(t *testing.T) {
	assert.Equal(t, "2a19", shortUUID("00002A19-0000-1000-8000-00805F9B34FB"))
	assert.Equal(t, "2a19", shortUUID("2A19"))
	assert.Equal(t, "d5060401a904deb947482c7f4a124842", shortUUID(protocol.MyoUUID(0x0401)))
}

func TestCCCDOwner(t *testing.T) {
	h, ok := cccdOwner(protocol.HandleIMU.CCCD())
	require.True(t, ok)
	assert.Equal(t, protocol.HandleIMU, h)

	_, ok = cccdOwner(protocol.HandleCommand + 1)
	assert.False(t, ok, "command does not notify")
	_, ok = cccdOwner(0)
	assert.False(t, ok)
}
