package goble

import (
	"context"
	"errors"
	"sync"

	"github.com/go-ble/ble"
	"github.com/srg/myoctl/internal/protocol"
)

// fakeAdv overrides the advertisement fields the transport reads
type fakeAdv struct {
	ble.Advertisement
	name     string
	addr     string
	rssi     int
	services []ble.UUID
}

func (a *fakeAdv) LocalName() string    { return a.name }
func (a *fakeAdv) Addr() ble.Addr       { return ble.NewAddr(a.addr) }
func (a *fakeAdv) RSSI() int            { return a.rssi }
func (a *fakeAdv) Connectable() bool    { return true }
func (a *fakeAdv) Services() []ble.UUID { return a.services }

func myoAdv(addr string, rssi int) *fakeAdv {
	return &fakeAdv{name: "Myo", addr: addr, rssi: rssi, services: []ble.UUID{ble.MustParse(testServiceUUID)}}
}

const testServiceUUID = "d5060001-a904-deb9-4748-2c7f4a124842"

// fakeDevice replays advertisements, then scans until cancelled
type fakeDevice struct {
	ble.Device
	advs    []ble.Advertisement
	scanErr error
	client  *fakeClient
	dialErr error
	dialed  []string
}

func (d *fakeDevice) Scan(ctx context.Context, _ bool, h ble.AdvHandler) error {
	if d.scanErr != nil {
		return d.scanErr
	}
	for _, a := range d.advs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h(a)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (d *fakeDevice) Dial(_ context.Context, a ble.Addr) (ble.Client, error) {
	d.dialed = append(d.dialed, a.String())
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.client, nil
}

type subscribeCall struct {
	uuid     string
	indicate bool
	on       bool
}

// fakeClient records go-ble client calls
type fakeClient struct {
	ble.Client
	profile *ble.Profile

	mu        sync.Mutex
	reads     map[string][]byte
	writes    [][]byte
	noRsp     []bool
	subCalls  []subscribeCall
	handlers  map[string]ble.NotificationHandler
	cancelled int
	subErr    error

	disconnected chan struct{}
}

func newFakeClient(p *ble.Profile) *fakeClient {
	return &fakeClient{
		profile:      p,
		reads:        make(map[string][]byte),
		handlers:     make(map[string]ble.NotificationHandler),
		disconnected: make(chan struct{}),
	}
}

func (c *fakeClient) DiscoverProfile(bool) (*ble.Profile, error) {
	if c.profile == nil {
		return nil, errors.New("discovery failed")
	}
	return c.profile, nil
}

func (c *fakeClient) ReadCharacteristic(ch *ble.Characteristic) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.reads[ch.UUID.String()]
	if !ok {
		return nil, errors.New("read not permitted")
	}
	return b, nil
}

func (c *fakeClient) WriteCharacteristic(_ *ble.Characteristic, value []byte, noRsp bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), value...))
	c.noRsp = append(c.noRsp, noRsp)
	return nil
}

func (c *fakeClient) Subscribe(ch *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subErr != nil {
		return c.subErr
	}
	c.subCalls = append(c.subCalls, subscribeCall{uuid: ch.UUID.String(), indicate: ind, on: true})
	c.handlers[ch.UUID.String()] = h
	return nil
}

func (c *fakeClient) Unsubscribe(ch *ble.Characteristic, ind bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subCalls = append(c.subCalls, subscribeCall{uuid: ch.UUID.String(), indicate: ind, on: false})
	delete(c.handlers, ch.UUID.String())
	return nil
}

func (c *fakeClient) CancelConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled++
	return nil
}

func (c *fakeClient) Disconnected() <-chan struct{} {
	return c.disconnected
}

func (c *fakeClient) notify(uuid string, data []byte) {
	c.mu.Lock()
	h := c.handlers[uuid]
	c.mu.Unlock()
	if h != nil {
		h(data)
	}
}

func (c *fakeClient) calls() []subscribeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]subscribeCall(nil), c.subCalls...)
}

// myoProfile builds a profile with every layout characteristic, as CoreBluetooth
// reports it: no attribute handles.
func myoProfile() *ble.Profile {
	services := map[string]*ble.Service{}
	var order []string
	for _, e := range protocol.Layout {
		svc, ok := services[e.Service]
		if !ok {
			svc = &ble.Service{UUID: ble.MustParse(e.Service)}
			services[e.Service] = svc
			order = append(order, e.Service)
		}
		svc.Characteristics = append(svc.Characteristics, &ble.Characteristic{UUID: ble.MustParse(e.UUID)})
	}
	p := &ble.Profile{}
	for _, s := range order {
		p.Services = append(p.Services, services[s])
	}
	return p
}
