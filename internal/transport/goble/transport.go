// Package goble implements the session transport on top of go-ble.
//
// go-ble addresses characteristics by *ble.Characteristic, not by attribute
// handle. Connect resolves the armband's fixed handle layout against the
// discovered profile by UUID, so the same code works on CoreBluetooth, which
// hides raw handles, and on BlueZ/HCI.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/session"
)

// DeviceFactory creates the host ble.Device (can be overridden in tests)
var DeviceFactory = newPlatformDevice

// Options configures the transport
type Options struct {
	ConnectTimeout     time.Duration `default:"30s"`
	NotificationBuffer int           `default:"128"`
}

// Option configures a Transport
type Option func(*Transport)

func WithLogger(logger *logrus.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(t *Transport) { t.opts.ConnectTimeout = d }
}

// WithNotificationBuffer sets how many notifications a link queues before
// it starts dropping the oldest
func WithNotificationBuffer(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.opts.NotificationBuffer = n
		}
	}
}

// Transport discovers and connects armbands through the host Bluetooth adapter.
// The adapter is opened on first use and shared by every scan and connection.
type Transport struct {
	opts   Options
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device
}

var _ session.Transport = (*Transport)(nil)

// New creates a Transport
func New(opts ...Option) *Transport {
	t := &Transport{}
	defaults.SetDefaults(&t.opts)
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logrus.New()
	}
	return t
}

func (t *Transport) device() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev != nil {
		return t.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	t.dev = dev
	return dev, nil
}

// Advertisement is an armband seen during a scan
type Advertisement struct {
	Address     string    `json:"address"`
	Name        string    `json:"name,omitempty"`
	RSSI        int       `json:"rssi"`
	Connectable bool      `json:"connectable"`
	Services    []string  `json:"services,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
}

// Handle converts the advertisement to a session device handle
func (a Advertisement) Handle() session.DeviceHandle {
	return session.DeviceHandle{Address: a.Address, Name: a.Name, RSSI: a.RSSI}
}

func newAdvertisement(adv ble.Advertisement) Advertisement {
	services := make([]string, 0, len(adv.Services()))
	for _, u := range adv.Services() {
		services = append(services, u.String())
	}
	return Advertisement{
		Address:     adv.Addr().String(),
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
		Services:    services,
		LastSeen:    time.Now(),
	}
}

// Matches reports whether the advertisement satisfies f. An address filter
// takes precedence; otherwise the advertised services must include
// f.ServiceUUID, defaulting to the armband control service.
func (a Advertisement) Matches(f session.Filter) bool {
	if f.Address != "" {
		return strings.EqualFold(a.Address, f.Address)
	}
	want := f.ServiceUUID
	if want == "" {
		want = protocol.ServiceUUID
	}
	want = shortUUID(want)
	for _, s := range a.Services {
		if shortUUID(s) == want {
			return true
		}
	}
	return false
}

// Scan reports every matching armband until ctx is done or f.Timeout elapses.
// onNew is called once per address, on first sight. The result is sorted by
// signal strength, strongest first.
func (t *Transport) Scan(ctx context.Context, f session.Filter, onNew func(Advertisement)) ([]Advertisement, error) {
	dev, err := t.device()
	if err != nil {
		return nil, err
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	seen := hashmap.New[string, Advertisement]()
	t.logger.WithField("timeout", f.Timeout).Info("Starting BLE scan...")

	err = dev.Scan(ctx, true, func(a ble.Advertisement) {
		adv := newAdvertisement(a)
		if !adv.Matches(f) {
			return
		}
		if _, existing := seen.GetOrInsert(adv.Address, adv); existing {
			seen.Set(adv.Address, adv)
			return
		}
		t.logger.WithFields(logrus.Fields{
			"address": adv.Address,
			"name":    adv.Name,
			"rssi":    adv.RSSI,
		}).Info("Discovered armband")
		if onNew != nil {
			onNew(adv)
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", NormalizeError(err))
	}

	found := make([]Advertisement, 0, seen.Len())
	seen.Range(func(_ string, adv Advertisement) bool {
		found = append(found, adv)
		return true
	})
	sort.Slice(found, func(i, j int) bool {
		if found[i].RSSI != found[j].RSSI {
			return found[i].RSSI > found[j].RSSI
		}
		return found[i].Address < found[j].Address
	})

	t.logger.WithField("device_count", len(found)).Info("BLE scan completed")
	return found, nil
}

// Discover scans until the first advertisement matching f and returns it.
// The caller bounds discovery through ctx.
func (t *Transport) Discover(ctx context.Context, f session.Filter) (session.DeviceHandle, error) {
	dev, err := t.device()
	if err != nil {
		return session.DeviceHandle{}, err
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu    sync.Mutex
		found *Advertisement
	)
	err = dev.Scan(scanCtx, false, func(a ble.Advertisement) {
		adv := newAdvertisement(a)
		if !adv.Matches(f) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if found == nil {
			found = &adv
			cancel()
		}
	})

	mu.Lock()
	defer mu.Unlock()
	if found != nil {
		t.logger.WithFields(logrus.Fields{
			"address": found.Address,
			"name":    found.Name,
			"rssi":    found.RSSI,
		}).Debug("Matched armband")
		return found.Handle(), nil
	}
	if ctx.Err() != nil {
		return session.DeviceHandle{}, ctx.Err()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return session.DeviceHandle{}, fmt.Errorf("scan failed: %w", NormalizeError(err))
	}
	return session.DeviceHandle{}, fmt.Errorf("%w: scan ended without a match", session.ErrDeviceNotFound)
}

// Connect dials the device and resolves its characteristics.
// The command characteristic is mandatory; other missing characteristics are
// reported when they are used.
func (t *Transport) Connect(ctx context.Context, dev session.DeviceHandle) (session.Link, error) {
	d, err := t.device()
	if err != nil {
		return nil, err
	}

	log := t.logger.WithField("address", dev.Address)
	connCtx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()

	log.Debug("Dialing BLE device...")
	client, err := d.Dial(connCtx, ble.NewAddr(dev.Address))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", dev.Address, NormalizeError(err))
	}

	log.Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			log.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	chars, missing := resolveCharacteristics(profile)
	if _, ok := chars[protocol.HandleCommand]; !ok {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			log.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection")
		}
		return nil, &MissingCharacteristicError{Names: missing}
	}
	if len(missing) > 0 {
		log.WithField("missing", missing).Warn("Device does not expose every known characteristic")
	}

	log.WithFields(logrus.Fields{
		"services":        len(profile.Services),
		"characteristics": len(chars),
	}).Info("Connected")

	return newLink(client, chars, t.opts.NotificationBuffer, log), nil
}

// resolveCharacteristics maps the layout's value handles to the discovered
// characteristics, by UUID. It returns the names of layout entries not found.
func resolveCharacteristics(p *ble.Profile) (map[protocol.Handle]*ble.Characteristic, []string) {
	chars := make(map[protocol.Handle]*ble.Characteristic, len(protocol.Layout))
	if p != nil {
		for _, svc := range p.Services {
			for _, c := range svc.Characteristics {
				if e, ok := protocol.LookupUUID(shortUUID(c.UUID.String())); ok {
					chars[e.Handle] = c
				}
			}
		}
	}

	var missing []string
	for _, e := range protocol.Layout {
		if _, ok := chars[e.Handle]; !ok {
			missing = append(missing, e.Name)
		}
	}
	return chars, missing
}

const sigBaseSuffix = "00001000800000805f9b34fb"

// shortUUID normalizes a UUID string and collapses Bluetooth SIG base UUIDs
// to their 16-bit form
func shortUUID(s string) string {
	s = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}
