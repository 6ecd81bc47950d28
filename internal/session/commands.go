package session

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/myoctl/internal/demux"
	"github.com/srg/myoctl/internal/protocol"
)

// active returns the connection if commands are allowed in the current state
func (c *Controller) active(op string) (*run, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cur == nil || (c.state != Negotiating && c.state != Streaming) {
		return nil, invalidState(op, c.state)
	}
	return c.cur, nil
}

// send encodes cmd and writes it through the single in-flight command slot.
// An invalid command fails before the state check and before any write.
func (c *Controller) send(ctx context.Context, cmd protocol.Command) error {
	b, err := cmd.Encode()
	if err != nil {
		return err
	}
	r, err := c.active(cmd.Opcode().String())
	if err != nil {
		return err
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	return c.write(ctx, r, cmd.Opcode(), b)
}

// write must be called with cmdMu held
func (c *Controller) write(ctx context.Context, r *run, op protocol.Opcode, b []byte) error {
	wctx, cancel := c.commandContext(ctx)
	defer cancel()

	r.log.WithFields(logrus.Fields{"command": op, "bytes": fmt.Sprintf("% x", b)}).Debug("Writing command")
	if err := r.link.Write(wctx, protocol.HandleCommand, b, true); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetMode changes all three streaming modes and remembers them for Resync.
// The mode is recorded before the command slot is released, so a Resync
// waiting for the slot restores this mode and not an older one.
func (c *Controller) SetMode(ctx context.Context, mode protocol.ModeConfiguration) error {
	cmd := protocol.SetMode{Mode: mode}
	b, err := cmd.Encode()
	if err != nil {
		return err
	}
	r, err := c.active(cmd.Opcode().String())
	if err != nil {
		return err
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if err := c.write(ctx, r, cmd.Opcode(), b); err != nil {
		return err
	}
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	return nil
}

// Resync soft-resets the classifier: streaming off with classifier disabled,
// then the last requested mode with the classifier enabled. Both writes hold
// the command slot, so no other command can land in between.
func (c *Controller) Resync(ctx context.Context) error {
	r, err := c.active("resync")
	if err != nil {
		return err
	}

	reset, err := protocol.SetMode{Mode: protocol.ModeConfiguration{
		EMG:        protocol.EMGNone,
		IMU:        protocol.IMUSendData,
		Classifier: protocol.ClassifierDisabled,
	}}.Encode()
	if err != nil {
		return err
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	// read under the command slot, after any SetMode that held it
	c.mu.RLock()
	restore := c.mode.WithClassifier(protocol.ClassifierEnabled)
	c.mu.RUnlock()
	resume, err := protocol.SetMode{Mode: restore}.Encode()
	if err != nil {
		return err
	}

	if err := c.write(ctx, r, protocol.OpSetMode, reset); err != nil {
		return fmt.Errorf("resync: %w", err)
	}
	if err := c.write(ctx, r, protocol.OpSetMode, resume); err != nil {
		return fmt.Errorf("resync: %w", err)
	}

	c.mu.Lock()
	c.mode = restore
	c.mu.Unlock()
	c.resyncs.Inc()
	r.log.WithField("mode", restore).Info("Classifier resynced")
	return nil
}

// Vibrate runs one of the fixed vibration patterns
func (c *Controller) Vibrate(ctx context.Context, t protocol.VibrationType) error {
	return c.send(ctx, protocol.Vibrate{Type: t})
}

// Vibrate2 runs a custom vibration
func (c *Controller) Vibrate2(ctx context.Context, cmd protocol.Vibrate2) error {
	return c.send(ctx, cmd)
}

// SetLEDs sets the logo and status bar colours
func (c *Controller) SetLEDs(ctx context.Context, cmd protocol.SetLEDs) error {
	return c.send(ctx, cmd)
}

// SetSleepMode controls whether the device may sleep
func (c *Controller) SetSleepMode(ctx context.Context, m protocol.SleepMode) error {
	return c.send(ctx, protocol.SetSleepMode{Mode: m})
}

// Unlock locks or unlocks pose reporting
func (c *Controller) Unlock(ctx context.Context, t protocol.UnlockType) error {
	return c.send(ctx, protocol.Unlock{Type: t})
}

// UserAction tells the device a user action was recognised
func (c *Controller) UserAction(ctx context.Context, t protocol.UserActionType) error {
	return c.send(ctx, protocol.UserAction{Type: t})
}

// DeepSleep puts the device into deep sleep. The link drops shortly after.
func (c *Controller) DeepSleep(ctx context.Context) error {
	return c.send(ctx, protocol.DeepSleep{})
}

// warmupColours are cycled by Warmup
var warmupColours = []protocol.RGB{protocol.RGBRed, protocol.RGBGreen, protocol.RGBBlue, protocol.RGBWhite}

// Warmup cycles the LEDs red, green, blue and white with a short vibration
// after each colour, so the wearer can tell the armband is live.
func (c *Controller) Warmup(ctx context.Context) error {
	for i, colour := range warmupColours {
		if i > 0 {
			select {
			case <-time.After(c.opts.WarmupStep):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := c.SetLEDs(ctx, protocol.SetLEDs{Logo: colour, Line: colour}); err != nil {
			return err
		}
		if err := c.Vibrate(ctx, protocol.VibrationShort); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) read(ctx context.Context, op string, h protocol.Handle) ([]byte, error) {
	r, err := c.active(op)
	if err != nil {
		return nil, err
	}
	return c.readFrom(ctx, r, h)
}

func (c *Controller) readFrom(ctx context.Context, r *run, h protocol.Handle) ([]byte, error) {
	rctx, cancel := c.commandContext(ctx)
	defer cancel()
	b, err := r.link.Read(rctx, h)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", h, err)
	}
	return b, nil
}

// Battery reads the battery level in percent
func (c *Controller) Battery(ctx context.Context) (uint8, error) {
	b, err := c.read(ctx, "battery", protocol.HandleBattery)
	if err != nil {
		return 0, err
	}
	return protocol.DecodeBattery(b)
}

// Firmware reads the firmware version
func (c *Controller) Firmware(ctx context.Context) (protocol.FirmwareVersion, error) {
	b, err := c.read(ctx, "firmware", protocol.HandleFirmware)
	if err != nil {
		return protocol.FirmwareVersion{}, err
	}
	return protocol.DecodeFirmware(b)
}

// DeviceName reads the name the device advertises
func (c *Controller) DeviceName(ctx context.Context) (string, error) {
	b, err := c.read(ctx, "device_name", protocol.HandleDeviceName)
	if err != nil {
		return "", err
	}
	return protocol.DecodeDeviceName(b), nil
}

// subscription is one CCCD write of negotiation
type subscription struct {
	handle   protocol.Handle
	indicate bool
}

// subscriptions lists what negotiation enables for mode: IMU, classifier,
// the EMG family selected by the EMG mode, then motion when the IMU mode
// sends events. IMU and classifier are always enabled so Resync and SetMode
// can switch them on later.
func (c *Controller) subscriptions(mode protocol.ModeConfiguration) []subscription {
	var subs []subscription
	add := func(kind demux.Kind, indicate bool) {
		for _, h := range c.demux.Handles(kind) {
			subs = append(subs, subscription{handle: h, indicate: indicate})
		}
	}

	add(demux.KindIMU, false)
	add(demux.KindClassifier, true)
	switch mode.EMG {
	case protocol.EMGSendFiltered:
		add(demux.KindFV, false)
	case protocol.EMGSendEMG, protocol.EMGSendRaw:
		add(demux.KindEMG, false)
	}
	if mode.IMU.SendsEvents() {
		add(demux.KindMotion, true)
	}
	return subs
}

// negotiate reads device information, configures sleep and mode, then subscribes
func (c *Controller) negotiate(ctx context.Context, r *run, mode protocol.ModeConfiguration) error {
	c.readInfo(ctx, r)

	if c.opts.NeverSleep {
		if err := c.send(ctx, protocol.SetSleepMode{Mode: protocol.SleepNever}); err != nil {
			return err
		}
	}
	if err := c.send(ctx, protocol.SetMode{Mode: mode}); err != nil {
		return err
	}

	for _, s := range c.subscriptions(mode) {
		if err := c.subscribe(ctx, r, s); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) subscribe(ctx context.Context, r *run, s subscription) error {
	value := protocol.SubscribeNotify
	if s.indicate {
		value = protocol.SubscribeIndicate
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	wctx, cancel := c.commandContext(ctx)
	defer cancel()
	if err := r.link.Write(wctx, s.handle.CCCD(), value, true); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.handle, err)
	}
	r.subscribed = append(r.subscribed, s.handle)
	r.log.WithFields(logrus.Fields{"handle": s.handle, "indicate": s.indicate}).Debug("Subscribed")
	return nil
}

// readInfo is informational: failures are logged, never fatal
func (c *Controller) readInfo(ctx context.Context, r *run) {
	var info DeviceInfo

	if b, err := c.readFrom(ctx, r, protocol.HandleDeviceName); err != nil {
		r.log.WithError(err).Debug("Could not read device name")
	} else {
		info.Name = protocol.DecodeDeviceName(b)
	}
	if b, err := c.readFrom(ctx, r, protocol.HandleFirmware); err == nil {
		if fw, err := protocol.DecodeFirmware(b); err == nil {
			info.Firmware = &fw
		} else {
			r.log.WithError(err).Debug("Could not decode firmware version")
		}
	} else {
		r.log.WithError(err).Debug("Could not read firmware version")
	}
	if b, err := c.readFrom(ctx, r, protocol.HandleBattery); err == nil {
		if level, err := protocol.DecodeBattery(b); err == nil {
			info.Battery = &level
		}
	} else {
		r.log.WithError(err).Debug("Could not read battery level")
	}

	c.mu.Lock()
	if info.Name == "" {
		info.Name = c.info.Name
	}
	c.info = info
	c.mu.Unlock()

	fields := logrus.Fields{"name": info.Name}
	if info.Firmware != nil {
		fields["firmware"] = info.Firmware.String()
	}
	if info.Battery != nil {
		fields["battery"] = *info.Battery
	}
	r.log.WithFields(fields).Info("Device information")
}
