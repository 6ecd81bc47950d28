package protocol

import (
	"encoding/binary"
)

// Opcode identifies a command written to the command characteristic
type Opcode uint8

const (
	OpSetMode      Opcode = 0x01
	OpVibrate      Opcode = 0x03
	OpDeepSleep    Opcode = 0x04
	OpSetLEDs      Opcode = 0x06
	OpVibrate2     Opcode = 0x07
	OpSetSleepMode Opcode = 0x09
	OpUnlock       Opcode = 0x0a
	OpUserAction   Opcode = 0x0b
)

func (o Opcode) String() string {
	switch o {
	case OpSetMode:
		return "set_mode"
	case OpVibrate:
		return "vibrate"
	case OpDeepSleep:
		return "deep_sleep"
	case OpSetLEDs:
		return "set_leds"
	case OpVibrate2:
		return "vibrate2"
	case OpSetSleepMode:
		return "set_sleep_mode"
	case OpUnlock:
		return "unlock"
	case OpUserAction:
		return "user_action"
	default:
		return unknownName(uint64(o))
	}
}

// Subscribe values written to a client characteristic configuration handle
var (
	SubscribeNotify   = []byte{0x01, 0x00}
	SubscribeIndicate = []byte{0x02, 0x00}
	Unsubscribe       = []byte{0x00, 0x00}
)

// Command is a single request for the command characteristic.
// Encode validates every field and returns ErrInvalidCommandArgument
// without producing bytes when a field is out of range.
type Command interface {
	Opcode() Opcode
	Encode() ([]byte, error)
}

// frame prepends the command header: opcode and payload length
func frame(op Opcode, payload ...byte) []byte {
	b := make([]byte, 0, 2+len(payload))
	b = append(b, byte(op), byte(len(payload)))
	return append(b, payload...)
}

// ModeConfiguration is the combined EMG/IMU/classifier mode.
// The device only accepts all three together.
type ModeConfiguration struct {
	EMG        EMGMode        `json:"emg" yaml:"emg"`
	IMU        IMUMode        `json:"imu" yaml:"imu"`
	Classifier ClassifierMode `json:"classifier" yaml:"classifier"`
}

// WithClassifier returns a copy of m with the classifier mode replaced
func (m ModeConfiguration) WithClassifier(c ClassifierMode) ModeConfiguration {
	m.Classifier = c
	return m
}

// SetMode sets EMG, IMU and classifier modes in one request
type SetMode struct {
	Mode ModeConfiguration
}

func (SetMode) Opcode() Opcode { return OpSetMode }

func (c SetMode) Encode() ([]byte, error) {
	switch {
	case !c.Mode.EMG.Known():
		return nil, &InvalidArgumentError{Command: "set_mode", Field: "emg", Value: int(c.Mode.EMG), Reason: "unknown EMG mode"}
	case !c.Mode.IMU.Known():
		return nil, &InvalidArgumentError{Command: "set_mode", Field: "imu", Value: int(c.Mode.IMU), Reason: "unknown IMU mode"}
	case !c.Mode.Classifier.Known():
		return nil, &InvalidArgumentError{Command: "set_mode", Field: "classifier", Value: int(c.Mode.Classifier), Reason: "unknown classifier mode"}
	}
	return frame(OpSetMode, byte(c.Mode.EMG), byte(c.Mode.IMU), byte(c.Mode.Classifier)), nil
}

// DecodeSetMode parses an encoded SetMode command back into its configuration
func DecodeSetMode(b []byte) (ModeConfiguration, error) {
	if err := checkLen("set_mode", b, 5); err != nil {
		return ModeConfiguration{}, err
	}
	if Opcode(b[0]) != OpSetMode || b[1] != 3 {
		return ModeConfiguration{}, &MalformedPayloadError{Kind: "set_mode", Want: 5, Got: len(b), Reason: "bad command header"}
	}
	return ModeConfiguration{EMG: EMGMode(b[2]), IMU: IMUMode(b[3]), Classifier: ClassifierMode(b[4])}, nil
}

// Vibrate runs one of the fixed vibration patterns
type Vibrate struct {
	Type VibrationType
}

func (Vibrate) Opcode() Opcode { return OpVibrate }

func (c Vibrate) Encode() ([]byte, error) {
	if !c.Type.Known() {
		return nil, &InvalidArgumentError{Command: "vibrate", Field: "type", Value: int(c.Type), Reason: "unknown vibration type"}
	}
	return frame(OpVibrate, byte(c.Type)), nil
}

// MaxVibrationSteps is the number of steps a Vibrate2 command carries
const MaxVibrationSteps = 6

// VibrationStep is one step of a custom vibration
type VibrationStep struct {
	DurationMs int `json:"duration_ms"`
	Strength   int `json:"strength"` // 0 disables the motor
}

// Vibrate2 runs a custom vibration of up to six steps
type Vibrate2 struct {
	Steps [MaxVibrationSteps]VibrationStep
}

// NewVibrate2 validates steps and builds a Vibrate2 command.
// Missing trailing steps are left as zero (no vibration).
func NewVibrate2(steps ...VibrationStep) (Vibrate2, error) {
	var c Vibrate2
	if len(steps) == 0 || len(steps) > MaxVibrationSteps {
		return c, &InvalidArgumentError{Command: "vibrate2", Field: "steps", Value: len(steps), Reason: "must be 1 to 6 steps"}
	}
	for i, s := range steps {
		if s.DurationMs < 0 || s.DurationMs > 0xffff {
			return c, &InvalidArgumentError{Command: "vibrate2", Field: "duration_ms", Value: s.DurationMs, Reason: "must be 0-65535"}
		}
		if s.Strength < 0 || s.Strength > 0xff {
			return c, &InvalidArgumentError{Command: "vibrate2", Field: "strength", Value: s.Strength, Reason: "must be 0-255"}
		}
		c.Steps[i] = s
	}
	return c, nil
}

// VibrateFor builds the command for a single vibration of length and strength,
// the "duration plus optional strength" form. A strength below zero means full strength.
func VibrateFor(durationMs, strength int) (Vibrate2, error) {
	if strength < 0 {
		strength = 0xff
	}
	return NewVibrate2(VibrationStep{DurationMs: durationMs, Strength: strength})
}

func (Vibrate2) Opcode() Opcode { return OpVibrate2 }

func (c Vibrate2) Encode() ([]byte, error) {
	payload := make([]byte, 0, 3*MaxVibrationSteps)
	for _, s := range c.Steps {
		if s.DurationMs < 0 || s.DurationMs > 0xffff || s.Strength < 0 || s.Strength > 0xff {
			return nil, &InvalidArgumentError{Command: "vibrate2", Field: "step", Value: s.DurationMs, Reason: "step out of range"}
		}
		payload = binary.LittleEndian.AppendUint16(payload, uint16(s.DurationMs))
		payload = append(payload, byte(s.Strength))
	}
	return frame(OpVibrate2, payload...), nil
}

// RGB is one LED colour
type RGB [3]uint8

// Predefined colours used by the warmup sequence
var (
	RGBRed   = RGB{0xff, 0x00, 0x00}
	RGBGreen = RGB{0x00, 0xff, 0x00}
	RGBBlue  = RGB{0x00, 0x00, 0xff}
	RGBWhite = RGB{0xff, 0xff, 0xff}
	RGBOff   = RGB{0x00, 0x00, 0x00}
)

// SetLEDs sets the logo and status bar colours
type SetLEDs struct {
	Logo RGB
	Line RGB
}

// NewSetLEDs builds a SetLEDs command from three values (same colour for
// logo and line) or six values (logo then line). Every value must be 0-255.
func NewSetLEDs(values ...int) (SetLEDs, error) {
	var c SetLEDs
	if len(values) != 3 && len(values) != 6 {
		return c, &InvalidArgumentError{Command: "set_leds", Field: "values", Value: len(values), Reason: "need 3 or 6 colour components"}
	}
	for i, v := range values {
		if v < 0 || v > 0xff {
			return c, &InvalidArgumentError{Command: "set_leds", Field: ledField(i), Value: v, Reason: "must be 0-255"}
		}
	}
	c.Logo = RGB{uint8(values[0]), uint8(values[1]), uint8(values[2])}
	if len(values) == 6 {
		c.Line = RGB{uint8(values[3]), uint8(values[4]), uint8(values[5])}
	} else {
		c.Line = c.Logo
	}
	return c, nil
}

func ledField(i int) string {
	names := [...]string{"logo_r", "logo_g", "logo_b", "line_r", "line_g", "line_b"}
	return names[i]
}

func (SetLEDs) Opcode() Opcode { return OpSetLEDs }

func (c SetLEDs) Encode() ([]byte, error) {
	return frame(OpSetLEDs, c.Logo[0], c.Logo[1], c.Logo[2], c.Line[0], c.Line[1], c.Line[2]), nil
}

// SetSleepMode controls whether the device may sleep
type SetSleepMode struct {
	Mode SleepMode
}

func (SetSleepMode) Opcode() Opcode { return OpSetSleepMode }

func (c SetSleepMode) Encode() ([]byte, error) {
	if !c.Mode.Known() {
		return nil, &InvalidArgumentError{Command: "set_sleep_mode", Field: "mode", Value: int(c.Mode)}
	}
	return frame(OpSetSleepMode, byte(c.Mode)), nil
}

// Unlock locks or unlocks the classifier pose stream
type Unlock struct {
	Type UnlockType
}

func (Unlock) Opcode() Opcode { return OpUnlock }

func (c Unlock) Encode() ([]byte, error) {
	if !c.Type.Known() {
		return nil, &InvalidArgumentError{Command: "unlock", Field: "type", Value: int(c.Type)}
	}
	return frame(OpUnlock, byte(c.Type)), nil
}

// DeepSleep puts the device into deep sleep. It only wakes up on USB power.
type DeepSleep struct{}

func (DeepSleep) Opcode() Opcode { return OpDeepSleep }

func (DeepSleep) Encode() ([]byte, error) {
	return frame(OpDeepSleep), nil
}

// UserAction notifies the device that a user action was recognised
type UserAction struct {
	Type UserActionType
}

func (UserAction) Opcode() Opcode { return OpUserAction }

func (c UserAction) Encode() ([]byte, error) {
	if c.Type != UserActionSingle {
		return nil, &InvalidArgumentError{Command: "user_action", Field: "type", Value: int(c.Type)}
	}
	return frame(OpUserAction, byte(c.Type)), nil
}
