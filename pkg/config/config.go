package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/myoctl/internal/protocol"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" json:"log_level" default:"info"`

	// Connection
	Address        string        `yaml:"address" json:"address"` // empty connects to the first armband found
	ScanTimeout    time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" default:"30s"`
	CommandTimeout time.Duration `yaml:"command_timeout" json:"command_timeout" default:"5s"`

	// Streaming
	EMGMode            string `yaml:"emg_mode" json:"emg_mode" default:"emg"`
	IMUMode            string `yaml:"imu_mode" json:"imu_mode" default:"all"`
	Classifier         bool   `yaml:"classifier" json:"classifier" default:"true"`
	NeverSleep         bool   `yaml:"never_sleep" json:"never_sleep" default:"true"`
	ResyncAfter        int    `yaml:"resync_after" json:"resync_after" default:"3"`
	ClearOnSyncFailed  bool   `yaml:"clear_on_sync_failed" json:"clear_on_sync_failed"`
	NotificationBuffer int    `yaml:"notification_buffer" json:"notification_buffer" default:"128"`

	// Recording
	RecordDir     string        `yaml:"record_dir" json:"record_dir" default:"./emg_data"`
	RecordBuffer  int           `yaml:"record_buffer" json:"record_buffer" default:"65536"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval" default:"500ms"`

	HTTPAddr string `yaml:"http_addr" json:"http_addr" default:":9099"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML configuration file over the defaults.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that cannot be expressed by the field types
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Mode(); err != nil {
		errs = append(errs, err)
	}
	if c.ResyncAfter < 0 {
		errs = append(errs, fmt.Errorf("resync_after must be >= 0, got %d", c.ResyncAfter))
	}
	if c.NotificationBuffer <= 0 {
		errs = append(errs, fmt.Errorf("notification_buffer must be > 0, got %d", c.NotificationBuffer))
	}
	if c.RecordBuffer <= 0 {
		errs = append(errs, fmt.Errorf("record_buffer must be > 0, got %d", c.RecordBuffer))
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("flush_interval must be > 0, got %s", c.FlushInterval))
	}
	return errors.Join(errs...)
}

// Level parses LogLevel
func (c *Config) Level() (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

// Mode builds the device mode from the streaming settings
func (c *Config) Mode() (protocol.ModeConfiguration, error) {
	emg, err := protocol.ParseEMGMode(c.EMGMode)
	if err != nil {
		return protocol.ModeConfiguration{}, err
	}
	imu, err := protocol.ParseIMUMode(c.IMUMode)
	if err != nil {
		return protocol.ModeConfiguration{}, err
	}
	mode := protocol.ModeConfiguration{EMG: emg, IMU: imu, Classifier: protocol.ClassifierDisabled}
	if c.Classifier {
		mode.Classifier = protocol.ClassifierEnabled
	}
	return mode, nil
}

// NewLogger creates a configured logger instance.
// An unparsable LogLevel falls back to info.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	lvl, _ := c.Level()
	logger.SetLevel(lvl)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
