// Package config loads the optional JSON configuration file for the reader.
//
// Every field is optional. Fields omitted from the file return their default
// from the matching Get* method, so partial configs are safe. Command-line
// flags take precedence over file values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/thermocouple/internal/buspirate"
	"github.com/banshee-data/thermocouple/internal/units"
)

// maxFileSize caps the config file at 1 MiB.
const maxFileSize = 1 * 1024 * 1024

// Defaults applied by the Get* accessors.
const (
	DefaultPort            = "/dev/ttyUSB0"
	DefaultBaudRate        = 115200
	DefaultReadTimeout     = 50 * time.Millisecond
	DefaultStepTimeout     = 2 * time.Second
	DefaultTransferTimeout = time.Second
	DefaultSettleDelay     = buspirate.MinSettleDelay
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultWindow          = 32
)

// Config is the root of the configuration file.
type Config struct {
	// Serial transport
	Port        *string `json:"port,omitempty"`
	BaudRate    *int    `json:"baud_rate,omitempty"`
	ReadTimeout *string `json:"read_timeout,omitempty"` // duration string like "50ms"

	// Adapter session
	StepTimeout     *string `json:"step_timeout,omitempty"`
	TransferTimeout *string `json:"transfer_timeout,omitempty"`
	SettleDelay     *string `json:"settle_delay,omitempty"`
	PowerOffOnClose *bool   `json:"power_off_on_close,omitempty"`

	// Polling
	PollInterval *string `json:"poll_interval,omitempty"`
	Window       *int    `json:"window,omitempty"`
	CheckFaults  *bool   `json:"check_faults,omitempty"`
	Units        *string `json:"units,omitempty"` // c, f or k

	// Debug server; empty disables it
	Listen  *string `json:"listen,omitempty"`
	Verbose *bool   `json:"verbose,omitempty"`
	LogFile *string `json:"log_file,omitempty"` // rotated log file; empty logs to stderr
}

// Load reads a Config from a JSON file. The file must have a .json extension
// and be under 1 MiB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the values which are set are usable.
func (c *Config) Validate() error {
	durations := []struct {
		name string
		v    *string
		min  time.Duration
	}{
		{"read_timeout", c.ReadTimeout, 0},
		{"step_timeout", c.StepTimeout, 0},
		{"transfer_timeout", c.TransferTimeout, 0},
		{"settle_delay", c.SettleDelay, buspirate.MinSettleDelay},
		{"poll_interval", c.PollInterval, 0},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		v, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, v)
		}
		if v < d.min {
			return fmt.Errorf("%s must be at least %s, got %s", d.name, d.min, v)
		}
	}

	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	if c.Window != nil && *c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %d", *c.Window)
	}
	if c.Units != nil && !units.IsValid(*c.Units) {
		return fmt.Errorf("invalid units %q: expected one of %s", *c.Units, units.GetValidUnitsString())
	}
	if c.Port != nil && *c.Port == "" {
		return fmt.Errorf("port must not be empty")
	}
	return nil
}

func duration(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetPort returns the serial device path or the default.
func (c *Config) GetPort() string {
	if c.Port == nil {
		return DefaultPort
	}
	return *c.Port
}

// GetBaudRate returns the baud_rate value or the default.
func (c *Config) GetBaudRate() int {
	if c.BaudRate == nil {
		return DefaultBaudRate
	}
	return *c.BaudRate
}

// GetReadTimeout returns the serial read timeout.
func (c *Config) GetReadTimeout() time.Duration {
	return duration(c.ReadTimeout, DefaultReadTimeout)
}

// GetStepTimeout returns the per-prompt timeout used while configuring.
func (c *Config) GetStepTimeout() time.Duration {
	return duration(c.StepTimeout, DefaultStepTimeout)
}

// GetTransferTimeout returns the timeout for one raw read.
func (c *Config) GetTransferTimeout() time.Duration {
	return duration(c.TransferTimeout, DefaultTransferTimeout)
}

// GetSettleDelay returns the post power-on delay.
func (c *Config) GetSettleDelay() time.Duration {
	return duration(c.SettleDelay, DefaultSettleDelay)
}

// GetPowerOffOnClose returns the power_off_on_close value or the default.
func (c *Config) GetPowerOffOnClose() bool {
	if c.PowerOffOnClose == nil {
		return false // default: leave the supplies as they were
	}
	return *c.PowerOffOnClose
}

// GetPollInterval returns the delay between readings.
func (c *Config) GetPollInterval() time.Duration {
	return duration(c.PollInterval, DefaultPollInterval)
}

// GetWindow returns the number of readings summarised.
func (c *Config) GetWindow() int {
	if c.Window == nil {
		return DefaultWindow
	}
	return *c.Window
}

// GetCheckFaults returns the check_faults value or the default.
func (c *Config) GetCheckFaults() bool {
	if c.CheckFaults == nil {
		return false
	}
	return *c.CheckFaults
}

// GetUnits returns the output temperature unit.
func (c *Config) GetUnits() string {
	if c.Units == nil {
		return units.Celsius
	}
	return *c.Units
}

// GetListen returns the debug server address; empty means disabled.
func (c *Config) GetListen() string {
	if c.Listen == nil {
		return ""
	}
	return *c.Listen
}

// GetVerbose returns the verbose value or the default.
func (c *Config) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}

// GetLogFile returns the log file path; empty means stderr.
func (c *Config) GetLogFile() string {
	if c.LogFile == nil {
		return ""
	}
	return *c.LogFile
}
