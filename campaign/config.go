// Package campaign orchestrates differential runs: it draws programs from a
// source, fans them out to oracle workers, and on the first failure persists
// the failing program together with a canonical failure report and a
// reproduction bundle.
package campaign

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/lattice-substrate/linediff/dut"
	"github.com/lattice-substrate/linediff/lnerr"
)

// DeviceKind selects the device under test.
type DeviceKind string

const (
	// DeviceModel is the in-process register-level device model.
	DeviceModel DeviceKind = "model"
	// DeviceReference pairs the reference interpreter with itself.
	DeviceReference DeviceKind = "reference"
	// DeviceProcess drives an external simulator over the bus line protocol.
	DeviceProcess DeviceKind = "process"
)

// MaxWorkers bounds Config.Workers.
const MaxWorkers = 256

// DefaultSavePath is where a failing random program is written.
const DefaultSavePath = "test.bin"

// Config is a campaign definition. Zero-valued fields read from a file keep
// their DefaultConfig values.
type Config struct {
	Count         int               `yaml:"count"`
	Seed          uint32            `yaml:"seed"`
	Workers       int               `yaml:"workers"`
	PollBudget    int               `yaml:"poll_budget"`
	Device        DeviceKind        `yaml:"device"`
	DeviceCommand []string          `yaml:"device_command"`
	DeviceEnv     map[string]string `yaml:"device_env"`
	Latency       int               `yaml:"latency"`
	SavePath      string            `yaml:"save_path"`
	ReportPath    string            `yaml:"report_path"`
	BundlePath    string            `yaml:"bundle_path"`
	MetricsPath   string            `yaml:"metrics_path"`
	LogLevel      string            `yaml:"log_level"`
}

// DefaultConfig returns the settings used when no file or flag overrides
// them.
func DefaultConfig() Config {
	return Config{
		Workers:    1,
		PollBudget: dut.DefaultPollBudget,
		Device:     DeviceModel,
		SavePath:   DefaultSavePath,
		LogLevel:   "info",
	}
}

// LoadConfig reads a YAML campaign file over DefaultConfig. Unknown keys are
// rejected.
//
//nolint:gosec // campaign config path is explicit operator input.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, lnerr.Wrap(lnerr.ConfigInvalid, -1, "read config", err)
	}
	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, lnerr.Wrap(lnerr.ConfigInvalid, -1, "decode config yaml", err)
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidateConfig checks ranges and cross-field requirements.
func ValidateConfig(c *Config) error {
	if c == nil {
		return invalid("config is nil")
	}
	if c.Count < 0 {
		return invalid("count must not be negative")
	}
	if c.Workers < 1 || c.Workers > MaxWorkers {
		return invalid(fmt.Sprintf("workers must be between 1 and %d", MaxWorkers))
	}
	if c.PollBudget < 1 {
		return invalid("poll_budget must be positive")
	}
	if c.Latency < 0 {
		return invalid("latency must not be negative")
	}
	switch c.Device {
	case DeviceModel, DeviceReference:
		if len(c.DeviceCommand) != 0 {
			return invalid(fmt.Sprintf("device_command is only valid with device %q", DeviceProcess))
		}
	case DeviceProcess:
		if len(c.DeviceCommand) == 0 || strings.TrimSpace(c.DeviceCommand[0]) == "" {
			return invalid("device_command is required for device \"process\"")
		}
	default:
		return invalid(fmt.Sprintf("unknown device %q", c.Device))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func invalid(msg string) error {
	return lnerr.New(lnerr.ConfigInvalid, -1, msg)
}
