// Package config loads the optional YAML configuration file for the upgrade
// tool. A missing file is not an error; every field has a sensible default so
// the tool works out of the box in dom0.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/kennethrrosen/qubes-template-upgrade/pkg/telemetry"
)

// DefaultCommandTimeout bounds a single in-VM command. A full upgrade on a
// slow template can run for well over an hour.
const DefaultCommandTimeout = 2 * time.Hour

// Duration is a time.Duration that unmarshals from YAML strings like "30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds the tool configuration.
type Config struct {
	// LogLevel sets the minimum log level.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// LogFormat selects console or json log output.
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=console json"`

	// StatePath is the SQLite database holding upgrade run history.
	StatePath string `yaml:"state_path"`

	// HistoryDisabled turns off run-history recording entirely.
	HistoryDisabled bool `yaml:"history_disabled"`

	// CommandTimeout bounds each in-VM command.
	CommandTimeout Duration `yaml:"command_timeout"`

	// Tracing configures the optional OpenTelemetry exporter.
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig mirrors telemetry.TracingConfig for the YAML file.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint     string  `yaml:"endpoint" validate:"required_if=Exporter otlp"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:       "info",
		LogFormat:      "console",
		StatePath:      defaultStatePath(),
		CommandTimeout: Duration(DefaultCommandTimeout),
		Tracing: TracingConfig{
			Exporter:     "stdout",
			SamplingRate: 1.0,
		},
	}
}

// Load reads the configuration from path. An empty path means the default
// location; a missing file at the default location yields Default().
// An explicitly named file that does not exist is an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultPath()
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration using struct tags.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// Timeout returns the per-command timeout as a time.Duration.
func (c *Config) Timeout() time.Duration {
	if c.CommandTimeout <= 0 {
		return DefaultCommandTimeout
	}
	return time.Duration(c.CommandTimeout)
}

// Telemetry converts the file configuration into a telemetry.Config.
func (c *Config) Telemetry(version string) *telemetry.Config {
	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = version
	if c.LogLevel != "" {
		tcfg.Logging.Level = c.LogLevel
	}
	if c.LogFormat != "" {
		tcfg.Logging.Format = c.LogFormat
	}
	tcfg.Tracing.Enabled = c.Tracing.Enabled
	if c.Tracing.Exporter != "" {
		tcfg.Tracing.Exporter = c.Tracing.Exporter
	}
	tcfg.Tracing.Endpoint = c.Tracing.Endpoint
	tcfg.Tracing.Insecure = c.Tracing.Insecure
	if c.Tracing.SamplingRate > 0 {
		tcfg.Tracing.SamplingRate = c.Tracing.SamplingRate
	}
	return tcfg
}

// defaultPath is the default config file location.
func defaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "qvm-template-upgrade", "config.yaml")
	}
	return ""
}

// defaultStatePath is the default history database location.
func defaultStatePath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "qvm-template-upgrade", "history.db")
	}
	return "qvm-template-upgrade-history.db"
}
