// Package config provides configuration loading and validation for the
// moshrelay host binary.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete host configuration.
type Config struct {
	Session SessionConfig `yaml:"session"`
	Listen  ListenConfig  `yaml:"listen"`
	Peer    PeerConfig    `yaml:"peer"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// SessionConfig holds the carrier's own construction parameters.
type SessionConfig struct {
	// Key is the pre-shared key: 16 raw bytes or a 22-char URL-safe
	// base64-no-pad string, per the host-facing key format.
	Key string `yaml:"key"`

	// MTU overrides the default network MTU (500). 0 selects the default.
	MTU int `yaml:"mtu"`

	// HeartbeatIntervalMs overrides the default heartbeat interval
	// (3000ms). 0 selects the default.
	HeartbeatIntervalMs int `yaml:"heartbeat_interval_ms"`

	// StaleTimeout is how long without inbound traffic before serve treats
	// the session as stale and starts probing the peer over ICMP, logging
	// the result. The session is not torn down on staleness.
	StaleTimeout time.Duration `yaml:"stale_timeout"`
}

// ListenConfig is the local UDP bind address.
type ListenConfig struct {
	Address string `yaml:"address"`
}

// PeerConfig is the remote UDP address this session talks to.
type PeerConfig struct {
	Address string `yaml:"address"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			StaleTimeout: 60 * time.Second,
		},
		Listen: ListenConfig{
			Address: "0.0.0.0:60001",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9090",
		},
	}
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, applying defaults first so
// unset fields keep their default value.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Save writes the config back out as YAML, for `moshrelay init`.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks the configuration for errors, collecting every failure
// rather than stopping at the first.
func (c *Config) Validate() error {
	var errs []error

	if c.Session.Key == "" {
		errs = append(errs, errors.New("session.key is required"))
	}
	if c.Session.MTU < 0 {
		errs = append(errs, errors.New("session.mtu must not be negative"))
	}
	if c.Session.HeartbeatIntervalMs < 0 {
		errs = append(errs, errors.New("session.heartbeat_interval_ms must not be negative"))
	}
	if c.Listen.Address == "" {
		errs = append(errs, errors.New("listen.address is required"))
	}
	if !isValidLogLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level))
	}
	if !isValidLogFormat(c.Logging.Format) {
		errs = append(errs, fmt.Errorf("invalid logging.format: %s (must be text or json)", c.Logging.Format))
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, errors.New("metrics.address is required when metrics.enabled is true"))
	}

	return errors.Join(errs...)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}
