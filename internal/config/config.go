// Package config loads the small set of ambient knobs a colugo node needs:
// the server port range, request/reply timeouts, the mDNS query timeout,
// and the log level. Everything else about a node (its topics, its
// endpoints) is wired up in code, not configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the loaded, validated node configuration.
//
// Only LogLevel is read by a node today. The port range and the three
// timeouts are loaded and validated but not passed on: wiresocket and
// endpoint use fixed constants equal to Default()'s values, and discovery
// issues no separate mDNS lookup for MDNSQueryTimeout to bound.
type Config struct {
	// PortRangeLow and PortRangeHigh describe the server bind port range.
	// Defaults to [10001, 20000], the range wiresocket binds in.
	PortRangeLow  int `yaml:"port_range_low"`
	PortRangeHigh int `yaml:"port_range_high"`

	// RequestSendTimeout describes the REQ socket's finite send timeout.
	RequestSendTimeout time.Duration `yaml:"request_send_timeout"`

	// DefaultReplyTimeout describes the RequestClient.Send timeout used
	// when the caller doesn't specify one.
	DefaultReplyTimeout time.Duration `yaml:"default_reply_timeout"`

	// MDNSQueryTimeout describes a bound on a synchronous mDNS service
	// lookup.
	MDNSQueryTimeout time.Duration `yaml:"mdns_query_timeout"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`
}

// ErrInvalidPortRange is returned when the configured port range is out of
// bounds or empty.
var ErrInvalidPortRange = fmt.Errorf("invalid port range")

// Default returns the configuration a node uses when none is supplied.
func Default() *Config {
	return &Config{
		PortRangeLow:        10001,
		PortRangeHigh:       20000,
		RequestSendTimeout:  1000 * time.Millisecond,
		DefaultReplyTimeout: 2000 * time.Millisecond,
		MDNSQueryTimeout:    1000 * time.Millisecond,
		LogLevel:            "info",
	}
}

// Load reads a YAML config file, filling any unset fields from Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse YAML in %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration's internal consistency.
func (c *Config) Validate() error {
	if c.PortRangeLow < 1 || c.PortRangeHigh > 65535 || c.PortRangeLow >= c.PortRangeHigh {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidPortRange, c.PortRangeLow, c.PortRangeHigh)
	}
	if c.RequestSendTimeout <= 0 {
		return fmt.Errorf("request_send_timeout must be positive, got %s", c.RequestSendTimeout)
	}
	if c.DefaultReplyTimeout <= 0 {
		return fmt.Errorf("default_reply_timeout must be positive, got %s", c.DefaultReplyTimeout)
	}
	if c.MDNSQueryTimeout <= 0 {
		return fmt.Errorf("mdns_query_timeout must be positive, got %s", c.MDNSQueryTimeout)
	}
	return nil
}

// SlogLevel maps LogLevel to a slog.Level, defaulting to Info on an
// unrecognized value.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
