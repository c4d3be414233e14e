// Package model defines the data structures for autosteer's configuration, profiles, and execution state.
package model

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Project ProjectConfig `yaml:"project"`
	Backend BackendConfig `yaml:"backend"`
	Channel ChannelConfig `yaml:"channel"`
	Poll    PollConfig    `yaml:"poll"`
	Daemon  DaemonConfig  `yaml:"daemon"`
	Logging LoggingConfig `yaml:"logging"`
	Notify  NotifyConfig  `yaml:"notify"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Created     string `yaml:"created"`
}

// BackendConfig points at the remote service that owns profiles, tasks and execution state.
type BackendConfig struct {
	SocketPath      string `yaml:"socket_path"`
	EventSocketPath string `yaml:"event_socket_path"`
	TimeoutSec      int    `yaml:"timeout_sec"`
}

type ChannelConfig struct {
	InitialDelayMs int `yaml:"initial_delay_ms"`
	MaxDelayMs     int `yaml:"max_delay_ms"`
	MaxAttempts    int `yaml:"max_attempts"`
}

type PollConfig struct {
	FastIntervalSec int `yaml:"fast_interval_sec"` // queue, processes, tasks, execution state
	SlowStaleSec    int `yaml:"slow_stale_sec"`    // settings, profiles, templates
	CacheSize       int `yaml:"cache_size"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Backend.TimeoutSec <= 0 {
		c.Backend.TimeoutSec = 30
	}
	if c.Channel.InitialDelayMs <= 0 {
		c.Channel.InitialDelayMs = 1000
	}
	if c.Channel.MaxDelayMs <= 0 {
		c.Channel.MaxDelayMs = 30000
	}
	if c.Channel.MaxAttempts <= 0 {
		c.Channel.MaxAttempts = 5
	}
	if c.Poll.FastIntervalSec <= 0 {
		c.Poll.FastIntervalSec = 5
	}
	if c.Poll.SlowStaleSec <= 0 {
		c.Poll.SlowStaleSec = 300
	}
	if c.Poll.CacheSize <= 0 {
		c.Poll.CacheSize = 512
	}
	if c.Daemon.ShutdownTimeoutSec <= 0 {
		c.Daemon.ShutdownTimeoutSec = 30
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate reports every setting that cannot work. Call after ApplyDefaults.
func (c Config) Validate() error {
	var errs []error
	if c.Backend.SocketPath == "" {
		errs = append(errs, errors.New("backend.socket_path is required"))
	}
	if c.Channel.MaxDelayMs < c.Channel.InitialDelayMs {
		errs = append(errs, fmt.Errorf("channel.max_delay_ms (%d) is below channel.initial_delay_ms (%d)",
			c.Channel.MaxDelayMs, c.Channel.InitialDelayMs))
	}
	if c.Poll.SlowStaleSec < c.Poll.FastIntervalSec {
		errs = append(errs, fmt.Errorf("poll.slow_stale_sec (%d) is below poll.fast_interval_sec (%d)",
			c.Poll.SlowStaleSec, c.Poll.FastIntervalSec))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	return errors.Join(errs...)
}

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}
