// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads flare settings from flags, FLARE_* environment
// variables and an optional flare.yaml, and builds the process logger.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Thermoquad/flare/pkg/lineproto"
	"github.com/Thermoquad/flare/pkg/node"
	"github.com/Thermoquad/flare/pkg/tasktable"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "flare"

// Keys
const (
	KeyLogLevel            = "log_level"
	KeyNodeCapacity        = "node.capacity"
	KeyNodeEventBuffer     = "node.event_buffer"
	KeyTimingTxOffset      = "timing.tx_offset"
	KeyTimingHoldWindow    = "timing.hold_window"
	KeyTimingIdleTick      = "timing.idle_tick"
	KeyTimingDataSettle    = "timing.data_settle"
	KeyTimingModeSettle    = "timing.mode_settle"
	KeyTimingBringupSettle = "timing.bringup_settle"
	KeyTimingScanInterval  = "timing.scan_interval"
	KeyTimingScanWindow    = "timing.scan_window"
	KeyTimingCommandWait   = "timing.command_timeout"
	KeyTimingPulseWait     = "timing.pulse_ready_timeout"
	KeyCheckDuration       = "check.duration"
	KeyLineMaxLength       = "line.max_length"
	KeyMetricsAddr         = "metrics.addr"
	KeyTraceFile           = "trace.file"
	KeyControllerKind      = "controller.kind"
	KeyControllerDevice    = "controller.device"
	KeyControllerPort      = "controller.port"
	KeyControllerBaud      = "controller.baud"
	KeyControllerReceivers = "controller.receivers"
)

// Config is the resolved configuration of a node process.
type Config struct {
	LogLevel      logrus.Level
	Capacity      int
	EventBuffer   int
	Timing        node.Timing
	LineMaxLength int
	MetricsAddr   string
	TraceFile     string
	Controller    ControllerConfig
}

// ControllerConfig selects the controller transport.
type ControllerConfig struct {
	Kind      string
	Device    int
	Port      string
	Baud      int
	Receivers int
}

// New creates a viper instance with defaults, environment overrides and,
// when configFile is set, that file. Without configFile a flare.yaml in the
// working directory or /etc/flare is read if present.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
		return v, nil
	}

	v.SetConfigName("flare")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/flare")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	t := node.DefaultTiming()

	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyNodeCapacity, tasktable.DefaultCapacity)
	v.SetDefault(KeyNodeEventBuffer, node.DefaultEventBuffer)
	v.SetDefault(KeyTimingTxOffset, t.TxOffset)
	v.SetDefault(KeyTimingHoldWindow, t.HoldWindow)
	v.SetDefault(KeyTimingIdleTick, t.IdleTick)
	v.SetDefault(KeyTimingDataSettle, t.DataSettle)
	v.SetDefault(KeyTimingModeSettle, t.ModeSettle)
	v.SetDefault(KeyTimingBringupSettle, t.BringupSettle)
	v.SetDefault(KeyTimingScanInterval, t.ScanInterval)
	v.SetDefault(KeyTimingScanWindow, t.ScanWindow)
	v.SetDefault(KeyTimingCommandWait, t.CommandTimeout)
	v.SetDefault(KeyTimingPulseWait, t.PulseReadyTimeout)
	v.SetDefault(KeyCheckDuration, t.CheckDuration)
	v.SetDefault(KeyLineMaxLength, lineproto.DefaultMaxLength)
	v.SetDefault(KeyMetricsAddr, "")
	v.SetDefault(KeyTraceFile, "")
	v.SetDefault(KeyControllerKind, "socket")
	v.SetDefault(KeyControllerDevice, 0)
	v.SetDefault(KeyControllerPort, "")
	v.SetDefault(KeyControllerBaud, 115200)
	v.SetDefault(KeyControllerReceivers, 4)
}

// BindFlags binds config keys to flags by flag name. Flags only override
// the other sources when set on the command line.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, bindings map[string]string) error {
	for key, name := range bindings {
		f := flags.Lookup(name)
		if f == nil {
			return fmt.Errorf("no flag %q for key %s", name, key)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// Load resolves and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	level, err := ParseLevel(v.GetString(KeyLogLevel))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		LogLevel:    level,
		Capacity:    v.GetInt(KeyNodeCapacity),
		EventBuffer: v.GetInt(KeyNodeEventBuffer),
		Timing: node.Timing{
			TxOffset:      v.GetDuration(KeyTimingTxOffset),
			HoldWindow:    v.GetDuration(KeyTimingHoldWindow),
			IdleTick:      v.GetDuration(KeyTimingIdleTick),
			DataSettle:    v.GetDuration(KeyTimingDataSettle),
			ModeSettle:    v.GetDuration(KeyTimingModeSettle),
			BringupSettle: v.GetDuration(KeyTimingBringupSettle),
			ScanInterval:  v.GetDuration(KeyTimingScanInterval),
			ScanWindow:    v.GetDuration(KeyTimingScanWindow),
			CheckDuration: v.GetDuration(KeyCheckDuration),

			CommandTimeout:    v.GetDuration(KeyTimingCommandWait),
			PulseReadyTimeout: v.GetDuration(KeyTimingPulseWait),
		},
		LineMaxLength: v.GetInt(KeyLineMaxLength),
		MetricsAddr:   v.GetString(KeyMetricsAddr),
		TraceFile:     v.GetString(KeyTraceFile),
		Controller: ControllerConfig{
			Kind:      v.GetString(KeyControllerKind),
			Device:    v.GetInt(KeyControllerDevice),
			Port:      v.GetString(KeyControllerPort),
			Baud:      v.GetInt(KeyControllerBaud),
			Receivers: v.GetInt(KeyControllerReceivers),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that would leave the node unable to run
func (c *Config) Validate() error {
	if c.Capacity < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", KeyNodeCapacity, c.Capacity)
	}
	if c.EventBuffer < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", KeyNodeEventBuffer, c.EventBuffer)
	}
	if c.LineMaxLength < 2 {
		return fmt.Errorf("%s must be at least 2, got %d", KeyLineMaxLength, c.LineMaxLength)
	}

	durations := map[string]time.Duration{
		KeyTimingTxOffset:      c.Timing.TxOffset,
		KeyTimingHoldWindow:    c.Timing.HoldWindow,
		KeyTimingIdleTick:      c.Timing.IdleTick,
		KeyTimingDataSettle:    c.Timing.DataSettle,
		KeyTimingModeSettle:    c.Timing.ModeSettle,
		KeyTimingBringupSettle: c.Timing.BringupSettle,
		KeyCheckDuration:       c.Timing.CheckDuration,
		KeyTimingCommandWait:   c.Timing.CommandTimeout,
		KeyTimingPulseWait:     c.Timing.PulseReadyTimeout,
	}
	for key, d := range durations {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", key, d)
		}
	}
	if c.Timing.ScanWindow > c.Timing.ScanInterval {
		return fmt.Errorf("%s (%s) exceeds %s (%s)",
			KeyTimingScanWindow, c.Timing.ScanWindow, KeyTimingScanInterval, c.Timing.ScanInterval)
	}
	return nil
}

// ParseLevel parses a log level name
func ParseLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return logrus.DebugLevel, nil
	case "info", "":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	return NewLogger(c.LogLevel)
}

// NewLogger creates a logger at level with the text formatter used across
// flare commands.
func NewLogger(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}
