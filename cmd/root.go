// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/flare/internal/config"
)

var (
	// Host link flags
	portName string
	baudRate int

	// WebSocket link flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "flare",
	Short: "Synchronised BLE broadcast node and host tools",
	Long: `Flare - schedules timed BLE advertising broadcasts to groups of receivers.

A node (flare run) drives a Bluetooth controller over HCI and takes tasks from
a host over a line-oriented serial protocol. Each task is broadcast repeatedly
with the remaining delay until its deadline, so every receiver that hears any
copy acts at the same instant. On CHECK the node scans for receiver
acknowledgement beacons and reports them as FOUND lines.

The host commands (send, check, monitor) talk to a node over its host link.

Host link:
  Serial:    --port /dev/ttyACM0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the FLARE_PASSWORD
environment variable, or prompted interactively if not set.

Every node setting can also come from flare.yaml (working directory or
/etc/flare), --config, or FLARE_* environment variables.`,
	Version:      "1.0.0",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port of the host link")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default flare.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig resolves configuration for cmd. bindings maps config keys to
// the names of cmd's flags; --log-level is always bound.
func loadConfig(cmd *cobra.Command, bindings map[string]string) (*config.Config, error) {
	v, err := config.New(configFile)
	if err != nil {
		return nil, err
	}

	all := map[string]string{config.KeyLogLevel: "log-level"}
	for key, name := range bindings {
		all[key] = name
	}
	if err := config.BindFlags(v, cmd.Flags(), all); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	return config.Load(v)
}
