// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/flare/pkg/hostclient"
)

var (
	sendDelay   time.Duration
	sendPrep    time.Duration
	sendTargets []int
	sendRGB     string
	sendTimeout time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <command>",
	Short: "Schedule a receiver command on a node",
	Long: `Schedule one receiver command on a node.

The command is a name or a code below 16:
  ` + strings.Join(hostclient.CommandNames(), ", ") + `

The node broadcasts it until --delay has elapsed; every receiver that hears
a copy acts at that instant. --targets limits it to the listed receiver ids
(1-63); without it every receiver is addressed.`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().DurationVar(&sendDelay, "delay", 3*time.Second, "Time until the receivers act")
	sendCmd.Flags().DurationVar(&sendPrep, "prep", 0, "Preparation time carried to the receivers")
	sendCmd.Flags().IntSliceVar(&sendTargets, "targets", nil, "Receiver ids (default all)")
	sendCmd.Flags().StringVar(&sendRGB, "rgb", "0,0,0", "Colour payload as r,g,b")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", hostclient.DefaultReplyTimeout, "How long to wait for the node to answer")
}

func runSend(cmd *cobra.Command, args []string) error {
	code, err := hostclient.CommandCode(args[0])
	if err != nil {
		return err
	}
	data, err := parseRGB(sendRGB)
	if err != nil {
		return err
	}
	for _, id := range sendTargets {
		if id < 1 || id > 63 {
			return fmt.Errorf("invalid target %d (must be 1-63)", id)
		}
	}

	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	log := cfg.NewLogger()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	client, conn, err := openClient(ctx, sendTimeout, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	res, err := client.SendTask(ctx, hostclient.Request{
		Command: code,
		Delay:   sendDelay,
		Prep:    sendPrep,
		Targets: sendTargets,
		Data:    data,
	})
	if err != nil {
		return fmt.Errorf("send failed: %w", err)
	}

	fmt.Printf("Scheduled %s: cmd_id=%d cmd_type=%d mask=%x\n",
		args[0], res.CommandID, res.CommandType, res.TargetMask)
	fmt.Printf("Node timing: read=%dus parse=%dus total=%dus\n",
		res.Timing.Read, res.Timing.Parse, res.Timing.Total)
	return nil
}

// openClient opens the host link and starts a client on it
func openClient(ctx context.Context, timeout time.Duration, log *logrus.Logger) (*hostclient.Client, Connection, error) {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return nil, nil, err
	}
	log.WithField("link", connInfo).Debug("Connected to node")

	client := hostclient.New(ctx, conn, hostclient.Config{
		ReplyTimeout: timeout,
		Logger:       log,
	})
	return client, conn, nil
}

// parseRGB parses "r,g,b" with each component 0-255
func parseRGB(s string) ([3]byte, error) {
	var rgb [3]byte
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return rgb, fmt.Errorf("invalid colour %q (want r,g,b)", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return rgb, fmt.Errorf("invalid colour component %q: %w", p, err)
		}
		rgb[i] = byte(v)
	}
	return rgb, nil
}
