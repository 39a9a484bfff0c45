// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/flare/pkg/hostclient"
)

var (
	checkTargets []int
	checkWait    time.Duration
	checkJSON    bool
	checkTimeout time.Duration
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Find the receivers in range of a node",
	Long: `Ask every receiver to report in, then list the acknowledgements.

The CHECK receiver command is scheduled first so receivers beacon their state
once it lands; the node is then told to scan. Beacons are collected until the
node reports CHECK_DONE or --wait elapses.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().IntSliceVar(&checkTargets, "targets", nil, "Receiver ids (default all)")
	checkCmd.Flags().DurationVar(&checkWait, "wait", hostclient.DefaultScanDuration+time.Second, "How long to collect acknowledgements")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Print the report as JSON")
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", hostclient.DefaultReplyTimeout, "How long to wait for the node to answer")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	log := cfg.NewLogger()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	client, conn, err := openClient(ctx, checkTimeout, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := client.TriggerCheck(ctx, checkTargets); err != nil {
		return fmt.Errorf("check command failed: %w", err)
	}

	// let the command land before listening
	select {
	case <-time.After(hostclient.CheckCommandDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := client.StartScan(ctx); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	report, err := client.Report(ctx, checkWait)
	if err != nil {
		return err
	}

	if checkJSON {
		return printReportJSON(os.Stdout, report)
	}
	return printReport(os.Stdout, report)
}

func printReportJSON(w io.Writer, report hostclient.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func printReport(w io.Writer, report hostclient.Report) error {
	if len(report.Found) == 0 {
		_, err := fmt.Fprintln(w, "No receivers found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tCMD_ID\tCMD_TYPE\tDELAY_US\tSTATE")
	for _, f := range report.Found {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\n", f.TargetID, f.CommandID, f.CommandType, f.TargetDelay, f.State)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d receiver(s) found\n", len(report.Found))
	return err
}
