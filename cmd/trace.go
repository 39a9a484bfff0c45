// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/flare/internal/hcitrace"
	"github.com/Thermoquad/flare/pkg/hci"
)

var traceDirection string

var traceCmd = &cobra.Command{
	Use:   "trace <file>",
	Short: "Decode an HCI trace recorded by flare run --trace-file",
	Long: `Print every packet of an HCI trace with its offset from the first record.

--direction limits output to commands (cmd) or events (evt).`,
	Args: cobra.ExactArgs(1),
	RunE: runTrace,
}

func init() {
	rootCmd.AddCommand(traceCmd)

	traceCmd.Flags().StringVar(&traceDirection, "direction", "all", "Packets to show (all, cmd, evt)")
}

func runTrace(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open trace: %w", err)
	}
	defer f.Close()

	return printTrace(os.Stdout, f, traceDirection)
}

// printTrace decodes records from r and writes them to w
func printTrace(w io.Writer, r io.Reader, direction string) error {
	var only *hcitrace.Direction
	switch strings.ToLower(direction) {
	case "all", "":
	case "cmd":
		d := hcitrace.DirCommand
		only = &d
	case "evt":
		d := hcitrace.DirEvent
		only = &d
	default:
		return fmt.Errorf("invalid direction %q (must be all, cmd, or evt)", direction)
	}

	tr := hcitrace.NewReader(r)
	var start int64
	count := 0
	for i := 0; ; i++ {
		rec, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if i == 0 {
			start = rec.TimeUS
		}
		if only != nil && rec.Direction != *only {
			continue
		}

		offset := float64(rec.TimeUS-start) / 1000.0
		if _, err := fmt.Fprintf(w, "[+%10.3f ms] %s", offset, hci.FormatPacket(rec.Packet)); err != nil {
			return err
		}
		count++
	}

	_, err := fmt.Fprintf(w, "%d packet(s)\n", count)
	return err
}
