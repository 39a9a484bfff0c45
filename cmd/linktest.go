// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/flare/pkg/hostclient"
	"github.com/Thermoquad/flare/pkg/lineproto"
)

// linkPing is never a valid request, so the node must answer NAK:ParseError
const linkPing = "PING"

var linkTestTimeout int

var linkTestCmd = &cobra.Command{
	Use:   "link_test",
	Short: "Test the host link by probing the node",
	Long: `Send a line the node cannot parse and wait for its NAK:ParseError.

Nothing is scheduled; the reply only proves that the node is running and that
lines reach it in both directions.

Exit codes:
  0 - Node answered before timeout
  1 - Timeout reached without an answer
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runLinkTest,
}

func init() {
	rootCmd.AddCommand(linkTestCmd)
	linkTestCmd.Flags().IntVar(&linkTestTimeout, "timeout", 5, "Timeout in seconds to wait for the answer")
}

func runLinkTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Flare - Link Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n\n", linkTestTimeout)

	start := time.Now()
	err = pingLink(conn, time.Duration(linkTestTimeout)*time.Second)
	switch {
	case err == nil:
		fmt.Printf("SUCCESS: node answered in %s\n", time.Since(start).Round(time.Microsecond))
		os.Exit(0)
	case errors.Is(err, hostclient.ErrTimeout):
		fmt.Fprintf(os.Stderr, "TIMEOUT: no answer within %d seconds\n", linkTestTimeout)
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "Link error: %v\n", err)
		os.Exit(2)
	}
	return nil
}

// pingLink writes the ping and waits for the node's parse error. Other
// lines (beacons, replies to another host) are skipped.
func pingLink(rw io.ReadWriter, timeout time.Duration) error {
	if _, err := io.WriteString(rw, linkPing+"\n"); err != nil {
		return err
	}

	answered := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(rw)
		for scanner.Scan() {
			resp := hostclient.ParseResponse(scanner.Text())
			if resp.Kind == hostclient.RespNak && resp.Line == lineproto.ReplyParseError {
				answered <- nil
				return
			}
		}
		if err := scanner.Err(); err != nil {
			answered <- err
			return
		}
		answered <- hostclient.ErrClosed
	}()

	select {
	case err := <-answered:
		return err
	case <-time.After(timeout):
		return hostclient.ErrTimeout
	}
}
