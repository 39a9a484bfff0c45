// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"errors"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/flare/pkg/advpayload"
	"github.com/Thermoquad/flare/pkg/hostclient"
	"github.com/Thermoquad/flare/pkg/lineproto"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display node output as it arrives",
	Long: `Continuously display every line a node writes, timestamped and
classified (ACK_OK, DONE, NAK, FOUND, CHECK_DONE, ...).

Nothing is sent to the node, so this can watch a link another host drives
when the transport allows more than one reader (e.g. a WebSocket bridge).`,
	Args: cobra.NoArgs,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	log := cfg.NewLogger()
	log.SetOutput(os.Stderr)

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Flare - Raw Line Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	return logLines(os.Stdout, conn, log)
}

// logLines prints every line read from r until it closes
func logLines(w io.Writer, r io.Reader, log *logrus.Logger) error {
	lines := lineproto.NewLineBuffer(lineproto.DefaultMaxLength)
	buf := make([]byte, 128)

	for {
		n, err := r.Read(buf)
		for _, c := range buf[:n] {
			switch line, status := lines.Feed(c); status {
			case lineproto.StatusLine:
				fmt.Fprint(w, formatLogLine(time.Now(), hostclient.ParseResponse(line)))
			case lineproto.StatusOverflow:
				fmt.Fprintf(w, "%s [ERROR] line exceeded %d bytes\n",
					time.Now().Format("15:04:05.000"), lineproto.DefaultMaxLength-1)
			}
		}
		if err == nil {
			continue
		}

		if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
			log.Info("Connection closed")
			return nil
		}
		if !transientReadError(r, err) {
			return err
		}
		log.WithError(err).Warn("Read error")
		time.Sleep(10 * time.Millisecond)
	}
}

func formatLogLine(at time.Time, resp hostclient.Response) string {
	detail := ""
	switch resp.Kind {
	case hostclient.RespAckOK:
		detail = fmt.Sprintf(" read=%dus parse=%dus total=%dus", resp.Timing.Read, resp.Timing.Parse, resp.Timing.Total)
	case hostclient.RespFound:
		detail = fmt.Sprintf(" target=%d state=%s", resp.Ack.TargetID, advpayload.StateName(resp.Ack.State))
	}
	return fmt.Sprintf("%s %-15s %s%s\n", at.Format("15:04:05.000"), resp.Kind, resp.Line, detail)
}
