// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/flare/pkg/hostclient"
	"github.com/Thermoquad/flare/pkg/lineproto"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive console for a node",
	Long: `Talk to a flare node through an interactive terminal UI.

Lines typed into the input are sent to the node as-is, so both task lines
and CHECK can be issued by hand. Replies are shown in the event log and every
FOUND beacon updates the receiver list.

Features:
  - Raw line input (Enter sends, Ctrl+K sends CHECK)
  - Receiver list built from acknowledgement beacons
  - Reply statistics and last ACK timing
  - Automatic reconnection on connection loss

Tab switches between the input and the receiver list.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

const (
	monitorBatchInterval = 50 * time.Millisecond
	monitorQueueSize     = 100
	reconnectMinBackoff  = time.Second
	reconnectMaxBackoff  = 30 * time.Second
)

// connectionManager owns the host link of the monitor and replaces it after
// a loss. The link options are resolved once, so a reconnect never prompts.
type connectionManager struct {
	mu   sync.RWMutex
	conn Connection

	p    *tea.Program
	done chan struct{}
	open func() (Connection, error)
}

func (cm *connectionManager) getConn() Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.conn
}

func (cm *connectionManager) setConn(conn Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conn = conn
}

// sendLine writes one protocol line to the node
func (cm *connectionManager) sendLine(line string) error {
	conn := cm.getConn()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	_, err := io.WriteString(conn, line+"\n")
	return err
}

func runMonitor(cmd *cobra.Command, args []string) error {
	opts, err := resolveLink()
	if err != nil {
		return err
	}
	conn, err := OpenLink(opts)
	if err != nil {
		return err
	}

	cm := &connectionManager{
		conn: conn,
		done: make(chan struct{}),
		open: func() (Connection, error) { return OpenLink(opts) },
	}

	p := tea.NewProgram(initialMonitorModel(cm, opts.String()), tea.WithAltScreen())
	cm.p = p

	go cm.readerLoop(opts.String())

	_, err = p.Run()
	close(cm.done)
	if conn := cm.getConn(); conn != nil {
		conn.Close()
	}
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// readerLoop forwards node lines to the TUI, reconnecting whenever the link
// is lost, until the monitor shuts down
func (cm *connectionManager) readerLoop(connInfo string) {
	for cm.forward() {
		cm.p.Send(connectionLostMsg{})
		if !cm.reconnect() {
			return
		}
		cm.p.Send(reconnectedMsg{connInfo: connInfo})
	}
}

// forward reads the current link until it fails, sending what it reads to
// the TUI in batches. Returns true if the link was lost, false on shutdown.
func (cm *connectionManager) forward() bool {
	conn := cm.getConn()
	lines := make(chan monitorLineMsg, monitorQueueSize)
	readErr := make(chan error, 1)
	go func() { readErr <- readLines(conn, lines, cm.done) }()

	ticker := time.NewTicker(monitorBatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cm.done:
			return false
		case <-ticker.C:
			cm.flush(lines)
		case <-readErr:
			cm.flush(lines)
			select {
			case <-cm.done:
				return false
			default:
				return true
			}
		}
	}
}

// flush sends every queued line as one batch
func (cm *connectionManager) flush(lines <-chan monitorLineMsg) {
	if batch := drainLines(lines); len(batch.lines) > 0 {
		cm.p.Send(batch)
	}
}

func drainLines(lines <-chan monitorLineMsg) monitorBatchMsg {
	var batch monitorBatchMsg
	for {
		select {
		case msg := <-lines:
			batch.lines = append(batch.lines, msg)
		default:
			return batch
		}
	}
}

// readLines splits conn into node lines until a read fails for good or done
// is closed. Lines are dropped rather than block the reader when out is full.
func readLines(conn Connection, out chan<- monitorLineMsg, done <-chan struct{}) error {
	lb := lineproto.NewLineBuffer(lineproto.DefaultMaxLength)
	buf := make([]byte, 128)
	for {
		n, err := conn.Read(buf)
		for _, c := range buf[:n] {
			var msg monitorLineMsg
			switch line, status := lb.Feed(c); status {
			case lineproto.StatusLine:
				msg = monitorLineMsg{resp: hostclient.ParseResponse(line), at: time.Now()}
			case lineproto.StatusOverflow:
				msg = monitorLineMsg{overflow: true, at: time.Now()}
			default:
				continue
			}
			select {
			case out <- msg:
			default:
			}
		}
		if err == nil {
			continue
		}

		select {
		case <-done:
			return nil
		default:
		}
		if !transientReadError(conn, err) {
			return err
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// transientReadError reports whether reading may continue after err. Serial
// ports return spurious errors (e.g. EINTR) that a retry clears.
func transientReadError(r io.Reader, err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
		return false
	}
	_, serialLink := r.(*SerialConnection)
	return serialLink
}

// reconnect dials until it succeeds, backing off exponentially. Returns
// false if shutdown was requested first.
func (cm *connectionManager) reconnect() bool {
	if conn := cm.getConn(); conn != nil {
		conn.Close()
	}

	backoff := reconnectMinBackoff
	for {
		select {
		case <-cm.done:
			return false
		case <-time.After(backoff):
		}

		if conn, err := cm.open(); err == nil {
			cm.setConn(conn)
			return true
		}

		backoff = min(backoff*2, reconnectMaxBackoff)
	}
}
