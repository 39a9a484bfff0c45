// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/flare/internal/hcitrace"
	"github.com/Thermoquad/flare/pkg/hci"
	"github.com/Thermoquad/flare/pkg/hostclient"
)

type pipeRW struct {
	io.Reader
	io.Writer
}

// syncBuffer is a bytes.Buffer safe for concurrent writers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func TestParseRGB(t *testing.T) {
	tests := []struct {
		in      string
		want    [3]byte
		wantErr bool
	}{
		{"0,0,0", [3]byte{0, 0, 0}, false},
		{"255,128,1", [3]byte{255, 128, 1}, false},
		{" 10, 20 ,30", [3]byte{10, 20, 30}, false},
		{"256,0,0", [3]byte{}, true},
		{"-1,0,0", [3]byte{}, true},
		{"1,2", [3]byte{}, true},
		{"1,2,3,4", [3]byte{}, true},
		{"red,0,0", [3]byte{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseRGB(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func writeTrace(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := hcitrace.NewWriter(&buf)
	require.NoError(t, w.Write(hcitrace.Record{Direction: hcitrace.DirCommand, TimeUS: 1000, Packet: hci.EncodeReset()}))
	require.NoError(t, w.Write(hcitrace.Record{
		Direction: hcitrace.DirEvent,
		TimeUS:    3500,
		Packet:    []byte{hci.PktTypeEvent, hci.EvtCommandComplete, 4, 1, 0x03, 0x0C, 0x00},
	}))
	return &buf
}

func TestPrintTrace_All(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printTrace(&out, writeTrace(t), "all"))

	text := out.String()
	assert.Contains(t, text, "[+     0.000 ms] CMD RESET")
	assert.Contains(t, text, "[+     2.500 ms] EVT")
	assert.Contains(t, text, "2 packet(s)")
}

func TestPrintTrace_Direction(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printTrace(&out, writeTrace(t), "evt"))

	text := out.String()
	assert.NotContains(t, text, "CMD RESET")
	// offsets stay relative to the first record even when it is filtered out
	assert.Contains(t, text, "[+     2.500 ms] EVT")
	assert.Contains(t, text, "1 packet(s)")
}

func TestPrintTrace_Errors(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, printTrace(&out, writeTrace(t), "sideways"))

	truncated := writeTrace(t).Bytes()
	truncated = truncated[:len(truncated)-2]
	assert.Error(t, printTrace(&out, bytes.NewReader(truncated), "all"))
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printReport(&out, hostclient.Report{}))
	assert.Equal(t, "No receivers found\n", out.String())

	out.Reset()
	report := hostclient.Report{Found: []hostclient.Found{
		{TargetID: 3, CommandID: 7, CommandType: 0x77, TargetDelay: 5000, State: "READY"},
	}}
	require.NoError(t, printReport(&out, report))
	assert.Contains(t, out.String(), "TARGET")
	assert.Contains(t, out.String(), "READY")
	assert.Contains(t, out.String(), "1 receiver(s) found")

	out.Reset()
	require.NoError(t, printReportJSON(&out, report))
	assert.Contains(t, out.String(), `"found_devices"`)
	assert.Contains(t, out.String(), `"target_id": 3`)
}

func TestLogLines(t *testing.T) {
	in := strings.NewReader("ACK:OK:1:2:3\r\nDONE\nFOUND:3,7,160,5000,1\nhello\n" + strings.Repeat("x", 200) + "\n")
	var out bytes.Buffer
	log := logrus.New()
	log.SetOutput(io.Discard)
	require.NoError(t, logLines(&out, in, log))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 6)
	assert.Contains(t, lines[0], "ACK_OK")
	assert.Contains(t, lines[0], "read=1us parse=2us total=3us")
	assert.Contains(t, lines[1], "DONE")
	assert.Contains(t, lines[2], "target=3 state=READY")
	assert.Contains(t, lines[3], "OTHER")
	assert.Contains(t, lines[4], "[ERROR] line exceeded 127 bytes")
	// the rest of the long line arrives as its own line
	assert.Contains(t, lines[5], "OTHER")
}

func TestPingLink_Answered(t *testing.T) {
	toNodeR, toNodeW := io.Pipe()
	fromNodeR, fromNodeW := io.Pipe()
	t.Cleanup(func() {
		toNodeR.Close()
		fromNodeW.Close()
	})

	got := make(chan string, 1)
	go func() {
		sc := bufio.NewScanner(toNodeR)
		if sc.Scan() {
			got <- sc.Text()
			io.WriteString(fromNodeW, "FOUND:1,2,33,4000,2\nNAK:ParseError\n")
		}
	}()

	require.NoError(t, pingLink(pipeRW{Reader: fromNodeR, Writer: toNodeW}, time.Second))
	assert.Equal(t, linkPing, <-got)
}

func TestPingLink_Timeout(t *testing.T) {
	toNodeR, toNodeW := io.Pipe()
	fromNodeR, fromNodeW := io.Pipe()
	t.Cleanup(func() {
		toNodeR.Close()
		fromNodeW.Close()
	})
	go io.Copy(io.Discard, toNodeR)

	err := pingLink(pipeRW{Reader: fromNodeR, Writer: toNodeW}, 50*time.Millisecond)
	assert.ErrorIs(t, err, hostclient.ErrTimeout)
}

func TestPingLink_Closed(t *testing.T) {
	toNodeR, toNodeW := io.Pipe()
	fromNodeR, fromNodeW := io.Pipe()
	t.Cleanup(func() { toNodeR.Close() })
	go func() {
		io.Copy(io.Discard, io.LimitReader(toNodeR, int64(len(linkPing)+1)))
		fromNodeW.Close()
	}()

	err := pingLink(pipeRW{Reader: fromNodeR, Writer: toNodeW}, time.Second)
	assert.ErrorIs(t, err, hostclient.ErrClosed)
}

//////////////////////////////////////////////////////////////
// Monitor model
//////////////////////////////////////////////////////////////

func lineMsg(line string) monitorLineMsg {
	return monitorLineMsg{resp: hostclient.ParseResponse(line), at: time.Now()}
}

func TestMonitorModel_ProcessLines(t *testing.T) {
	m := initialMonitorModel(&connectionManager{}, "Serial: test")

	updated, _ := m.Update(monitorBatchMsg{lines: []monitorLineMsg{
		lineMsg("ACK:OK:10:15:25"),
		lineMsg("DONE"),
		lineMsg("NAK:QueueFull"),
		lineMsg("ACK:CHECK_START"),
		lineMsg("FOUND:3,7,160,5000,1"),
		lineMsg("FOUND:3,7,160,5000,1"),
		lineMsg("FOUND:1,7,160,5000,2"),
		{overflow: true, at: time.Now()},
	}})
	m = updated.(monitorModel)

	assert.Equal(t, 1, m.stats.acks)
	assert.Equal(t, 1, m.stats.done)
	assert.Equal(t, 1, m.stats.naks)
	assert.Equal(t, 1, m.stats.checks)
	assert.Equal(t, 3, m.stats.beacons)
	assert.Equal(t, 1, m.stats.overflows)
	assert.True(t, m.stats.hasTiming)
	assert.Equal(t, int64(25), m.stats.lastTiming.Total)
	assert.True(t, m.scanning)

	require.Len(t, m.receivers, 2)
	assert.Equal(t, 2, m.receivers[3].beacons)

	items := m.receiverList.Items()
	require.Len(t, items, 2)
	assert.Equal(t, uint8(1), items[0].(receiver).ack.TargetID)
	assert.Equal(t, uint8(3), items[1].(receiver).ack.TargetID)

	updated, _ = m.Update(monitorBatchMsg{lines: []monitorLineMsg{lineMsg("CHECK_DONE")}})
	m = updated.(monitorModel)
	assert.False(t, m.scanning)
}

func TestMonitorModel_SendResult(t *testing.T) {
	m := initialMonitorModel(&connectionManager{}, "Serial: test")

	updated, _ := m.Update(sendResultMsg{line: "CHECK"})
	m = updated.(monitorModel)
	assert.Equal(t, 1, m.stats.sent)

	updated, _ = m.Update(sendResultMsg{line: "CHECK", err: io.ErrClosedPipe})
	m = updated.(monitorModel)
	assert.Equal(t, 1, m.stats.sent)
	require.Len(t, m.eventLog, 2)
	assert.True(t, m.eventLog[1].isError)
}

func TestMonitorModel_SendWritesLine(t *testing.T) {
	var buf syncBuffer
	conn := struct {
		io.Reader
		io.Writer
		io.Closer
	}{strings.NewReader(""), &buf, io.NopCloser(nil)}
	m := initialMonitorModel(&connectionManager{conn: conn}, "Serial: test")

	msg := m.send("1,1000,0,0,0,0,0")()
	res, ok := msg.(sendResultMsg)
	require.True(t, ok)
	assert.NoError(t, res.err)
	assert.Equal(t, "1,1000,0,0,0,0,0\n", string(buf.Bytes()))
}

func TestMonitorModel_FocusAndQuit(t *testing.T) {
	m := initialMonitorModel(&connectionManager{}, "Serial: test")
	assert.Equal(t, focusInput, m.focusedField)

	// q is typed into the input while it has focus
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	m = updated.(monitorModel)
	assert.False(t, m.quitting)
	assert.Equal(t, "q", m.input.Value())

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = updated.(monitorModel)
	assert.Equal(t, focusReceiverList, m.focusedField)

	updated, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	m = updated.(monitorModel)
	assert.True(t, m.quitting)
	require.NotNil(t, cmd)
	assert.Equal(t, "Shutting down...\n", m.View())
}

func TestMonitorModel_ConnectionLost(t *testing.T) {
	m := initialMonitorModel(&connectionManager{}, "Serial: test")

	updated, _ := m.Update(connectionLostMsg{})
	m = updated.(monitorModel)
	assert.True(t, m.connectionLost)
	assert.Contains(t, m.View(), "RECONNECTING")

	res := m.send("CHECK")().(sendResultMsg)
	assert.Error(t, res.err)

	updated, _ = m.Update(reconnectedMsg{connInfo: "WebSocket: ws://node"})
	m = updated.(monitorModel)
	assert.False(t, m.connectionLost)
	assert.Contains(t, m.View(), "FLARE MONITOR")
}

func TestReadLines(t *testing.T) {
	conn := struct {
		io.Reader
		io.Writer
		io.Closer
	}{strings.NewReader("ACK:CHECK_START\nFOUND:2,7,160,5000,1\n" + strings.Repeat("x", 130)), io.Discard, io.NopCloser(nil)}

	out := make(chan monitorLineMsg, 10)
	err := readLines(conn, out, make(chan struct{}))
	assert.ErrorIs(t, err, io.EOF)

	batch := drainLines(out)
	require.Len(t, batch.lines, 3)
	assert.Equal(t, hostclient.RespAckCheckStart, batch.lines[0].resp.Kind)
	assert.Equal(t, hostclient.RespFound, batch.lines[1].resp.Kind)
	assert.True(t, batch.lines[2].overflow)

	assert.Empty(t, drainLines(out).lines)
}

func TestTransientReadError(t *testing.T) {
	assert.True(t, transientReadError(&SerialConnection{}, io.ErrUnexpectedEOF))
	assert.False(t, transientReadError(&SerialConnection{}, io.EOF))
	assert.False(t, transientReadError(&WebSocketConnection{}, io.ErrUnexpectedEOF))
	assert.False(t, transientReadError(&WebSocketConnection{}, ErrConnectionClosed))
}
