// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/flare/pkg/advpayload"
	"github.com/Thermoquad/flare/pkg/hci"
	"github.com/Thermoquad/flare/pkg/node"
	"github.com/Thermoquad/flare/pkg/tasktable"
)

// linkEnd is the host side of a pair of pipes
type linkEnd struct {
	*io.PipeReader
	*io.PipeWriter
}

func (l linkEnd) Close() error {
	l.PipeReader.Close()
	return l.PipeWriter.Close()
}

// slowRadio answers every command with Command Complete after delay and,
// once scanning is enabled, reports one advertisement carrying ack.
func slowRadio(cmds io.Reader, events io.Writer, delay time.Duration, ack []byte) {
	hdr := make([]byte, 4)
	for {
		if _, err := io.ReadFull(cmds, hdr); err != nil {
			return
		}
		params := make([]byte, hdr[3])
		if _, err := io.ReadFull(cmds, params); err != nil {
			return
		}
		op := binary.LittleEndian.Uint16(hdr[1:3])

		time.Sleep(delay)
		if _, err := events.Write(commandComplete(op)); err != nil {
			return
		}
		if op == hci.OpLESetScanEnable && len(params) > 0 && params[0] == 1 {
			if _, err := events.Write(advertisingReport(3, ack)); err != nil {
				return
			}
		}
	}
}

type streamNode struct {
	node *node.Node
	out  *bytes.Buffer
	stop func()
}

func newStreamNode(t *testing.T, delay time.Duration, ack []byte) *streamNode {
	t.Helper()

	hostR, radioW := io.Pipe()
	radioR, hostW := io.Pipe()
	go slowRadio(radioR, radioW, delay, ack)

	sc := newStreamController("test", linkEnd{hostR, hostW}, quietLogger())
	out := &bytes.Buffer{}
	n := node.New(sc, node.Config{
		Timing: node.Timing{
			HoldWindow:        time.Millisecond,
			IdleTick:          time.Millisecond,
			DataSettle:        100 * time.Microsecond,
			ModeSettle:        time.Millisecond,
			BringupSettle:     time.Millisecond,
			ScanInterval:      100 * time.Millisecond,
			ScanWindow:        100 * time.Millisecond,
			CheckDuration:     20 * time.Millisecond,
			CommandTimeout:    time.Second,
			PulseReadyTimeout: 200 * time.Millisecond,
		},
		Output: node.NewLineWriter(out),
		Logger: quietLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	sc.Start(ctx, n.Deliver)
	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		_ = n.PumpEvents(ctx)
	}()

	sn := &streamNode{node: n, out: out}
	sn.stop = func() {
		cancel()
		<-pumped
		sc.Close()
		radioR.Close()
		radioW.Close()
	}
	t.Cleanup(sn.stop)
	return sn
}

func TestStreamNode_BringupWithSlowRadio(t *testing.T) {
	sn := newStreamNode(t, 3*time.Millisecond, nil)
	require.NoError(t, sn.node.Bringup())
}

func TestStreamNode_PulsesWithSlowRadio(t *testing.T) {
	sn := newStreamNode(t, 2*time.Millisecond, nil)
	require.NoError(t, sn.node.Bringup())

	ticket, err := sn.node.Admit(tasktable.Task{CommandType: 0xA0, TargetMask: 1, DelayUS: 10_000_000})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.True(t, sn.node.Step(), "pulse %d", i)
	}

	tasks := sn.node.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, ticket, tasks[0].Ticket)
	assert.Equal(t, 10, tasks[0].Dispatches)
}

func TestStreamNode_CheckWithSlowRadio(t *testing.T) {
	ack := advpayload.Ack{TargetID: 3, CommandID: 7, CommandType: 0xA0, Delay: 5000, State: 1}
	sn := newStreamNode(t, time.Millisecond, ack.Encode())
	require.NoError(t, sn.node.Bringup())

	require.NoError(t, sn.node.Check(20*time.Millisecond))
	sn.stop()

	assert.Equal(t, "FOUND:3,7,160,5000,1\nCHECK_DONE\n", sn.out.String())
}
