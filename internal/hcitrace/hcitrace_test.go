// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hcitrace

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/flare/pkg/hci"
)

type tickClock struct{ now int64 }

func (c *tickClock) NowMicros() int64 {
	c.now += 100
	return c.now
}

func (c *tickClock) Sleep(time.Duration) {}

type stubController struct {
	sent [][]byte
	err  error
}

func (s *stubController) Send(pkt []byte) error {
	s.sent = append(s.sent, pkt)
	return s.err
}

func (s *stubController) Ready() bool { return true }

// flush writes every queued record and stops the writer
func flush(rec *Recorder) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)
}

func TestRecorder_TracesBothDirections(t *testing.T) {
	var buf bytes.Buffer
	ctrl := &stubController{}
	rec := NewRecorder(ctrl, NewWriter(&buf), &tickClock{}, nil)

	require.NoError(t, rec.Send(hci.EncodeReset()))
	var delivered []byte
	deliver := rec.Deliver(func(raw []byte) bool {
		delivered = raw
		return true
	})
	event := []byte{0x04, 0x0E, 0x04, 0x01, 0x03, 0x0C, 0x00}
	assert.True(t, deliver(event))
	assert.Equal(t, event, delivered)
	assert.True(t, rec.Ready())
	require.Len(t, ctrl.sent, 1)
	assert.Zero(t, buf.Len())

	flush(rec)
	records, err := ReadAll(&buf)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, Record{Direction: DirCommand, TimeUS: 100, Packet: hci.EncodeReset()}, records[0])
	assert.Equal(t, Record{Direction: DirEvent, TimeUS: 200, Packet: event}, records[1])
}

func TestRecorder_ForwardsSendError(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("boom")
	rec := NewRecorder(&stubController{err: boom}, NewWriter(&buf), &tickClock{}, nil)

	assert.ErrorIs(t, rec.Send([]byte{0x01}), boom)
	flush(rec)
	records, err := ReadAll(&buf)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRecorder_DeliverDoesNotWaitForWriter(t *testing.T) {
	// nothing reads the pipe, so every trace write stalls
	pr, pw := io.Pipe()
	defer pr.Close()
	log := logrus.New()
	log.SetOutput(io.Discard)
	rec := NewRecorder(&stubController{}, NewWriter(pw), &tickClock{}, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.Run(ctx)
	}()

	var delivered int
	deliver := rec.Deliver(func([]byte) bool {
		delivered++
		return true
	})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < DefaultQueueSize*2; i++ {
			deliver([]byte{0x04, 0x0E, 0x00})
		}
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("delivery blocked on the trace writer")
	}
	assert.Equal(t, DefaultQueueSize*2, delivered)
	assert.NotZero(t, rec.Dropped())

	cancel()
	pw.CloseWithError(io.ErrClosedPipe)
	<-done
}

func TestRecorder_RunWritesConcurrently(t *testing.T) {
	pr, pw := io.Pipe()
	rec := NewRecorder(&stubController{}, NewWriter(pw), &tickClock{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rec.Run(ctx)

	require.NoError(t, rec.Send(hci.EncodeReset()))

	got, err := NewReader(pr).Next()
	require.NoError(t, err)
	assert.Equal(t, DirCommand, got.Direction)
	assert.Equal(t, hci.EncodeReset(), got.Packet)
}

func TestReader_Truncated(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Write(Record{Direction: DirEvent, TimeUS: 5, Packet: []byte{1, 2, 3}}))
	data := buf.Bytes()

	records, err := ReadAll(bytes.NewReader(data[:len(data)-1]))
	assert.Error(t, err)
	assert.Empty(t, records)
}

func TestReadAll_Empty(t *testing.T) {
	records, err := ReadAll(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDirection_String(t *testing.T) {
	assert.Equal(t, "CMD", DirCommand.String())
	assert.Equal(t, "EVT", DirEvent.String())
	assert.Equal(t, "DIR(7)", Direction(7).String())
}
