// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package lineproto implements the line-oriented serial control protocol of
// a flare node.
//
// Inbound lines are either CHECK or a seven-field task. Replies are
// newline-terminated ASCII:
//
//	ACK:CHECK_START                        check accepted, CHECK_DONE follows
//	ACK:OK:<d_read>:<d_parse>:<d_total>    task parsed, timings in µs
//	DONE                                   task admitted
//	NAK:QueueFull                          task parsed but the table was full
//	NAK:ParseError                         malformed line
//	NAK:Overflow                           line exceeded the buffer
package lineproto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/flare/internal/metrics"
	"github.com/Thermoquad/flare/pkg/node"
	"github.com/Thermoquad/flare/pkg/tasktable"
)

// Reply lines
const (
	ReplyCheckStart = "ACK:CHECK_START"
	ReplyDone       = "DONE"
	ReplyParseError = "NAK:ParseError"
	ReplyOverflow   = "NAK:Overflow"
	ReplyQueueFull  = "NAK:QueueFull"
	replyOKPrefix   = "ACK:OK"
)

const readBufferSize = 256

// Scheduler is what the front end needs from a node.
type Scheduler interface {
	Admit(task tasktable.Task) (tasktable.Ticket, error)
	Check(duration time.Duration) error
}

// Config configures a Frontend. Zero fields take defaults.
type Config struct {
	MaxLength     int
	CheckDuration time.Duration
	Clock         node.Clock
	Output        *node.LineWriter
	Logger        *logrus.Logger
	Metrics       *metrics.Metrics
}

// Frontend turns inbound bytes into node operations and replies.
type Frontend struct {
	mu            sync.Mutex
	sched         Scheduler
	buf           *LineBuffer
	checkDuration time.Duration
	clock         node.Clock
	out           *node.LineWriter
	log           *logrus.Logger
	metrics       *metrics.Metrics
}

// New creates a Frontend driving sched
func New(sched Scheduler, cfg Config) *Frontend {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	if cfg.CheckDuration <= 0 {
		cfg.CheckDuration = node.DefaultTiming().CheckDuration
	}
	if cfg.Clock == nil {
		cfg.Clock = node.NewClock()
	}
	if cfg.Output == nil {
		cfg.Output = node.NewLineWriter(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	return &Frontend{
		sched:         sched,
		buf:           NewLineBuffer(cfg.MaxLength),
		checkDuration: cfg.CheckDuration,
		clock:         cfg.Clock,
		out:           cfg.Output,
		log:           cfg.Logger,
		metrics:       cfg.Metrics,
	}
}

// Serve reads from r until EOF, a read error or ctx cancellation. Each chunk
// is stamped with the clock when the read returns and again once it has been
// copied out of the read buffer.
func (f *Frontend) Serve(ctx context.Context, r io.Reader) error {
	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			tWake := f.clock.NowMicros()
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			tReadDone := f.clock.NowMicros()
			f.HandleChunk(chunk, tWake, tReadDone)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

// HandleChunk processes a chunk of inbound bytes. tWake and tReadDone are the
// clock readings taken when the chunk became available and when it had been
// read; they feed the timing triple of ACK:OK.
func (f *Frontend) HandleChunk(data []byte, tWake, tReadDone int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range data {
		line, status := f.buf.Feed(c)
		switch status {
		case StatusLine:
			f.handleLine(line, tWake, tReadDone)
		case StatusOverflow:
			f.metrics.LineError(metrics.LineErrorOverflow)
			f.log.Warn("Line buffer overflow")
			f.reply(ReplyOverflow)
		}
	}
}

func (f *Frontend) handleLine(line string, tWake, tReadDone int64) {
	req, err := ParseLine(line)
	if err != nil {
		f.metrics.LineError(metrics.LineErrorParse)
		f.log.WithError(err).WithField("line", line).Debug("Rejected line")
		f.reply(ReplyParseError)
		return
	}

	if req.Kind == KindCheck {
		f.reply(ReplyCheckStart)
		if err := f.sched.Check(f.checkDuration); err != nil {
			f.log.WithError(err).Warn("Check failed")
		}
		return
	}

	tParseDone := f.clock.NowMicros()
	f.reply(fmt.Sprintf("%s:%d:%d:%d", replyOKPrefix,
		tReadDone-tWake, tParseDone-tReadDone, tParseDone-tWake))

	if _, err := f.sched.Admit(req.Task); err != nil {
		f.metrics.LineError(metrics.LineErrorQueueFull)
		f.reply(ReplyQueueFull)
		return
	}
	f.reply(ReplyDone)
}

func (f *Frontend) reply(line string) {
	if err := f.out.WriteLine(line); err != nil {
		f.log.WithError(err).WithField("reply", line).Warn("Failed to write reply")
	}
}
