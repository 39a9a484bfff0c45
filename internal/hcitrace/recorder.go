// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hcitrace

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/flare/internal/ringchan"
	"github.com/Thermoquad/flare/pkg/node"
)

// DefaultQueueSize is how many records may wait for the writer
const DefaultQueueSize = 4096

// Recorder wraps a controller and traces every command sent through it and
// every event passed to its delivery hook. Records are stamped when the
// packet passes and queued; Run writes them out. A full queue discards the
// oldest record.
type Recorder struct {
	ctrl  node.Controller
	w     *Writer
	clock node.Clock
	log   *logrus.Logger
	queue *ringchan.RingChannel[Record]
}

// NewRecorder wraps ctrl, writing records to w stamped with clock
func NewRecorder(ctrl node.Controller, w *Writer, clock node.Clock, log *logrus.Logger) *Recorder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Recorder{
		ctrl:  ctrl,
		w:     w,
		clock: clock,
		log:   log,
		queue: ringchan.New[Record](DefaultQueueSize),
	}
}

// Send traces pkt and forwards it
func (r *Recorder) Send(pkt []byte) error {
	r.record(DirCommand, pkt)
	return r.ctrl.Send(pkt)
}

// Ready forwards to the wrapped controller
func (r *Recorder) Ready() bool {
	return r.ctrl.Ready()
}

// Deliver returns a delivery hook that traces each event before passing it on
func (r *Recorder) Deliver(next func([]byte) bool) func([]byte) bool {
	return func(raw []byte) bool {
		r.record(DirEvent, raw)
		return next(raw)
	}
}

// Dropped returns how many records were discarded because the writer fell
// behind
func (r *Recorder) Dropped() uint64 {
	return r.queue.Dropped()
}

// Run writes queued records until ctx is cancelled, then writes whatever is
// still queued and returns. Write failures are logged, never returned.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				rec, ok := r.queue.TryReceive()
				if !ok {
					if d := r.Dropped(); d > 0 {
						r.log.WithField("dropped", d).Warn("HCI trace incomplete")
					}
					return
				}
				r.write(rec)
			}
		case rec := <-r.queue.C():
			r.write(rec)
		}
	}
}

func (r *Recorder) record(dir Direction, pkt []byte) {
	r.queue.Offer(Record{
		Direction: dir,
		TimeUS:    r.clock.NowMicros(),
		Packet:    append([]byte(nil), pkt...),
	})
}

func (r *Recorder) write(rec Record) {
	if err := r.w.Write(rec); err != nil {
		r.log.WithError(err).Warn("HCI trace write failed")
	}
}
