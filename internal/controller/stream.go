// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/flare/internal/groutine"
	"github.com/Thermoquad/flare/pkg/hci"
)

// creditTimeout restores one command credit when the controller has not
// answered for this long
const creditTimeout = time.Second

var errClosed = errors.New("controller closed")

// streamController runs HCI over a byte stream. Outbound commands are
// written as-is; inbound bytes are reassembled into event packets. Command
// flow control follows the Num_HCI_Command_Packets field of Command
// Complete and Command Status events.
type streamController struct {
	name string
	rwc  io.ReadWriteCloser
	log  *logrus.Logger

	mu       sync.Mutex
	credits  int
	lastSend time.Time
	closed   bool
}

func newStreamController(name string, rwc io.ReadWriteCloser, log *logrus.Logger) *streamController {
	return &streamController{name: name, rwc: rwc, log: log, credits: 1}
}

func (s *streamController) Send(pkt []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	if s.credits > 0 {
		s.credits--
	}
	s.lastSend = time.Now()
	s.mu.Unlock()

	if _, err := s.rwc.Write(pkt); err != nil {
		return fmt.Errorf("%s write: %w", s.name, err)
	}
	return nil
}

func (s *streamController) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.credits > 0 || time.Since(s.lastSend) > creditTimeout
}

func (s *streamController) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.rwc.Close()
}

func (s *streamController) Start(ctx context.Context, deliver func([]byte) bool) {
	groutine.Go(ctx, nil, s.name+"-reader", func(ctx context.Context) {
		if err := s.readLoop(ctx, deliver); err != nil {
			s.log.WithError(err).Error("Controller read loop stopped")
		}
	})
}

func (s *streamController) readLoop(ctx context.Context, deliver func([]byte) bool) error {
	dec := hci.NewH4Decoder()
	buf := make([]byte, 1024)
	for {
		n, err := s.rwc.Read(buf)
		for _, b := range buf[:n] {
			pkt, derr := dec.DecodeByte(b)
			if derr != nil {
				s.log.WithError(derr).Debug("Discarding unframed controller byte")
				continue
			}
			if pkt != nil {
				s.observe(pkt)
				deliver(pkt)
			}
		}
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return nil
			}
			return fmt.Errorf("%s read: %w", s.name, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// observe updates command credits from completion events
func (s *streamController) observe(pkt []byte) {
	var credits int
	switch {
	case len(pkt) > 1 && pkt[1] == hci.EvtCommandComplete:
		cc, ok := hci.ParseCommandComplete(pkt)
		if !ok {
			return
		}
		credits = int(cc.NumPackets)
	case len(pkt) > 1 && pkt[1] == hci.EvtCommandStatus:
		cs, ok := hci.ParseCommandStatus(pkt)
		if !ok {
			return
		}
		credits = int(cs.NumPackets)
	default:
		return
	}

	s.mu.Lock()
	s.credits = credits
	s.mu.Unlock()
}

func (s *streamController) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
