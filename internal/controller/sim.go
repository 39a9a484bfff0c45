// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/flare/internal/groutine"
	"github.com/Thermoquad/flare/pkg/advpayload"
	"github.com/Thermoquad/flare/pkg/hci"
)

// DefaultSimReceivers is the receiver count used when none is configured
const DefaultSimReceivers = 4

// simBeaconInterval is how often each simulated receiver beacons while the
// controller is scanning
const simBeaconInterval = 100 * time.Millisecond

// simReceiver is a virtual receiver listening to the broadcasts
type simReceiver struct {
	id      uint8
	state   uint8
	heard   bool
	cmdType uint8
	delay   uint32
}

// Sim is an in-process controller. It answers every command with Command
// Complete, lets virtual receivers apply the command envelopes it
// broadcasts, and while scanning reports an acknowledgement beacon from each
// receiver that has heard a command.
type Sim struct {
	log *logrus.Logger

	mu         sync.Mutex
	deliver    func([]byte) bool
	advData    []byte
	scanning   bool
	closed     bool
	receivers  []*simReceiver
	broadcasts int
	cancel     context.CancelFunc
}

// NewSim creates a simulator with receivers numbered 1..receivers
func NewSim(receivers int, log *logrus.Logger) *Sim {
	if receivers <= 0 {
		receivers = DefaultSimReceivers
	}
	if receivers > advpayload.MaxReceivers-1 {
		receivers = advpayload.MaxReceivers - 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Sim{log: log}
	for i := 1; i <= receivers; i++ {
		s.receivers = append(s.receivers, &simReceiver{id: uint8(i), state: advpayload.StateReady})
	}
	return s
}

func openSim(opts Options) (Controller, error) {
	opts.Logger.WithField("receivers", opts.Receivers).Info("Using simulated controller")
	return NewSim(opts.Receivers, opts.Logger), nil
}

// Send applies one command packet
func (s *Sim) Send(pkt []byte) error {
	op, ok := hci.CommandOpcode(pkt)
	if !ok {
		return nil
	}
	params := hci.CommandParams(pkt)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	switch op {
	case hci.OpLESetAdvData:
		if len(params) > 0 && int(params[0]) < len(params) {
			s.advData = append([]byte(nil), params[1:1+int(params[0])]...)
		}
	case hci.OpLESetAdvEnable:
		if len(params) > 0 && params[0] == 1 {
			s.broadcast()
		}
	case hci.OpLESetScanEnable:
		s.scanning = len(params) > 0 && params[0] == 1
	}
	deliver := s.deliver
	s.mu.Unlock()

	if deliver != nil {
		deliver(commandComplete(op))
	}
	return nil
}

// broadcast lets every targeted receiver apply the current payload.
// Callers hold mu.
func (s *Sim) broadcast() {
	env, err := advpayload.DecodeCommand(s.advData)
	if err != nil {
		return
	}
	s.broadcasts++
	for _, r := range s.receivers {
		if !env.Targets(int(r.id)) {
			continue
		}
		r.heard = true
		r.cmdType = env.CommandType
		r.delay = env.DelayUS
		r.state = nextState(r.state, env.CommandType%16)
	}
}

// nextState is the receiver state after a command code
func nextState(state, code uint8) uint8 {
	switch code {
	case 0x01:
		return advpayload.StatePlaying
	case 0x02:
		return advpayload.StatePause
	case 0x03:
		return advpayload.StateReady
	case 0x04:
		return advpayload.StateUnloaded
	case 0x05:
		return advpayload.StateTest
	default:
		return state
	}
}

// Ready reports whether the simulator is open
func (s *Sim) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close stops beaconing
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// Broadcasts returns how many advertise enables carried a valid envelope
func (s *Sim) Broadcasts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broadcasts
}

// Start begins event delivery and beaconing
func (s *Sim) Start(ctx context.Context, deliver func([]byte) bool) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.deliver = deliver
	s.cancel = cancel
	s.mu.Unlock()

	groutine.Go(ctx, nil, "sim-beacons", func(ctx context.Context) {
		ticker := time.NewTicker(simBeaconInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, ev := range s.Beacons() {
					deliver(ev)
				}
			}
		}
	})
}

// Beacons returns the advertising report events the receivers would produce
// right now; empty unless scanning.
func (s *Sim) Beacons() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.scanning {
		return nil
	}

	var events [][]byte
	for _, r := range s.receivers {
		if !r.heard {
			continue
		}
		ack := advpayload.Ack{
			TargetID:    r.id,
			CommandID:   r.cmdType / 16,
			CommandType: r.cmdType,
			Delay:       r.delay,
			State:       r.state,
		}
		events = append(events, advertisingReport(r.id, ack.Encode()))
	}
	return events
}

func commandComplete(op uint16) []byte {
	ev := []byte{hci.PktTypeEvent, hci.EvtCommandComplete, 4, 1, 0, 0, 0x00}
	binary.LittleEndian.PutUint16(ev[4:6], op)
	return ev
}

func advertisingReport(id uint8, data []byte) []byte {
	params := []byte{
		hci.SubevtAdvertisingReport, 1,
		hci.AdvNonconnInd, 0x01,
		id, 0x00, 0x00, 0x00, 0xAD, 0xDE,
		byte(len(data)),
	}
	params = append(params, data...)
	params = append(params, byte(0xC8)) // -56 dBm
	return append([]byte{hci.PktTypeEvent, hci.EvtLEMeta, byte(len(params))}, params...)
}
