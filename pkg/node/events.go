// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/flare/pkg/advpayload"
	"github.com/Thermoquad/flare/pkg/hci"
)

// event is one delivered H4 packet together with whether the radio was
// scanning when it arrived
type event struct {
	raw      []byte
	scanning bool
}

// Deliver queues one raw H4 event for the event pump. It never blocks; when
// the buffer is full the oldest event is discarded. Returns false if raw
// itself was dropped.
func (n *Node) Deliver(raw []byte) bool {
	pkt := make([]byte, len(raw))
	copy(pkt, raw)

	before := n.events.Dropped()
	ok := n.events.Offer(event{raw: pkt, scanning: n.checking.Load()})
	for d := n.events.Dropped(); before < d; before++ {
		n.metrics.EventDropped()
	}

	select {
	case n.wake <- struct{}{}:
	default:
	}
	return ok
}

// PumpEvents drains delivered events until ctx is cancelled.
func (n *Node) PumpEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.wake:
			n.handleMu.Lock()
			n.drainEvents()
			n.handleMu.Unlock()
		}
	}
}

// drainEvents handles every queued event. Callers hold handleMu.
func (n *Node) drainEvents() {
	for {
		ev, ok := n.events.TryReceive()
		if !ok {
			return
		}
		n.handle(ev)
	}
}

// HandleEvent processes one raw H4 event. Command completion failures are
// logged. Advertising reports are decoded for acknowledgements only while
// scanning, and each one is written as a FOUND line.
func (n *Node) HandleEvent(raw []byte) {
	n.handleMu.Lock()
	defer n.handleMu.Unlock()
	n.handle(event{raw: raw, scanning: n.checking.Load()})
}

func (n *Node) handle(ev event) {
	raw := ev.raw
	if len(raw) < hci.EventHeaderSize || raw[0] != hci.PktTypeEvent {
		return
	}

	switch raw[1] {
	case hci.EvtCommandComplete:
		if cc, ok := hci.ParseCommandComplete(raw); ok && cc.Status != 0 {
			n.log.WithFields(logrus.Fields{
				"opcode": hci.FormatOpcode(cc.Opcode),
				"status": cc.Status,
			}).Warn("Command failed")
		}
	case hci.EvtCommandStatus:
		if cs, ok := hci.ParseCommandStatus(raw); ok && cs.Status != 0 {
			n.log.WithFields(logrus.Fields{
				"opcode": hci.FormatOpcode(cs.Opcode),
				"status": cs.Status,
			}).Warn("Command rejected")
		}
	case hci.EvtLEMeta:
		if !ev.scanning {
			return
		}
		for _, report := range hci.ParseAdvertisingReports(raw) {
			for _, ack := range advpayload.DecodeAcks(report.Data) {
				n.metrics.AckFound()
				n.log.WithFields(logrus.Fields{
					"addr":   report.Addr.String(),
					"rssi":   report.RSSI,
					"target": ack.TargetID,
					"state":  advpayload.StateName(ack.State),
				}).Debug("Acknowledgement")
				if err := n.out.WriteLine(ack.String()); err != nil {
					n.log.WithError(err).Warn("Failed to write acknowledgement")
				}
			}
		}
	}
}
