// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/flare/pkg/advpayload"
	"github.com/Thermoquad/flare/pkg/hci"
	"github.com/Thermoquad/flare/pkg/tasktable"
)

// Run drives the scheduler until ctx is cancelled. Each cycle is one Step
// followed by the idle tick.
func (n *Node) Run(ctx context.Context) error {
	n.log.WithFields(logrus.Fields{
		"tx_offset": n.timing.TxOffset,
		"hold":      n.timing.HoldWindow,
		"tick":      n.timing.IdleTick,
	}).Info("Scheduler started")

	for {
		select {
		case <-ctx.Done():
			n.log.Info("Scheduler stopped")
			return ctx.Err()
		default:
		}

		n.Step()
		n.clock.Sleep(n.timing.IdleTick)
	}
}

// Step runs one scheduler cycle: expire due tasks, pick the next live task
// in round-robin order and broadcast it. Returns true if a pulse was sent.
// Nothing happens while the listener owns the radio.
func (n *Node) Step() bool {
	if n.checking.Load() {
		return false
	}

	n.pulseMu.Lock()
	defer n.pulseMu.Unlock()

	// the listener may have taken over while we waited
	if n.checking.Load() {
		return false
	}

	sel := n.table.Select(n.clock.NowMicros())
	for _, e := range sel.Expired {
		n.metrics.TaskExpired(e.Dispatches > 0)
		n.log.WithFields(logrus.Fields{
			"ticket":     e.Ticket,
			"dispatches": e.Dispatches,
		}).Debug("Task expired")
	}
	if !sel.Selected {
		return false
	}

	return n.pulse(sel.Entry)
}

// pulse programs the compensated payload, enables advertising for the hold
// window and disables it again. Each command waits for a command credit:
// the first two at most PulseReadyTimeout, after which the pulse is
// abandoned, and the disable at most CommandTimeout, since advertising must
// not be left on. Callers hold pulseMu.
func (n *Node) pulse(e tasktable.Entry) bool {
	if !n.awaitReady(n.timing.PulseReadyTimeout) {
		n.metrics.PulseSkipped()
		n.log.WithField("ticket", e.Ticket).Debug("Pulse skipped: controller busy")
		return false
	}

	now := n.clock.NowMicros()
	env := advpayload.CommandEnvelope{
		CommandType: e.Task.CommandType,
		TargetMask:  e.Task.TargetMask,
		DelayUS:     Compensate(e.Deadline, now, n.timing.TxOffset),
		PrepTimeUS:  e.Task.PrepTimeUS,
		Data:        e.Task.Data,
	}

	if err := n.send("set advertising data", hci.EncodeSetAdvData(env.Encode()), 0); err != nil {
		n.log.WithError(err).Warn("Pulse aborted")
		return false
	}
	n.clock.Sleep(n.timing.DataSettle)

	if err := n.send("advertise enable", hci.EncodeSetAdvEnable(true), n.timing.PulseReadyTimeout); err != nil {
		n.metrics.PulseSkipped()
		n.log.WithError(err).Warn("Pulse aborted")
		return false
	}
	n.clock.Sleep(n.timing.HoldWindow)

	if err := n.send("advertise disable", hci.EncodeSetAdvEnable(false), n.timing.CommandTimeout); err != nil {
		n.log.WithError(err).Warn("Advertise disable failed")
	}

	n.table.MarkDispatched(e.Ticket)
	n.metrics.Broadcast()
	n.log.WithFields(logrus.Fields{
		"ticket":   e.Ticket,
		"slot":     e.Slot,
		"delay_us": env.DelayUS,
	}).Debug("Broadcast")
	return true
}
