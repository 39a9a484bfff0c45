// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package node implements the broadcast scheduler and the acknowledgement
// listener of a flare node.
//
// A Node owns the task table, the scanning mode flag and the controller. The
// scheduler loop (Run) multiplexes pending tasks onto advertise pulses; Check
// suspends it and scans for acknowledgement beacons, which the event pump
// (PumpEvents) decodes from controller events delivered through Deliver.
//
// The radio is an exclusive resource. Advertise pulses and listener mode
// switches are serialised by a pulse lock, and the mode flag makes the
// scheduler skip whole cycles while scanning.
package node

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/flare/internal/metrics"
	"github.com/Thermoquad/flare/internal/ringchan"
	"github.com/Thermoquad/flare/pkg/hci"
	"github.com/Thermoquad/flare/pkg/tasktable"
)

// DefaultEventBuffer is the number of controller events buffered between
// delivery and the event pump.
const DefaultEventBuffer = 64

// ErrNotReady is returned when the controller cannot accept a command
var ErrNotReady = errors.New("controller not ready")

// Controller is the raw HCI command channel.
type Controller interface {
	// Send transmits one H4 command packet.
	Send(pkt []byte) error
	// Ready reports whether the controller can accept a command now.
	Ready() bool
}

// Config configures a Node. Zero fields take defaults.
type Config struct {
	Capacity    int
	EventBuffer int
	Timing      Timing
	Clock       Clock
	Output      *LineWriter
	Logger      *logrus.Logger
	Metrics     *metrics.Metrics
}

// Node is a broadcast scheduling node.
type Node struct {
	ctrl    Controller
	clock   Clock
	timing  Timing
	table   *tasktable.Table
	events  *ringchan.RingChannel[event]
	wake    chan struct{}
	out     *LineWriter
	log     *logrus.Logger
	metrics *metrics.Metrics

	checking atomic.Bool
	pulseMu  sync.Mutex
	checkMu  sync.Mutex
	handleMu sync.Mutex
}

// New creates a Node driving ctrl
func New(ctrl Controller, cfg Config) *Node {
	if cfg.Capacity <= 0 {
		cfg.Capacity = tasktable.DefaultCapacity
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	if cfg.Timing == (Timing{}) {
		cfg.Timing = DefaultTiming()
	}
	if cfg.Clock == nil {
		cfg.Clock = NewClock()
	}
	if cfg.Output == nil {
		cfg.Output = NewLineWriter(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	return &Node{
		ctrl:    ctrl,
		clock:   cfg.Clock,
		timing:  cfg.Timing,
		table:   tasktable.New(cfg.Capacity),
		events:  ringchan.New[event](cfg.EventBuffer),
		wake:    make(chan struct{}, 1),
		out:     cfg.Output,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Clock returns the node's clock
func (n *Node) Clock() Clock {
	return n.clock
}

// Timing returns the node's calibration
func (n *Node) Timing() Timing {
	return n.timing
}

// Output returns the shared line writer
func (n *Node) Output() *LineWriter {
	return n.out
}

// Checking reports whether the listener currently owns the radio
func (n *Node) Checking() bool {
	return n.checking.Load()
}

// Bringup resets the controller and programs the event mask and the
// non-connectable advertising parameters. Each command waits up to
// CommandTimeout for the controller to accept it. Any failure is returned;
// the node cannot run without a working controller.
func (n *Node) Bringup() error {
	if err := n.send("reset", hci.EncodeReset(), n.timing.CommandTimeout); err != nil {
		return err
	}
	n.clock.Sleep(n.timing.BringupSettle)

	if err := n.send("set event mask", hci.EncodeSetEventMask(hci.LEMetaEventMask), n.timing.CommandTimeout); err != nil {
		return err
	}

	params := hci.AdvParams{
		IntervalMin: 0x0020,
		IntervalMax: 0x0020,
		AdvType:     hci.AdvNonconnInd,
		ChannelMap:  hci.AllChannels,
	}
	if err := n.send("set advertising parameters", hci.EncodeSetAdvParams(params), n.timing.CommandTimeout); err != nil {
		return err
	}
	n.clock.Sleep(n.timing.BringupSettle)

	n.log.Info("Controller initialised")
	return nil
}

// Admit stores task with deadline now+DelayUS.
func (n *Node) Admit(task tasktable.Task) (tasktable.Ticket, error) {
	now := n.clock.NowMicros()
	ticket, err := n.table.Admit(task, now)
	if err != nil {
		n.metrics.TaskRejected()
		n.log.WithFields(logrus.Fields{
			"cmd_type": task.CommandType,
			"delay_us": task.DelayUS,
		}).Warn("Task rejected: table full")
		return 0, err
	}

	n.metrics.TaskAdmitted()
	n.log.WithFields(logrus.Fields{
		"ticket":   ticket,
		"cmd_type": task.CommandType,
		"delay_us": task.DelayUS,
		"mask":     fmt.Sprintf("%#x", task.TargetMask),
	}).Debug("Task admitted")
	return ticket, nil
}

// Cancel removes the task admitted under ticket if it is still pending
func (n *Node) Cancel(ticket tasktable.Ticket) bool {
	if !n.table.Cancel(ticket) {
		return false
	}
	n.metrics.TaskCancelled()
	n.log.WithField("ticket", ticket).Debug("Task cancelled")
	return true
}

// Tasks returns a snapshot of the pending tasks
func (n *Node) Tasks() []tasktable.Entry {
	return n.table.Snapshot()
}

// Capacity returns the task table capacity
func (n *Node) Capacity() int {
	return n.table.Capacity()
}

// awaitReady polls the controller until it can take a command or wait has
// elapsed on the node clock
func (n *Node) awaitReady(wait time.Duration) bool {
	deadline := n.clock.NowMicros() + wait.Microseconds()
	for !n.ctrl.Ready() {
		if n.clock.NowMicros() >= deadline {
			return false
		}
		n.clock.Sleep(readyPoll)
	}
	return true
}

// send transmits pkt once the controller has a command credit, waiting at
// most wait for one
func (n *Node) send(what string, pkt []byte, wait time.Duration) error {
	if !n.awaitReady(wait) {
		n.metrics.SendError()
		return fmt.Errorf("%s: %w", what, ErrNotReady)
	}
	if err := n.ctrl.Send(pkt); err != nil {
		n.metrics.SendError()
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}
