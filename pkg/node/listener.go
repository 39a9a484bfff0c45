// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"errors"
	"time"

	"github.com/Thermoquad/flare/pkg/hci"
)

// CheckDoneLine is written once a scan window ends
const CheckDoneLine = "CHECK_DONE"

// Check suspends the scheduler, scans passively for duration and restores
// advertising mode. Decoded acknowledgements are written by the event pump
// while the scan is active. CHECK_DONE is written when the mode is restored.
//
// Concurrent calls run one after another. Send failures are returned after
// scanning has been disabled again.
func (n *Node) Check(duration time.Duration) error {
	n.checkMu.Lock()
	defer n.checkMu.Unlock()

	n.checking.Store(true)
	// wait for any pulse already past the mode gate
	n.pulseMu.Lock()

	n.log.WithField("duration", duration).Info("Check started")

	var errs []error
	if err := n.send("advertise disable", hci.EncodeSetAdvEnable(false), n.timing.CommandTimeout); err != nil {
		errs = append(errs, err)
	}
	n.clock.Sleep(n.timing.ModeSettle)

	params := hci.ScanParams{
		ScanType: hci.ScanPassive,
		Interval: ScanUnits(n.timing.ScanInterval),
		Window:   ScanUnits(n.timing.ScanWindow),
	}
	if err := n.send("set scan parameters", hci.EncodeSetScanParams(params), n.timing.CommandTimeout); err != nil {
		errs = append(errs, err)
	}
	n.clock.Sleep(n.timing.ModeSettle)

	if err := n.send("scan enable", hci.EncodeSetScanEnable(true, false), n.timing.CommandTimeout); err != nil {
		errs = append(errs, err)
	}
	n.clock.Sleep(duration)

	if err := n.send("scan disable", hci.EncodeSetScanEnable(false, false), n.timing.CommandTimeout); err != nil {
		errs = append(errs, err)
	}

	// reports that arrived while scanning are written before CHECK_DONE
	n.handleMu.Lock()
	n.checking.Store(false)
	n.drainEvents()
	n.handleMu.Unlock()
	n.pulseMu.Unlock()

	n.metrics.CheckCompleted()
	if err := n.out.WriteLine(CheckDoneLine); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	if err != nil {
		n.log.WithError(err).Warn("Check finished with errors")
	} else {
		n.log.Info("Check finished")
	}
	return err
}
