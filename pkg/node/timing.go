// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"math"
	"time"
)

// Timing holds the calibrated durations used by the scheduler and listener.
// These are measured against real radios, not protocol constants.
type Timing struct {
	// TxOffset is the latency between issuing advertise enable and the
	// radio emitting the first packet.
	TxOffset time.Duration

	// HoldWindow is how long advertising stays enabled per pulse.
	HoldWindow time.Duration

	// IdleTick is the sleep between scheduler cycles.
	IdleTick time.Duration

	// DataSettle separates programming advertising data from enabling.
	DataSettle time.Duration

	// ModeSettle separates the listener's mode switch commands.
	ModeSettle time.Duration

	// BringupSettle follows reset and parameter setup.
	BringupSettle time.Duration

	// CommandTimeout bounds the wait for a command credit during bring-up
	// and listener mode switches, and for the advertise disable of a pulse.
	CommandTimeout time.Duration

	// PulseReadyTimeout bounds the wait for a command credit before each
	// command of a pulse that can still be abandoned.
	PulseReadyTimeout time.Duration

	ScanInterval  time.Duration
	ScanWindow    time.Duration
	CheckDuration time.Duration
}

// DefaultTiming returns the reference calibration
func DefaultTiming() Timing {
	return Timing{
		TxOffset:      9000 * time.Microsecond,
		HoldWindow:    10 * time.Millisecond,
		IdleTick:      10 * time.Millisecond,
		DataSettle:    500 * time.Microsecond,
		ModeSettle:    20 * time.Millisecond,
		BringupSettle: 100 * time.Millisecond,
		ScanInterval:  100 * time.Millisecond,
		ScanWindow:    100 * time.Millisecond,
		CheckDuration: 2000 * time.Millisecond,

		CommandTimeout:    time.Second,
		PulseReadyTimeout: 20 * time.Millisecond,
	}
}

// readyPoll is the interval at which a waiting sender re-checks Ready
const readyPoll = 100 * time.Microsecond

// scanUnit is the HCI scan interval/window granularity
const scanUnit = 625 * time.Microsecond

// ScanUnits converts a duration to 0.625 ms controller units, clamped to the
// 16-bit field.
func ScanUnits(d time.Duration) uint16 {
	units := d / scanUnit
	if units < 0 {
		return 0
	}
	if units > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(units)
}

// Compensate returns the delay to embed in a payload transmitted at now for
// an action due at deadline: deadline - now - txOffset, clamped to the
// unsigned 32-bit field.
func Compensate(deadline, now int64, txOffset time.Duration) uint32 {
	remaining := deadline - now - txOffset.Microseconds()
	if remaining < 0 {
		return 0
	}
	if remaining > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(remaining)
}
