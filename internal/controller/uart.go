// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

import (
	"fmt"

	"go.bug.st/serial"
)

// DefaultUARTBaud is the usual H4 UART rate
const DefaultUARTBaud = 115200

// openUART opens an H4 controller attached to a serial port
func openUART(opts Options) (Controller, error) {
	if opts.Port == "" {
		return nil, fmt.Errorf("uart controller requires a serial port")
	}
	baud := opts.Baud
	if baud <= 0 {
		baud = DefaultUARTBaud
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(opts.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open controller port %s: %w", opts.Port, err)
	}

	opts.Logger.WithField("port", opts.Port).WithField("baud", baud).Info("Opened UART controller")
	return newStreamController("uart", port, opts.Logger), nil
}
