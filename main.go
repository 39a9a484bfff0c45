// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Flare - synchronised BLE broadcast node
//
// Schedules timed advertising broadcasts to groups of receivers and reports
// their acknowledgement beacons.

package main

import (
	"os"

	"github.com/Thermoquad/flare/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
