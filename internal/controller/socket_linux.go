// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build linux

package controller

import (
	"fmt"

	"github.com/go-ble/ble/linux/hci/socket"
)

func init() {
	openers["socket"] = openSocket
}

// openSocket opens an HCI user channel on the given device index. The
// device must be down and the process needs CAP_NET_ADMIN.
func openSocket(opts Options) (Controller, error) {
	sock, err := socket.NewSocket(opts.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to open hci%d: %w", opts.Device, err)
	}

	opts.Logger.WithField("device", opts.Device).Info("Opened HCI socket controller")
	return newStreamController("socket", sock, opts.Logger), nil
}
