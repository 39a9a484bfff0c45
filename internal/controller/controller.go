// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package controller opens the Bluetooth LE controller a node drives.
//
// Three transports are available: the Linux HCI user channel socket, an H4
// byte stream over a UART, and an in-process simulator with virtual
// receivers. All of them accept raw H4 command packets and hand complete H4
// event packets to a delivery hook.
package controller

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/flare/pkg/node"
)

// Controller is an open controller transport.
type Controller interface {
	node.Controller
	io.Closer

	// Start delivers every inbound event to deliver until ctx is cancelled
	// or the transport fails. It returns immediately.
	Start(ctx context.Context, deliver func(raw []byte) bool)
}

// Options select and configure a transport.
type Options struct {
	Device    int    // HCI device index for the socket transport
	Port      string // serial device for the UART transport
	Baud      int
	Receivers int // simulated receiver count
	Logger    *logrus.Logger
}

// Opener opens one kind of transport.
type Opener func(opts Options) (Controller, error)

var openers = map[string]Opener{
	"uart": openUART,
	"sim":  openSim,
}

// Open opens the transport registered under kind
func Open(kind string, opts Options) (Controller, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	opener, ok := openers[strings.ToLower(kind)]
	if !ok {
		return nil, fmt.Errorf("unknown controller kind %q (available: %s)", kind, strings.Join(Kinds(), ", "))
	}
	return opener(opts)
}

// Kinds lists the available transport kinds
func Kinds() []string {
	kinds := make([]string, 0, len(openers))
	for k := range openers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
