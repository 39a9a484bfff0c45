// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package advpayload defines the flare advertising payload: the command
// envelope a node broadcasts to its receivers and the acknowledgement
// envelope receivers broadcast back.
//
// Both envelopes ride in a manufacturer-specific AD structure under the
// reserved company identifier 0xFFFF.
package advpayload

// AD structure types
const (
	ADTypeFlags        = 0x01
	ADTypeManufacturer = 0xFF
)

// Flags AD value: LE General Discoverable, BR/EDR not supported
const FlagsGeneralNoBREDR = 0x06

// CompanyID is the manufacturer identifier carried by both envelopes
const CompanyID = 0xFFFF

// AckSubType follows the company id in an acknowledgement envelope
const AckSubType = 0x08

// Command envelope layout
const (
	offFlags       = 0
	offMfrLength   = 3
	offMfrType     = 4
	offCompany     = 5
	offCommandType = 7
	offTargetMask  = 8
	offDelay       = 16
	offPrepTime    = 20
	offData        = 24
	CommandSize    = 27
	DataSize       = 3
	MaxReceivers   = 64
)

// CommandMfrLength is the manufacturer AD length byte transmitted in the
// command envelope. Deployed receivers read the envelope at fixed offsets
// and expect this value, so it is kept even though the structure body is
// longer.
const CommandMfrLength = 20

// Acknowledgement envelope layout, relative to the manufacturer AD value
const (
	ackOffSubType     = 2
	ackOffTargetID    = 3
	ackOffCommandID   = 4
	ackOffCommandType = 5
	ackOffDelay       = 6
	ackOffState       = 10
	AckValueSize      = 11
)

// Receiver states reported in acknowledgements
const (
	StateUnloaded = 0
	StateReady    = 1
	StatePlaying  = 2
	StatePause    = 3
	StateTest     = 4
)
