// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hci encodes the Host Controller Interface commands a flare node
// issues to its Bluetooth LE controller and parses the events it receives back.
//
// Packets use H4 framing: a one-byte packet indicator followed by the command
// or event body. Encoders return complete packets ready for the controller
// command channel; parsers accept complete event packets and never read past
// the bytes they were given.
package hci

// H4 packet indicators
const (
	PktTypeCommand uint8 = 0x01
	PktTypeACLData uint8 = 0x02
	PktTypeEvent   uint8 = 0x04
)

// Opcode group fields
const (
	ogfHostControl uint16 = 0x03
	ogfLEControl   uint16 = 0x08
)

func opcode(ogf, ocf uint16) uint16 {
	return ogf<<10 | ocf
}

// Command opcodes
var (
	OpSetEventMask    = opcode(ogfHostControl, 0x0001) // 0x0C01
	OpReset           = opcode(ogfHostControl, 0x0003) // 0x0C03
	OpLESetAdvParams  = opcode(ogfLEControl, 0x0006)   // 0x2006
	OpLESetAdvData    = opcode(ogfLEControl, 0x0008)   // 0x2008
	OpLESetAdvEnable  = opcode(ogfLEControl, 0x000A)   // 0x200A
	OpLESetScanParams = opcode(ogfLEControl, 0x000B)   // 0x200B
	OpLESetScanEnable = opcode(ogfLEControl, 0x000C)   // 0x200C
)

// Event codes
const (
	EvtCommandComplete uint8 = 0x0E
	EvtCommandStatus   uint8 = 0x0F
	EvtLEMeta          uint8 = 0x3E
)

// LE Meta subevent codes
const (
	SubevtAdvertisingReport uint8 = 0x02
)

// Sizes
const (
	CommandHeaderSize = 4 // indicator + opcode(2) + param length
	EventHeaderSize   = 3 // indicator + event code + param length
	MaxAdvDataLen     = 31
	AddrLen           = 6

	advParamsLen     = 15
	advDataParamsLen = 1 + MaxAdvDataLen
	scanParamsLen    = 7
	eventMaskLen     = 8

	// MaxEventSize bounds an H4 event packet: header plus a 255-byte parameter block
	MaxEventSize = EventHeaderSize + 255
)

// Advertising PDU types [Vol 6 Part B, 2.3]
const (
	AdvInd        uint8 = 0x00 // Connectable undirected
	AdvDirectInd  uint8 = 0x01 // Connectable directed
	AdvScanInd    uint8 = 0x02 // Scannable undirected
	AdvNonconnInd uint8 = 0x03 // Non connectable undirected
	ScanRsp       uint8 = 0x04 // Scan response
)

// Scan types
const (
	ScanPassive uint8 = 0x00
	ScanActive  uint8 = 0x01
)

// Advertising channel map bits
const (
	Channel37   uint8 = 0x01
	Channel38   uint8 = 0x02
	Channel39   uint8 = 0x04
	AllChannels       = Channel37 | Channel38 | Channel39
)

// LEMetaEventMask enables only the LE Meta event (bit 61) so that
// advertising reports reach the host.
var LEMetaEventMask = [eventMaskLen]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x20}
