// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hci

import "encoding/binary"

// AdvParams holds LE Set Advertising Parameters fields.
// Intervals are in 0.625 ms units.
type AdvParams struct {
	IntervalMin  uint16
	IntervalMax  uint16
	AdvType      uint8
	OwnAddrType  uint8
	PeerAddrType uint8
	PeerAddr     [AddrLen]byte
	ChannelMap   uint8
	FilterPolicy uint8
}

// ScanParams holds LE Set Scan Parameters fields.
// Interval and Window are in 0.625 ms units.
type ScanParams struct {
	ScanType     uint8
	Interval     uint16
	Window       uint16
	OwnAddrType  uint8
	FilterPolicy uint8
}

// newCommand allocates a command packet with its header filled in and
// returns it together with the parameter slice to populate.
func newCommand(op uint16, paramLen int) ([]byte, []byte) {
	pkt := make([]byte, CommandHeaderSize+paramLen)
	pkt[0] = PktTypeCommand
	binary.LittleEndian.PutUint16(pkt[1:3], op)
	pkt[3] = uint8(paramLen)
	return pkt, pkt[CommandHeaderSize:]
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// EncodeReset builds an HCI_Reset command.
func EncodeReset() []byte {
	pkt, _ := newCommand(OpReset, 0)
	return pkt
}

// EncodeSetEventMask builds an HCI_Set_Event_Mask command.
func EncodeSetEventMask(mask [8]byte) []byte {
	pkt, p := newCommand(OpSetEventMask, eventMaskLen)
	copy(p, mask[:])
	return pkt
}

// EncodeSetAdvParams builds an HCI_LE_Set_Advertising_Parameters command.
func EncodeSetAdvParams(ap AdvParams) []byte {
	pkt, p := newCommand(OpLESetAdvParams, advParamsLen)
	binary.LittleEndian.PutUint16(p[0:2], ap.IntervalMin)
	binary.LittleEndian.PutUint16(p[2:4], ap.IntervalMax)
	p[4] = ap.AdvType
	p[5] = ap.OwnAddrType
	p[6] = ap.PeerAddrType
	copy(p[7:13], ap.PeerAddr[:])
	p[13] = ap.ChannelMap
	p[14] = ap.FilterPolicy
	return pkt
}

// EncodeSetAdvData builds an HCI_LE_Set_Advertising_Data command.
// The parameter block is always 32 bytes: the significant length followed by
// the data zero-padded to 31 bytes. Data beyond 31 bytes is truncated.
func EncodeSetAdvData(data []byte) []byte {
	if len(data) > MaxAdvDataLen {
		data = data[:MaxAdvDataLen]
	}
	pkt, p := newCommand(OpLESetAdvData, advDataParamsLen)
	p[0] = uint8(len(data))
	copy(p[1:], data)
	return pkt
}

// EncodeSetAdvEnable builds an HCI_LE_Set_Advertising_Enable command.
func EncodeSetAdvEnable(enable bool) []byte {
	pkt, p := newCommand(OpLESetAdvEnable, 1)
	p[0] = boolByte(enable)
	return pkt
}

// EncodeSetScanParams builds an HCI_LE_Set_Scan_Parameters command.
func EncodeSetScanParams(sp ScanParams) []byte {
	pkt, p := newCommand(OpLESetScanParams, scanParamsLen)
	p[0] = sp.ScanType
	binary.LittleEndian.PutUint16(p[1:3], sp.Interval)
	binary.LittleEndian.PutUint16(p[3:5], sp.Window)
	p[5] = sp.OwnAddrType
	p[6] = sp.FilterPolicy
	return pkt
}

// EncodeSetScanEnable builds an HCI_LE_Set_Scan_Enable command.
func EncodeSetScanEnable(enable, filterDuplicates bool) []byte {
	pkt, p := newCommand(OpLESetScanEnable, 2)
	p[0] = boolByte(enable)
	p[1] = boolByte(filterDuplicates)
	return pkt
}

// CommandOpcode returns the opcode of an encoded command packet.
func CommandOpcode(pkt []byte) (uint16, bool) {
	if len(pkt) < CommandHeaderSize || pkt[0] != PktTypeCommand {
		return 0, false
	}
	return binary.LittleEndian.Uint16(pkt[1:3]), true
}

// CommandParams returns the parameter block of an encoded command packet,
// bounded by both the declared length and the buffer.
func CommandParams(pkt []byte) []byte {
	if len(pkt) < CommandHeaderSize {
		return nil
	}
	end := CommandHeaderSize + int(pkt[3])
	if end > len(pkt) {
		end = len(pkt)
	}
	return pkt[CommandHeaderSize:end]
}
