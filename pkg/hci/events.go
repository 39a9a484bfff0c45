// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hci

import (
	"encoding/binary"
	"fmt"
)

// Address is a Bluetooth device address as it appears on the wire
// (least significant byte first).
type Address [AddrLen]byte

// String formats the address most significant byte first.
func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[5], a[4], a[3], a[2], a[1], a[0])
}

// AdvReport is one entry of an LE Advertising Report event.
type AdvReport struct {
	EventType uint8
	AddrType  uint8
	Addr      Address
	Data      []byte // raw AD structures
	RSSI      int8
}

// advReportHeader is event type + address type + address + data length
const advReportHeader = 2 + AddrLen + 1

// eventParams returns the event code and parameter block of an H4 event,
// bounded by both the declared parameter length and the buffer.
func eventParams(event []byte) (uint8, []byte, bool) {
	if len(event) < EventHeaderSize || event[0] != PktTypeEvent {
		return 0, nil, false
	}
	end := EventHeaderSize + int(event[2])
	if end > len(event) {
		end = len(event)
	}
	return event[1], event[EventHeaderSize:end], true
}

// ParseAdvertisingReports extracts the reports of an LE Meta Advertising
// Report event. Any other event yields nil. A truncated report ends the walk;
// reports decoded before it are still returned.
func ParseAdvertisingReports(event []byte) []AdvReport {
	code, params, ok := eventParams(event)
	if !ok || code != EvtLEMeta {
		return nil
	}
	if len(params) < 2 || params[0] != SubevtAdvertisingReport {
		return nil
	}

	numReports := int(params[1])
	p := params[2:]
	reports := make([]AdvReport, 0, numReports)

	for i := 0; i < numReports; i++ {
		if len(p) < advReportHeader {
			break
		}
		dataLen := int(p[advReportHeader-1])
		// data plus trailing RSSI byte
		if len(p) < advReportHeader+dataLen+1 {
			break
		}

		r := AdvReport{
			EventType: p[0],
			AddrType:  p[1],
			Data:      p[advReportHeader : advReportHeader+dataLen],
			RSSI:      int8(p[advReportHeader+dataLen]),
		}
		copy(r.Addr[:], p[2:2+AddrLen])
		reports = append(reports, r)

		p = p[advReportHeader+dataLen+1:]
	}

	return reports
}

// CommandComplete is a decoded Command Complete event.
type CommandComplete struct {
	NumPackets uint8
	Opcode     uint16
	Status     uint8
	Return     []byte // return parameters after the status byte
}

// ParseCommandComplete decodes a Command Complete event.
func ParseCommandComplete(event []byte) (CommandComplete, bool) {
	code, params, ok := eventParams(event)
	if !ok || code != EvtCommandComplete || len(params) < 3 {
		return CommandComplete{}, false
	}
	cc := CommandComplete{
		NumPackets: params[0],
		Opcode:     binary.LittleEndian.Uint16(params[1:3]),
	}
	if len(params) > 3 {
		cc.Status = params[3]
		cc.Return = params[4:]
	}
	return cc, true
}

// CommandStatus is a decoded Command Status event.
type CommandStatus struct {
	Status     uint8
	NumPackets uint8
	Opcode     uint16
}

// ParseCommandStatus decodes a Command Status event.
func ParseCommandStatus(event []byte) (CommandStatus, bool) {
	code, params, ok := eventParams(event)
	if !ok || code != EvtCommandStatus || len(params) < 4 {
		return CommandStatus{}, false
	}
	return CommandStatus{
		Status:     params[0],
		NumPackets: params[1],
		Opcode:     binary.LittleEndian.Uint16(params[2:4]),
	}, true
}
