// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package advpayload

import (
	"encoding/binary"
	"fmt"
)

// ADStructure is one [length][type][value] unit of advertising data.
type ADStructure struct {
	Type  uint8
	Value []byte
}

// WalkAD splits advertising data into its AD structures. The walk stops at a
// zero-length structure, at the end of data, or at a structure whose declared
// length would run past the data.
func WalkAD(data []byte) []ADStructure {
	var out []ADStructure
	off := 0
	for off < len(data) {
		adLen := int(data[off])
		if adLen == 0 {
			break
		}
		if off+1+adLen > len(data) {
			break
		}
		out = append(out, ADStructure{
			Type:  data[off+1],
			Value: data[off+2 : off+1+adLen],
		})
		off += 1 + adLen
	}
	return out
}

// Ack is an acknowledgement beacon broadcast by a receiver.
type Ack struct {
	TargetID    uint8
	CommandID   uint8
	CommandType uint8
	Delay       uint32
	State       uint8
}

// String renders the ack as a diagnostic line body (no newline)
func (a Ack) String() string {
	return fmt.Sprintf("FOUND:%d,%d,%d,%d,%d", a.TargetID, a.CommandID, a.CommandType, a.Delay, a.State)
}

// Encode serialises the ack as a manufacturer AD structure, the way a
// receiver broadcasts it.
func (a Ack) Encode() []byte {
	buf := make([]byte, 2+AckValueSize)
	buf[0] = 1 + AckValueSize
	buf[1] = ADTypeManufacturer
	v := buf[2:]
	binary.LittleEndian.PutUint16(v, CompanyID)
	v[ackOffSubType] = AckSubType
	v[ackOffTargetID] = a.TargetID
	v[ackOffCommandID] = a.CommandID
	v[ackOffCommandType] = a.CommandType
	binary.BigEndian.PutUint32(v[ackOffDelay:], a.Delay)
	v[ackOffState] = a.State
	return buf
}

// DecodeAck parses one manufacturer AD value as an acknowledgement.
func DecodeAck(s ADStructure) (Ack, bool) {
	v := s.Value
	if s.Type != ADTypeManufacturer || len(v) < AckValueSize {
		return Ack{}, false
	}
	if binary.LittleEndian.Uint16(v) != CompanyID || v[ackOffSubType] != AckSubType {
		return Ack{}, false
	}
	return Ack{
		TargetID:    v[ackOffTargetID],
		CommandID:   v[ackOffCommandID],
		CommandType: v[ackOffCommandType],
		Delay:       binary.BigEndian.Uint32(v[ackOffDelay:]),
		State:       v[ackOffState],
	}, true
}

// DecodeAcks returns every acknowledgement carried in advertising data.
func DecodeAcks(data []byte) []Ack {
	var acks []Ack
	for _, s := range WalkAD(data) {
		if a, ok := DecodeAck(s); ok {
			acks = append(acks, a)
		}
	}
	return acks
}

// StateName returns the human-readable name of a receiver state
func StateName(state uint8) string {
	switch state {
	case StateUnloaded:
		return "UNLOADED"
	case StateReady:
		return "READY"
	case StatePlaying:
		return "PLAYING"
	case StatePause:
		return "PAUSE"
	case StateTest:
		return "TEST"
	default:
		return "UNKNOWN"
	}
}
