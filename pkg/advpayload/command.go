// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package advpayload

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotCommand is returned when advertising data does not carry a command envelope
var ErrNotCommand = errors.New("not a command envelope")

// CommandEnvelope is the broadcast command a node hands to its receivers.
type CommandEnvelope struct {
	CommandType uint8
	TargetMask  uint64 // bit i addresses receiver i
	DelayUS     uint32 // microseconds until the receiver must act
	PrepTimeUS  uint32 // receiver lead time before acting
	Data        [DataSize]byte
}

// Encode serialises the envelope into advertising data.
func (c CommandEnvelope) Encode() []byte {
	buf := make([]byte, CommandSize)

	buf[offFlags] = 2
	buf[offFlags+1] = ADTypeFlags
	buf[offFlags+2] = FlagsGeneralNoBREDR

	buf[offMfrLength] = CommandMfrLength
	buf[offMfrType] = ADTypeManufacturer
	binary.LittleEndian.PutUint16(buf[offCompany:], CompanyID)
	buf[offCommandType] = c.CommandType

	binary.LittleEndian.PutUint64(buf[offTargetMask:], c.TargetMask)
	binary.BigEndian.PutUint32(buf[offDelay:], c.DelayUS)
	binary.BigEndian.PutUint32(buf[offPrepTime:], c.PrepTimeUS)
	copy(buf[offData:], c.Data[:])

	return buf
}

// DecodeCommand parses a command envelope from advertising data the way
// receivers do: fixed offsets after checking the flags structure,
// manufacturer type and company id.
func DecodeCommand(data []byte) (CommandEnvelope, error) {
	if len(data) < CommandSize {
		return CommandEnvelope{}, fmt.Errorf("%w: %d bytes, need %d", ErrNotCommand, len(data), CommandSize)
	}
	if data[offFlags] != 2 || data[offFlags+1] != ADTypeFlags {
		return CommandEnvelope{}, fmt.Errorf("%w: missing flags structure", ErrNotCommand)
	}
	if data[offMfrType] != ADTypeManufacturer {
		return CommandEnvelope{}, fmt.Errorf("%w: AD type 0x%02X", ErrNotCommand, data[offMfrType])
	}
	if company := binary.LittleEndian.Uint16(data[offCompany:]); company != CompanyID {
		return CommandEnvelope{}, fmt.Errorf("%w: company 0x%04X", ErrNotCommand, company)
	}

	c := CommandEnvelope{
		CommandType: data[offCommandType],
		TargetMask:  binary.LittleEndian.Uint64(data[offTargetMask:]),
		DelayUS:     binary.BigEndian.Uint32(data[offDelay:]),
		PrepTimeUS:  binary.BigEndian.Uint32(data[offPrepTime:]),
	}
	copy(c.Data[:], data[offData:offData+DataSize])
	return c, nil
}

// Targets reports whether receiver id is addressed by the envelope.
func (c CommandEnvelope) Targets(id int) bool {
	if id < 0 || id >= MaxReceivers {
		return false
	}
	return c.TargetMask&(1<<uint(id)) != 0
}
