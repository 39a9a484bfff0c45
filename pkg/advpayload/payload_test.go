// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package advpayload

import (
	"testing"

	"github.com/Thermoquad/flare/pkg/hci"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// asReport wraps advertising data into an LE advertising report event the
// way a scanning controller would deliver it
func asReport(data []byte) []byte {
	params := []byte{hci.SubevtAdvertisingReport, 1, hci.AdvNonconnInd, 0x00, 1, 2, 3, 4, 5, 6, uint8(len(data))}
	params = append(params, data...)
	params = append(params, 0xC4)
	return append([]byte{hci.PktTypeEvent, hci.EvtLEMeta, uint8(len(params))}, params...)
}

func TestCommandEnvelope_Layout(t *testing.T) {
	c := CommandEnvelope{
		CommandType: 0xA0,
		TargetMask:  0x0102030405060708,
		DelayUS:     0x11223344,
		PrepTimeUS:  0x55667788,
		Data:        [DataSize]byte{0xAA, 0xBB, 0xCC},
	}

	assert.Equal(t, []byte{
		// flags
		0x02, 0x01, 0x06,
		// manufacturer header and company
		0x14, 0xFF, 0xFF, 0xFF,
		// command type
		0xA0,
		// mask, little-endian
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
		// delay and prep, big-endian
		0x11, 0x22, 0x33, 0x44,
		0x55, 0x66, 0x77, 0x88,
		0xAA, 0xBB, 0xCC,
	}, c.Encode())
}

func TestCommandEnvelope_RoundTripThroughReport(t *testing.T) {
	want := CommandEnvelope{
		CommandType: 0xA0,
		TargetMask:  0x0000000000000001,
		DelayUS:     5000,
		PrepTimeUS:  200,
		Data:        [DataSize]byte{1, 2, 3},
	}

	adv := hci.EncodeSetAdvData(want.Encode())
	// The programmed data is what receivers hear
	params := hci.CommandParams(adv)
	data := params[1 : 1+params[0]]

	reports := hci.ParseAdvertisingReports(asReport(data))
	require.Len(t, reports, 1)

	got, err := DecodeCommand(reports[0].Data)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, got.Targets(0))
	assert.False(t, got.Targets(1))
}

func TestCommandEnvelope_FitsAdvertisingData(t *testing.T) {
	assert.LessOrEqual(t, len(CommandEnvelope{}.Encode()), hci.MaxAdvDataLen)
}

func TestDecodeCommand_Rejects(t *testing.T) {
	valid := CommandEnvelope{CommandType: 1}.Encode()

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{name: "short", mutate: func(b []byte) []byte { return b[:CommandSize-1] }},
		{name: "no flags", mutate: func(b []byte) []byte { b[1] = 0x09; return b }},
		{name: "wrong AD type", mutate: func(b []byte) []byte { b[offMfrType] = 0x16; return b }},
		{name: "wrong company", mutate: func(b []byte) []byte { b[offCompany] = 0x59; return b }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte{}, valid...))
			_, err := DecodeCommand(data)
			assert.ErrorIs(t, err, ErrNotCommand)
		})
	}
}

func TestCommandEnvelope_Targets(t *testing.T) {
	c := CommandEnvelope{TargetMask: 1<<63 | 1<<5}
	assert.True(t, c.Targets(63))
	assert.True(t, c.Targets(5))
	assert.False(t, c.Targets(4))
	assert.False(t, c.Targets(64))
	assert.False(t, c.Targets(-1))
}

func TestDecodeAcks_CraftedReport(t *testing.T) {
	data := []byte{
		0x02, 0x01, 0x06,
		0x0C, 0xFF, 0xFF, 0xFF, 0x08, 0x03, 0x07, 0xA0, 0x00, 0x00, 0x13, 0x88, 0x01,
	}

	reports := hci.ParseAdvertisingReports(asReport(data))
	require.Len(t, reports, 1)

	acks := DecodeAcks(reports[0].Data)
	require.Len(t, acks, 1)
	assert.Equal(t, Ack{TargetID: 3, CommandID: 7, CommandType: 0xA0, Delay: 5000, State: 1}, acks[0])
	assert.Equal(t, "FOUND:3,7,160,5000,1", acks[0].String())
}

func TestAck_EncodeDecode(t *testing.T) {
	a := Ack{TargetID: 9, CommandID: 0x31, CommandType: 0x02, Delay: 123456, State: StatePlaying}
	acks := DecodeAcks(a.Encode())
	require.Len(t, acks, 1)
	assert.Equal(t, a, acks[0])
}

func TestDecodeAcks_SkipsOtherStructures(t *testing.T) {
	data := []byte{0x02, 0x01, 0x06}
	data = append(data, 0x05, 0x09, 'n', 'o', 'd', 'e') // complete local name
	data = append(data, 0x04, 0xFF, 0x4C, 0x00, 0x08)   // other company
	data = append(data, Ack{TargetID: 1, CommandID: 2}.Encode()...)

	acks := DecodeAcks(data)
	require.Len(t, acks, 1)
	assert.Equal(t, uint8(1), acks[0].TargetID)
	assert.Equal(t, uint8(2), acks[0].CommandID)
}

func TestDecodeAcks_CommandEnvelopeIsNotAnAck(t *testing.T) {
	for _, cmdType := range []uint8{0x00, 0x01, 0x07, 0x09, 0xA0, 0xFF} {
		c := CommandEnvelope{CommandType: cmdType, TargetMask: ^uint64(0), DelayUS: 1}
		assert.Empty(t, DecodeAcks(c.Encode()), "command type 0x%02X", cmdType)
	}
}

func TestDecodeAcks_ShortAckBodyIgnored(t *testing.T) {
	// sub-type matches but the body is cut short by its declared length
	data := []byte{0x08, 0xFF, 0xFF, 0xFF, 0x08, 0x03, 0x07, 0xA0, 0x00}
	assert.Empty(t, DecodeAcks(data))
}

func TestWalkAD(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		types []uint8
	}{
		{name: "empty", data: nil, types: nil},
		{name: "single", data: []byte{0x02, 0x01, 0x06}, types: []uint8{0x01}},
		{name: "terminated by zero length", data: []byte{0x02, 0x01, 0x06, 0x00, 0x02, 0x0A, 0x00}, types: []uint8{0x01}},
		{name: "overlong length stops", data: []byte{0x02, 0x01, 0x06, 0x09, 0xFF, 0x01}, types: []uint8{0x01}},
		{name: "length byte only", data: []byte{0x02, 0x01, 0x06, 0x01}, types: []uint8{0x01}},
		{name: "two", data: []byte{0x02, 0x01, 0x06, 0x02, 0x0A, 0x00}, types: []uint8{0x01, 0x0A}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var types []uint8
			for _, s := range WalkAD(tt.data) {
				types = append(types, s.Type)
			}
			assert.Equal(t, tt.types, types)
		})
	}
}

func TestStateName(t *testing.T) {
	assert.Equal(t, "READY", StateName(StateReady))
	assert.Equal(t, "TEST", StateName(StateTest))
	assert.Equal(t, "UNKNOWN", StateName(StateTest+1))
	assert.Equal(t, "UNKNOWN", StateName(0x42))
}
