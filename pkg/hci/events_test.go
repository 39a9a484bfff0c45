// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hci

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildAdvReportEvent wraps advertising data into a single-report LE Meta event
func buildAdvReportEvent(addr [AddrLen]byte, data []byte, rssi int8) []byte {
	params := []byte{SubevtAdvertisingReport, 1, AdvNonconnInd, 0x00}
	params = append(params, addr[:]...)
	params = append(params, uint8(len(data)))
	params = append(params, data...)
	params = append(params, byte(rssi))

	event := []byte{PktTypeEvent, EvtLEMeta, uint8(len(params))}
	return append(event, params...)
}

func TestParseAdvertisingReports_Single(t *testing.T) {
	addr := [AddrLen]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	data := []byte{0x02, 0x01, 0x06}
	event := buildAdvReportEvent(addr, data, -60)

	reports := ParseAdvertisingReports(event)
	require.Len(t, reports, 1)

	r := reports[0]
	assert.Equal(t, AdvNonconnInd, r.EventType)
	assert.Equal(t, Address(addr), r.Addr)
	assert.Equal(t, "66:55:44:33:22:11", r.Addr.String())
	assert.Equal(t, data, r.Data)
	assert.Equal(t, int8(-60), r.RSSI)
}

func TestParseAdvertisingReports_Multiple(t *testing.T) {
	first := []byte{0x02, 0x01, 0x06}
	second := []byte{0x03, 0xFF, 0xAA, 0xBB}

	params := []byte{SubevtAdvertisingReport, 2}
	for i, data := range [][]byte{first, second} {
		params = append(params, AdvInd, 0x01, byte(i), 0, 0, 0, 0, 0, uint8(len(data)))
		params = append(params, data...)
		params = append(params, 0xC0)
	}
	event := append([]byte{PktTypeEvent, EvtLEMeta, uint8(len(params))}, params...)

	reports := ParseAdvertisingReports(event)
	require.Len(t, reports, 2)
	assert.Equal(t, first, reports[0].Data)
	assert.Equal(t, second, reports[1].Data)
	assert.Equal(t, uint8(1), reports[1].Addr[0])
}

func TestParseAdvertisingReports_NotAReport(t *testing.T) {
	tests := []struct {
		name  string
		event []byte
	}{
		{name: "empty", event: nil},
		{name: "command packet", event: EncodeReset()},
		{name: "command complete", event: []byte{0x04, 0x0E, 0x04, 0x01, 0x03, 0x0C, 0x00}},
		{name: "other LE subevent", event: []byte{0x04, 0x3E, 0x02, 0x01, 0x00}},
		{name: "header only", event: []byte{0x04, 0x3E}},
		{name: "no params", event: []byte{0x04, 0x3E, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, ParseAdvertisingReports(tt.event))
		})
	}
}

func TestParseAdvertisingReports_Truncated(t *testing.T) {
	event := buildAdvReportEvent([AddrLen]byte{}, []byte{0x02, 0x01, 0x06}, -40)

	// Every prefix of a valid event must parse without panicking and
	// must never yield a report whose data runs past the buffer.
	for n := 0; n < len(event); n++ {
		reports := ParseAdvertisingReports(event[:n])
		assert.Empty(t, reports, "prefix of %d bytes", n)
	}
}

func TestParseAdvertisingReports_DeclaredLengthTooLarge(t *testing.T) {
	event := buildAdvReportEvent([AddrLen]byte{}, []byte{0x02, 0x01, 0x06}, -40)
	// Inflate the data length so it would read past the event
	event[EventHeaderSize+2+advReportHeader-1] = 200

	assert.Empty(t, ParseAdvertisingReports(event))
}

func TestParseAdvertisingReports_NumReportsOverstated(t *testing.T) {
	event := buildAdvReportEvent([AddrLen]byte{}, []byte{0x02, 0x01, 0x06}, -40)
	event[EventHeaderSize+1] = 5

	reports := ParseAdvertisingReports(event)
	assert.Len(t, reports, 1)
}

func TestParseCommandComplete(t *testing.T) {
	cc, ok := ParseCommandComplete([]byte{0x04, 0x0E, 0x04, 0x01, 0x0A, 0x20, 0x0C})
	require.True(t, ok)
	assert.Equal(t, uint8(1), cc.NumPackets)
	assert.Equal(t, OpLESetAdvEnable, cc.Opcode)
	assert.Equal(t, uint8(0x0C), cc.Status)

	_, ok = ParseCommandComplete([]byte{0x04, 0x0E, 0x01, 0x01})
	assert.False(t, ok)
}

func TestParseCommandStatus(t *testing.T) {
	cs, ok := ParseCommandStatus([]byte{0x04, 0x0F, 0x04, 0x00, 0x01, 0x0C, 0x20})
	require.True(t, ok)
	assert.Equal(t, OpLESetScanEnable, cs.Opcode)
	assert.Zero(t, cs.Status)
}
