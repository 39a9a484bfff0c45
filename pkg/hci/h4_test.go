// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hci

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeAll(t *testing.T, d *H4Decoder, stream []byte) ([][]byte, int) {
	t.Helper()
	var events [][]byte
	errs := 0
	for _, b := range stream {
		pkt, err := d.DecodeByte(b)
		if err != nil {
			errs++
			continue
		}
		if pkt != nil {
			events = append(events, pkt)
		}
	}
	return events, errs
}

func TestH4Decoder_SingleEvent(t *testing.T) {
	event := []byte{0x04, 0x0E, 0x04, 0x01, 0x03, 0x0C, 0x00}

	events, errs := decodeAll(t, NewH4Decoder(), event)
	assert.Zero(t, errs)
	require.Len(t, events, 1)
	assert.Equal(t, event, events[0])
}

func TestH4Decoder_ZeroLengthEvent(t *testing.T) {
	events, errs := decodeAll(t, NewH4Decoder(), []byte{0x04, 0x10, 0x00})
	assert.Zero(t, errs)
	require.Len(t, events, 1)
	assert.Equal(t, []byte{0x04, 0x10, 0x00}, events[0])
}

func TestH4Decoder_BackToBack(t *testing.T) {
	first := []byte{0x04, 0x0E, 0x04, 0x01, 0x03, 0x0C, 0x00}
	second := buildAdvReportEvent([AddrLen]byte{1, 2, 3, 4, 5, 6}, []byte{0x02, 0x01, 0x06}, -70)

	stream := append(append([]byte{}, first...), second...)
	events, errs := decodeAll(t, NewH4Decoder(), stream)
	assert.Zero(t, errs)
	require.Len(t, events, 2)
	assert.Equal(t, first, events[0])
	assert.Equal(t, second, events[1])
}

func TestH4Decoder_SkipsACLData(t *testing.T) {
	acl := []byte{0x02, 0x01, 0x00, 0x03, 0x00, 0xAA, 0xBB, 0xCC}
	event := []byte{0x04, 0x0E, 0x04, 0x01, 0x03, 0x0C, 0x00}

	events, errs := decodeAll(t, NewH4Decoder(), append(acl, event...))
	assert.Zero(t, errs)
	require.Len(t, events, 1)
	assert.Equal(t, event, events[0])
}

func TestH4Decoder_ResyncAfterGarbage(t *testing.T) {
	event := []byte{0x04, 0x0E, 0x04, 0x01, 0x03, 0x0C, 0x00}
	stream := append([]byte{0xFF, 0x00, 0x7E}, event...)

	events, errs := decodeAll(t, NewH4Decoder(), stream)
	assert.Equal(t, 3, errs)
	require.Len(t, events, 1)
	assert.Equal(t, event, events[0])
}

func TestH4Decoder_ReturnsCopies(t *testing.T) {
	d := NewH4Decoder()
	events, _ := decodeAll(t, d, []byte{0x04, 0x0E, 0x01, 0xAA, 0x04, 0x0E, 0x01, 0xBB})
	require.Len(t, events, 2)
	assert.Equal(t, uint8(0xAA), events[0][3])
	assert.Equal(t, uint8(0xBB), events[1][3])
}
