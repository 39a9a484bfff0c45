// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hci

import "fmt"

// Decoder states
const (
	stateIdle = iota
	stateEventCode
	stateEventLength
	stateEventParams
	stateACLHeader
	stateACLPayload
)

// H4Decoder reassembles H4 packets from a UART byte stream.
//
// Only event packets are returned; ACL data is consumed and dropped since a
// flare node never opens connections.
type H4Decoder struct {
	state     int
	buffer    []byte
	remaining int
}

// NewH4Decoder creates a new H4 stream decoder
func NewH4Decoder() *H4Decoder {
	return &H4Decoder{
		state:  stateIdle,
		buffer: make([]byte, 0, MaxEventSize),
	}
}

// Reset returns the decoder to idle, discarding any partial packet
func (d *H4Decoder) Reset() {
	d.state = stateIdle
	d.buffer = d.buffer[:0]
	d.remaining = 0
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a complete event packet (indicator included), or nil if more bytes
// are needed. Returns an error when a byte cannot start a packet; the decoder
// resynchronises on the next indicator.
func (d *H4Decoder) DecodeByte(b byte) ([]byte, error) {
	switch d.state {
	case stateIdle:
		switch b {
		case PktTypeEvent:
			d.buffer = append(d.buffer[:0], b)
			d.state = stateEventCode
			return nil, nil
		case PktTypeACLData:
			d.buffer = d.buffer[:0]
			d.remaining = 4 // handle(2) + length(2)
			d.state = stateACLHeader
			return nil, nil
		default:
			return nil, fmt.Errorf("unexpected packet indicator 0x%02X", b)
		}

	case stateEventCode:
		d.buffer = append(d.buffer, b)
		d.state = stateEventLength
		return nil, nil

	case stateEventLength:
		d.buffer = append(d.buffer, b)
		d.remaining = int(b)
		if d.remaining == 0 {
			return d.complete(), nil
		}
		d.state = stateEventParams
		return nil, nil

	case stateEventParams:
		d.buffer = append(d.buffer, b)
		d.remaining--
		if d.remaining == 0 {
			return d.complete(), nil
		}
		return nil, nil

	case stateACLHeader:
		d.buffer = append(d.buffer, b)
		d.remaining--
		if d.remaining == 0 {
			d.remaining = int(d.buffer[2]) | int(d.buffer[3])<<8
			d.buffer = d.buffer[:0]
			if d.remaining == 0 {
				d.Reset()
			} else {
				d.state = stateACLPayload
			}
		}
		return nil, nil

	case stateACLPayload:
		d.remaining--
		if d.remaining == 0 {
			d.Reset()
		}
		return nil, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", d.state)
	}
}

// complete hands out a copy of the buffered event and resets the decoder
func (d *H4Decoder) complete() []byte {
	pkt := make([]byte, len(d.buffer))
	copy(pkt, d.buffer)
	d.Reset()
	return pkt
}
