// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hcitrace records the HCI traffic between a node and its controller
// as a stream of CBOR records, and reads such traces back.
//
// Each record is a CBOR map with integer keys:
//
//	1: direction (0 command, 1 event)
//	2: monotonic timestamp, microseconds
//	3: raw H4 packet
package hcitrace

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Direction of a traced packet
type Direction uint8

const (
	DirCommand Direction = 0
	DirEvent   Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirCommand:
		return "CMD"
	case DirEvent:
		return "EVT"
	default:
		return fmt.Sprintf("DIR(%d)", uint8(d))
	}
}

// Record is one traced packet.
type Record struct {
	Direction Direction `cbor:"1,keyasint"`
	TimeUS    int64     `cbor:"2,keyasint"`
	Packet    []byte    `cbor:"3,keyasint"`
}

// Writer appends records to an underlying stream. Safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	enc *cbor.Encoder
}

// NewWriter creates a Writer on w
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: cbor.NewEncoder(w)}
}

// Write appends one record
func (w *Writer) Write(r Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(r); err != nil {
		return fmt.Errorf("encode trace record: %w", err)
	}
	return nil
}

// Reader decodes records from a stream.
type Reader struct {
	dec *cbor.Decoder
}

// NewReader creates a Reader on r
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at a clean end of stream.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("decode trace record: %w", err)
	}
	return rec, nil
}

// ReadAll decodes every record until the end of the stream
func ReadAll(r io.Reader) ([]Record, error) {
	tr := NewReader(r)
	var records []Record
	for {
		rec, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}
