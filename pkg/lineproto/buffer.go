// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lineproto

// DefaultMaxLength is the reference line buffer size, terminator included
const DefaultMaxLength = 128

// Status is the outcome of feeding one byte to a LineBuffer.
type Status int

const (
	// StatusPending means the byte was buffered or ignored
	StatusPending Status = iota
	// StatusLine means a complete line is available
	StatusLine
	// StatusOverflow means the line exceeded the cap and was discarded
	StatusOverflow
)

// LineBuffer accumulates bytes into '\n'-terminated lines. Carriage returns
// are dropped. A line may hold at most maxLength-1 bytes; the byte that would
// exceed that discards the partial line.
type LineBuffer struct {
	buf       []byte
	maxLength int
}

// NewLineBuffer creates a buffer with the given cap
func NewLineBuffer(maxLength int) *LineBuffer {
	if maxLength < 2 {
		maxLength = DefaultMaxLength
	}
	return &LineBuffer{
		buf:       make([]byte, 0, maxLength),
		maxLength: maxLength,
	}
}

// Feed adds one byte. On StatusLine the returned string holds the line
// without its terminator and the buffer is empty again.
func (b *LineBuffer) Feed(c byte) (string, Status) {
	switch {
	case c == '\n':
		line := string(b.buf)
		b.buf = b.buf[:0]
		return line, StatusLine
	case c == '\r':
		return "", StatusPending
	case len(b.buf) < b.maxLength-1:
		b.buf = append(b.buf, c)
		return "", StatusPending
	default:
		b.buf = b.buf[:0]
		return "", StatusOverflow
	}
}

// Len returns the number of buffered bytes
func (b *LineBuffer) Len() int {
	return len(b.buf)
}

// Reset discards any partial line
func (b *LineBuffer) Reset() {
	b.buf = b.buf[:0]
}
