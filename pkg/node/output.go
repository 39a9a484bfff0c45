// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"io"
	"sync"
)

// LineWriter serialises newline-terminated lines onto a shared writer so
// replies from the line front end and listener diagnostics never interleave.
type LineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLineWriter wraps w. A nil writer discards everything.
func NewLineWriter(w io.Writer) *LineWriter {
	if w == nil {
		w = io.Discard
	}
	return &LineWriter{w: w}
}

// WriteLine writes line followed by '\n' in a single call
func (lw *LineWriter) WriteLine(line string) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	lw.mu.Lock()
	defer lw.mu.Unlock()
	_, err := lw.w.Write(buf)
	return err
}
