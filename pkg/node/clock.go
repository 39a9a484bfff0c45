// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import "time"

// Clock supplies monotonic microseconds and a sleep primitive.
type Clock interface {
	NowMicros() int64
	Sleep(d time.Duration)
}

type monotonicClock struct {
	start time.Time
}

// NewClock returns a Clock backed by the runtime's monotonic time, counting
// from the moment of the call.
func NewClock() Clock {
	return monotonicClock{start: time.Now()}
}

func (c monotonicClock) NowMicros() int64 {
	return time.Since(c.start).Microseconds()
}

func (monotonicClock) Sleep(d time.Duration) {
	time.Sleep(d)
}
