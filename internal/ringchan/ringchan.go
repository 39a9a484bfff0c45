// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ringchan provides a bounded channel whose producers never block.
//
// Controller events are pushed from a delivery context that must return
// quickly. When the buffer is full the oldest element is discarded so the
// consumer always sees the most recent traffic.
package ringchan

import "sync/atomic"

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
// Readers treat C() as a normal <-chan T.
type RingChannel[T any] struct {
	ch      chan T
	dropped atomic.Uint64
}

// New creates a RingChannel with the given capacity. A non-positive capacity
// is raised to one.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Offer inserts v without blocking. If the buffer is full the oldest element
// is discarded to make room. Returns false if v itself had to be dropped,
// which only happens when concurrent producers refill the freed slot first.
func (rc *RingChannel[T]) Offer(v T) bool {
	select {
	case rc.ch <- v:
		return true
	default:
	}

	select {
	case <-rc.ch: // drop oldest
		rc.dropped.Add(1)
	default:
	}

	select {
	case rc.ch <- v:
		return true
	default:
		rc.dropped.Add(1)
		return false
	}
}

// TryReceive attempts a non-blocking receive
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v = <-rc.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Dropped returns how many elements have been discarded since creation
func (rc *RingChannel[T]) Dropped() uint64 {
	return rc.dropped.Load()
}

// Len returns the number of buffered elements
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}
