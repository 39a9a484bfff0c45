// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package tasktable holds the pending timed broadcast commands of a flare
// node in a fixed number of slots.
//
// Every read and write, including the round-robin cursor, happens under one
// mutex. Callers must not perform radio I/O while holding it; Select copies
// the chosen entry out so the lock is released before dispatch.
package tasktable

import (
	"errors"
	"sync"
)

// DefaultCapacity is the reference number of slots
const DefaultCapacity = 4

// ErrCapacityExceeded is returned by Admit when every slot is occupied
var ErrCapacityExceeded = errors.New("task table full")

// Task is a pending timed broadcast command.
type Task struct {
	CommandType uint8
	TargetMask  uint64
	DelayUS     uint32 // requested delay at admission time
	PrepTimeUS  uint32
	Data        [3]byte
}

// Ticket identifies an admitted task. Tickets are issued in increasing order
// and never reused, so a stale ticket cannot reach a later occupant of the
// same slot.
type Ticket uint64

// Entry is a live task together with its bookkeeping.
type Entry struct {
	Task     Task
	Deadline int64 // monotonic microseconds
	Admitted int64 // monotonic microseconds
	Ticket   Ticket
	Slot     int

	// Dispatches counts the broadcasts that carried this entry. Selection
	// alone does not count; see MarkDispatched.
	Dispatches int
}

type slot struct {
	live  bool
	entry Entry
}

// Table is a fixed-capacity, mutex-guarded store of pending tasks.
type Table struct {
	mu         sync.Mutex
	slots      []slot
	cursor     int
	lastTicket Ticket
}

// New creates a table with the given number of slots
func New(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{slots: make([]slot, capacity)}
}

// Capacity returns the number of slots
func (t *Table) Capacity() int {
	return len(t.slots)
}

// Admit stores task in the first free slot with deadline now+DelayUS.
func (t *Table) Admit(task Task, now int64) (Ticket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if t.slots[i].live {
			continue
		}
		t.lastTicket++
		t.slots[i] = slot{
			live: true,
			entry: Entry{
				Task:     task,
				Deadline: now + int64(task.DelayUS),
				Admitted: now,
				Ticket:   t.lastTicket,
				Slot:     i,
			},
		}
		return t.lastTicket, nil
	}
	return 0, ErrCapacityExceeded
}

// Cancel removes the task admitted under ticket. Returns false if the task
// has already expired or been cancelled.
func (t *Table) Cancel(ticket Ticket) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if t.slots[i].live && t.slots[i].entry.Ticket == ticket {
			t.slots[i] = slot{}
			return true
		}
	}
	return false
}

// Selection is the outcome of one scheduler cycle's table pass.
type Selection struct {
	Entry    Entry
	Selected bool
	Expired  []Entry
	Live     int // live tasks after expiry
}

// Select expires every task whose deadline has passed, then picks the next
// live task in round-robin order starting at the cursor and advances the
// cursor past it.
func (t *Table) Select(now int64) Selection {
	t.mu.Lock()
	defer t.mu.Unlock()

	var sel Selection
	for i := range t.slots {
		s := &t.slots[i]
		if !s.live {
			continue
		}
		if now >= s.entry.Deadline {
			sel.Expired = append(sel.Expired, s.entry)
			*s = slot{}
			continue
		}
		sel.Live++
	}

	if sel.Live == 0 {
		return sel
	}

	n := len(t.slots)
	for k := 0; k < n; k++ {
		i := (t.cursor + k) % n
		if t.slots[i].live {
			sel.Entry = t.slots[i].entry
			sel.Selected = true
			t.cursor = (i + 1) % n
			break
		}
	}
	return sel
}

// MarkDispatched records that the task admitted under ticket was broadcast.
// Returns false if it is no longer live.
func (t *Table) MarkDispatched(ticket Ticket) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if t.slots[i].live && t.slots[i].entry.Ticket == ticket {
			t.slots[i].entry.Dispatches++
			return true
		}
	}
	return false
}

// Snapshot returns a copy of every live entry in slot order
func (t *Table) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := make([]Entry, 0, len(t.slots))
	for _, s := range t.slots {
		if s.live {
			entries = append(entries, s.entry)
		}
	}
	return entries
}

// Live returns the number of occupied slots, expired or not
func (t *Table) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, s := range t.slots {
		if s.live {
			n++
		}
	}
	return n
}
