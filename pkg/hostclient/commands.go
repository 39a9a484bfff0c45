// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostclient

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Receiver command codes
const (
	CmdPlay    uint8 = 0x01
	CmdPause   uint8 = 0x02
	CmdStop    uint8 = 0x03
	CmdRelease uint8 = 0x04
	CmdTest    uint8 = 0x05
	CmdCancel  uint8 = 0x06
	CmdCheck   uint8 = 0x07
)

// CommandMap maps command names to receiver command codes.
var CommandMap = map[string]uint8{
	"PLAY":    CmdPlay,
	"PAUSE":   CmdPause,
	"STOP":    CmdStop,
	"RELEASE": CmdRelease,
	"TEST":    CmdTest,
	"CANCEL":  CmdCancel,
	"CHECK":   CmdCheck,
}

// CommandSlots is the number of rolling command ids
const CommandSlots = 16

var (
	// ErrQueueFull is returned when every command id slot is reserved
	ErrQueueFull = errors.New("command queue full")

	// ErrUnknownCommand is returned for command names not in CommandMap
	ErrUnknownCommand = errors.New("unknown command")
)

// CommandNames returns the known command names in code order
func CommandNames() []string {
	names := make([]string, 0, len(CommandMap))
	for name := range CommandMap {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return CommandMap[names[i]] < CommandMap[names[j]]
	})
	return names
}

// CommandCode resolves a command name (case-insensitive) or a decimal code
// below CommandSlots.
func CommandCode(s string) (uint8, error) {
	if code, ok := CommandMap[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return code, nil
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 8)
	if err != nil || v >= CommandSlots {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
	return uint8(v), nil
}

// TargetMask builds the receiver bitmask for ids. An empty list or id 0
// addresses every receiver. Ids outside 1..63 are ignored.
func TargetMask(ids []int) uint64 {
	if len(ids) == 0 {
		return ^uint64(0)
	}
	var mask uint64
	for _, id := range ids {
		if id == 0 {
			return ^uint64(0)
		}
		if id > 0 && id < 64 {
			mask |= 1 << uint(id)
		}
	}
	return mask
}

// CommandType combines a command id slot and a command code into the
// command_type byte carried on the wire.
func CommandType(slot int, code uint8) uint8 {
	return uint8(slot*CommandSlots) + code
}

// SplitCommandType is the inverse of CommandType
func SplitCommandType(cmdType uint8) (slot int, code uint8) {
	return int(cmdType / CommandSlots), cmdType % CommandSlots
}

// SlotAllocator hands out command id slots. A slot stays reserved until the
// target time of the command that took it, and the most recently issued slot
// is never handed out twice in a row.
type SlotAllocator struct {
	mu       sync.Mutex
	reserved [CommandSlots]time.Time
	last     int
	now      func() time.Time
}

// NewSlotAllocator creates an allocator reading time from now (nil for
// time.Now).
func NewSlotAllocator(now func() time.Time) *SlotAllocator {
	if now == nil {
		now = time.Now
	}
	return &SlotAllocator{last: -1, now: now}
}

// Allocate reserves the first free slot until now+hold.
func (a *SlotAllocator) Allocate(hold time.Duration) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	for i := range a.reserved {
		if i == a.last || a.reserved[i].After(now) {
			continue
		}
		a.reserved[i] = now.Add(hold)
		a.last = i
		return i, nil
	}
	return 0, ErrQueueFull
}

// Release frees slot immediately
func (a *SlotAllocator) Release(slot int) {
	if slot < 0 || slot >= CommandSlots {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reserved[slot] = time.Time{}
}
