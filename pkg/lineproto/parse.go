// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lineproto

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/flare/pkg/tasktable"
)

// CheckPrefix starts a check line
const CheckPrefix = "CHECK"

// TaskFields is the number of comma-separated fields in a task line
const TaskFields = 7

// ErrParse is returned for lines that are neither form
var ErrParse = errors.New("parse error")

// Kind identifies the form of a request line.
type Kind int

const (
	KindTask Kind = iota
	KindCheck
)

func (k Kind) String() string {
	switch k {
	case KindTask:
		return "task"
	case KindCheck:
		return "check"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Request is a parsed line.
type Request struct {
	Kind Kind
	Task tasktable.Task // valid for KindTask
}

// ParseLine parses one line (terminator removed).
//
// Any line starting with CHECK is a check request. Otherwise the line must be
// cmd_type,delay_us,prep_us,target_mask,r,g,b with the mask in hexadecimal
// (optional 0x prefix) and every other field decimal.
func ParseLine(line string) (Request, error) {
	if strings.HasPrefix(line, CheckPrefix) {
		return Request{Kind: KindCheck}, nil
	}

	fields := strings.Split(line, ",")
	if len(fields) != TaskFields {
		return Request{}, fmt.Errorf("%w: %d fields, want %d", ErrParse, len(fields), TaskFields)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	var task tasktable.Task
	var err error

	if task.CommandType, err = parseUint8(fields[0], "cmd_type"); err != nil {
		return Request{}, err
	}
	if task.DelayUS, err = parseUint32(fields[1], "delay_us"); err != nil {
		return Request{}, err
	}
	if task.PrepTimeUS, err = parseUint32(fields[2], "prep_us"); err != nil {
		return Request{}, err
	}

	mask := strings.TrimPrefix(strings.TrimPrefix(fields[3], "0x"), "0X")
	if task.TargetMask, err = strconv.ParseUint(mask, 16, 64); err != nil {
		return Request{}, fmt.Errorf("%w: target_mask %q", ErrParse, fields[3])
	}

	for i, name := range []string{"r", "g", "b"} {
		if task.Data[i], err = parseUint8(fields[4+i], name); err != nil {
			return Request{}, err
		}
	}

	return Request{Kind: KindTask, Task: task}, nil
}

func parseUint8(s, name string) (uint8, error) {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrParse, name, s)
	}
	return uint8(v), nil
}

func parseUint32(s, name string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrParse, name, s)
	}
	return uint32(v), nil
}
