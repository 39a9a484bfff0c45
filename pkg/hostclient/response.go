// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostclient

import (
	"strconv"
	"strings"

	"github.com/Thermoquad/flare/pkg/advpayload"
)

// ResponseKind classifies a line written by a node.
type ResponseKind int

const (
	RespOther ResponseKind = iota
	RespAckOK
	RespAckCheckStart
	RespDone
	RespNak
	RespFound
	RespCheckDone
)

var responseKindNames = map[ResponseKind]string{
	RespOther:         "OTHER",
	RespAckOK:         "ACK_OK",
	RespAckCheckStart: "ACK_CHECK_START",
	RespDone:          "DONE",
	RespNak:           "NAK",
	RespFound:         "FOUND",
	RespCheckDone:     "CHECK_DONE",
}

func (k ResponseKind) String() string {
	if name, ok := responseKindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// Timing is the diagnostic triple carried by ACK:OK, in microseconds.
type Timing struct {
	Read  int64
	Parse int64
	Total int64
}

// Response is one parsed node output line.
type Response struct {
	Kind   ResponseKind
	Line   string
	Timing Timing         // RespAckOK
	Reason string         // RespNak
	Ack    advpayload.Ack // RespFound
}

// ParseResponse classifies a node output line. Lines that look like a known
// reply but do not parse are RespOther.
func ParseResponse(line string) Response {
	line = strings.TrimSpace(line)
	resp := Response{Kind: RespOther, Line: line}

	switch {
	case line == "DONE":
		resp.Kind = RespDone
	case line == "CHECK_DONE":
		resp.Kind = RespCheckDone
	case line == "ACK:CHECK_START":
		resp.Kind = RespAckCheckStart
	case strings.HasPrefix(line, "ACK:OK"):
		if t, ok := parseTiming(strings.TrimPrefix(line, "ACK:OK")); ok {
			resp.Kind = RespAckOK
			resp.Timing = t
		}
	case strings.HasPrefix(line, "NAK:"):
		resp.Kind = RespNak
		resp.Reason = strings.TrimPrefix(line, "NAK:")
	case strings.HasPrefix(line, "FOUND:"):
		if ack, ok := parseFound(strings.TrimPrefix(line, "FOUND:")); ok {
			resp.Kind = RespFound
			resp.Ack = ack
		}
	}
	return resp
}

// parseTiming accepts "" or ":read:parse:total"
func parseTiming(s string) (Timing, bool) {
	if s == "" {
		return Timing{}, true
	}
	parts := strings.Split(strings.TrimPrefix(s, ":"), ":")
	if len(parts) != 3 {
		return Timing{}, false
	}
	var vals [3]int64
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return Timing{}, false
		}
		vals[i] = v
	}
	return Timing{Read: vals[0], Parse: vals[1], Total: vals[2]}, true
}

func parseFound(s string) (advpayload.Ack, bool) {
	parts := strings.Split(s, ",")
	if len(parts) < 5 {
		return advpayload.Ack{}, false
	}
	var vals [5]uint64
	for i := range vals {
		bits := 8
		if i == 3 {
			bits = 32
		}
		v, err := strconv.ParseUint(strings.TrimSpace(parts[i]), 10, bits)
		if err != nil {
			return advpayload.Ack{}, false
		}
		vals[i] = v
	}
	return advpayload.Ack{
		TargetID:    uint8(vals[0]),
		CommandID:   uint8(vals[1]),
		CommandType: uint8(vals[2]),
		Delay:       uint32(vals[3]),
		State:       uint8(vals[4]),
	}, true
}
