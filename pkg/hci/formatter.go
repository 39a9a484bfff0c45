// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hci

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// FormatPacket formats a command or event packet into a human-readable string
func FormatPacket(pkt []byte) string {
	if len(pkt) == 0 {
		return "EMPTY\n"
	}

	switch pkt[0] {
	case PktTypeCommand:
		op, ok := CommandOpcode(pkt)
		if !ok {
			return "COMMAND (truncated)\n" + formatHex(pkt)
		}
		params := CommandParams(pkt)
		result := fmt.Sprintf("CMD %s (0x%04X) len=%d\n", FormatOpcode(op), op, len(params))
		return result + formatCommandParams(op, params)

	case PktTypeEvent:
		code, params, ok := eventParams(pkt)
		if !ok {
			return "EVENT (truncated)\n" + formatHex(pkt)
		}
		result := fmt.Sprintf("EVT %s (0x%02X) len=%d\n", FormatEventCode(code), code, len(params))
		return result + formatEvent(pkt)

	default:
		return fmt.Sprintf("UNKNOWN indicator 0x%02X\n", pkt[0]) + formatHex(pkt)
	}
}

// FormatOpcode returns the human-readable name for a command opcode
func FormatOpcode(op uint16) string {
	switch op {
	case OpSetEventMask:
		return "SET_EVENT_MASK"
	case OpReset:
		return "RESET"
	case OpLESetAdvParams:
		return "LE_SET_ADV_PARAMS"
	case OpLESetAdvData:
		return "LE_SET_ADV_DATA"
	case OpLESetAdvEnable:
		return "LE_SET_ADV_ENABLE"
	case OpLESetScanParams:
		return "LE_SET_SCAN_PARAMS"
	case OpLESetScanEnable:
		return "LE_SET_SCAN_ENABLE"
	default:
		return "UNKNOWN"
	}
}

// FormatEventCode returns the human-readable name for an event code
func FormatEventCode(code uint8) string {
	switch code {
	case EvtCommandComplete:
		return "COMMAND_COMPLETE"
	case EvtCommandStatus:
		return "COMMAND_STATUS"
	case EvtLEMeta:
		return "LE_META"
	default:
		return "UNKNOWN"
	}
}

func formatCommandParams(op uint16, p []byte) string {
	switch op {
	case OpReset:
		return ""

	case OpLESetAdvEnable:
		if len(p) >= 1 {
			return fmt.Sprintf("  Enable: %t\n", p[0] != 0)
		}

	case OpLESetScanEnable:
		if len(p) >= 2 {
			return fmt.Sprintf("  Enable: %t, Filter duplicates: %t\n", p[0] != 0, p[1] != 0)
		}

	case OpLESetAdvData:
		if len(p) >= 1 {
			n := int(p[0])
			if n > len(p)-1 {
				n = len(p) - 1
			}
			return fmt.Sprintf("  Data (%d bytes):\n", n) + formatHex(p[1:1+n])
		}

	case OpLESetScanParams:
		if len(p) >= scanParamsLen {
			return fmt.Sprintf("  Type: %d, Interval: %s, Window: %s\n",
				p[0], formatUnits(binary.LittleEndian.Uint16(p[1:3])), formatUnits(binary.LittleEndian.Uint16(p[3:5])))
		}

	case OpLESetAdvParams:
		if len(p) >= advParamsLen {
			return fmt.Sprintf("  Interval: %s-%s, Type: 0x%02X, Channels: 0x%02X\n",
				formatUnits(binary.LittleEndian.Uint16(p[0:2])), formatUnits(binary.LittleEndian.Uint16(p[2:4])),
				p[4], p[13])
		}
	}

	if len(p) == 0 {
		return ""
	}
	return formatHex(p)
}

func formatEvent(pkt []byte) string {
	if cc, ok := ParseCommandComplete(pkt); ok {
		return fmt.Sprintf("  Opcode: %s (0x%04X), Status: 0x%02X\n", FormatOpcode(cc.Opcode), cc.Opcode, cc.Status)
	}
	if cs, ok := ParseCommandStatus(pkt); ok {
		return fmt.Sprintf("  Opcode: %s (0x%04X), Status: 0x%02X\n", FormatOpcode(cs.Opcode), cs.Opcode, cs.Status)
	}
	if reports := ParseAdvertisingReports(pkt); len(reports) > 0 {
		var b strings.Builder
		for _, r := range reports {
			fmt.Fprintf(&b, "  Report: %s type=0x%02X rssi=%d data=%d bytes\n", r.Addr, r.EventType, r.RSSI, len(r.Data))
		}
		return b.String()
	}
	_, params, _ := eventParams(pkt)
	return formatHex(params)
}

// formatUnits renders a 0.625 ms interval count
func formatUnits(units uint16) string {
	us := uint32(units) * 625
	return fmt.Sprintf("%d.%03d ms", us/1000, us%1000)
}

// formatHex renders a hex dump, 16 bytes per line
func formatHex(data []byte) string {
	var b strings.Builder
	b.WriteString("  ")
	for i, v := range data {
		if i > 0 && i%16 == 0 {
			b.WriteString("\n  ")
		}
		fmt.Fprintf(&b, "%02X ", v)
	}
	b.WriteString("\n")
	return b.String()
}
