// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/flare/pkg/advpayload"
	"github.com/Thermoquad/flare/pkg/hostclient"
	"github.com/Thermoquad/flare/pkg/lineproto"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	maxLogEntries  = 100
	logViewHeight  = 8
	listPanelWidth = 30
)

// Focus states
const (
	focusInput = iota
	focusReceiverList
	focusCount
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// receiver is a receiver known from its acknowledgement beacons
type receiver struct {
	ack      advpayload.Ack
	lastSeen time.Time
	beacons  int
}

// Implement list.Item interface
func (r receiver) Title() string { return fmt.Sprintf("Receiver %d", r.ack.TargetID) }
func (r receiver) Description() string {
	return fmt.Sprintf("%s  cmd %d (%d)", advpayload.StateName(r.ack.State), r.ack.CommandID, r.ack.CommandType)
}
func (r receiver) FilterValue() string { return strconv.Itoa(int(r.ack.TargetID)) }

type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// monitorStats counts node replies by kind
type monitorStats struct {
	sent       int
	acks       int
	done       int
	naks       int
	overflows  int
	checks     int
	beacons    int
	lastTiming hostclient.Timing
	hasTiming  bool
}

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	connMgr  *connectionManager
	connInfo string

	receivers    map[uint8]*receiver
	receiverList list.Model

	stats    monitorStats
	eventLog []logEntry
	scanning bool

	input        textinput.Model
	focusedField int

	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

// monitorLineMsg is one line read from the node
type monitorLineMsg struct {
	resp     hostclient.Response
	overflow bool
	at       time.Time
}

type monitorBatchMsg struct {
	lines []monitorLineMsg
}

type sendResultMsg struct {
	line string
	err  error
}

type connectionLostMsg struct{}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(connMgr *connectionManager, connInfo string) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "1,3000000,0,0,255,0,0 or CHECK"
	ti.CharLimit = lineproto.DefaultMaxLength - 2
	ti.Width = 50
	ti.Focus()

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	receiverList := list.New([]list.Item{}, delegate, listPanelWidth, 10)
	receiverList.Title = "Receivers"
	receiverList.SetShowStatusBar(false)
	receiverList.SetShowHelp(false)
	receiverList.SetFilteringEnabled(false)

	return monitorModel{
		connMgr:      connMgr,
		connInfo:     connInfo,
		receivers:    make(map[uint8]*receiver),
		receiverList: receiverList,
		eventLog:     make([]logEntry, 0),
		input:        ti,
		focusedField: focusInput,
		width:        80,
		height:       24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, monitorTickCmd())
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case monitorTickMsg:
		// refreshes the "last seen" ages
		return m, monitorTickCmd()

	case monitorBatchMsg:
		for _, line := range msg.lines {
			m.processLine(line)
		}

	case sendResultMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Send failed: %v", msg.err), true)
		} else {
			m.stats.sent++
			m.addLogEntry("> "+msg.line, false)
		}

	case connectionLostMsg:
		m.connectionLost = true
		m.scanning = false
		m.addLogEntry("Connection lost - reconnecting...", true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.addLogEntry("Reconnected", false)
	}

	var cmd tea.Cmd
	if m.focusedField == focusInput {
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focusedField != focusInput {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab":
		return m.cycleFocus(1), nil

	case "shift+tab":
		return m.cycleFocus(-1), nil

	case "ctrl+k":
		return m, m.send(lineproto.CheckPrefix)

	case "ctrl+l":
		m.receivers = make(map[uint8]*receiver)
		m.refreshReceiverList()
		m.addLogEntry("Receiver list cleared", false)
		return m, nil

	case "enter":
		if m.focusedField == focusInput {
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			m.input.SetValue("")
			return m, m.send(line)
		}
	}

	var cmd tea.Cmd
	switch m.focusedField {
	case focusInput:
		m.input, cmd = m.input.Update(msg)
	case focusReceiverList:
		m.receiverList, cmd = m.receiverList.Update(msg)
	}
	return m, cmd
}

func (m monitorModel) cycleFocus(delta int) monitorModel {
	m.focusedField = (m.focusedField + delta + focusCount) % focusCount
	if m.focusedField == focusInput {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
	return m
}

// send writes line to the node off the update loop
func (m monitorModel) send(line string) tea.Cmd {
	if m.connectionLost {
		return func() tea.Msg {
			return sendResultMsg{line: line, err: fmt.Errorf("connection lost")}
		}
	}
	connMgr := m.connMgr
	return func() tea.Msg {
		return sendResultMsg{line: line, err: connMgr.sendLine(line)}
	}
}

func (m *monitorModel) updateListSize() {
	height := m.height - 20
	if height < 6 {
		height = 6
	}
	m.receiverList.SetSize(listPanelWidth, height)
}

// Palette
var (
	titleStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Background(lipgloss.Color("235")).Padding(0, 1)
	dimStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	labelStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	valueStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warningStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	panelStyle        = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	focusedPanelStyle = panelStyle.BorderForeground(lipgloss.Color("12"))
)

// panel returns the panel style for a region, highlighted when focused
func panel(focused bool, width int) lipgloss.Style {
	if focused {
		return focusedPanelStyle.Width(width)
	}
	return panelStyle.Width(width)
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	header := titleStyle.Render("FLARE MONITOR") + " " +
		dimStyle.Render(fmt.Sprintf("| %s | ctrl+c=quit Tab=switch ctrl+k=CHECK ctrl+l=clear", connStatus))

	listPanel := panel(m.focusedField == focusReceiverList, listPanelWidth).Render(m.receiverList.View())
	statsPanel := panelStyle.Width(max(m.width-listPanelWidth-6, 20)).Render(m.renderStatistics())

	input := panel(m.focusedField == focusInput, m.width-4).Render(labelStyle.Render("SEND ") + m.input.View())

	return strings.Join([]string{
		header,
		lipgloss.JoinHorizontal(lipgloss.Top, listPanel, " ", statsPanel),
		input,
		m.renderEventLog(),
	}, "\n\n")
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func count(n int) string {
	return valueStyle.Render(strconv.Itoa(n))
}

// failures renders a failure count, red once non-zero
func failures(n int) string {
	if n > 0 {
		return errorStyle.Render(strconv.Itoa(n))
	}
	return count(0)
}

func (m monitorModel) renderStatistics() string {
	var s strings.Builder

	fmt.Fprintf(&s, "%s %s  %s %s  %s %s\n",
		labelStyle.Render("Sent:"), count(m.stats.sent),
		labelStyle.Render("ACK:"), count(m.stats.acks),
		labelStyle.Render("DONE:"), count(m.stats.done))
	fmt.Fprintf(&s, "%s %s  %s %s\n",
		labelStyle.Render("NAK:"), failures(m.stats.naks),
		labelStyle.Render("Overflow:"), failures(m.stats.overflows))
	fmt.Fprintf(&s, "%s %s  %s %s  %s %s\n\n",
		labelStyle.Render("Checks:"), count(m.stats.checks),
		labelStyle.Render("Beacons:"), count(m.stats.beacons),
		labelStyle.Render("Receivers:"), count(len(m.receivers)))

	s.WriteString(labelStyle.Render("Last ACK: "))
	if m.stats.hasTiming {
		t := m.stats.lastTiming
		s.WriteString(valueStyle.Render(fmt.Sprintf("read %dus  parse %dus  total %dus", t.Read, t.Parse, t.Total)))
	} else {
		s.WriteString(dimStyle.Render("-"))
	}
	s.WriteString("\n")

	if m.scanning {
		s.WriteString(warningStyle.Render("Scanning for receivers..."))
	} else if sel, ok := m.receiverList.SelectedItem().(receiver); ok {
		fmt.Fprintf(&s, "%s %d  %s %s  %s %dus  %s %s ago",
			labelStyle.Render("Receiver"), sel.ack.TargetID,
			labelStyle.Render("State:"), valueStyle.Render(advpayload.StateName(sel.ack.State)),
			labelStyle.Render("Delay:"), sel.ack.Delay,
			labelStyle.Render("Seen:"), time.Since(sel.lastSeen).Truncate(time.Second))
	}

	return s.String()
}

func (m monitorModel) renderEventLog() string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	if len(m.eventLog) == 0 {
		s.WriteString(dimStyle.Render("  (no events yet)"))
	}
	for _, entry := range m.eventLog[max(len(m.eventLog)-logViewHeight, 0):] {
		icon, style := "i", warningStyle
		if entry.isError {
			icon, style = "x", errorStyle
		}
		fmt.Fprintf(&s, "%s %s %s\n", dimStyle.Render(entry.timestamp.Format("15:04:05.000")), style.Render(icon), entry.message)
	}

	return panelStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *monitorModel) processLine(msg monitorLineMsg) {
	if msg.overflow {
		m.stats.overflows++
		m.addLogEntryAt(msg.at, "Discarded over-long line from node", true)
		return
	}

	resp := msg.resp
	switch resp.Kind {
	case hostclient.RespAckOK:
		m.stats.acks++
		m.stats.lastTiming = resp.Timing
		m.stats.hasTiming = true
		m.addLogEntryAt(msg.at, resp.Line, false)

	case hostclient.RespDone:
		m.stats.done++
		m.addLogEntryAt(msg.at, resp.Line, false)

	case hostclient.RespNak:
		m.stats.naks++
		m.addLogEntryAt(msg.at, resp.Line, true)

	case hostclient.RespAckCheckStart:
		m.stats.checks++
		m.scanning = true
		m.addLogEntryAt(msg.at, "Scan started", false)

	case hostclient.RespCheckDone:
		m.scanning = false
		m.addLogEntryAt(msg.at, fmt.Sprintf("Scan finished, %d receiver(s) known", len(m.receivers)), false)

	case hostclient.RespFound:
		m.stats.beacons++
		r, ok := m.receivers[resp.Ack.TargetID]
		if !ok {
			r = &receiver{}
			m.receivers[resp.Ack.TargetID] = r
			m.addLogEntryAt(msg.at, fmt.Sprintf("Found receiver %d (%s)",
				resp.Ack.TargetID, advpayload.StateName(resp.Ack.State)), false)
		}
		r.ack = resp.Ack
		r.lastSeen = msg.at
		r.beacons++
		m.refreshReceiverList()

	default:
		if resp.Line != "" {
			m.addLogEntryAt(msg.at, resp.Line, false)
		}
	}
}

// refreshReceiverList rebuilds the list items ordered by receiver id
func (m *monitorModel) refreshReceiverList() {
	ids := make([]int, 0, len(m.receivers))
	for id := range m.receivers {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	items := make([]list.Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, *m.receivers[uint8(id)])
	}
	m.receiverList.SetItems(items)
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.addLogEntryAt(time.Now(), message, isError)
}

func (m *monitorModel) addLogEntryAt(at time.Time, message string, isError bool) {
	m.eventLog = append(m.eventLog, logEntry{
		timestamp: at,
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-maxLogEntries:]
	}
}
