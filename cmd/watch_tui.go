// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/heatpumpmon/pkg/lwz"
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// eventLogEntry is one line of the event log
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for notices
}

// watchModel is the Bubble Tea model for the watch dashboard
type watchModel struct {
	connInfo string
	version  string
	comment  string
	interval time.Duration

	stats    *lwz.Statistics
	values   table.Model
	spinner  spinner.Model
	polling  bool
	last     lwz.Result
	previous lwz.Result
	lastAt   time.Time

	eventLog      []eventLogEntry
	maxLogEntries int

	width    int
	height   int
	quitting bool
}

type watchTickMsg time.Time

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialWatchModel(connInfo, version, comment string, interval time.Duration) watchModel {
	columns := []table.Column{
		{Title: "Field", Width: 28},
		{Title: "Value", Width: 16},
		{Title: "Previous", Width: 16},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true).
		Foreground(lipgloss.Color("12"))
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))
	t.SetStyles(styles)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	m := watchModel{
		connInfo:      connInfo,
		version:       version,
		comment:       comment,
		interval:      interval,
		stats:         lwz.NewStatistics(),
		values:        t,
		spinner:       s,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
	m.addLogEntry(fmt.Sprintf("Firmware %s bound to %q", version, comment), false)
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(watchTickCmd(), m.spinner.Tick)
}

func watchTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.values, cmd = m.values.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.values.SetHeight(m.tableHeight())

	case watchTickMsg:
		m.stats.CalculateRates()
		return m, watchTickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case pollStartMsg:
		m.polling = true

	case pollResultMsg:
		m.polling = false
		m.stats.Update(msg.duration, msg.err)
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s: %v", lwz.Kind(msg.err), msg.err), true)
			return m, nil
		}
		m.previous = m.last
		m.last = msg.result
		m.lastAt = msg.at
		m.values.SetRows(m.rows())
	}

	return m, nil
}

func (m *watchModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

// rows renders the latest result next to the previous one
func (m watchModel) rows() []table.Row {
	rows := make([]table.Row, 0, len(m.last))
	for _, name := range m.last.SortedKeys() {
		prev := ""
		if v, ok := m.previous[name]; ok {
			prev = lwz.FormatValue(v)
		}
		rows = append(rows, table.Row{name, lwz.FormatValue(m.last[name]), prev})
	}
	return rows
}

func (m watchModel) tableHeight() int {
	h := m.height - 20 // header, statistics and event log
	if h < 5 {
		h = 5
	}
	return h
}

func (m watchModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	noticeStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("HEATPUMPMON - WATCH"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Firmware %s (%s) | Every %s | Press 'q' to quit",
		m.connInfo, m.version, m.comment, m.interval)))
	s.WriteString("\n\n")

	// Poll status
	switch {
	case m.polling:
		s.WriteString(m.spinner.View() + noticeStyle.Render(" Polling..."))
	case m.lastAt.IsZero():
		s.WriteString(noticeStyle.Render("Waiting for first poll cycle"))
	default:
		s.WriteString(statsValueStyle.Render("✓ Last result " + m.lastAt.Format("15:04:05")))
	}
	s.WriteString("\n\n")

	// Statistics
	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Cycles:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalCycles)),
		statsLabelStyle.Render("OK:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.Successful, m.stats.SuccessPercent())),
		statsLabelStyle.Render("Failed:"), func() string {
			if m.stats.Failed > 0 {
				return errorStyle.Render(fmt.Sprintf("%d", m.stats.Failed))
			}
			return statsValueStyle.Render("0")
		}(),
	))
	if m.stats.Failed > 0 {
		parts := make([]string, 0, len(m.stats.ByKind))
		for _, k := range m.stats.Kinds() {
			parts = append(parts, fmt.Sprintf("%s: %d", k, m.stats.ByKind[k]))
		}
		statsContent.WriteString(headerStyle.Render("(" + strings.Join(parts, ", ") + ")"))
		statsContent.WriteString("\n")
	}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Last Duration:"), statsValueStyle.Render(m.stats.LastDuration.Round(time.Millisecond).String()),
		statsLabelStyle.Render("Error Rate:"), statsValueStyle.Render(fmt.Sprintf("%.2f err/min", m.stats.ErrorRate)),
	))
	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Values
	s.WriteString(statsLabelStyle.Render("Values:"))
	s.WriteString("\n")
	if len(m.last) == 0 {
		s.WriteString(headerStyle.Render("  (no values yet)"))
		s.WriteString("\n\n")
	} else {
		s.WriteString(boxStyle.Render(m.values.View()))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := 5
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}
	logContent := strings.Builder{}
	for i := startIdx; i < len(m.eventLog); i++ {
		entry := m.eventLog[i]
		timestamp := entry.timestamp.Format("01/02/06 15:04:05")
		if entry.isError {
			logContent.WriteString(fmt.Sprintf("%s %s\n",
				headerStyle.Render(timestamp),
				errorStyle.Render("✗ "+entry.message),
			))
		} else {
			logContent.WriteString(fmt.Sprintf("%s %s\n",
				headerStyle.Render(timestamp),
				noticeStyle.Render("ℹ "+entry.message),
			))
		}
	}
	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
