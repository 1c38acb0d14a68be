// Package tui is the interactive terminal console for a local session.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/parley/internal/session"
)

// PollInterval is how often the console drains the transcript sinks.
const PollInterval = 200 * time.Millisecond

// Controller is what the console drives.
type Controller interface {
	Start() string
	Stop(ctx context.Context) string
	Status() session.Status
	DrainInput() []string
	DrainOutput() []string
}

// tickMsg triggers a transcript poll.
type tickMsg time.Time

// stoppedMsg carries the result of an asynchronous stop.
type stoppedMsg string

// Model is the bubbletea model of the console.
type Model struct {
	ctrl        Controller
	stopTimeout time.Duration

	status  session.Status
	notice  string
	input   strings.Builder
	output  strings.Builder
	ended   bool
	stopped bool

	width  int
	height int
}

// NewModel creates a console for ctrl.
func NewModel(ctrl Controller, stopTimeout time.Duration) *Model {
	return &Model{ctrl: ctrl, stopTimeout: stopTimeout, status: ctrl.Status()}
}

// Init starts the poll loop.
func (m *Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(PollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		m.poll()
		return m, tick()
	case stoppedMsg:
		m.notice = string(msg)
		m.stopped = false
		m.poll()
	}
	return m, nil
}

// poll appends newly drained tokens and refreshes the status line. A session
// that goes from running to idle marks the console as ended.
func (m *Model) poll() {
	for _, tok := range m.ctrl.DrainInput() {
		m.input.WriteString(tok)
	}
	for _, tok := range m.ctrl.DrainOutput() {
		m.output.WriteString(tok)
	}
	prev := m.status
	m.status = m.ctrl.Status()
	if prev.Running && !m.status.Running {
		m.ended = true
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.status.Running {
			ctx, cancel := context.WithTimeout(context.Background(), m.stopTimeout)
			defer cancel()
			m.ctrl.Stop(ctx)
		}
		return m, tea.Quit
	case "s":
		m.notice = m.ctrl.Start()
		if m.notice == session.MsgStarted {
			m.input.Reset()
			m.output.Reset()
			m.ended = false
		}
		m.status = m.ctrl.Status()
	case "x":
		if m.stopped {
			return m, nil
		}
		m.stopped = true
		m.notice = "Stopping..."
		ctrl, timeout := m.ctrl, m.stopTimeout
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			return stoppedMsg(ctrl.Stop(ctx))
		}
	case "c":
		m.input.Reset()
		m.output.Reset()
	}
	return m, nil
}

// View renders the console.
func (m *Model) View() string {
	width := m.width
	if width < 40 {
		width = 60
	}
	inner := width - 4

	var b strings.Builder
	b.WriteString(boxTop("Parley", inner))
	b.WriteString(boxLine("Status: "+m.statusText(), inner))
	if m.notice != "" {
		b.WriteString(boxLine(m.notice, inner))
	}
	b.WriteString(boxRule(inner))
	b.WriteString(boxLine("Your Speech:", inner))
	for _, l := range tail(wrap(m.input.String(), inner-2), m.paneLines()) {
		b.WriteString(boxLine("  "+l, inner))
	}
	b.WriteString(boxRule(inner))
	b.WriteString(boxLine("Model Response:", inner))
	for _, l := range tail(wrap(m.output.String(), inner-2), m.paneLines()) {
		b.WriteString(boxLine("  "+l, inner))
	}
	b.WriteString(boxRule(inner))
	b.WriteString(boxLine("s:Start  x:Stop  c:Clear  q:Quit", inner))
	b.WriteString(boxBottom(inner))
	return b.String()
}

func (m *Model) statusText() string {
	switch {
	case m.status.Running && m.status.State == session.StateStopping.String():
		return "Stopping"
	case m.status.Running:
		return fmt.Sprintf("Connected (session %s)", shortID(m.status.SessionID))
	case m.ended:
		s := m.status.Message
		if s == "" {
			s = session.MsgEnded
		}
		if m.status.LastError != "" {
			s += ": " + m.status.LastError
		}
		return s
	default:
		return "Idle"
	}
}

// paneLines is the number of transcript lines per pane.
func (m *Model) paneLines() int {
	if m.height <= 0 {
		return 6
	}
	return max(2, (m.height-10)/2)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func boxTop(title string, inner int) string {
	head := "─ " + title + " "
	return "┌" + head + strings.Repeat("─", max(0, inner+2-runeLen(head))) + "┐\n"
}

func boxRule(inner int) string {
	return "├" + strings.Repeat("─", inner+2) + "┤\n"
}

func boxBottom(inner int) string {
	return "└" + strings.Repeat("─", inner+2) + "┘\n"
}

func boxLine(s string, inner int) string {
	s = truncate(s, inner)
	return "│ " + s + strings.Repeat(" ", inner-runeLen(s)) + " │\n"
}

func runeLen(s string) int { return len([]rune(s)) }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// wrap splits s into lines of at most width runes, breaking on spaces where
// possible.
func wrap(s string, width int) []string {
	if width <= 0 {
		return nil
	}
	var lines []string
	for _, para := range strings.Split(s, "\n") {
		r := []rune(para)
		for len(r) > width {
			cut := width
			for i := width; i > width/2; i-- {
				if r[i] == ' ' {
					cut = i
					break
				}
			}
			lines = append(lines, strings.TrimRight(string(r[:cut]), " "))
			r = []rune(strings.TrimLeft(string(r[cut:]), " "))
		}
		if len(r) > 0 {
			lines = append(lines, string(r))
		}
	}
	return lines
}

func tail(lines []string, n int) []string {
	if len(lines) > n {
		return lines[len(lines)-n:]
	}
	return lines
}
