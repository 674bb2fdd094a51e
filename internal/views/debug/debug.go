// Package debug provides a scrollable event log overlay for session
// transitions, stream and events-feed activity.
package debug

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/cloak-fx/cloak/internal/session"
	"github.com/cloak-fx/cloak/internal/theme"
)

const maxEntries = 200

// Entry kinds.
const (
	KindOp    = "op"
	KindFeed  = "feed"
	KindEvent = "evt"
	KindError = "err"
)

// Entry is a single event log line.
type Entry struct {
	Time    time.Time
	Kind    string
	Message string
}

// Model holds the log buffer and scroll position.
type Model struct {
	Entries []Entry
	Offset  int // from bottom
	now     func() time.Time
}

// New creates an empty debug model.
func New() Model {
	return Model{now: time.Now}
}

// Add appends an entry, drops the oldest past maxEntries and scrolls back
// to the bottom.
func (m *Model) Add(kind, message string) {
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	m.Entries = append(m.Entries, Entry{Time: now(), Kind: kind, Message: message})
	if n := len(m.Entries) - maxEntries; n > 0 {
		m.Entries = append(m.Entries[:0], m.Entries[n:]...)
	}
	m.Offset = 0
}

// AddTransition records a controller transition. Failures are logged
// under KindError.
func (m *Model) AddTransition(t session.Transition) {
	kind := KindOp
	switch t.Outcome {
	case session.OutcomeServiceFailure, session.OutcomeTransportFailure:
		kind = KindError
	}
	m.Add(kind, fmt.Sprintf("%s %s: %s → %s (%s)",
		t.Op, t.Outcome, t.From.Phase, t.To.Phase, t.To.Status.Text))
}

// ScrollUp moves the viewport towards older entries.
func (m *Model) ScrollUp(n int) {
	m.Offset = min(m.Offset+n, max(len(m.Entries)-1, 0))
}

// ScrollDown moves the viewport towards newer entries.
func (m *Model) ScrollDown(n int) {
	m.Offset = max(m.Offset-n, 0)
}

func panelStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder)
}

// View renders the log as an overlay panel.
func (m Model) View(width, height int) string {
	innerW := max(width-4, 20)
	visible := max(height-6, 3)

	title := theme.StyleHeader.Render(" EVENT LOG ")
	help := theme.StyleDimmed.Render(fmt.Sprintf("j/k:scroll  esc:close  %d entries", len(m.Entries)))

	if len(m.Entries) == 0 {
		body := theme.StyleDimmed.Render("  Nothing has happened yet.")
		return panelStyle(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", help))
	}

	end := max(len(m.Entries)-m.Offset, 0)
	start := max(end-visible, 0)

	lines := make([]string, 0, end-start)
	for _, e := range m.Entries[start:end] {
		ts := theme.StyleDimmed.Render(e.Time.Format("15:04:05.000"))
		kind := lipgloss.NewStyle().Foreground(kindColor(e.Kind)).Width(4).Render(e.Kind)
		msg := e.Message
		if limit := innerW - 20; limit > 3 && len(msg) > limit {
			msg = msg[:limit-3] + "..."
		}
		lines = append(lines, ts+" "+kind+" "+msg)
	}

	more := ""
	if m.Offset > 0 {
		more = theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", m.Offset))
	}
	content := lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n"), more, help)
	return panelStyle(innerW).Render(content)
}

func kindColor(kind string) lipgloss.Color {
	switch kind {
	case KindOp:
		return theme.ColorInfo
	case KindError:
		return theme.ColorError
	case KindFeed:
		return theme.ColorActive
	case KindEvent:
		return theme.ColorWarning
	default:
		return theme.ColorDimmed
	}
}
