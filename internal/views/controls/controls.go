// Package controls renders the start / background / stop buttons.
package controls

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/cloak-fx/cloak/internal/session"
	"github.com/cloak-fx/cloak/internal/theme"
	"github.com/cloak-fx/cloak/internal/view"
)

// Button is one control and the key that triggers it.
type Button struct {
	Op    session.Op
	Key   string
	Label string
}

// Buttons in display order.
var Buttons = []Button{
	{Op: session.OpStart, Key: "s", Label: "Start Camera"},
	{Op: session.OpCaptureBackground, Key: "b", Label: "Capture Background"},
	{Op: session.OpStop, Key: "x", Label: "Stop Camera"},
}

// Render draws the button row. spinner is shown next to the in-flight
// operation's button while v.Busy.
func Render(v view.View, inFlight session.Op, spinner string) string {
	parts := make([]string, 0, len(Buttons))
	for _, b := range Buttons {
		label := "[" + b.Key + "] " + b.Label
		var cell string
		if v.Enabled(b.Op) {
			cell = theme.StyleButton.Render(label)
		} else {
			cell = theme.StyleButtonDisabled.Render(label)
		}
		if v.Busy && b.Op == inFlight {
			cell = spinner + " " + cell
		}
		parts = append(parts, cell)
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(parts, "  "))
}
