package status

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/cloak-fx/cloak/internal/client"
	"github.com/cloak-fx/cloak/internal/session"
	"github.com/cloak-fx/cloak/internal/theme"
	"github.com/cloak-fx/cloak/internal/view"
)

// Model holds the status bar state.
type Model struct {
	View view.View

	// EventsEnabled hides the service section when the events feed is off.
	EventsEnabled bool
	Connected     bool
	Camera        *client.CameraStatus
	Width         int
}

// New creates a status bar model.
func New(eventsEnabled bool) Model {
	return Model{EventsEnabled: eventsEnabled}
}

// Render draws the bar.
func (m Model) Render() string {
	width := max(m.Width, 40)

	phase := lipgloss.NewStyle().
		Foreground(theme.PhaseColor(m.View.Phase)).
		Render(theme.PhaseGlyph(m.View.Phase) + " " + m.View.Phase.String())

	text := lipgloss.NewStyle().
		Foreground(theme.SeverityColor(m.View.Severity)).
		Bold(m.View.Severity == session.SeverityError).
		Render(m.View.Status)

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := phase + sep + text
	if svc := m.service(); svc != "" {
		content += sep + svc
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}

func (m Model) service() string {
	if !m.EventsEnabled {
		return ""
	}
	if !m.Connected {
		return lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ service events offline")
	}
	parts := []string{lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● service")}
	if c := m.Camera; c != nil {
		cam := "camera off"
		if c.Running {
			cam = fmt.Sprintf("%.0f fps", c.FPS)
		}
		bg := "no bg"
		if c.BackgroundCaptured {
			bg = "bg ✓"
		}
		parts = append(parts, cam, bg, fmt.Sprintf("cpu %.1f%%", c.CPUPercent), humanBytes(c.RSSBytes))
	}
	return strings.Join(parts, "  ")
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
