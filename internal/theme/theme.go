// Package theme provides the Lip Gloss color palette and reusable styles
// for the cloakctl TUI. It imports only the session leaf package.
package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/cloak-fx/cloak/internal/session"
)

// Severity colors.
var (
	ColorInfo    = lipgloss.Color("#3b82f6")
	ColorSuccess = lipgloss.Color("#22c55e")
	ColorError   = lipgloss.Color("#dc2626")
)

// Phase colors.
var (
	ColorIdle      = lipgloss.Color("#4b5563")
	ColorStarting  = lipgloss.Color("#7c3aed")
	ColorActive    = lipgloss.Color("#16a34a")
	ColorCapturing = lipgloss.Color("#d97706")
	ColorStopping  = lipgloss.Color("#854d0e")
	ColorFailed    = lipgloss.Color("#dc2626")
	ColorDefault   = lipgloss.Color("#9ca3af")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorBg      = lipgloss.Color("#111827")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// SeverityColor returns the color for a status severity.
func SeverityColor(s session.Severity) lipgloss.Color {
	switch s {
	case session.SeveritySuccess:
		return ColorSuccess
	case session.SeverityError:
		return ColorError
	default:
		return ColorInfo
	}
}

// PhaseColor returns the color for a session phase.
func PhaseColor(p session.Phase) lipgloss.Color {
	switch p {
	case session.PhaseIdle:
		return ColorIdle
	case session.PhaseStarting:
		return ColorStarting
	case session.PhaseActive:
		return ColorActive
	case session.PhaseCapturingBackground:
		return ColorCapturing
	case session.PhaseStopping:
		return ColorStopping
	case session.PhaseFailed:
		return ColorFailed
	default:
		return ColorDefault
	}
}

// PhaseGlyph returns a Unicode glyph representing a phase.
func PhaseGlyph(p session.Phase) string {
	switch p {
	case session.PhaseIdle:
		return "○"
	case session.PhaseStarting:
		return "◎"
	case session.PhaseActive:
		return "●"
	case session.PhaseCapturingBackground:
		return "◉"
	case session.PhaseStopping:
		return "◌"
	case session.PhaseFailed:
		return "✗"
	default:
		return "·"
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleButton = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(ColorBright).
			Background(ColorBorder)

	StyleButtonDisabled = lipgloss.NewStyle().
				Padding(0, 1).
				Foreground(ColorDimmed).
				Strikethrough(true)
)
