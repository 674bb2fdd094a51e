// Package output prints colored status lines and tables for the
// non-interactive commands.
package output

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/cloak-fx/cloak/internal/session"
)

// UI writes user-facing output.
type UI struct {
	Verbose bool
	Out     io.Writer
	ErrOut  io.Writer
}

// New creates a UI on stdout/stderr.
func New() *UI {
	return &UI{Out: os.Stdout, ErrOut: os.Stderr}
}

var (
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	successPrefix = color.New(color.FgHiGreen).Sprint("✓")
	warningPrefix = color.New(color.FgHiYellow).Sprint("⚠")
	errorPrefix   = color.New(color.FgHiRed).Sprint("✗")
	verbosePrefix = color.New(color.FgHiBlue).Sprint("  →")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
)

// PhaseColor colors a phase name.
func PhaseColor(p session.Phase) string {
	switch {
	case p == session.PhaseActive:
		return green(p.String())
	case p.Transitional():
		return yellow(p.String())
	case p == session.PhaseFailed:
		return red(p.String())
	default:
		return cyan(p.String())
	}
}

// OutcomeColor colors an outcome name.
func OutcomeColor(o session.Outcome) string {
	switch o {
	case session.OutcomeSuccess:
		return green(o.String())
	case session.OutcomeServiceFailure, session.OutcomeTransportFailure:
		return red(o.String())
	default:
		return yellow(o.String())
	}
}

func (u *UI) Info(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", infoPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Success(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", successPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Warning(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", warningPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Error(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", errorPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		fmt.Fprintf(u.Out, "%s %s\n", verbosePrefix, fmt.Sprintf(format, a...))
	}
}

// Status prints a session status line with the prefix matching its
// severity. Errors go to ErrOut.
func (u *UI) Status(s session.Status) {
	switch s.Severity {
	case session.SeveritySuccess:
		u.Success("%s", s.Text)
	case session.SeverityError:
		u.Error("%s", s.Text)
	default:
		u.Info("%s", s.Text)
	}
}

// Table creates a borderless, left-aligned table.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}

// TransitionTable renders one row per transition: op, outcome, phase
// change, elapsed and status text.
func (u *UI) TransitionTable(rows []session.Transition) error {
	table := u.Table([]string{"Op", "Outcome", "From", "To", "Took", "Status"})
	for _, t := range rows {
		took := "-"
		if !t.From.Since.IsZero() && !t.To.Since.IsZero() {
			took = t.To.Since.Sub(t.From.Since).Round(time.Millisecond).String()
		}
		if err := table.Append([]string{
			t.Op.String(),
			OutcomeColor(t.Outcome),
			PhaseColor(t.From.Phase),
			PhaseColor(t.To.Phase),
			took,
			t.To.Status.Text,
		}); err != nil {
			return err
		}
	}
	return table.Render()
}
