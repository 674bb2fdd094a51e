// Package help renders the key reference overlay from markdown.
package help

import (
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/cloak-fx/cloak/internal/theme"
)

const doc = `# cloakctl

Drive the camera service's cloak session.

| Key | Action |
|-----|--------|
| s | Start the camera |
| b | Capture the background (camera must be running) |
| x | Stop the camera |
| d | Toggle the event log |
| ? | Toggle this help |
| q | Quit |

Capture the background while **out of frame**: anything in the cloak
region is then replaced with what the camera saw at capture time.

Only one request runs at a time. Keys pressed while a request is in
flight are ignored.
`

// Markdown returns the raw help text.
func Markdown() string { return doc }

// Render renders the help at the given width, falling back to the raw
// markdown if the renderer fails.
func Render(width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(max(width-4, 20)),
	)
	if err == nil {
		if out, err := r.Render(doc); err == nil {
			return theme.StyleBorder.Render(strings.TrimRight(out, "\n"))
		}
	}
	return theme.StyleBorder.Render(doc)
}
