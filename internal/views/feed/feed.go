// Package feed renders the video panel: either a live preview of the
// bound stream or the camera-off placeholder.
package feed

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"time"

	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"

	"github.com/cloak-fx/cloak/internal/client"
	"github.com/cloak-fx/cloak/internal/theme"
)

// fpsWindow is how far back frame timestamps are kept for the rate.
const fpsWindow = 2 * time.Second

// Model is the state of the video panel.
type Model struct {
	URL         string
	Placeholder string
	Err         error

	Frames  uint64
	Last    client.Frame
	preview image.Image

	stamps []time.Time
	fps    float64 // raw rate over fpsWindow
	shown  float64 // spring-smoothed rate
	vel    float64
	spring harmonica.Spring
}

// New creates an empty panel. fps is the expected frame rate, used to
// tune the meter's spring.
func New(fps int) Model {
	if fps <= 0 {
		fps = 30
	}
	return Model{spring: harmonica.NewSpring(harmonica.FPS(fps), 6.0, 1.0)}
}

// Bind points the panel at url, or at nothing when url is empty. Frame
// data from a previous URL is discarded.
func (m *Model) Bind(url, placeholder string) {
	if url == m.URL {
		m.Placeholder = placeholder
		return
	}
	*m = Model{URL: url, Placeholder: placeholder, spring: m.spring}
}

// SetFrame records a frame from the bound stream.
func (m *Model) SetFrame(f client.Frame) {
	m.Frames++
	m.Last = f
	m.Err = nil
	if f.Image != nil {
		m.preview = f.Image
	}

	m.stamps = append(m.stamps, f.Received)
	cut := 0
	for cut < len(m.stamps) && f.Received.Sub(m.stamps[cut]) > fpsWindow {
		cut++
	}
	m.stamps = m.stamps[cut:]
	if n := len(m.stamps); n > 1 {
		if span := m.stamps[n-1].Sub(m.stamps[0]).Seconds(); span > 0 {
			m.fps = float64(n-1) / span
		}
	}
	m.shown, m.vel = m.spring.Update(m.shown, m.vel, m.fps)
}

// SetError records why the stream is not showing.
func (m *Model) SetError(err error) {
	m.Err = err
	m.fps = 0
	m.stamps = nil
}

// FPS returns the smoothed frame rate shown on the meter.
func (m Model) FPS() float64 {
	return max(m.shown, 0)
}

// Render draws the panel in a width×height box.
func (m Model) Render(width, height int) string {
	innerW := max(width-4, 10)
	innerH := max(height-4, 2)

	var body string
	switch {
	case m.URL == "":
		body = placeholderBox(m.Placeholder, innerW, innerH)
	case m.Err != nil:
		body = lipgloss.NewStyle().Foreground(theme.ColorError).
			Render("stream unavailable: " + m.Err.Error())
	case m.preview != nil:
		body = HalfBlocks(m.preview, innerW, innerH-1)
	default:
		body = theme.StyleDimmed.Render("connecting to " + m.URL + " ...")
	}

	footer := theme.StyleDimmed.Render(m.footer())
	return theme.StyleBorder.Width(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, body, footer))
}

func (m Model) footer() string {
	if m.URL == "" {
		return "no stream"
	}
	if m.Frames == 0 {
		return m.URL
	}
	return fmt.Sprintf("%s  #%d  %dx%d  %.1f fps  %d KiB",
		m.URL, m.Last.Seq, m.Last.Width, m.Last.Height, m.FPS(), m.Last.Size>>10)
}

func placeholderBox(text string, w, h int) string {
	return lipgloss.Place(w, h, lipgloss.Center, lipgloss.Center,
		lipgloss.NewStyle().Foreground(theme.ColorDimmed).Bold(true).Render(text))
}

// HalfBlocks renders img scaled to cols×rows terminal cells, two pixels
// per cell using the upper half block with distinct fore and background
// colors.
func HalfBlocks(img image.Image, cols, rows int) string {
	b := img.Bounds()
	if cols <= 0 || rows <= 0 || b.Empty() {
		return ""
	}
	// Keep the aspect ratio; a cell is roughly twice as tall as wide.
	pxRows := rows * 2
	if scaled := b.Dy() * cols / b.Dx(); scaled < pxRows {
		pxRows = max(scaled, 2)
	}

	var sb strings.Builder
	for y := 0; y+1 < pxRows; y += 2 {
		for x := 0; x < cols; x++ {
			top := sample(img, x, y, cols, pxRows)
			bot := sample(img, x, y+1, cols, pxRows)
			sb.WriteString(lipgloss.NewStyle().
				Foreground(lipgloss.Color(hex(top))).
				Background(lipgloss.Color(hex(bot))).
				Render("▀"))
		}
		if y+3 < pxRows {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func sample(img image.Image, x, y, w, h int) color.Color {
	b := img.Bounds()
	return img.At(b.Min.X+x*b.Dx()/w, b.Min.Y+y*b.Dy()/h)
}

func hex(c color.Color) string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
}
