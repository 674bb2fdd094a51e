package feed

import (
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/cloak-fx/cloak/internal/client"
	"github.com/cloak-fx/cloak/internal/view"
)

func TestPlaceholderWhenUnbound(t *testing.T) {
	m := New(30)
	m.Bind("", view.Placeholder)
	if out := m.Render(60, 12); !strings.Contains(out, view.Placeholder) {
		t.Errorf("expected placeholder:\n%s", out)
	}
}

func TestBindResetsFrames(t *testing.T) {
	m := New(30)
	m.Bind("http://cam/video_feed?t=1", "")
	m.SetFrame(client.Frame{Seq: 1, Received: time.Now()})
	if m.Frames != 1 {
		t.Fatalf("frames = %d", m.Frames)
	}

	m.Bind("http://cam/video_feed?t=1", "")
	if m.Frames != 1 {
		t.Error("rebinding the same URL should keep frames")
	}

	m.Bind("http://cam/video_feed?t=2", "")
	if m.Frames != 0 || m.URL != "http://cam/video_feed?t=2" {
		t.Errorf("new URL should reset the panel, got %+v", m)
	}
}

func TestFPSConvergesTowardsRate(t *testing.T) {
	m := New(30)
	m.Bind("http://cam/video_feed?t=1", "")
	start := time.Now()
	for i := 0; i < 120; i++ {
		m.SetFrame(client.Frame{Seq: uint64(i + 1), Received: start.Add(time.Duration(i) * 100 * time.Millisecond)})
	}
	if got := m.FPS(); got < 9 || got > 11 {
		t.Errorf("FPS() = %.2f, want about 10", got)
	}
}

func TestErrorShown(t *testing.T) {
	m := New(30)
	m.Bind("http://cam/video_feed?t=1", "")
	m.SetError(errors.New("connection refused"))
	if out := m.Render(80, 10); !strings.Contains(out, "connection refused") {
		t.Errorf("expected error text:\n%s", out)
	}
}

func TestHalfBlocks(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	out := HalfBlocks(img, 8, 4)
	if lines := strings.Split(out, "\n"); len(lines) != 4 {
		t.Errorf("expected 4 rows, got %d", len(lines))
	}
	if strings.Count(out, "▀") != 32 {
		t.Errorf("expected 32 cells, got %d", strings.Count(out, "▀"))
	}
	if HalfBlocks(img, 0, 4) != "" {
		t.Error("zero width should render nothing")
	}
}
