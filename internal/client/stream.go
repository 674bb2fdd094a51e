package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sony/gobreaker"
)

const (
	// maxFrameBytes bounds a single JPEG part.
	maxFrameBytes = 8 << 20

	// After breakerTrips failed opens in a row, opens fail fast for
	// breakerCooldown.
	breakerTrips    = 3
	breakerCooldown = 10 * time.Second
)

// ErrStreamClosed is returned by Next once the service ends the stream.
var ErrStreamClosed = errors.New("stream closed")

// Frame describes one JPEG part of the video feed.
type Frame struct {
	Seq      uint64
	Size     int
	Width    int
	Height   int
	Received time.Time
	// Image is decoded at most once per preview interval; nil otherwise.
	Image image.Image
}

// Stream reads a multipart/x-mixed-replace JPEG feed.
type Stream struct {
	URL string

	body            io.ReadCloser
	parts           *multipart.Reader
	seq             uint64
	previewInterval time.Duration
	lastPreview     time.Time
}

// OpenStream issues GET rawURL and prepares to read frames from it.
// previewInterval controls how often a full image is decoded; zero
// disables previews.
func OpenStream(ctx context.Context, hc *http.Client, rawURL string, previewInterval time.Duration) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, &StatusError{Method: http.MethodGet, Path: req.URL.Path, Code: resp.StatusCode, Body: string(body)}
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: not a multipart stream (%q)", req.URL.Path, resp.Header.Get("Content-Type"))
	}

	return &Stream{
		URL:             rawURL,
		body:            resp.Body,
		parts:           multipart.NewReader(resp.Body, params["boundary"]),
		previewInterval: previewInterval,
	}, nil
}

// Next blocks until the next frame arrives.
func (s *Stream) Next() (Frame, error) {
	part, err := s.parts.NextPart()
	if errors.Is(err, io.EOF) {
		return Frame{}, ErrStreamClosed
	}
	if err != nil {
		return Frame{}, err
	}
	data, err := io.ReadAll(io.LimitReader(part, maxFrameBytes))
	if err != nil {
		return Frame{}, err
	}

	s.seq++
	f := Frame{Seq: s.seq, Size: len(data), Received: time.Now()}
	if cfg, err := jpeg.DecodeConfig(bytes.NewReader(data)); err == nil {
		f.Width, f.Height = cfg.Width, cfg.Height
	}
	if s.previewInterval > 0 && f.Received.Sub(s.lastPreview) >= s.previewInterval {
		if img, err := jpeg.Decode(bytes.NewReader(data)); err == nil {
			f.Image = img
			s.lastPreview = f.Received
		}
	}
	return f, nil
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.body.Close()
}

// --- Bubble Tea messages ---

// StreamOpenedMsg is sent when the feed connection is established.
type StreamOpenedMsg struct{ Stream *Stream }

// StreamFrameMsg delivers one frame.
type StreamFrameMsg struct {
	Stream *Stream
	Frame  Frame
}

// StreamClosedMsg is sent when the feed ends or cannot be opened.
type StreamClosedMsg struct {
	URL string
	Err error
}

// StreamWatcher turns a Stream into Bubble Tea commands. Opens share a
// circuit breaker so a dead service is not redialled every second.
type StreamWatcher struct {
	client          *http.Client
	previewInterval time.Duration
	breaker         *gobreaker.CircuitBreaker
}

// NewStreamWatcher creates a watcher. The HTTP client has no timeout:
// the feed is an endless response.
func NewStreamWatcher(previewInterval time.Duration) *StreamWatcher {
	return &StreamWatcher{
		client:          &http.Client{},
		previewInterval: previewInterval,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "video_feed",
			Timeout: breakerCooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= breakerTrips
			},
			// A cancelled open means the binding changed, not that the
			// service is down.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		}),
	}
}

// BreakerState reports the open circuit state: "closed", "half-open" or
// "open".
func (w *StreamWatcher) BreakerState() string {
	return w.breaker.State().String()
}

// Open returns a command that connects to rawURL. While the breaker is
// open it fails with gobreaker.ErrOpenState without dialling.
func (w *StreamWatcher) Open(ctx context.Context, rawURL string) tea.Cmd {
	return func() tea.Msg {
		v, err := w.breaker.Execute(func() (interface{}, error) {
			return OpenStream(ctx, w.client, rawURL, w.previewInterval)
		})
		if err != nil {
			return StreamClosedMsg{URL: rawURL, Err: err}
		}
		return StreamOpenedMsg{Stream: v.(*Stream)}
	}
}

// Next returns a command that reads one frame from s. It closes s when
// reading fails.
func (w *StreamWatcher) Next(s *Stream) tea.Cmd {
	return func() tea.Msg {
		f, err := s.Next()
		if err != nil {
			s.Close()
			return StreamClosedMsg{URL: s.URL, Err: err}
		}
		return StreamFrameMsg{Stream: s, Frame: f}
	}
}
