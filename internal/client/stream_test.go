package client

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func mjpegHandler(t *testing.T, frames int) http.HandlerFunc {
	frame := testJPEG(t, 16, 8)
	return func(w http.ResponseWriter, r *http.Request) {
		mw := multipart.NewWriter(w)
		mw.SetBoundary("frame")
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		for i := 0; i < frames; i++ {
			part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"image/jpeg"}})
			if err != nil {
				return
			}
			part.Write(frame)
		}
		mw.Close()
	}
}

func TestStreamReadsFramesUntilClosed(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := httptest.NewServer(mjpegHandler(t, 3))
	defer srv.Close()

	s, err := OpenStream(context.Background(), srv.Client(), srv.URL+"/video_feed?t=1", time.Hour)
	require.NoError(t, err)
	defer s.Close()

	for i := 1; i <= 3; i++ {
		f, err := s.Next()
		require.NoError(t, err)
		assert.Equal(t, uint64(i), f.Seq)
		assert.Equal(t, 16, f.Width)
		assert.Equal(t, 8, f.Height)
		assert.Positive(t, f.Size)
		if i == 1 {
			require.NotNil(t, f.Image, "first frame carries a preview")
		} else {
			assert.Nil(t, f.Image, "previews are rate limited")
		}
	}
	_, err = s.Next()
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestStreamWithoutPreviews(t *testing.T) {
	srv := httptest.NewServer(mjpegHandler(t, 1))
	defer srv.Close()

	s, err := OpenStream(context.Background(), srv.Client(), srv.URL, 0)
	require.NoError(t, err)
	defer s.Close()

	f, err := s.Next()
	require.NoError(t, err)
	assert.Nil(t, f.Image)
}

func TestOpenStreamRejectsNonMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	_, err := OpenStream(context.Background(), srv.Client(), srv.URL, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a multipart stream")
}

func TestOpenStreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := OpenStream(context.Background(), srv.Client(), srv.URL+"/video_feed", 0)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "/video_feed", se.Path)
}

func TestStreamWatcherCommands(t *testing.T) {
	srv := httptest.NewServer(mjpegHandler(t, 1))
	defer srv.Close()

	w := NewStreamWatcher(0)
	msg := w.Open(context.Background(), srv.URL)()
	opened, ok := msg.(StreamOpenedMsg)
	require.True(t, ok, "got %T", msg)

	frame, ok := w.Next(opened.Stream)().(StreamFrameMsg)
	require.True(t, ok)
	assert.Equal(t, uint64(1), frame.Frame.Seq)
	assert.Same(t, opened.Stream, frame.Stream)

	closed, ok := w.Next(opened.Stream)().(StreamClosedMsg)
	require.True(t, ok)
	assert.ErrorIs(t, closed.Err, ErrStreamClosed)
	assert.Equal(t, srv.URL, closed.URL)
}

func TestStreamWatcherOpenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg := NewStreamWatcher(0).Open(ctx, "http://127.0.0.1:1/video_feed")()
	closed, ok := msg.(StreamClosedMsg)
	require.True(t, ok)
	assert.ErrorIs(t, closed.Err, context.Canceled)
}

func TestStreamWatcherBreakerFailsFast(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	w := NewStreamWatcher(0)
	for i := 0; i < breakerTrips; i++ {
		closed, ok := w.Open(context.Background(), srv.URL)().(StreamClosedMsg)
		require.True(t, ok)
		var se *StatusError
		require.ErrorAs(t, closed.Err, &se)
	}
	assert.Equal(t, "open", w.BreakerState())

	closed, ok := w.Open(context.Background(), srv.URL)().(StreamClosedMsg)
	require.True(t, ok)
	assert.ErrorIs(t, closed.Err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(breakerTrips), hits.Load())
}

func TestStreamWatcherCancelDoesNotTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewStreamWatcher(0)
	for i := 0; i < breakerTrips+1; i++ {
		w.Open(ctx, "http://127.0.0.1:1/video_feed")()
	}
	assert.Equal(t, "closed", w.BreakerState())
}
