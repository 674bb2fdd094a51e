package mockcam

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	// ErrCameraOff is returned by CaptureBackground while the camera is off.
	ErrCameraOff = errors.New("camera not running")
	// ErrOpenFailed is returned by Start when no frame arrives in time.
	ErrOpenFailed = errors.New("camera did not produce a frame in time")
	// ErrStopTimeout is returned by Stop when the capture loop hangs.
	ErrStopTimeout = errors.New("capture loop did not stop in time")
	// ErrNoFrame is returned by CaptureBackground before any raw frame exists.
	ErrNoFrame = errors.New("no raw frame available")
)

// fpsWindow is the number of frame timestamps used for the measured rate.
const fpsWindow = 30

// Camera is a synthetic camera. Lifecycle calls are serialised; frames
// are produced by a loop goroutine while running.
type Camera struct {
	cfg    CameraConfig
	scene  *Scene
	logger zerolog.Logger
	now    func() time.Time

	// OnFrame, if set, is called after every produced frame.
	OnFrame func()

	life    sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	mu         sync.Mutex
	jpeg       []byte
	raw        *image.RGBA
	background *image.RGBA
	seq        uint64
	stamps     []time.Time
	changed    chan struct{}

	offOnce sync.Once
	off     []byte
}

// NewCamera creates a stopped camera.
func NewCamera(cfg CameraConfig, logger zerolog.Logger) *Camera {
	return &Camera{
		cfg:     cfg,
		scene:   NewScene(cfg.Width, cfg.Height),
		logger:  logger,
		now:     time.Now,
		changed: make(chan struct{}),
	}
}

// Start turns the camera on and waits for the first frame. It reports
// whether the camera was already running.
func (c *Camera) Start(ctx context.Context) (bool, error) {
	c.life.Lock()
	defer c.life.Unlock()
	if c.running {
		return true, nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	first := make(chan struct{})
	go c.loop(loopCtx, done, first)

	timer := time.NewTimer(c.cfg.OpenTimeout)
	defer timer.Stop()
	select {
	case <-first:
	case <-timer.C:
		cancel()
		<-done
		return false, ErrOpenFailed
	case <-ctx.Done():
		cancel()
		<-done
		return false, ctx.Err()
	}

	c.running, c.cancel, c.done = true, cancel, done
	c.logger.Info().Int("width", c.cfg.Width).Int("height", c.cfg.Height).Int("fps", c.cfg.FPS).Msg("camera started")
	return false, nil
}

// Stop turns the camera off. It reports whether the camera was already
// stopped. The captured background is kept.
func (c *Camera) Stop() (bool, error) {
	c.life.Lock()
	defer c.life.Unlock()
	if !c.running {
		return true, nil
	}

	c.cancel()
	c.running = false

	timer := time.NewTimer(c.cfg.StopTimeout)
	defer timer.Stop()
	var err error
	select {
	case <-c.done:
	case <-timer.C:
		err = ErrStopTimeout
	}

	c.mu.Lock()
	c.jpeg, c.raw, c.stamps = nil, nil, nil
	c.notifyLocked()
	c.mu.Unlock()

	c.logger.Info().Err(err).Msg("camera stopped")
	return false, err
}

// Running reports whether the camera is on.
func (c *Camera) Running() bool {
	c.life.Lock()
	defer c.life.Unlock()
	return c.running
}

// CaptureBackground waits the configured settle delay and keeps the
// latest raw frame as the background.
func (c *Camera) CaptureBackground(ctx context.Context) error {
	if !c.Running() {
		return ErrCameraOff
	}

	if c.cfg.CaptureDelay > 0 {
		timer := time.NewTimer(c.cfg.CaptureDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.raw == nil {
		return ErrNoFrame
	}
	bg := image.NewRGBA(c.raw.Bounds())
	copy(bg.Pix, c.raw.Pix)
	c.background = bg
	c.logger.Info().Uint64("seq", c.seq).Msg("background captured")
	return nil
}

// Latest returns the newest processed JPEG and its sequence number; nil
// while the camera is off or warming up.
func (c *Camera) Latest() ([]byte, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jpeg, c.seq
}

// Changed returns a channel closed on the next frame or stop.
func (c *Camera) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// OffJPEG is the camera-off card.
func (c *Camera) OffJPEG() []byte {
	c.offOnce.Do(func() {
		c.off = encode(OffFrame(c.cfg.Width, c.cfg.Height), c.cfg.Quality)
	})
	return c.off
}

// Stats is a point-in-time view of the camera.
type Stats struct {
	Running            bool
	BackgroundCaptured bool
	Frames             uint64
	FPS                float64
}

func (c *Camera) Stats() Stats {
	running := c.Running()
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Running:            running,
		BackgroundCaptured: c.background != nil,
		Frames:             c.seq,
	}
	if n := len(c.stamps); n > 1 {
		if span := c.stamps[n-1].Sub(c.stamps[0]).Seconds(); span > 0 {
			s.FPS = float64(n-1) / span
		}
	}
	return s
}

func (c *Camera) loop(ctx context.Context, done, first chan struct{}) {
	defer close(done)

	if c.cfg.WarmUp > 0 {
		timer := time.NewTimer(c.cfg.WarmUp)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}

	limiter := rate.NewLimiter(rate.Limit(c.cfg.FPS), 1)
	start := c.now()
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		c.produce(c.now().Sub(start))
		if first != nil {
			close(first)
			first = nil
		}
		if c.OnFrame != nil {
			c.OnFrame()
		}
	}
}

func (c *Camera) produce(t time.Duration) {
	raw := c.scene.Render(t)

	c.mu.Lock()
	bg := c.background
	c.mu.Unlock()

	out := image.NewRGBA(raw.Bounds())
	copy(out.Pix, raw.Pix)
	if bg == nil {
		MarkNoBackground(out)
	} else {
		Composite(out, bg)
	}
	data := encode(out, c.cfg.Quality)

	c.mu.Lock()
	c.raw = raw
	c.jpeg = data
	c.seq++
	c.stamps = append(c.stamps, c.now())
	if len(c.stamps) > fpsWindow {
		c.stamps = c.stamps[len(c.stamps)-fpsWindow:]
	}
	c.notifyLocked()
	c.mu.Unlock()
}

func (c *Camera) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func encode(img image.Image, quality int) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil
	}
	return buf.Bytes()
}
