package mockcam

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Camera    CameraConfig    `yaml:"camera"`
	Events    EventsConfig    `yaml:"events"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Faults    Faults          `yaml:"faults"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type CameraConfig struct {
	Width   int `yaml:"width"`
	Height  int `yaml:"height"`
	FPS     int `yaml:"fps"`
	Quality int `yaml:"quality"`
	// WarmUp delays the first frame after start.
	WarmUp time.Duration `yaml:"warm_up"`
	// OpenTimeout is how long start waits for the first frame.
	OpenTimeout time.Duration `yaml:"open_timeout"`
	// StopTimeout is how long stop waits for the capture loop to exit.
	StopTimeout time.Duration `yaml:"stop_timeout"`
	// CaptureDelay lets the subject step out of frame before the
	// background is taken.
	CaptureDelay time.Duration `yaml:"capture_delay"`
	// OffInterval paces the camera-off frames on the video feed.
	OffInterval time.Duration `yaml:"off_interval"`
}

type EventsConfig struct {
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	MaxClients       int           `yaml:"max_clients"`
}

// RateLimitConfig bounds lifecycle requests per client IP. Zero
// requests disables the limit.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// Faults make lifecycle endpoints misbehave on purpose.
type Faults struct {
	// FailStart answers start with a 500 and leaves the camera off.
	FailStart bool `yaml:"fail_start"`
	// FailCapture answers capture with a 500 and keeps the old background.
	FailCapture bool `yaml:"fail_capture"`
	// FailStop answers stop with a 500 and leaves the camera running.
	FailStop bool `yaml:"fail_stop"`
	// MalformedReplies answers every lifecycle call with a non-JSON body.
	MalformedReplies bool `yaml:"malformed_replies"`
	// Latency is added before every lifecycle reply.
	Latency time.Duration `yaml:"latency"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 5000},
		Camera: CameraConfig{
			Width:        640,
			Height:       480,
			FPS:          30,
			Quality:      75,
			WarmUp:       200 * time.Millisecond,
			OpenTimeout:  2 * time.Second,
			StopTimeout:  5 * time.Second,
			CaptureDelay: time.Second,
			OffInterval:  time.Second,
		},
		Events: EventsConfig{
			SnapshotInterval: time.Second,
			MaxClients:       16,
		},
		RateLimit: RateLimitConfig{Requests: 60, Window: time.Minute},
	}
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Camera.Width < 16 || c.Camera.Height < 16 {
		return fmt.Errorf("camera size %dx%d too small", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 || c.Camera.FPS > 120 {
		return fmt.Errorf("camera.fps %d out of range", c.Camera.FPS)
	}
	if c.Camera.Quality < 1 || c.Camera.Quality > 100 {
		return fmt.Errorf("camera.quality %d out of range", c.Camera.Quality)
	}
	if c.Camera.OpenTimeout <= c.Camera.WarmUp {
		return fmt.Errorf("camera.open_timeout must exceed camera.warm_up")
	}
	if c.Camera.OffInterval <= 0 {
		return fmt.Errorf("camera.off_interval must be positive")
	}
	if c.Events.SnapshotInterval <= 0 {
		return fmt.Errorf("events.snapshot_interval must be positive")
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	return nil
}

// Addr is host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
