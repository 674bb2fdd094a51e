// Package mockcam is a stand-in camera service. It exposes the lifecycle
// endpoints, an MJPEG video feed of a synthetic scene, a WebSocket status
// feed and Prometheus metrics.
package mockcam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cloak-fx/cloak/internal/metrics"
)

// Replies mirror the reference camera backend.
const (
	msgStarted        = "Camera started"
	msgAlreadyRunning = "Camera already running"
	msgOpenFailed     = "Failed to open camera within thread"
	msgStopped        = "Camera stopped and resources released"
	msgAlreadyStopped = "Camera already stopped"
	msgStopTimeout    = "Camera thread did not stop cleanly. Manual check may be required."
	msgCaptured       = "Background captured"
	msgNotRunning     = "Camera not running or not initialized. Start camera first."
	msgNoRawFrame     = "Failed to capture background (no raw frame)"
)

const boundary = "frame"

// Server wires the camera to HTTP.
type Server struct {
	cfg      *Config
	cam      *Camera
	events   *Broadcaster
	stats    *ProcStats
	registry *prometheus.Registry
	metrics  *metrics.Camera
	logger   zerolog.Logger

	faultsMu sync.RWMutex
	faults   Faults

	done      chan struct{}
	closeOnce sync.Once
}

// NewServer builds the service from cfg.
func NewServer(cfg *Config, logger zerolog.Logger) *Server {
	reg := prometheus.NewRegistry()
	s := &Server{
		cfg:      cfg,
		cam:      NewCamera(cfg.Camera, logger.With().Str("component", "camera").Logger()),
		stats:    NewProcStats(),
		registry: reg,
		metrics:  metrics.NewCamera(reg),
		logger:   logger,
		faults:   cfg.Faults,
		done:     make(chan struct{}),
	}
	s.cam.OnFrame = s.metrics.Frames.Inc
	s.events = NewBroadcaster(s.Snapshot, cfg.Events.SnapshotInterval,
		logger.With().Str("component", "events").Logger())
	return s
}

// Camera exposes the underlying camera.
func (s *Server) Camera() *Camera { return s.cam }

// SetFaults replaces the active fault configuration.
func (s *Server) SetFaults(f Faults) {
	s.faultsMu.Lock()
	s.faults = f
	s.faultsMu.Unlock()
}

func (s *Server) currentFaults() Faults {
	s.faultsMu.RLock()
	defer s.faultsMu.RUnlock()
	return s.faults
}

// Snapshot describes the camera for the events feed.
func (s *Server) Snapshot() SnapshotPayload {
	st := s.cam.Stats()
	cpu, rss := s.stats.Sample()
	return SnapshotPayload{
		Running:            st.Running,
		BackgroundCaptured: st.BackgroundCaptured,
		Frames:             st.Frames,
		FPS:                st.FPS,
		CPUPercent:         cpu,
		RSSBytes:           rss,
		Timestamp:          time.Now().UTC(),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Group(func(r chi.Router) {
		if rl := s.cfg.RateLimit; rl.Requests > 0 {
			r.Use(httprate.Limit(rl.Requests, rl.Window,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Retry-After", strconv.Itoa(int(rl.Window.Seconds())))
					writeReply(w, http.StatusTooManyRequests, "error", "Too many requests. Please try again later.")
				}),
			))
		}
		r.Post("/start_camera", s.lifecycle("start_camera", s.handleStart))
		r.Post("/capture_background", s.lifecycle("capture_background", s.handleCapture))
		r.Post("/stop_camera", s.lifecycle("stop_camera", s.handleStop))
	})

	r.Get("/video_feed", s.handleVideoFeed)
	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(s.registry))
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/video_feed" || r.URL.Path == "/ws" {
			return
		}
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", r.Header.Get("X-Request-ID")).
			Int("code", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

// lifecycleFunc handles one lifecycle call and returns the reply.
type lifecycleFunc func(ctx context.Context) (int, string, string)

// lifecycle applies faults, writes the reply, records metrics and pushes
// a fresh snapshot to the events feed.
func (s *Server) lifecycle(name string, fn lifecycleFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := s.currentFaults()
		if f.Latency > 0 {
			timer := time.NewTimer(f.Latency)
			select {
			case <-timer.C:
			case <-r.Context().Done():
				timer.Stop()
				return
			}
		}

		if f.MalformedReplies {
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, "<html><body>502 Bad Gateway</body></html>")
			s.metrics.Requests.WithLabelValues(name, "502").Inc()
			return
		}

		code, status, message := fn(r.Context())
		writeReply(w, code, status, message)
		s.metrics.Requests.WithLabelValues(name, strconv.Itoa(code)).Inc()
		s.refreshGauges()
		s.events.Notify()
	}
}

func (s *Server) handleStart(ctx context.Context) (int, string, string) {
	if s.currentFaults().FailStart {
		return http.StatusInternalServerError, "error", msgOpenFailed
	}
	already, err := s.cam.Start(ctx)
	switch {
	case err != nil:
		s.logger.Warn().Err(err).Msg("start failed")
		return http.StatusInternalServerError, "error", msgOpenFailed
	case already:
		return http.StatusOK, "success", msgAlreadyRunning
	default:
		return http.StatusOK, "success", msgStarted
	}
}

func (s *Server) handleCapture(ctx context.Context) (int, string, string) {
	if !s.cam.Running() {
		return http.StatusBadRequest, "error", msgNotRunning
	}
	if s.currentFaults().FailCapture {
		return http.StatusInternalServerError, "error", msgNoRawFrame
	}
	switch err := s.cam.CaptureBackground(ctx); {
	case errors.Is(err, ErrCameraOff):
		return http.StatusBadRequest, "error", msgNotRunning
	case err != nil:
		return http.StatusInternalServerError, "error", msgNoRawFrame
	}
	return http.StatusOK, "success", msgCaptured
}

func (s *Server) handleStop(context.Context) (int, string, string) {
	if s.currentFaults().FailStop && s.cam.Running() {
		return http.StatusInternalServerError, "error", msgStopTimeout
	}
	already, err := s.cam.Stop()
	switch {
	case err != nil:
		return http.StatusInternalServerError, "error", msgStopTimeout
	case already:
		return http.StatusOK, "success", msgAlreadyStopped
	default:
		return http.StatusOK, "success", msgStopped
	}
}

func (s *Server) refreshGauges() {
	st := s.cam.Stats()
	s.metrics.Running.Set(boolGauge(st.Running))
	s.metrics.Background.Set(boolGauge(st.BackgroundCaptured))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func writeReply(w http.ResponseWriter, code int, status, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(LifecycleReply{Status: status, Message: message})
}

// handleVideoFeed streams processed frames as multipart JPEG parts. While
// the camera is off it repeats the camera-off card every OffInterval.
// The token query parameter is ignored; it only defeats caches.
func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	mw := multipart.NewWriter(w)
	mw.SetBoundary(boundary)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.metrics.StreamClients.Inc()
	defer s.metrics.StreamClients.Dec()

	ctx := r.Context()
	var last uint64
	for {
		changed := s.cam.Changed()

		var timer *time.Timer
		var wait <-chan time.Time
		if !s.cam.Running() {
			if err := writePart(mw, s.cam.OffJPEG()); err != nil {
				return
			}
			flusher.Flush()
			timer = time.NewTimer(s.cfg.Camera.OffInterval)
			wait = timer.C
		} else if data, seq := s.cam.Latest(); data != nil && seq != last {
			if err := writePart(mw, data); err != nil {
				return
			}
			flusher.Flush()
			last = seq
		}

		stop := false
		select {
		case <-ctx.Done():
			stop = true
		case <-s.done:
			stop = true
		case <-changed:
		case <-wait:
		}
		if timer != nil {
			timer.Stop()
		}
		if stop {
			return
		}
	}
}

func writePart(mw *multipart.Writer, data []byte) error {
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":   {"image/jpeg"},
		"Content-Length": {strconv.Itoa(len(data))},
	})
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if limit := s.cfg.Events.MaxClients; limit > 0 && s.events.ClientCount() >= limit {
		http.Error(w, "too many event clients", http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("ws upgrade failed")
		return
	}

	c := s.events.AddClient(conn)
	if c == nil {
		return
	}
	s.metrics.EventClients.Inc()
	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("events client connected")

	go func() {
		defer func() {
			s.events.RemoveClient(c)
			s.metrics.EventClients.Dec()
			s.logger.Debug().Str("remote", r.RemoteAddr).Msg("events client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"running": s.cam.Running(),
	})
}

// Close ends open streams and event clients and stops the camera.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.events.Close()
		if _, err := s.cam.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("camera stop on shutdown")
		}
	})
}

// Run serves on ln until ctx is done.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("camera service listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return s.events.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
