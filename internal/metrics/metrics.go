// Package metrics holds the Prometheus collectors for the session
// controller and the mock camera service.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cloak-fx/cloak/internal/session"
)

// Session counts controller transitions.
type Session struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Phase      *prometheus.GaugeVec
}

// NewSession registers the session collectors on reg.
func NewSession(reg prometheus.Registerer) *Session {
	f := promauto.With(reg)
	return &Session{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cloak_session_operations_total",
			Help: "Lifecycle operations by op and outcome",
		}, []string{"op", "outcome"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cloak_session_request_duration_seconds",
			Help:    "Time from accepting an operation to applying its reply",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"op"}),
		Phase: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cloak_session_phase",
			Help: "1 for the current session phase, 0 otherwise",
		}, []string{"phase"}),
	}
}

var phases = []session.Phase{
	session.PhaseIdle,
	session.PhaseStarting,
	session.PhaseActive,
	session.PhaseCapturingBackground,
	session.PhaseStopping,
	session.PhaseFailed,
}

// Observe is a session.Observer.
func (m *Session) Observe(t session.Transition) {
	m.Operations.WithLabelValues(t.Op.String(), t.Outcome.String()).Inc()
	switch t.Outcome {
	case session.OutcomeSuccess, session.OutcomeServiceFailure, session.OutcomeTransportFailure:
		if !t.From.Since.IsZero() && !t.To.Since.IsZero() {
			m.Duration.WithLabelValues(t.Op.String()).Observe(t.To.Since.Sub(t.From.Since).Seconds())
		}
	}
	for _, p := range phases {
		v := 0.0
		if p == t.To.Phase {
			v = 1
		}
		m.Phase.WithLabelValues(p.String()).Set(v)
	}
}

// Camera covers the mock camera service.
type Camera struct {
	Requests      *prometheus.CounterVec
	Frames        prometheus.Counter
	StreamClients prometheus.Gauge
	EventClients  prometheus.Gauge
	Running       prometheus.Gauge
	Background    prometheus.Gauge
}

// NewCamera registers the camera collectors on reg.
func NewCamera(reg prometheus.Registerer) *Camera {
	f := promauto.With(reg)
	return &Camera{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cloak_camera_requests_total",
			Help: "Lifecycle requests by endpoint and HTTP status",
		}, []string{"endpoint", "code"}),
		Frames: f.NewCounter(prometheus.CounterOpts{
			Name: "cloak_camera_frames_total",
			Help: "Frames produced by the camera",
		}),
		StreamClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "cloak_camera_stream_clients",
			Help: "Open /video_feed responses",
		}),
		EventClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "cloak_camera_event_clients",
			Help: "Connected /ws clients",
		}),
		Running: f.NewGauge(prometheus.GaugeOpts{
			Name: "cloak_camera_running",
			Help: "1 while the camera is on",
		}),
		Background: f.NewGauge(prometheus.GaugeOpts{
			Name: "cloak_camera_background_captured",
			Help: "1 once a background frame is held",
		}),
	}
}

// Handler serves the metrics gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes g on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
