package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cloak-fx/cloak/internal/session"
)

// maxReplyBytes bounds how much of a lifecycle response body is read.
const maxReplyBytes = 64 << 10

// HTTPClient makes lifecycle calls to the camera service. It implements
// session.Service.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

var _ session.Service = (*HTTPClient)(nil)

// NewHTTPClient creates a client targeting the given base URL (e.g.
// "http://127.0.0.1:5000"). A zero timeout disables the per-request limit.
func NewHTTPClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// BaseURL returns the service base URL without a trailing slash.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// StartCamera sends POST /start_camera.
func (c *HTTPClient) StartCamera(ctx context.Context) (session.Reply, error) {
	return c.lifecycle(ctx, "/start_camera")
}

// CaptureBackground sends POST /capture_background.
func (c *HTTPClient) CaptureBackground(ctx context.Context) (session.Reply, error) {
	return c.lifecycle(ctx, "/capture_background")
}

// StopCamera sends POST /stop_camera.
func (c *HTTPClient) StopCamera(ctx context.Context) (session.Reply, error) {
	return c.lifecycle(ctx, "/stop_camera")
}

// lifecycle posts to path and decodes the {status, message} body whatever
// the status code. Only a missing or undecodable body is an error; the
// controller decides what the code and status mean.
func (c *HTTPClient) lifecycle(ctx context.Context, path string) (session.Reply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return session.Reply{}, err
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	log := c.logger.With().Str("request_id", requestID).Str("path", path).Logger()
	start := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("lifecycle request failed")
		return session.Reply{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return session.Reply{}, fmt.Errorf("POST %s: read body: %w", path, err)
	}

	var body LifecycleReply
	if err := json.Unmarshal(data, &body); err != nil {
		log.Warn().Int("code", resp.StatusCode).Err(err).Msg("malformed lifecycle reply")
		return session.Reply{}, fmt.Errorf("POST %s: %d: malformed reply: %w", path, resp.StatusCode, err)
	}

	log.Debug().
		Int("code", resp.StatusCode).
		Str("status", body.Status).
		Dur("elapsed", time.Since(start)).
		Msg("lifecycle reply")

	return session.Reply{
		HTTPStatus: resp.StatusCode,
		Status:     body.Status,
		Message:    body.Message,
	}, nil
}
