// Package client provides the HTTP, stream and WebSocket clients for the
// camera service. Types mirror the service wire protocol without
// importing service packages.
package client

import (
	"encoding/json"
	"fmt"
	"time"
)

// LifecycleReply is the body of /start_camera, /capture_background and
// /stop_camera responses.
type LifecycleReply struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// MessageType identifies the kind of WebSocket message.
type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgError    MessageType = "error"
)

// WSMessage is the envelope for all WebSocket messages.
type WSMessage struct {
	Type    MessageType     `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// CameraStatus is the service-side view of the camera, pushed over /ws.
// It is informational only and never drives the session state.
type CameraStatus struct {
	Running            bool      `json:"running"`
	BackgroundCaptured bool      `json:"backgroundCaptured"`
	Frames             uint64    `json:"frames"`
	FPS                float64   `json:"fps"`
	Clients            int       `json:"clients"`
	CPUPercent         float64   `json:"cpuPercent"`
	RSSBytes           uint64    `json:"rssBytes"`
	Timestamp          time.Time `json:"timestamp"`
}

// StatusError is returned for non-2xx responses on endpoints whose body
// is not a lifecycle reply.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, e.Body)
}
