// Package session implements the camera session state machine. The
// Controller is the only writer of State; everything else reads snapshots.
package session

import "time"

// Phase is the discrete state of a camera session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseActive
	PhaseCapturingBackground
	PhaseStopping
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStarting:
		return "starting"
	case PhaseActive:
		return "active"
	case PhaseCapturingBackground:
		return "capturing_background"
	case PhaseStopping:
		return "stopping"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transitional reports whether a lifecycle request is in flight.
func (p Phase) Transitional() bool {
	return p == PhaseStarting || p == PhaseCapturingBackground || p == PhaseStopping
}

// Streaming reports whether the camera feed is expected to be live.
func (p Phase) Streaming() bool {
	return p == PhaseActive || p == PhaseCapturingBackground
}

// Severity classifies a status message.
type Severity int

const (
	SeverityInfo Severity = iota
	SeveritySuccess
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeveritySuccess:
		return "success"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// Status is the human-readable outcome of the last thing that happened.
type Status struct {
	Text     string
	Severity Severity
}

// Op identifies a lifecycle operation.
type Op int

const (
	OpNone Op = iota
	OpStart
	OpCaptureBackground
	OpStop
)

func (o Op) String() string {
	switch o {
	case OpStart:
		return "start"
	case OpCaptureBackground:
		return "capture_background"
	case OpStop:
		return "stop"
	default:
		return "none"
	}
}

// ParseOp maps a command-line name to an Op.
func ParseOp(name string) (Op, bool) {
	switch name {
	case "start":
		return OpStart, true
	case "capture", "capture_background", "background":
		return OpCaptureBackground, true
	case "stop":
		return OpStop, true
	}
	return OpNone, false
}

// State is a snapshot of the session. It is a value: copies never alias
// the controller's own state.
type State struct {
	Phase Phase
	// StreamToken changes on every activation so the stream endpoint is
	// never served from a cache. Empty when no stream is bound.
	StreamToken string
	Status      Status
	InFlight    Op
	Since       time.Time
}

// HasStream reports whether a stream token is bound.
func (s State) HasStream() bool {
	return s.StreamToken != ""
}
