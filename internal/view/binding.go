// Package view projects session state into what a display needs: status
// text, stream URL and which controls are enabled. It never mutates the
// state it is given.
package view

import (
	"net/url"

	"github.com/cloak-fx/cloak/internal/session"
)

// Placeholder is shown in place of the video when no stream is bound.
const Placeholder = "Camera is Off"

// View is the renderable projection of one state snapshot.
type View struct {
	Phase    session.Phase
	Status   string
	Severity session.Severity

	// StreamURL is empty when no stream should be displayed.
	StreamURL   string
	Placeholder string

	StartEnabled   bool
	CaptureEnabled bool
	StopEnabled    bool

	// Busy is true while a lifecycle request is in flight.
	Busy bool
}

// HasStream reports whether a stream URL is bound.
func (v View) HasStream() bool {
	return v.StreamURL != ""
}

// Enabled reports whether the control for op may be acted on. The stop
// control stays lit while a background capture runs, but nothing is
// actionable while a request is in flight.
func (v View) Enabled(op session.Op) bool {
	if v.Busy {
		return false
	}
	switch op {
	case session.OpStart:
		return v.StartEnabled
	case session.OpCaptureBackground:
		return v.CaptureEnabled
	case session.OpStop:
		return v.StopEnabled
	}
	return false
}

// Binding holds the fixed stream endpoint, e.g.
// "http://127.0.0.1:5000/video_feed".
type Binding struct {
	Endpoint string
}

// New creates a binding for the given stream endpoint.
func New(endpoint string) Binding {
	return Binding{Endpoint: endpoint}
}

// Project derives the view for s.
func (b Binding) Project(s session.State) View {
	v := View{
		Phase:          s.Phase,
		Status:         s.Status.Text,
		Severity:       s.Status.Severity,
		StartEnabled:   s.Phase == session.PhaseIdle || s.Phase == session.PhaseFailed,
		CaptureEnabled: s.Phase == session.PhaseActive,
		StopEnabled:    s.Phase.Streaming(),
		Busy:           s.Phase.Transitional(),
	}
	if s.Phase.Streaming() && s.HasStream() {
		v.StreamURL = b.streamURL(s.StreamToken)
	}
	if v.StreamURL == "" {
		v.Placeholder = Placeholder
	}
	return v
}

// streamURL appends the token as the cache-defeating "t" parameter,
// keeping any query the endpoint already carries.
func (b Binding) streamURL(token string) string {
	u, err := url.Parse(b.Endpoint)
	if err != nil {
		return b.Endpoint + "?t=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("t", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// StreamEndpoint joins the service base URL with the stream path.
func StreamEndpoint(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL + "/video_feed"
	}
	return u.JoinPath("video_feed").String()
}
