package session

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	msgWelcome     = "Welcome! Start the camera to begin."
	msgStarting    = "Starting camera..."
	msgCapturing   = "Capturing background..."
	msgStopping    = "Stopping camera..."
	msgNotActive   = "Camera is not active. Please start the camera first."
	msgStarted     = "Camera started. Video feed should be active."
	msgCaptured    = "Background captured successfully!"
	msgStopped     = "Camera stopped."
	msgStartFailed = "Error starting camera"
	msgCaptureFail = "Error capturing background"
	msgStopFailed  = "Error stopping camera"
)

// Controller owns the session State and is the only component allowed to
// issue lifecycle requests. At most one request is in flight at a time;
// the phase guard in Begin is what enforces it.
type Controller struct {
	svc       Service
	logger    zerolog.Logger
	observers []Observer
	nextToken func() string
	clock     clockwork.Clock

	mu    sync.Mutex
	state State
	// resume is the phase to fall back to when a stop is refused by the
	// service and the camera's real state is unknown.
	resume Phase
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for transition and failure records.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithObserver registers fn to be called after every transition.
func WithObserver(fn Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, fn) }
}

// WithTokenSource replaces the stream token generator. Every call must
// return a value distinct from all previous ones.
func WithTokenSource(fn func() string) Option {
	return func(c *Controller) { c.nextToken = fn }
}

// WithClock replaces the wall clock used for Since and default tokens.
func WithClock(clk clockwork.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// New creates a controller in the idle phase.
func New(svc Service, opts ...Option) *Controller {
	c := &Controller{
		svc:    svc,
		logger: zerolog.Nop(),
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.nextToken == nil {
		c.nextToken = millisTokens(c.clock.Now)
	}
	c.state = State{
		Phase:  PhaseIdle,
		Status: Status{Text: msgWelcome, Severity: SeverityInfo},
		Since:  c.clock.Now(),
	}
	return c
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start starts the camera and blocks until the service answers.
func (c *Controller) Start(ctx context.Context) State {
	return c.run(ctx, OpStart)
}

// CaptureBackground asks the service to grab a background frame.
func (c *Controller) CaptureBackground(ctx context.Context) State {
	return c.run(ctx, OpCaptureBackground)
}

// Stop stops the camera.
func (c *Controller) Stop(ctx context.Context) State {
	return c.run(ctx, OpStop)
}

// Do runs op to completion. Rejected operations return the unchanged
// (or status-only updated) state without contacting the service.
func (c *Controller) Do(ctx context.Context, op Op) State {
	return c.run(ctx, op)
}

func (c *Controller) run(ctx context.Context, op Op) State {
	call, ok := c.Begin(op)
	if !ok {
		return c.Snapshot()
	}
	return c.Complete(call.Do(ctx))
}

// Begin checks op against the current phase. When accepted the session
// moves into the matching transitional phase and the returned Call must
// be performed and handed to Complete.
func (c *Controller) Begin(op Op) (Call, bool) {
	c.mu.Lock()
	from := c.state
	next, ok := c.begin(op, from)
	if ok {
		c.resume = from.Phase
	}
	c.state = next
	c.mu.Unlock()

	outcome := OutcomeStarted
	if !ok {
		outcome = OutcomeRejected
	}
	c.notify(Transition{Op: op, Outcome: outcome, From: from, To: next})
	if !ok {
		return Call{}, false
	}
	return Call{Op: op, svc: c.svc}, true
}

func (c *Controller) begin(op Op, s State) (State, bool) {
	if s.Phase.Transitional() {
		return s, false
	}
	switch op {
	case OpStart:
		if s.Phase != PhaseIdle && s.Phase != PhaseFailed {
			return s, false
		}
		s.Phase = PhaseStarting
		s.Status = Status{Text: msgStarting, Severity: SeverityInfo}
	case OpCaptureBackground:
		if s.Phase != PhaseActive {
			s.Status = Status{Text: msgNotActive, Severity: SeverityError}
			return s, false
		}
		s.Phase = PhaseCapturingBackground
		s.Status = Status{Text: msgCapturing, Severity: SeverityInfo}
	case OpStop:
		if s.Phase == PhaseIdle {
			return s, false
		}
		s.Phase = PhaseStopping
		s.Status = Status{Text: msgStopping, Severity: SeverityInfo}
	default:
		return s, false
	}
	s.InFlight = op
	s.Since = c.clock.Now()
	return s, true
}

// Complete applies the result of the in-flight call. Results for an
// operation that is not in flight are dropped.
func (c *Controller) Complete(res Result) State {
	c.mu.Lock()
	from := c.state
	if from.InFlight == OpNone || from.InFlight != res.Op {
		c.mu.Unlock()
		c.logger.Warn().
			Str("op", res.Op.String()).
			Str("in_flight", from.InFlight.String()).
			Msg("dropping result for operation not in flight")
		return from
	}
	next, outcome := c.complete(res, from)
	c.state = next
	c.mu.Unlock()

	c.notify(Transition{Op: res.Op, Outcome: outcome, From: from, To: next})
	return next
}

func (c *Controller) complete(res Result, s State) (State, Outcome) {
	outcome := classify(res)
	s.InFlight = OpNone
	s.Since = c.clock.Now()

	switch res.Op {
	case OpStart:
		if outcome == OutcomeSuccess {
			s.Phase = PhaseActive
			s.StreamToken = c.nextToken()
			s.Status = Status{Text: messageOr(res.Reply.Message, msgStarted), Severity: SeveritySuccess}
			break
		}
		s.Phase = PhaseIdle
		s.StreamToken = ""
		s.Status = failureStatus(res, msgStartFailed)

	case OpCaptureBackground:
		// Capture is a side operation: the session keeps running and the
		// stream token stays bound whatever the outcome.
		s.Phase = PhaseActive
		if outcome == OutcomeSuccess {
			s.Status = Status{Text: messageOr(res.Reply.Message, msgCaptured), Severity: SeveritySuccess}
			break
		}
		s.Status = failureStatus(res, msgCaptureFail)

	case OpStop:
		switch outcome {
		case OutcomeSuccess:
			s.Phase = PhaseIdle
			s.StreamToken = ""
			s.Status = Status{Text: messageOr(res.Reply.Message, msgStopped), Severity: SeveritySuccess}
		case OutcomeServiceFailure:
			// The service answered but refused. Its camera may still be on,
			// so the phase is left where it was; the stream is hidden anyway.
			s.Phase = c.resume
			s.StreamToken = ""
			s.Status = failureStatus(res, msgStopFailed)
		default:
			// An unreachable service cannot be streaming to us.
			s.Phase = PhaseIdle
			s.StreamToken = ""
			s.Status = failureStatus(res, msgStopFailed)
		}
	}
	return s, outcome
}

func (c *Controller) notify(t Transition) {
	ev := c.logger.Debug()
	switch t.Outcome {
	case OutcomeServiceFailure, OutcomeTransportFailure:
		ev = c.logger.Warn()
	}
	ev.Str("op", t.Op.String()).
		Str("outcome", t.Outcome.String()).
		Str("from", t.From.Phase.String()).
		Str("to", t.To.Phase.String()).
		Str("status", t.To.Status.Text).
		Msg("session transition")

	for _, fn := range c.observers {
		fn(t)
	}
}

func classify(res Result) Outcome {
	switch {
	case res.Err != nil:
		return OutcomeTransportFailure
	case res.Reply.OK():
		return OutcomeSuccess
	default:
		return OutcomeServiceFailure
	}
}

func failureStatus(res Result, prefix string) Status {
	if res.Err != nil {
		return Status{Text: "Request failed: " + res.Err.Error(), Severity: SeverityError}
	}
	fallback := fmt.Sprintf("%s (HTTP %d)", prefix, res.Reply.HTTPStatus)
	return Status{Text: messageOr(res.Reply.Message, fallback), Severity: SeverityError}
}

func messageOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}

// millisTokens returns a token source based on the wall clock in
// milliseconds, bumped when the clock has not advanced.
func millisTokens(now func() time.Time) func() string {
	var last int64
	return func() string {
		t := now().UnixMilli()
		if t <= last {
			t = last + 1
		}
		last = t
		return strconv.FormatInt(t, 10)
	}
}
