package session

import "context"

// Reply is a decoded lifecycle response from the camera service.
type Reply struct {
	HTTPStatus int
	Status     string
	Message    string
}

// OK reports whether the reply counts as success: a 2xx code and an
// application status of "success".
func (r Reply) OK() bool {
	return r.HTTPStatus >= 200 && r.HTTPStatus < 300 && r.Status == "success"
}

// Service issues lifecycle requests to the remote camera service.
// Implementations return an error only when no decodable reply was
// received (network failure, malformed body, cancelled context).
type Service interface {
	StartCamera(ctx context.Context) (Reply, error)
	CaptureBackground(ctx context.Context) (Reply, error)
	StopCamera(ctx context.Context) (Reply, error)
}

// Call is an accepted operation waiting to be sent. It carries no
// reference to controller state, so Do may run on any goroutine.
type Call struct {
	Op  Op
	svc Service
}

// Do performs the remote request.
func (c Call) Do(ctx context.Context) Result {
	var (
		reply Reply
		err   error
	)
	switch c.Op {
	case OpStart:
		reply, err = c.svc.StartCamera(ctx)
	case OpCaptureBackground:
		reply, err = c.svc.CaptureBackground(ctx)
	case OpStop:
		reply, err = c.svc.StopCamera(ctx)
	}
	return Result{Op: c.Op, Reply: reply, Err: err}
}

// Result is the outcome of a Call, handed back to Controller.Complete.
type Result struct {
	Op    Op
	Reply Reply
	Err   error
}

// Outcome classifies what happened to an operation.
type Outcome int

const (
	OutcomeRejected Outcome = iota
	OutcomeStarted
	OutcomeSuccess
	OutcomeServiceFailure
	OutcomeTransportFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRejected:
		return "rejected"
	case OutcomeStarted:
		return "started"
	case OutcomeSuccess:
		return "success"
	case OutcomeServiceFailure:
		return "service_failure"
	case OutcomeTransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// Transition describes one state change (or rejected attempt).
type Transition struct {
	Op      Op
	Outcome Outcome
	From    State
	To      State
}

// Observer is notified after every transition, outside the controller lock.
type Observer func(Transition)
