package authrequest

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/authgate/internal/observability"
	"github.com/vyrodovalexey/authgate/internal/pipeline"
)

// Phase is the lifecycle position of a request's authorization check.
// A request without State has not started a check.
type Phase int

// Check phases.
const (
	PhasePending Phase = iota + 1
	PhaseResolved
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseResolved:
		return "resolved"
	default:
		return "not_started"
	}
}

// State tracks the authorization check of one inbound request. It is only
// touched on the goroutine serving that request.
type State struct {
	phase  Phase
	status int
	err    error

	// check is the subrequest; read only after resolution.
	check *pipeline.Request

	// decision memoises the resolved outcome.
	decision *Decision

	started time.Time
	span    trace.Span
	logger  observability.Logger
	metrics *Metrics
}

// Phase returns the current phase.
func (s *State) Phase() Phase { return s.phase }

// Status returns the check's response status once resolved.
func (s *State) Status() int { return s.status }

// Err returns the dispatch failure of the check, if any.
func (s *State) Err() error { return s.err }

// complete is the check subrequest's completion handler. It runs once,
// on the parent's goroutine, after the check's status and headers are
// final.
func (s *State) complete(sr *pipeline.Request, rc pipeline.Code) pipeline.Code {
	if s.phase == PhaseResolved {
		s.logger.Debug("auth request completion ignored, check already resolved",
			observability.Int("status", sr.Status()),
		)
		return rc
	}

	s.phase = PhaseResolved
	s.status = sr.Status()
	s.err = sr.Err()
	s.check = sr

	s.logger.Debug("auth request done",
		observability.Int("status", s.status),
		observability.String("rc", rc.String()),
	)

	s.metrics.RecordCheckDone(s.status, time.Since(s.started))

	if s.span != nil {
		s.span.SetAttributes(attribute.Int("http.response.status_code", s.status))
		if s.err != nil {
			s.span.RecordError(s.err)
			s.span.SetStatus(codes.Error, s.err.Error())
		}
		s.span.End()
	}

	return rc
}
