package authrequest

import (
	"fmt"
	"net/http"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/authgate/internal/audit"
	"github.com/vyrodovalexey/authgate/internal/observability"
	"github.com/vyrodovalexey/authgate/internal/pipeline"
)

// HandlerName is the name the gate registers its access handler under.
const HandlerName = "auth_request"

// headerWWWAuthenticate is the challenge header relayed on 401.
const headerWWWAuthenticate = "WWW-Authenticate"

var tracer = otel.Tracer("authgate/authrequest")

// stateKey keys the per-request State in the request context map.
type stateKey struct{}

// checkOptions are the subrequest semantics of an authorization check.
var checkOptions = pipeline.SubrequestOptions{
	HeaderOnly:  true,
	DiscardBody: true,
	Waited:      true,
}

// Registrar accepts access phase handlers.
type Registrar interface {
	RegisterAccess(name string, h pipeline.AccessHandler)
}

// Gate is the access phase handler that delegates authorization to a
// check subrequest.
type Gate struct {
	dispatcher pipeline.Dispatcher
	logger     observability.Logger
	metrics    *Metrics
	audit      audit.Logger
}

// Option is a functional option for configuring the Gate.
type Option func(*Gate)

// WithLogger sets the logger for the gate.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithMetrics sets the metrics for the gate.
func WithMetrics(metrics *Metrics) Option {
	return func(g *Gate) {
		g.metrics = metrics
	}
}

// WithAuditLogger records one authorization event per resolved request.
func WithAuditLogger(logger audit.Logger) Option {
	return func(g *Gate) {
		g.audit = logger
	}
}

// NewGate creates a gate issuing checks through dispatcher.
func NewGate(dispatcher pipeline.Dispatcher, opts ...Option) *Gate {
	g := &Gate{
		dispatcher: dispatcher,
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register installs the gate in the access phase.
func (g *Gate) Register(reg Registrar) {
	reg.RegisterAccess(HandlerName, g.Access)
}

// Access is the pipeline access handler.
func (g *Gate) Access(r *pipeline.Request) pipeline.Code {
	return g.Evaluate(r).Code()
}

// Evaluate decides what happens to r. It is called once when the request
// enters the access phase and again after every event the request was
// suspended for. It never blocks.
func (g *Gate) Evaluate(r *pipeline.Request) Decision {
	conf := LocationConf(r)
	if !conf.Enabled() {
		return proceed()
	}

	st, ok := r.Ctx(stateKey{}).(*State)
	if !ok {
		return g.issue(r, conf.URI)
	}

	if st.phase != PhaseResolved {
		return suspend()
	}

	if st.decision != nil {
		return *st.decision
	}

	d := g.resolve(r, st, conf.URI)
	st.decision = &d
	return d
}

// issue starts the check subrequest and attaches State to r.
func (g *Gate) issue(r *pipeline.Request, uri string) Decision {
	logger := g.logger.With(
		observability.String("request_id", r.ID()),
		observability.String("auth_uri", uri),
	)

	_, span := tracer.Start(r.Context(), "auth_request.check",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("auth_request.uri", uri)),
	)

	st := &State{
		phase:   PhasePending,
		started: time.Now(),
		span:    span,
		logger:  logger,
		metrics: g.metrics,
	}

	sr, err := g.dispatcher.Subrequest(r, uri, checkOptions, st.complete)
	if err != nil {
		span.RecordError(err)
		span.End()
		logger.Error("auth request subrequest failed", observability.Error(err))
		d := internalError()
		g.record(r, uri, d, reasonSubrequestError, nil, err)
		return d
	}

	if st.check == nil {
		st.check = sr
	}
	r.SetCtx(stateKey{}, st)
	g.metrics.RecordCheckIssued()

	logger.Debug("auth request issued")
	return suspend()
}

// resolve maps a finished check onto a decision.
func (g *Gate) resolve(r *pipeline.Request, st *State, uri string) Decision {
	d, reason, err := g.decide(r, st, uri)
	g.record(r, uri, d, reason, st, err)
	return d
}

func (g *Gate) decide(r *pipeline.Request, st *State, uri string) (Decision, string, error) {
	logger := st.logger

	if st.err != nil {
		logger.Error("auth request dispatch failed",
			observability.Int("status", st.status),
			observability.Error(st.err),
		)
		return internalError(), reasonDispatchError, st.err
	}

	switch {
	case st.status == http.StatusForbidden:
		return deny(), reasonForbidden, nil

	case st.status == http.StatusUnauthorized:
		values := challengeValues(st.check)
		for _, v := range values {
			r.HeadersOut().Add(headerWWWAuthenticate, v)
		}
		return challenge(values), reasonUnauthorized, nil

	case st.status >= http.StatusOK && st.status < http.StatusMultipleChoices:
		return proceed(), reasonAllowed, nil
	}

	logger.Error("auth request unexpected status",
		observability.Int("status", st.status),
		observability.String("uri", uri),
	)
	return internalError(), reasonUnexpectedStatus, fmt.Errorf("unexpected auth request status %d", st.status)
}

// record emits the metric and the audit event of a decision. st is nil
// when the check could not be issued.
func (g *Gate) record(r *pipeline.Request, uri string, d Decision, reason string, st *State, err error) {
	g.metrics.RecordDecision(d.Kind, reason)
	if g.audit == nil {
		return
	}

	var (
		check       http.Header
		checkStatus int
	)
	if st != nil {
		checkStatus = st.status
		if st.check != nil {
			check = st.check.HeadersOut()
		}
	}

	event := audit.AuthorizationEvent(auditOutcome(d.Kind), audit.NewSubject(r.HTTP(), check), auditResource(r)).
		WithResponse(&audit.ResponseDetails{StatusCode: d.Status, CheckStatus: checkStatus}).
		WithMetadata("auth_uri", uri).
		WithMetadata("reason", reason)
	event.RequestID = r.ID()
	if st != nil {
		event.WithDuration(time.Since(st.started))
	}
	if err != nil {
		event.WithError(reason, err)
	}

	g.audit.LogEvent(r.Context(), event)
}

func auditOutcome(k Kind) audit.Outcome {
	switch k {
	case Proceed:
		return audit.OutcomeSuccess
	case Deny:
		return audit.OutcomeDenied
	case Challenge:
		return audit.OutcomeFailure
	default:
		return audit.OutcomeError
	}
}

func auditResource(r *pipeline.Request) *audit.Resource {
	res := &audit.Resource{}
	if hr := r.HTTP(); hr != nil {
		res.Method = hr.Method
		res.URI = hr.URL.RequestURI()
	}
	if srv := r.Server(); srv != nil {
		res.Server = srv.Name
	}
	if loc := r.Location(); loc != nil {
		res.Location = loc.Name
	}
	return res
}

// challengeValues returns the check's WWW-Authenticate values, falling
// back to those its upstream sent.
func challengeValues(check *pipeline.Request) []string {
	if check == nil {
		return nil
	}
	if values := check.HeadersOut().Values(headerWWWAuthenticate); len(values) > 0 {
		return slices.Clone(values)
	}
	if up := check.Upstream(); up != nil {
		if values := up.HeadersIn().Values(headerWWWAuthenticate); len(values) > 0 {
			return slices.Clone(values)
		}
	}
	return nil
}
