package audit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of audit event.
type EventType string

// Event types.
const (
	EventTypeAuthorization EventType = "authorization"
	EventTypeConfiguration EventType = "configuration"
)

// Action represents the action being audited.
type Action string

// Actions.
const (
	ActionAccess       Action = "access"
	ActionDeny         Action = "deny"
	ActionChallenge    Action = "challenge"
	ActionConfigReload Action = "config_reload"
)

// Outcome represents the outcome of an audited action.
type Outcome string

// Outcomes. An authorization that failed for lack of credentials is
// OutcomeFailure; one refused outright is OutcomeDenied.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

// Event represents an audit event.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Action    Action    `json:"action"`
	Outcome   Outcome   `json:"outcome"`

	// RequestID correlates the event with the access log.
	RequestID string `json:"request_id,omitempty"`

	Subject  *Subject         `json:"subject,omitempty"`
	Resource *Resource        `json:"resource,omitempty"`
	Response *ResponseDetails `json:"response,omitempty"`
	Error    *ErrorDetails    `json:"error,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	TraceID  string        `json:"trace_id,omitempty"`
	SpanID   string        `json:"span_id,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Subject represents the client a decision was made for.
type Subject struct {
	// ID is the identity the authorization service reported, if any.
	ID        string `json:"id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// Headers holds the configured request headers, redacted.
	Headers map[string]string `json:"headers,omitempty"`

	// request and check are the raw header sets the logger selects
	// Headers and ID from.
	request http.Header
	check   http.Header
}

// NewSubject describes the client of r. check holds the headers of the
// authorization response and may be nil.
func NewSubject(r *http.Request, check http.Header) *Subject {
	if r == nil {
		return &Subject{check: check}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return &Subject{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
		request:   r.Header,
		check:     check,
	}
}

// Resource represents the resource a decision was made for.
type Resource struct {
	Server   string `json:"server,omitempty"`
	Location string `json:"location,omitempty"`
	Method   string `json:"method,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// Path returns the URI without its query.
func (r *Resource) Path() string {
	path, _, _ := strings.Cut(r.URI, "?")
	return path
}

// ResponseDetails contains the statuses behind a decision.
type ResponseDetails struct {
	// StatusCode is the status returned to the client; zero when the
	// request went on to its content handler.
	StatusCode int `json:"status_code,omitempty"`

	// CheckStatus is the status of the authorization response.
	CheckStatus int `json:"check_status,omitempty"`
}

// ErrorDetails contains details about an error.
type ErrorDetails struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// NewEvent creates a new audit event with default values.
func NewEvent(eventType EventType, action Action, outcome Outcome) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Action:    action,
		Outcome:   outcome,
	}
}

// WithSubject sets the subject.
func (e *Event) WithSubject(subject *Subject) *Event {
	e.Subject = subject
	return e
}

// WithResource sets the resource.
func (e *Event) WithResource(resource *Resource) *Event {
	e.Resource = resource
	return e
}

// WithResponse sets the response details.
func (e *Event) WithResponse(response *ResponseDetails) *Event {
	e.Response = response
	return e
}

// WithError sets the error details.
func (e *Event) WithError(code string, err error) *Event {
	details := &ErrorDetails{Code: code}
	if err != nil {
		details.Message = err.Error()
	}
	e.Error = details
	return e
}

// WithMetadata adds metadata to the event.
func (e *Event) WithMetadata(key string, value any) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

// WithDuration sets the duration.
func (e *Event) WithDuration(duration time.Duration) *Event {
	e.Duration = duration
	return e
}

// AuthorizationEvent creates an authorization audit event. The action
// follows from the outcome.
func AuthorizationEvent(outcome Outcome, subject *Subject, resource *Resource) *Event {
	action := ActionAccess
	switch outcome {
	case OutcomeDenied:
		action = ActionDeny
	case OutcomeFailure:
		action = ActionChallenge
	}
	return NewEvent(EventTypeAuthorization, action, outcome).
		WithSubject(subject).
		WithResource(resource)
}

// ConfigurationEvent creates a configuration audit event.
func ConfigurationEvent(action Action, err error) *Event {
	if err != nil {
		return NewEvent(EventTypeConfiguration, action, OutcomeFailure).WithError("", err)
	}
	return NewEvent(EventTypeConfiguration, action, OutcomeSuccess)
}
