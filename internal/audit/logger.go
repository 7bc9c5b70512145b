package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/authgate/internal/observability"
)

const redactedValue = "[REDACTED]"

// Logger is the audit logger interface.
type Logger interface {
	// LogEvent logs an audit event.
	LogEvent(ctx context.Context, event *Event)

	// Close closes the logger.
	Close() error
}

// Metrics contains audit metrics.
type Metrics struct {
	eventsTotal *prometheus.CounterVec
}

// NewMetricsWithRegisterer creates audit metrics registered with
// registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "authgate"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "events_total",
			Help:      "Total number of audit events written",
		},
		[]string{"type", "action", "outcome"},
	)

	return &Metrics{
		eventsTotal: observability.RegisterCollector(registerer, eventsTotal),
	}
}

// Init pre-populates the authorization label combinations.
func (m *Metrics) Init() {
	if m == nil {
		return
	}
	authz := string(EventTypeAuthorization)
	m.eventsTotal.WithLabelValues(authz, string(ActionAccess), string(OutcomeSuccess))
	m.eventsTotal.WithLabelValues(authz, string(ActionDeny), string(OutcomeDenied))
	m.eventsTotal.WithLabelValues(authz, string(ActionChallenge), string(OutcomeFailure))
	m.eventsTotal.WithLabelValues(authz, string(ActionAccess), string(OutcomeError))
}

// RecordEvent records an audit event metric.
func (m *Metrics) RecordEvent(eventType EventType, action Action, outcome Outcome) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(eventType), string(action), string(outcome)).Inc()
}

// logger writes events to an io.Writer.
type logger struct {
	config  *Config
	writer  io.Writer
	closer  io.Closer
	mu      sync.Mutex
	logger  observability.Logger
	metrics *Metrics
}

// LoggerOption is a functional option for the logger.
type LoggerOption func(*logger)

// WithLoggerLogger sets the logger reporting write failures.
func WithLoggerLogger(l observability.Logger) LoggerOption {
	return func(lg *logger) {
		lg.logger = l
	}
}

// WithLoggerMetrics sets the metrics.
func WithLoggerMetrics(metrics *Metrics) LoggerOption {
	return func(lg *logger) {
		lg.metrics = metrics
	}
}

// WithLoggerWriter sets the writer, overriding the configured output.
func WithLoggerWriter(writer io.Writer) LoggerOption {
	return func(lg *logger) {
		lg.writer = writer
	}
}

// NewLogger creates a new audit logger. A disabled configuration yields a
// no-op logger.
func NewLogger(config *Config, opts ...LoggerOption) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return NewNoopLogger(), nil
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	l := &logger{
		config: config,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.writer == nil {
		writer, closer, err := openOutput(config.GetEffectiveOutput())
		if err != nil {
			return nil, err
		}
		l.writer = writer
		l.closer = closer
	}

	return l, nil
}

func openOutput(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	default:
		//nolint:gosec // path comes from the configuration file
		file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		return file, file, nil
	}
}

// LogEvent logs an audit event.
func (l *logger) LogEvent(ctx context.Context, event *Event) {
	if event == nil || !l.config.ShouldAudit(event.Type) {
		return
	}
	if event.Resource != nil && l.config.ShouldSkipPath(event.Resource.Path()) {
		return
	}

	if event.RequestID == "" {
		event.RequestID = observability.RequestIDFromContext(ctx)
	}
	sc := trace.SpanContextFromContext(ctx)
	if event.TraceID == "" && sc.HasTraceID() {
		event.TraceID = sc.TraceID().String()
	}
	if event.SpanID == "" && sc.HasSpanID() {
		event.SpanID = sc.SpanID().String()
	}

	l.describeSubject(event.Subject)
	l.redactMetadata(event)

	l.metrics.RecordEvent(event.Type, event.Action, event.Outcome)
	l.writeEvent(event)
}

// describeSubject fills the subject's ID and Headers from the raw header
// sets it was built from.
func (l *logger) describeSubject(s *Subject) {
	if s == nil {
		return
	}
	if s.ID == "" && l.config.SubjectHeader != "" && s.check != nil {
		s.ID = s.check.Get(l.config.SubjectHeader)
	}
	if s.request == nil || len(l.config.Headers) == 0 {
		return
	}
	for _, name := range l.config.Headers {
		values := s.request.Values(name)
		if len(values) == 0 {
			continue
		}
		if s.Headers == nil {
			s.Headers = make(map[string]string, len(l.config.Headers))
		}
		key := http.CanonicalHeaderKey(name)
		if l.shouldRedact(key) {
			s.Headers[key] = redactedValue
			continue
		}
		s.Headers[key] = strings.Join(values, ", ")
	}
}

func (l *logger) redactMetadata(event *Event) {
	for key := range event.Metadata {
		if l.shouldRedact(key) {
			event.Metadata[key] = redactedValue
		}
	}
}

func (l *logger) shouldRedact(field string) bool {
	lower := strings.ToLower(field)
	for _, pattern := range l.config.RedactFields {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

func (l *logger) writeEvent(event *Event) {
	var output []byte
	if l.config.GetEffectiveFormat() == FormatText {
		output = []byte(formatText(event))
	} else {
		var err error
		output, err = json.Marshal(event)
		if err != nil {
			l.logger.Error("failed to marshal audit event", observability.Error(err))
			return
		}
		output = append(output, '\n')
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.writer.Write(output); err != nil {
		l.logger.Error("failed to write audit event", observability.Error(err))
	}
}

func formatText(event *Event) string {
	var sb strings.Builder

	sb.WriteString(event.Timestamp.Format(time.RFC3339))
	sb.WriteString(" ")
	sb.WriteString(string(event.Type))
	sb.WriteString(" ")
	sb.WriteString(string(event.Action))
	sb.WriteString(" ")
	sb.WriteString(string(event.Outcome))

	if event.RequestID != "" {
		sb.WriteString(" request_id=")
		sb.WriteString(event.RequestID)
	}
	if event.Subject != nil {
		if event.Subject.ID != "" {
			sb.WriteString(" subject=")
			sb.WriteString(event.Subject.ID)
		}
		if event.Subject.IPAddress != "" {
			sb.WriteString(" ip=")
			sb.WriteString(event.Subject.IPAddress)
		}
	}
	if event.Resource != nil {
		sb.WriteString(" method=")
		sb.WriteString(event.Resource.Method)
		sb.WriteString(" uri=")
		sb.WriteString(event.Resource.URI)
	}
	if event.Response != nil && event.Response.StatusCode != 0 {
		fmt.Fprintf(&sb, " status=%d", event.Response.StatusCode)
	}
	if event.Duration > 0 {
		sb.WriteString(" duration=")
		sb.WriteString(event.Duration.String())
	}
	if event.Error != nil {
		sb.WriteString(" error=")
		sb.WriteString(event.Error.Message)
	}

	sb.WriteString("\n")
	return sb.String()
}

// Close closes the output file, if any.
func (l *logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// noopLogger is a no-op audit logger.
type noopLogger struct{}

// NewNoopLogger creates a new no-op audit logger.
func NewNoopLogger() Logger {
	return noopLogger{}
}

func (noopLogger) LogEvent(context.Context, *Event) {}

func (noopLogger) Close() error { return nil }

var (
	_ Logger = (*logger)(nil)
	_ Logger = noopLogger{}
)
