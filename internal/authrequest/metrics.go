package authrequest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/authgate/internal/observability"
)

// Reasons attached to decisions in metrics.
const (
	reasonAllowed          = "allowed"
	reasonForbidden        = "forbidden"
	reasonUnauthorized     = "unauthorized"
	reasonUnexpectedStatus = "unexpected_status"
	reasonDispatchError    = "dispatch_error"
	reasonSubrequestError  = "subrequest_error"
)

// Metrics contains auth request metrics.
type Metrics struct {
	registerer prometheus.Registerer

	// checksTotal counts check subrequests issued.
	checksTotal prometheus.Counter

	// checkDuration measures time from issuing a check to its completion.
	checkDuration *prometheus.HistogramVec

	// decisionsTotal counts resolved decisions by kind and reason.
	decisionsTotal *prometheus.CounterVec
}

// NewMetrics creates auth request metrics registered with
// prometheus.DefaultRegisterer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates auth request metrics registered with
// registerer, so they share the process's /metrics endpoint.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "authgate"
	}

	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		registerer: registerer,
	}

	m.checksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth_request",
			Name:      "checks_total",
			Help:      "Total number of authorization check subrequests issued",
		},
	)

	m.checkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth_request",
			Name:      "check_duration_seconds",
			Help:      "Time from issuing an authorization check to its completion",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"status_class"},
	)

	m.decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth_request",
			Name:      "decisions_total",
			Help:      "Total number of authorization decisions by outcome",
		},
		[]string{"decision", "reason"},
	)

	// A second construction against the same registerer records into the
	// collectors registered first.
	m.checksTotal = observability.RegisterCollector(registerer, m.checksTotal)
	m.checkDuration = observability.RegisterCollector(registerer, m.checkDuration)
	m.decisionsTotal = observability.RegisterCollector(registerer, m.decisionsTotal)

	return m
}

// Init pre-initializes label combinations so the series show up in
// /metrics before the first request.
func (m *Metrics) Init() {
	if m == nil || m.decisionsTotal == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(Proceed.String(), reasonAllowed)
	m.decisionsTotal.WithLabelValues(Deny.String(), reasonForbidden)
	m.decisionsTotal.WithLabelValues(Challenge.String(), reasonUnauthorized)
	m.decisionsTotal.WithLabelValues(InternalError.String(), reasonUnexpectedStatus)
	m.decisionsTotal.WithLabelValues(InternalError.String(), reasonDispatchError)
	m.decisionsTotal.WithLabelValues(InternalError.String(), reasonSubrequestError)
	for _, class := range []string{"2xx", "3xx", "4xx", "5xx"} {
		m.checkDuration.WithLabelValues(class)
	}
}

// RecordCheckIssued records a check subrequest being issued.
func (m *Metrics) RecordCheckIssued() {
	if m == nil || m.checksTotal == nil {
		return
	}
	m.checksTotal.Inc()
}

// RecordCheckDone records the latency of a finished check.
func (m *Metrics) RecordCheckDone(status int, duration time.Duration) {
	if m == nil || m.checkDuration == nil {
		return
	}
	m.checkDuration.WithLabelValues(statusClass(status)).Observe(duration.Seconds())
}

// RecordDecision records a resolved decision.
func (m *Metrics) RecordDecision(kind Kind, reason string) {
	if m == nil || m.decisionsTotal == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(kind.String(), reason).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
