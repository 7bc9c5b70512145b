package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for health endpoints.
type Metrics struct {
	checksTotal *prometheus.CounterVec
	checkStatus *prometheus.GaugeVec
}

// NewMetrics creates health metrics on registerer.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "authgate"
	}
	factory := promauto.With(registerer)
	return &Metrics{
		checksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "checks_total",
				Help:      "Total number of health checks by type and result",
			},
			[]string{"type", "result"},
		),
		checkStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "check_status",
				Help: "Current readiness check " +
					"status (1=healthy, 0=unhealthy)",
			},
			[]string{"check"},
		),
	}
}

// Init pre-initializes the check counters so they appear in /metrics
// before the first request.
func (m *Metrics) Init() {
	if m == nil {
		return
	}
	for _, kind := range []string{"liveness", "readiness"} {
		for _, result := range []string{"success", "failure"} {
			m.checksTotal.WithLabelValues(kind, result)
		}
	}
}

func (m *Metrics) recordCheck(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.checksTotal.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) setCheckStatus(check string, healthy bool) {
	if m == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	m.checkStatus.WithLabelValues(check).Set(v)
}
