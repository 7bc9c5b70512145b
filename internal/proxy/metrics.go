package proxy

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for upstream exchanges.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	errorsTotal      *prometheus.CounterVec
}

// NewMetrics creates proxy metrics on registerer. A nil registerer means
// prometheus.DefaultRegisterer.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "authgate"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registerer)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "upstream_requests_total",
				Help:      "Total number of upstream requests by response status",
			},
			[]string{"upstream", "status"},
		),
		upstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "upstream_duration_seconds",
				Help:      "Duration of upstream requests",
				Buckets: []float64{
					.001, .005, .01, .025,
					.05, .1, .25, .5,
					1, 2.5, 5, 10,
				},
			},
			[]string{"upstream"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "errors_total",
				Help:      "Total number of failed upstream exchanges",
			},
			[]string{"upstream", "error_type"},
		),
	}
}

func (m *Metrics) recordResponse(upstream string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(upstream, strconv.Itoa(status)).Inc()
	m.upstreamDuration.WithLabelValues(upstream).Observe(duration.Seconds())
}

func (m *Metrics) recordError(upstream, errorType string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(upstream, errorType).Inc()
}
