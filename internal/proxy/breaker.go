package proxy

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/authgate/internal/observability"
)

var tracer = otel.Tracer("authgate/proxy")

// BreakerConfig configures the circuit breaker of an upstream.
type BreakerConfig struct {
	Enabled bool
	// Threshold is the number of requests in an interval after which a
	// failure ratio of 50% or more opens the circuit.
	Threshold int
	// Timeout is both the counting interval and the open-state duration.
	Timeout time.Duration
}

// StateFunc is called when a circuit breaker changes state.
// state is 0 for closed, 1 for half-open and 2 for open.
type StateFunc func(name string, state int)

// breaker wraps gobreaker.CircuitBreaker.
type breaker struct {
	cb *gobreaker.CircuitBreaker
}

func newBreaker(name string, cfg BreakerConfig, logger observability.Logger, onState StateFunc) *breaker {
	threshold := safeIntToUint32(cfg.Threshold)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: threshold,
		Interval:    cfg.Timeout,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)

			_, span := tracer.Start(context.Background(),
				"circuitbreaker.state_change",
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			span.AddEvent("state_change", trace.WithAttributes(
				attribute.String("circuitbreaker.name", name),
				attribute.String("circuitbreaker.from", from.String()),
				attribute.String("circuitbreaker.to", to.String()),
			))
			span.End()

			if onState != nil {
				onState(name, int(to))
			}
		},
	}

	return &breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// safeIntToUint32 safely converts int to uint32.
func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}

func (b *breaker) execute(fn func() (interface{}, error)) (interface{}, error) {
	return b.cb.Execute(fn)
}

func (b *breaker) state() gobreaker.State {
	return b.cb.State()
}
