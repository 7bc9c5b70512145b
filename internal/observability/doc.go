// Package observability provides logging, metrics, and tracing
// for authgate.
//
// # Logging
//
// The Logger interface wraps zap:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// # Metrics
//
// Metrics owns a dedicated Prometheus registry; other packages register
// their collectors on Registry() so that a single /metrics endpoint
// exposes everything.
//
// # Tracing
//
// NewTracer installs an OpenTelemetry provider exporting over OTLP/gRPC
// or to stdout. OpenTelemetry's own diagnostics go through zap via zapr.
package observability
