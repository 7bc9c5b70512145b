// Package middleware provides the net/http middleware wrapped around the
// pipeline engine of every server.
//
// # Middleware Components
//
//   - Recovery: panic recovery with stack trace logging
//   - RequestID: request identifier injection
//   - Logging: one access log line per request
//   - RateLimit: token bucket rate limiter, global or per client
//
// # Usage
//
// Middleware functions follow the standard Go pattern:
//
//	handler := middleware.Recovery(logger)(
//	    middleware.RequestID()(
//	        middleware.Logging(logger)(engine.Handler("main")),
//	    ),
//	)
package middleware
