// Package health provides the liveness and readiness endpoints served next
// to /metrics.
//
// Liveness answers as long as the process can serve HTTP. Readiness runs
// the registered checks, each bounded by a timeout, and reports 503 while
// any of them is unhealthy or while the checker is draining.
package health
