// Package proxy provides the content handlers of authgate locations.
//
// Upstream forwards a request, or a check subrequest, to an HTTP upstream
// and relays the response. The upstream's response headers are recorded
// verbatim on the pipeline request before hidden and hop-by-hop headers
// are filtered out of what is relayed. Each upstream has its own
// transport, timeout and circuit breaker.
//
// Direct answers with a fixed status, headers and body.
//
//	up, err := proxy.NewUpstream(proxy.UpstreamConfig{
//	    Name:        "auth",
//	    URL:         "http://auth.internal:9000",
//	    Timeout:     2 * time.Second,
//	    HideHeaders: []string{"WWW-Authenticate"},
//	}, proxy.WithLogger(logger))
package proxy
