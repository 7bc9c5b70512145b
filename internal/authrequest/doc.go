// Package authrequest implements delegated authorization through an
// internal check subrequest.
//
// When a location has an authRequest URI configured, the gate suspends
// each inbound request, issues a header-only GET subrequest to that URI
// carrying the original request headers, and lets the check's response
// status decide the outcome:
//
//   - 2xx lets the request proceed to its content handler.
//   - 401 challenges the client. WWW-Authenticate is copied from the
//     check's response, or from its upstream response when the check
//     location hid it.
//   - 403 denies the request.
//   - Any other status, or a check that could not be dispatched, is an
//     internal error. The gate never falls back to allowing a request.
//
// # Configuration
//
// The directive takes a URI or "off" and is merged from global to server
// to location scope:
//
//	authRequest: /auth
//	servers:
//	  - name: main
//	    locations:
//	      - path: /public
//	        authRequest: off
//
// # Usage
//
//	gate := authrequest.NewGate(engine,
//	    authrequest.WithLogger(logger),
//	    authrequest.WithMetrics(authrequest.NewMetricsWithRegisterer("authgate", reg)),
//	)
//	gate.Register(engine)
package authrequest
