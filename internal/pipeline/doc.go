// Package pipeline is the request-processing host that phase modules plug
// into.
//
// Every inbound request is matched to a Location of its Server and then
// runs through the access phase followed by the location's content
// handler. Access handlers return a Code: OK or Declined let the request
// continue, Again parks it until an event (typically a finished
// subrequest) arrives, Error or an HTTP status ends it.
//
// Subrequests are internal GET requests routed through the same server.
// They run on their own goroutine and post their completion back to the
// parent, so all per-request module state is only ever touched by the
// goroutine that serves the parent request.
package pipeline
