// Package audit records authorization decisions and configuration reloads
// as structured audit events.
//
// Every request the gate resolves produces one authorization event
// carrying the outcome, the subject that asked and the resource it asked
// for. Events are written one per line to stdout, stderr or a file, as
// JSON or text:
//
//	logger, err := audit.NewLogger(&audit.Config{
//	    Enabled: true,
//	    Output:  "stdout",
//	    Headers: []string{"Authorization", "X-Forwarded-For"},
//	})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.LogEvent(ctx, audit.AuthorizationEvent(audit.OutcomeDenied, subject, resource))
//
// Recorded header values whose names match a redaction pattern are
// replaced before the event is written.
package audit
