// Package util provides small shared helpers for authgate.
//
// # Error Conventions
//
// Sentinel errors (errors.New) cover stable conditions that callers test
// with errors.Is. Structured error types such as ConfigError carry extra
// fields and implement Error, Unwrap and Is. Ad-hoc context is added with
// fmt.Errorf and %w.
//
// # Context Helpers
//
//	ctx = util.ContextWithStartTime(ctx, time.Now())
//	elapsed := util.ElapsedTime(ctx)
//
// # Validation
//
//	err := util.ValidateURL("http://auth.internal:8080")
//	err := util.ValidateHeaderName("WWW-Authenticate")
package util
