// Package router matches request paths against location patterns.
//
// A Table holds exact, prefix and regex patterns. Lookup precedence is
// exact match first, then the longest matching prefix, then the first
// matching regex in insertion order:
//
//	t := router.NewTable[*Location]()
//	_ = t.Add("/", router.MatchPrefix, root)
//	_ = t.Add("/auth", router.MatchExact, auth)
//	loc, ok := t.Match("/auth")
package router
