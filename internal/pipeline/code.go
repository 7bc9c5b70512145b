package pipeline

import (
	"net/http"
	"strconv"
)

// Code is the result of a phase handler. Non-negative values at or above
// 100 are HTTP status codes that finalize the request.
type Code int

// Control codes.
const (
	OK       Code = 0
	Error    Code = -1
	Again    Code = -2
	Declined Code = -5
)

// StatusClientClosed is logged when the client goes away before the
// request was finalized.
const StatusClientClosed = 499

// Status returns the Code for an HTTP status.
func Status(status int) Code {
	return Code(status)
}

// IsStatus reports whether c carries an HTTP status.
func (c Code) IsStatus() bool {
	return c >= 100
}

// String implements fmt.Stringer.
func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case Error:
		return "ERROR"
	case Again:
		return "AGAIN"
	case Declined:
		return "DECLINED"
	}
	if c.IsStatus() {
		if text := http.StatusText(int(c)); text != "" {
			return strconv.Itoa(int(c)) + " " + text
		}
	}
	return "Code(" + strconv.Itoa(int(c)) + ")"
}
