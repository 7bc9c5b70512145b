package authrequest

import (
	"net/http"

	"github.com/vyrodovalexey/authgate/internal/pipeline"
)

// Kind is the outcome class of a gate evaluation.
type Kind int

// Decision kinds.
const (
	Proceed Kind = iota
	Deny
	Challenge
	Suspend
	InternalError
)

// String implements fmt.Stringer. The values double as metric labels.
func (k Kind) String() string {
	switch k {
	case Proceed:
		return "proceed"
	case Deny:
		return "deny"
	case Challenge:
		return "challenge"
	case Suspend:
		return "suspend"
	case InternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// Decision is the result of evaluating the gate for a request.
type Decision struct {
	Kind   Kind
	Status int

	// Challenge holds the WWW-Authenticate values copied onto the
	// response, if any.
	Challenge []string
}

func proceed() Decision { return Decision{Kind: Proceed} }
func suspend() Decision { return Decision{Kind: Suspend} }
func deny() Decision    { return Decision{Kind: Deny, Status: http.StatusForbidden} }

func internalError() Decision {
	return Decision{Kind: InternalError, Status: http.StatusInternalServerError}
}

func challenge(values []string) Decision {
	return Decision{Kind: Challenge, Status: http.StatusUnauthorized, Challenge: values}
}

// Code translates the decision into a pipeline phase code.
func (d Decision) Code() pipeline.Code {
	switch d.Kind {
	case Proceed:
		return pipeline.OK
	case Suspend:
		return pipeline.Again
	case Deny, Challenge:
		return pipeline.Status(d.Status)
	default:
		return pipeline.Error
	}
}
