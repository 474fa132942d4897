// Package errors carries the runtime's failure taxonomy: classified errors
// keyed by the stable error_kind set, transient detection, and bounded retry
// with exponential backoff.
package errors

import (
	"errors"
	"fmt"

	"agentos/internal/domain/run"
)

// Classified wraps an error with its stable kind so callers can route on it
// without string matching.
type Classified struct {
	Kind    run.ErrorKind
	Err     error
	Message string // operator-facing message; falls back to Err
}

func (e *Classified) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Classified) Unwrap() error { return e.Err }

// New returns a classified error with an operator-facing message.
func New(kind run.ErrorKind, message string) *Classified {
	return &Classified{Kind: kind, Message: message}
}

// Newf returns a classified error with a formatted message.
func Newf(kind run.ErrorKind, format string, args ...any) *Classified {
	return &Classified{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error. A nil err yields nil.
func Wrap(kind run.ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Classified{Kind: kind, Err: err}
}

// KindOf extracts the stable kind from an error chain. Unclassified errors
// report internal_error; transient-looking ones report service_unavailable
// so retry and fallback treat them uniformly.
func KindOf(err error) run.ErrorKind {
	if err == nil {
		return run.ErrNone
	}
	var classified *Classified
	if errors.As(err, &classified) {
		return classified.Kind
	}
	if IsTransient(err) {
		return run.ErrServiceUnavailable
	}
	return run.ErrInternal
}

// Exit codes for the operator CLI. Stable across releases.
const (
	ExitOK               = 0
	ExitUsage            = 2
	ExitGovernanceBlock  = 10
	ExitMissingInput     = 11
	ExitServiceFailure   = 12
	ExitApprovalRequired = 13
	ExitPolicyViolation  = 14
	ExitBackpressure     = 15
)

// ExitCode maps an error chain to the documented CLI exit code. Failures
// outside the documented set exit 1.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case run.ErrGovernanceBlock:
		return ExitGovernanceBlock
	case run.ErrMissingInput:
		return ExitMissingInput
	case run.ErrServiceUnavailable, run.ErrToolTimeout, run.ErrContractViolation:
		return ExitServiceFailure
	case run.ErrApprovalRequired:
		return ExitApprovalRequired
	case run.ErrPolicyViolation:
		return ExitPolicyViolation
	case run.ErrBackpressure:
		return ExitBackpressure
	default:
		return 1
	}
}
