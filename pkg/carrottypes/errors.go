package carrottypes

import "fmt"

// ErrorKind classifies why an operation failed (spec §7). Every kind maps
// to a specific handling policy in the orchestrator: ValidationError never
// touches run state, ExternalTransient increments a retry counter,
// ExternalPermanent and BuildFailed drive terminal transitions, CarrotInternal
// is an orchestrator-side invariant violation, and Aborted records a
// user-requested or reconciled abort.
type ErrorKind string

const (
	ErrValidation       ErrorKind = "ValidationError"
	ErrExternalTransient ErrorKind = "ExternalTransient"
	ErrExternalPermanent ErrorKind = "ExternalPermanent"
	ErrBuildFailed      ErrorKind = "BuildFailed"
	ErrCarrotInternal   ErrorKind = "CarrotInternal"
	ErrAborted          ErrorKind = "Aborted"
)

// Error is the error type produced and consumed across the orchestration
// subsystem. It carries a Kind so callers can branch on handling policy
// without string matching, and wraps an underlying cause for errors.As/Is.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError constructs an Error of the given kind.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// IsRetryable reports whether this error kind should be retried against the
// per-row retry budget (spec §4.2, §7) rather than immediately transitioning
// to a terminal state.
func (e *Error) IsRetryable() bool {
	return e.Kind == ErrExternalTransient
}
