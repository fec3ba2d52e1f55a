// Package errs implements the error taxonomy from spec.md §7: every error
// that crosses a component boundary is one of these kinds so callers can
// branch on Kind() instead of string-matching.
package errs

import "fmt"

type Kind string

const (
	Validation          Kind = "VALIDATION"
	NotFound            Kind = "NOT_FOUND"
	Unauthorized        Kind = "UNAUTHORIZED"
	Forbidden           Kind = "FORBIDDEN"
	RateLimited         Kind = "RATE_LIMITED"
	TransientDependency Kind = "TRANSIENT_DEPENDENCY"
	PermanentDependency Kind = "PERMANENT_DEPENDENCY"
	Internal            Kind = "INTERNAL"
)

// Error is the concrete error type carried across every component in this
// module, mirroring the teacher's *BroadcastError shape
// (internal/service/broadcast/errors.go) generalized to the full taxonomy.
type Error struct {
	Kind    Kind
	Code    string // stable machine-readable code, e.g. "RATE_LIMIT_EXCEEDED"
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a job-level retry policy should reattempt the
// operation that produced this error.
func (e *Error) Retryable() bool {
	return e.Kind == TransientDependency
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func NewValidation(code, message string) *Error { return New(Validation, code, message) }
func NewNotFound(entity, id string) *Error {
	return New(NotFound, "NOT_FOUND", fmt.Sprintf("%s not found: %s", entity, id))
}

// KindOf returns err's Kind when err is itself an *Error, and "" for any
// other error; a wrapped *Error is not unwrapped.
func KindOf(err error) Kind {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
		return e.Kind
	}
	return ""
}
