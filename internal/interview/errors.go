package interview

import (
	"errors"
	"fmt"
)

// Kind classifies failures for callers; transports map kinds to status codes.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindStateConflict
	KindTransientDependency
	KindDependencyUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found_error"
	case KindStateConflict:
		return "state_conflict_error"
	case KindTransientDependency:
		return "transient_dependency_error"
	case KindDependencyUnavailable:
		return "dependency_unavailable_error"
	}
	return "internal_error"
}

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrProfileNotFound  = errors.New("profile not found")
	ErrSessionNotActive = errors.New("session is not active")
	ErrReadyToComplete  = errors.New("interview is ready to complete")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrQuestionPending  = errors.New("next question has not been generated; resume the session")
	ErrNothingToResume  = errors.New("no answer is waiting for a follow-up question")
)

// Error carries a Kind alongside the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op string, format string, args ...any) error {
	return newError(KindValidation, op, fmt.Errorf(format, args...))
}

func NotFound(op string, err error) error {
	return newError(KindNotFound, op, err)
}

func StateConflict(op string, err error) error {
	return newError(KindStateConflict, op, err)
}

func Transient(op string, err error) error {
	return newError(KindTransientDependency, op, err)
}

func Unavailable(op string, err error) error {
	return newError(KindDependencyUnavailable, op, err)
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
