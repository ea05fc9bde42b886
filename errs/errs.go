// Package errs defines the engine's error taxonomy.
//
// Every user-visible failure is a typed *Error carrying one of the Kind
// values below, never a bare string. Callers distinguish kinds with
// errors.Is against the Err* sentinels, or errors.As against *Error to
// read the Kind and Path.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure the way a caller needs to react to it.
type Kind int

const (
	// InvalidInput: a user-supplied argument violates a precondition.
	InvalidInput Kind = iota
	// IntegrityError: binary input failed structural validation.
	IntegrityError
	// MissingDep: a change references a hash not yet known.
	MissingDep
	// MismatchHeads: recorded heads disagree with heads re-derived from changes.
	MismatchHeads
	// StateError: an operation was attempted outside its legal scope.
	StateError
	// RangeError: a numeric value fell outside its representable range.
	RangeError
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case IntegrityError:
		return "IntegrityError"
	case MissingDep:
		return "MissingDep"
	case MismatchHeads:
		return "MismatchHeads"
	case StateError:
		return "StateError"
	case RangeError:
		return "RangeError"
	default:
		return "UnknownError"
	}
}

// Error is the concrete error type returned across the public surface.
type Error struct {
	Kind Kind
	// Path is the property path for InvalidInput errors raised during
	// assignment, e.g. "/map/a at index 1 in the input".
	Path string
	Msg  string
	err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s at %s", e.Kind, e.Msg, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As chaining.
func (e *Error) Unwrap() error { return e.err }

// Is reports whether target is an *Error of the same Kind, so that
// errors.Is(err, errs.New(errs.MissingDep, "")) style sentinel checks work.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// New builds a fresh *Error of the given kind.
func New(kind Kind, msg string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(msg, args...)}
}

// WithPath attaches a property path (for InvalidInput on assignment).
func (e *Error) WithPath(path string) *Error {
	e2 := *e
	e2.Path = path
	return &e2
}

// Wrap stamps an externally-produced error (decode failure, I/O error)
// with a Kind and stack context via github.com/pkg/errors.
func Wrap(kind Kind, cause error, msg string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(msg, args...), err: errors.WithStack(cause)}
}

// Sentinels usable with errors.Is(err, errs.ErrMissingDep), etc. Their
// Msg is irrelevant for comparison — Is only compares Kind.
var (
	ErrInvalidInput   = &Error{Kind: InvalidInput}
	ErrIntegrityError = &Error{Kind: IntegrityError}
	ErrMissingDep     = &Error{Kind: MissingDep}
	ErrMismatchHeads  = &Error{Kind: MismatchHeads}
	ErrStateError     = &Error{Kind: StateError}
	ErrRangeError     = &Error{Kind: RangeError}
)
