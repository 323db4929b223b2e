package pipeline

import (
	"context"
	"errors"
	"net/http"
)

// Kind classifies infrastructural errors. The set is closed.
type Kind uint8

const (
	KindInternal Kind = iota + 1
	KindPanic
	KindCanceled
	KindTimeout
	KindUnavailable
	KindShuttingDown
	KindPoisoned
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal error"
	case KindPanic:
		return "panic"
	case KindCanceled:
		return "canceled"
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	case KindShuttingDown:
		return "shutting down"
	case KindPoisoned:
		return "session poisoned"
	default:
		return "unknown"
	}
}

// StatusClientClosedRequest is reported when the caller went away.
const StatusClientClosedRequest = 499

// Status is the HTTP status used when an error of kind k reaches the edge.
func (k Kind) Status() int {
	switch k {
	case KindCanceled:
		return StatusClientClosedRequest
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUnavailable, KindShuttingDown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is an infrastructural failure raised out of a Unit.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
	case e.Op != "":
		return e.Op + ": " + e.Kind.String()
	case e.Err != nil:
		return e.Kind.String() + ": " + e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the bare sentinels below by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// E builds an *Error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

var (
	ErrInternal     = &Error{Kind: KindInternal}
	ErrUnavailable  = &Error{Kind: KindUnavailable}
	ErrShuttingDown = &Error{Kind: KindShuttingDown}
	ErrPoisoned     = &Error{Kind: KindPoisoned}
)

// FromContext wraps a context error with the matching kind.
func FromContext(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return E(KindTimeout, op, err)
	}
	return E(KindCanceled, op, err)
}

// KindOf maps any error into the closed set of kinds. Context errors map to
// KindCanceled or KindTimeout; anything unrecognised is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindInternal
}
