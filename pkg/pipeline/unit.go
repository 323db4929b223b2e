// Package pipeline defines the unit-of-work contract shared by handlers and
// middleware, and composes them into immutable request pipelines.
package pipeline

import "context"

// Unit is anything that turns a Request into a Response: a terminal handler
// or a middleware wrapping another Unit.
//
// Ready must not block. Invoke blocks until the Response is produced or ctx
// is done. Application failures are reported as a Response with a failure
// status; the error return is reserved for infrastructural failures.
type Unit interface {
	Ready() ReadyState
	Invoke(ctx context.Context, req *Request) (*Response, error)
}

// ReadyState is the result of a readiness check. The zero value is Ready.
type ReadyState struct {
	pending bool
	wake    <-chan struct{}
}

// Ready reports that a unit can accept an invocation now.
func Ready() ReadyState { return ReadyState{} }

// Pending reports that a unit cannot accept work yet. wake is closed (or
// receives) when it is worth checking again. A nil wake means the caller
// should poll.
func Pending(wake <-chan struct{}) ReadyState {
	return ReadyState{pending: true, wake: wake}
}

func (s ReadyState) IsReady() bool { return !s.pending }

func (s ReadyState) Wake() <-chan struct{} { return s.wake }

// HandlerFunc adapts a function into a terminal Unit that is always ready.
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

func (f HandlerFunc) Ready() ReadyState { return Ready() }

func (f HandlerFunc) Invoke(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware wraps next and returns the wrapping Unit.
type Middleware func(next Unit) Unit

// WrapFunc is the body of a wrapping unit built by Wrap.
type WrapFunc func(ctx context.Context, req *Request, next Unit) (*Response, error)

type wrapper struct {
	next Unit
	fn   WrapFunc
}

func (w *wrapper) Ready() ReadyState { return w.next.Ready() }

func (w *wrapper) Invoke(ctx context.Context, req *Request) (*Response, error) {
	return w.fn(ctx, req, w.next)
}

// Wrap builds a Unit that runs fn around next and delegates readiness to it.
func Wrap(next Unit, fn WrapFunc) Unit {
	return &wrapper{next: next, fn: fn}
}

// MiddlewareFunc turns fn into a Middleware whose units delegate readiness.
func MiddlewareFunc(fn WrapFunc) Middleware {
	return func(next Unit) Unit { return Wrap(next, fn) }
}
