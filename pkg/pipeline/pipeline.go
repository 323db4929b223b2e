package pipeline

import (
	"context"
	"time"
)

// pollInterval is used when a pending unit offers no wake channel.
const pollInterval = time.Millisecond

// Pipeline is an immutable chain of middleware around a terminal handler.
// The most recently added middleware is the outermost. A Pipeline is itself
// a Unit, so pipelines nest.
type Pipeline struct {
	root  Unit
	depth int
}

// Compose folds mws around handler so that the result is
// mws[n-1](...mws[0](handler)). Nil middleware entries are skipped.
func Compose(handler Unit, mws ...Middleware) *Pipeline {
	if handler == nil {
		panic("pipeline: nil handler")
	}
	p := &Pipeline{root: handler}
	return p.with(mws)
}

// With returns a new Pipeline whose additional middleware wrap p's outermost
// layer. p is unchanged.
func (p *Pipeline) With(mws ...Middleware) *Pipeline {
	return p.with(mws)
}

func (p *Pipeline) with(mws []Middleware) *Pipeline {
	root, depth := p.root, p.depth
	for _, mw := range mws {
		if mw == nil {
			continue
		}
		next := mw(root)
		if next == nil {
			panic("pipeline: middleware returned nil unit")
		}
		root = next
		depth++
	}
	return &Pipeline{root: root, depth: depth}
}

// Depth is the number of middleware layers.
func (p *Pipeline) Depth() int { return p.depth }

func (p *Pipeline) Ready() ReadyState { return p.root.Ready() }

func (p *Pipeline) Invoke(ctx context.Context, req *Request) (*Response, error) {
	return p.root.Invoke(ctx, req)
}

// Serve waits until the outermost unit is ready, then invokes it.
func (p *Pipeline) Serve(ctx context.Context, req *Request) (*Response, error) {
	if err := WaitReady(ctx, p.root); err != nil {
		return nil, err
	}
	return p.root.Invoke(ctx, req)
}

// WaitReady blocks until u reports Ready or ctx is done.
func WaitReady(ctx context.Context, u Unit) error {
	for {
		st := u.Ready()
		if st.IsReady() {
			return nil
		}
		wake := st.Wake()
		if wake == nil {
			t := time.NewTimer(pollInterval)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return FromContext("wait_ready", ctx.Err())
			}
			continue
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return FromContext("wait_ready", ctx.Err())
		}
	}
}
