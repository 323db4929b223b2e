package middleware

import (
	"context"
	"sync"

	"pipeserve/pkg/pipeline"
)

type concurrencyLimit struct {
	next pipeline.Unit
	sem  chan struct{}

	mu   sync.Mutex
	wake chan struct{}
}

// ConcurrencyLimit caps the number of concurrent invocations of the inner
// units. While the cap is reached the unit reports Pending and wakes
// waiters as slots free up. A non-positive max disables the limit.
func ConcurrencyLimit(max int) pipeline.Middleware {
	return func(next pipeline.Unit) pipeline.Unit {
		if max <= 0 {
			return next
		}
		return &concurrencyLimit{
			next: next,
			sem:  make(chan struct{}, max),
			wake: make(chan struct{}),
		}
	}
}

func (c *concurrencyLimit) Ready() pipeline.ReadyState {
	c.mu.Lock()
	full := len(c.sem) >= cap(c.sem)
	wake := c.wake
	c.mu.Unlock()
	if full {
		return pipeline.Pending(wake)
	}
	return c.next.Ready()
}

func (c *concurrencyLimit) Invoke(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, pipeline.FromContext("concurrency_limit", ctx.Err())
	}
	defer c.release()
	return c.next.Invoke(ctx, req)
}

func (c *concurrencyLimit) release() {
	<-c.sem
	c.mu.Lock()
	close(c.wake)
	c.wake = make(chan struct{})
	c.mu.Unlock()
}
