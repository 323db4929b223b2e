// Package shutdown coordinates graceful termination: it gates admission of
// new invocations, drains the ones in flight within a deadline, then
// broadcasts a stop signal to background workers and waits for them.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pipeserve/pkg/logger"
	"pipeserve/pkg/pipeline"
)

// State is the coordinator lifecycle. It only moves forward.
type State int32

const (
	Accepting State = iota
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Accepting:
		return "accepting"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	// ErrUnavailable is returned to invocations refused while draining.
	ErrUnavailable = pipeline.ErrUnavailable
	// ErrShuttingDown is returned to invocations still pending when the
	// drain deadline passes.
	ErrShuttingDown = pipeline.ErrShuttingDown

	ErrDrainTimeout      = errors.New("drain deadline exceeded")
	ErrAlreadySubscribed = errors.New("termination source already subscribed")
)

// WorkerTimeoutError names workers that did not exit within the bound.
type WorkerTimeoutError struct {
	Names []string
}

func (e *WorkerTimeoutError) Error() string {
	return fmt.Sprintf("workers did not stop in time: %s", strings.Join(e.Names, ", "))
}

const (
	defaultDrainTimeout  = 30 * time.Second
	defaultWorkerTimeout = 10 * time.Second
)

type Options struct {
	// DrainTimeout bounds how long Shutdown waits for in-flight invocations.
	DrainTimeout time.Duration
	// WorkerTimeout bounds how long Shutdown waits for workers to exit.
	WorkerTimeout time.Duration
}

// Report summarises a completed shutdown.
type Report struct {
	Drained bool
	Forced  int64
	Refused int64
	Stalled []string
	Elapsed time.Duration
}

type workerEntry struct {
	name string
	done chan struct{}
}

type Coordinator struct {
	opts Options

	state    atomic.Int32
	inflight atomic.Int64
	refused  atomic.Int64
	forcedN  atomic.Int64

	idle       chan struct{}
	idleOnce   sync.Once
	forced     chan struct{}
	forcedOnce sync.Once
	signal     *Signal

	mu      sync.Mutex
	workers []*workerEntry

	subscribed atomic.Bool

	shutdownOnce sync.Once
	done         chan struct{}
	result       error
	report       Report
}

func New(opts Options) *Coordinator {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if opts.WorkerTimeout <= 0 {
		opts.WorkerTimeout = defaultWorkerTimeout
	}
	return &Coordinator{
		opts:   opts,
		idle:   make(chan struct{}),
		forced: make(chan struct{}),
		signal: NewSignal(),
		done:   make(chan struct{}),
	}
}

func (c *Coordinator) State() State { return State(c.state.Load()) }

func (c *Coordinator) InFlight() int64 { return c.inflight.Load() }

// Signal is the broadcast fired when the coordinator reaches Stopped.
func (c *Coordinator) Signal() *Signal { return c.signal }

// Done is closed when Shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Report is valid once Done is closed.
func (c *Coordinator) Report() Report {
	<-c.done
	return c.report
}

// Admit registers an invocation. Once draining has begun it fails with
// ErrUnavailable. The returned release must be called exactly once when the
// invocation completes; extra calls are ignored.
func (c *Coordinator) Admit() (func(), error) {
	c.inflight.Add(1)
	if c.State() != Accepting {
		c.release()
		c.refused.Add(1)
		return nil, ErrUnavailable
	}
	var once sync.Once
	return func() { once.Do(c.release) }, nil
}

func (c *Coordinator) release() {
	if c.inflight.Add(-1) == 0 && c.State() != Accepting {
		c.idleOnce.Do(func() { close(c.idle) })
	}
}

func (c *Coordinator) force() {
	c.forcedOnce.Do(func() { close(c.forced) })
}

// Guard admits an invocation and runs fn. If the drain deadline passes
// before fn returns, the caller gets ErrShuttingDown and fn's context is
// cancelled. A panic in fn is returned as a KindPanic error.
func Guard[T any](c *Coordinator, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	release, err := c.Admit()
	if err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	ictx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch := make(chan result, 1)
	go func() {
		var r result
		defer func() {
			if p := recover(); p != nil {
				r = result{err: pipeline.E(pipeline.KindPanic, "guard", fmt.Errorf("%v", p))}
			}
			release()
			ch <- r
		}()
		r.v, r.err = fn(ictx)
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-c.forced:
		select {
		case r := <-ch:
			return r.v, r.err
		default:
		}
		return zero, pipeline.E(pipeline.KindShuttingDown, "guard", nil)
	}
}

// Spawn starts a background worker that must return once stop is closed.
// Shutdown waits for it, bounded by WorkerTimeout.
func (c *Coordinator) Spawn(name string, fn func(stop <-chan struct{})) {
	e := &workerEntry{name: name, done: make(chan struct{})}
	c.mu.Lock()
	c.workers = append(c.workers, e)
	c.mu.Unlock()

	go func() {
		defer close(e.done)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("worker_panic", "worker", name, "panic", fmt.Sprint(r))
			}
		}()
		fn(c.signal.Done())
	}()
}

// Subscribe attaches the termination source. When term fires Shutdown runs
// under budget, measured from the moment term fires; zero means no outer
// deadline beyond the drain and worker timeouts. Only one source may be
// attached.
func (c *Coordinator) Subscribe(term <-chan struct{}, budget time.Duration) error {
	if !c.subscribed.CompareAndSwap(false, true) {
		return ErrAlreadySubscribed
	}
	go func() {
		select {
		case <-term:
			ctx := context.Background()
			if budget > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, budget)
				defer cancel()
			}
			_ = c.Shutdown(ctx)
		case <-c.done:
		}
	}()
	return nil
}

// Shutdown drains and stops. It runs once; concurrent and later callers
// wait for the first run and get its result. The result joins
// ErrDrainTimeout and a *WorkerTimeoutError when those bounds were hit.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.result = c.shutdown(ctx)
		close(c.done)
	})
	<-c.done
	return c.result
}

func (c *Coordinator) shutdown(ctx context.Context) error {
	start := time.Now()
	c.state.Store(int32(Draining))
	if c.inflight.Load() == 0 {
		c.idleOnce.Do(func() { close(c.idle) })
	}
	logger.Info("shutdown_draining", "in_flight", c.inflight.Load(), "drain_timeout", c.opts.DrainTimeout)

	var errs []error
	drained := false
	timer := time.NewTimer(c.opts.DrainTimeout)
	select {
	case <-c.idle:
		drained = true
	case <-timer.C:
		logger.Warn("shutdown_drain_timeout", "in_flight", c.inflight.Load())
		errs = append(errs, ErrDrainTimeout)
	case <-ctx.Done():
		logger.Warn("shutdown_drain_cancelled", "in_flight", c.inflight.Load(), "error", ctx.Err())
		errs = append(errs, ErrDrainTimeout, ctx.Err())
	}
	timer.Stop()
	if !drained {
		c.forcedN.Store(c.inflight.Load())
		c.force()
	}

	c.state.Store(int32(Stopped))
	c.signal.Fire()
	logger.Info("shutdown_workers_signalled")

	stalled := c.waitWorkers(ctx)
	if len(stalled) > 0 {
		logger.Error("shutdown_workers_stalled", "workers", strings.Join(stalled, ","))
		errs = append(errs, &WorkerTimeoutError{Names: stalled})
	}

	c.report = Report{
		Drained: drained,
		Forced:  c.forcedN.Load(),
		Refused: c.refused.Load(),
		Stalled: stalled,
		Elapsed: time.Since(start),
	}
	logger.Info("shutdown_complete", "drained", drained, "forced", c.report.Forced, "refused", c.report.Refused, "elapsed", c.report.Elapsed)
	return errors.Join(errs...)
}

func (c *Coordinator) waitWorkers(ctx context.Context) []string {
	c.mu.Lock()
	workers := append([]*workerEntry(nil), c.workers...)
	c.mu.Unlock()

	timer := time.NewTimer(c.opts.WorkerTimeout)
	defer timer.Stop()
	for _, w := range workers {
		select {
		case <-w.done:
			continue
		case <-timer.C:
		case <-ctx.Done():
		}
		break
	}

	var stalled []string
	for _, w := range workers {
		select {
		case <-w.done:
		default:
			stalled = append(stalled, w.name)
		}
	}
	return stalled
}
