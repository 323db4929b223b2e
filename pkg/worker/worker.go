// Package worker runs background consumers that drain a job queue and stop
// in two phases: stop taking new input, then finish what is buffered.
package worker

import (
	"fmt"
	"sync"
	"sync/atomic"

	"pipeserve/pkg/logger"
)

// Handler processes one job.
type Handler func(Job) error

// Worker consumes jobs from a Queue until stopped.
type Worker struct {
	name   string
	q      *Queue
	handle Handler

	once sync.Once
	done chan struct{}

	processed atomic.Uint64
	failed    atomic.Uint64
}

func New(name string, q *Queue, h Handler) *Worker {
	if q == nil || h == nil {
		panic("worker.New: queue and handler are required")
	}
	return &Worker{name: name, q: q, handle: h, done: make(chan struct{})}
}

func (w *Worker) Name() string { return w.name }

// Done is closed once Run has returned.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) Processed() uint64 { return w.processed.Load() }

func (w *Worker) Failed() uint64 { return w.failed.Load() }

// Run processes jobs until stop fires, then closes the queue, processes
// every buffered job and returns. Only the first call runs the loop; later
// calls return immediately.
func (w *Worker) Run(stop <-chan struct{}) {
	ran := false
	w.once.Do(func() {
		ran = true
		defer close(w.done)
		w.loop(stop)
	})
	if !ran {
		logger.Warn("worker_run_ignored", "worker", w.name)
	}
}

func (w *Worker) loop(stop <-chan struct{}) {
	logger.Debug("worker_started", "worker", w.name)
	for {
		select {
		case <-stop:
			w.drain()
			return
		default:
		}
		if j, ok := w.q.Dequeue(); ok {
			w.process(j)
			continue
		}
		select {
		case <-w.q.Wait():
		case <-stop:
			w.drain()
			return
		}
	}
}

func (w *Worker) drain() {
	w.q.Close()
	n := 0
	for {
		j, ok := w.q.Dequeue()
		if !ok {
			break
		}
		w.process(j)
		n++
	}
	logger.Info("worker_stopped", "worker", w.name, "drained", n, "processed", w.processed.Load(), "failed", w.failed.Load())
}

func (w *Worker) process(j Job) {
	defer func() {
		if r := recover(); r != nil {
			w.failed.Add(1)
			logger.Error("worker_job_panic", "worker", w.name, "kind", j.Kind, "seq", j.EnqSeq, "panic", fmt.Sprint(r))
		}
	}()
	if err := w.handle(j); err != nil {
		w.failed.Add(1)
		logger.Warn("worker_job_failed", "worker", w.name, "kind", j.Kind, "seq", j.EnqSeq, "error", err)
		return
	}
	w.processed.Add(1)
}
