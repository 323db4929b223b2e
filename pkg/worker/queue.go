package worker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
)

// Queue errors
var (
	ErrQueueFull   = errors.New("worker queue full")
	ErrQueueClosed = errors.New("worker queue closed")
)

// Job is one unit of background work.
type Job struct {
	Kind      string    `json:"kind"`
	Key       string    `json:"key,omitempty"`
	Principal string    `json:"principal,omitempty"`
	Payload   []byte    `json:"payload,omitempty"`
	At        time.Time `json:"at"`
	EnqSeq    uint64    `json:"enq_seq"`
}

// Queue is a FIFO of jobs backed by a ring buffer. Enqueue never blocks.
type Queue struct {
	mu       sync.Mutex
	buf      *queue.Queue
	capacity int
	closed   bool

	// notify holds at most one pending wake-up for consumers.
	notify chan struct{}

	seq      atomic.Uint64
	enqueued atomic.Uint64
	dropped  atomic.Uint64
}

// NewQueue creates a queue holding at most capacity jobs. A capacity of
// zero means unbounded.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		buf:      queue.New(),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Enqueue appends j. It fails with ErrQueueClosed after Close and with
// ErrQueueFull when the queue is at capacity.
func (q *Queue) Enqueue(j Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if q.capacity > 0 && q.buf.Length() >= q.capacity {
		q.mu.Unlock()
		q.dropped.Add(1)
		return ErrQueueFull
	}
	if j.At.IsZero() {
		j.At = time.Now().UTC()
	}
	j.EnqSeq = q.seq.Add(1)
	q.buf.Add(j)
	q.mu.Unlock()

	q.enqueued.Add(1)
	q.wake()
	return nil
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue removes the oldest job without blocking.
func (q *Queue) Dequeue() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.buf.Length() == 0 {
		return Job{}, false
	}
	return q.buf.Remove().(Job), true
}

// Wait returns a channel that receives when jobs may be available.
func (q *Queue) Wait() <-chan struct{} { return q.notify }

// Close stops accepting new jobs. Buffered jobs stay available to Dequeue.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.Length()
}

func (q *Queue) Cap() int { return q.capacity }

func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

func (q *Queue) EnqueuedTotal() uint64 { return q.enqueued.Load() }
