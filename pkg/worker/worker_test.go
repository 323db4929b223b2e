package worker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueueFullAndClosed(t *testing.T) {
	q := NewQueue(2)
	if err := q.Enqueue(Job{Kind: "a"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(Job{Kind: "b"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(Job{Kind: "c"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if q.Dropped() != 1 {
		t.Fatalf("dropped = %d", q.Dropped())
	}
	q.Close()
	if err := q.Enqueue(Job{Kind: "d"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	// buffered jobs survive close, in order
	j, ok := q.Dequeue()
	if !ok || j.Kind != "a" || j.EnqSeq != 1 {
		t.Fatalf("unexpected first job %+v %v", j, ok)
	}
	j, ok = q.Dequeue()
	if !ok || j.Kind != "b" {
		t.Fatalf("unexpected second job %+v %v", j, ok)
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatalf("queue should be empty")
	}
}

func TestUnboundedQueue(t *testing.T) {
	q := NewQueue(0)
	for i := 0; i < 5000; i++ {
		if err := q.Enqueue(Job{}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if q.Len() != 5000 {
		t.Fatalf("len = %d", q.Len())
	}
}

func TestWorkerProcessesUntilStopped(t *testing.T) {
	q := NewQueue(0)
	var got atomic.Int64
	w := New("test", q, func(Job) error {
		got.Add(1)
		return nil
	})
	stop := make(chan struct{})
	go w.Run(stop)

	for i := 0; i < 10; i++ {
		if err := q.Enqueue(Job{Kind: "x"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	deadline := time.After(2 * time.Second)
	for got.Load() < 10 {
		select {
		case <-deadline:
			t.Fatalf("processed %d of 10", got.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(stop)
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatalf("worker did not exit")
	}
	if !q.Closed() {
		t.Fatalf("queue should be closed after stop")
	}
}

func TestWorkerDrainsBufferedOnStop(t *testing.T) {
	q := NewQueue(0)
	for i := 0; i < 100; i++ {
		_ = q.Enqueue(Job{Kind: "buffered"})
	}
	var seen []uint64
	w := New("drain", q, func(j Job) error {
		seen = append(seen, j.EnqSeq)
		return nil
	})
	stop := make(chan struct{})
	close(stop)
	w.Run(stop)

	if len(seen) != 100 {
		t.Fatalf("drained %d of 100", len(seen))
	}
	for i, s := range seen {
		if s != uint64(i+1) {
			t.Fatalf("out of order at %d: %d", i, s)
		}
	}
	if err := q.Enqueue(Job{}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected closed queue after drain, got %v", err)
	}
}

func TestWorkerRunsOnce(t *testing.T) {
	q := NewQueue(0)
	var starts atomic.Int64
	w := New("once", q, func(Job) error {
		starts.Add(1)
		return nil
	})
	_ = q.Enqueue(Job{})
	stop := make(chan struct{})
	close(stop)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(stop)
		}()
	}
	wg.Wait()
	<-w.Done()
	if starts.Load() != 1 {
		t.Fatalf("job processed %d times", starts.Load())
	}
	if w.Processed() != 1 {
		t.Fatalf("processed = %d", w.Processed())
	}
}

func TestWorkerSurvivesFailures(t *testing.T) {
	q := NewQueue(0)
	w := New("fail", q, func(j Job) error {
		switch j.Kind {
		case "panic":
			panic("boom")
		case "err":
			return errors.New("nope")
		}
		return nil
	})
	_ = q.Enqueue(Job{Kind: "panic"})
	_ = q.Enqueue(Job{Kind: "err"})
	_ = q.Enqueue(Job{Kind: "ok"})
	stop := make(chan struct{})
	close(stop)
	w.Run(stop)
	if w.Failed() != 2 || w.Processed() != 1 {
		t.Fatalf("failed=%d processed=%d", w.Failed(), w.Processed())
	}
}

func TestSharedQueueMultipleWorkers(t *testing.T) {
	q := NewQueue(0)
	var total atomic.Int64
	h := func(Job) error {
		total.Add(1)
		return nil
	}
	stop := make(chan struct{})
	workers := []*Worker{New("a", q, h), New("b", q, h), New("c", q, h)}
	for _, w := range workers {
		go w.Run(stop)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				_ = q.Enqueue(Job{})
			}
		}()
	}
	wg.Wait()
	close(stop)
	for _, w := range workers {
		<-w.Done()
	}
	if total.Load() != 2000 {
		t.Fatalf("processed %d of 2000", total.Load())
	}
}
