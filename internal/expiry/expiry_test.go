package expiry

import (
	"errors"
	"testing"
	"time"

	"pipeserve/pkg/session"
)

func TestNewRejectsBadCron(t *testing.T) {
	if _, err := New("not a cron", time.Minute, session.NewStore()); err == nil {
		t.Fatalf("expected error for invalid cron")
	}
	if _, err := New("* * * * *", 0, session.NewStore()); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}

func TestSweepNow(t *testing.T) {
	st := session.NewStore()
	now := time.Now().UTC()
	st.Insert("old", &session.Session{ID: "old", LastSeen: now.Add(-time.Hour)})
	st.Insert("fresh", &session.Session{ID: "fresh", LastSeen: now})
	bad := st.Insert("bad", &session.Session{ID: "bad", LastSeen: now})
	func() {
		defer func() { _ = recover() }()
		_ = bad.WithLock(func(*session.Session) error { panic("boom") })
	}()

	sw, err := New("* * * * *", 30*time.Minute, st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var reported int
	sw.OnSweep = func(n int) { reported = n }

	if n := sw.SweepNow(); n != 2 {
		t.Fatalf("expected 2 evicted, got %d", n)
	}
	if reported != 2 {
		t.Fatalf("OnSweep got %d", reported)
	}
	if _, ok := st.Lookup("fresh"); !ok {
		t.Fatalf("fresh session evicted")
	}
	if st.Len() != 1 {
		t.Fatalf("expected 1 session left, got %d", st.Len())
	}
	if sw.Runs() != 1 || sw.Evicted() != 2 {
		t.Fatalf("counters: runs=%d evicted=%d", sw.Runs(), sw.Evicted())
	}
	_, err = bad.View()
	if !errors.Is(err, session.ErrPoisoned) {
		t.Fatalf("expected poisoned handle, got %v", err)
	}
}

func TestRunStops(t *testing.T) {
	sw, err := New("* * * * *", time.Minute, session.NewStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		sw.Run(stop)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after stop")
	}
	// later calls are ignored
	sw.Run(stop)
}
