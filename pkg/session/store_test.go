package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeserve/pkg/pipeline"
)

func TestLookupMissing(t *testing.T) {
	s := NewStore()
	h, ok := s.Lookup("nope")
	assert.False(t, ok)
	assert.Nil(t, h)
}

func TestCreateAndLookup(t *testing.T) {
	s := NewStore()
	h := s.Create("alice", "backend")
	got, ok := s.Lookup(h.Key())
	require.True(t, ok)
	assert.Same(t, h, got)

	v, err := got.View()
	require.NoError(t, err)
	assert.Equal(t, "alice", v.Principal)
	assert.Equal(t, h.Key(), v.ID)
	assert.Equal(t, 1, s.Len())
}

func TestConcurrentMutationsSerialized(t *testing.T) {
	s := NewStore()
	h := s.Create("bob", "backend")
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hh, ok := s.Lookup(h.Key())
			if !ok {
				return
			}
			_ = hh.WithLock(func(sess *Session) error {
				sess.Hits++
				return nil
			})
		}()
	}
	wg.Wait()
	v, err := h.View()
	require.NoError(t, err)
	assert.Equal(t, int64(100), v.Hits)
}

func TestSessionIsolation(t *testing.T) {
	s := NewStore()
	a := s.Create("a", "backend")
	b := s.Create("b", "backend")

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = a.WithLock(func(*Session) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered
	defer close(release)

	done := make(chan struct{})
	go func() {
		_ = b.WithLock(func(sess *Session) error {
			sess.Values["k"] = "v"
			return nil
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("mutation of b blocked behind a")
	}
}

func TestStoreLockNotHeldDuringMutation(t *testing.T) {
	s := NewStore()
	slow := s.Create("slow", "backend")
	other := s.Create("other", "backend")

	entered := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_ = slow.WithLock(func(*Session) error {
			close(entered)
			time.Sleep(200 * time.Millisecond)
			return nil
		})
	}()
	<-entered

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := other.Key()
			if i%2 == 0 {
				key = slow.Key()
			}
			_, ok := s.Lookup(key)
			assert.True(t, ok)
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)
	<-finished
	assert.Less(t, elapsed, 150*time.Millisecond, "lookups waited on a session mutation")
}

func TestPoisonOnPanic(t *testing.T) {
	s := NewStore()
	h := s.Create("p", "backend")

	func() {
		defer func() {
			r := recover()
			require.Equal(t, "mid-mutation", r)
		}()
		_ = h.WithLock(func(sess *Session) error {
			sess.Hits = 42
			panic("mid-mutation")
		})
	}()

	assert.True(t, h.Poisoned())
	err := h.WithLock(func(*Session) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPoisoned))
	assert.Equal(t, pipeline.KindPoisoned, pipeline.KindOf(err))
	var pe *PoisonedError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, h.Key(), pe.Key)

	require.NoError(t, h.Recover(func(sess *Session) error {
		assert.Equal(t, int64(42), sess.Hits)
		sess.Hits = 0
		return nil
	}))
	assert.False(t, h.Poisoned())
	require.NoError(t, h.WithLock(func(*Session) error { return nil }))
}

func TestRecoverFailureKeepsPoison(t *testing.T) {
	s := NewStore()
	h := s.Create("p", "backend")
	func() {
		defer func() { _ = recover() }()
		_ = h.WithLock(func(*Session) error { panic("x") })
	}()
	err := h.Recover(func(*Session) error { return errors.New("unrepairable") })
	require.Error(t, err)
	assert.True(t, h.Poisoned())
}

func TestRemoveHandleOnlyRemovesSameHandle(t *testing.T) {
	s := NewStore()
	old := s.Insert("k", &Session{Principal: "one"})
	s.Insert("k", &Session{Principal: "two"})
	assert.False(t, s.RemoveHandle(old))
	h, ok := s.Lookup("k")
	require.True(t, ok)
	v, _ := h.View()
	assert.Equal(t, "two", v.Principal)
	assert.True(t, s.Remove("k"))
	assert.False(t, s.Remove("k"))
}

func TestSweep(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.Insert("idle", &Session{LastSeen: now.Add(-time.Hour)})
	s.Insert("fresh", &Session{LastSeen: now})
	p := s.Insert("poisoned", &Session{LastSeen: now})
	func() {
		defer func() { _ = recover() }()
		_ = p.WithLock(func(*Session) error { panic("x") })
	}()

	n := s.Sweep(time.Minute, now)
	assert.Equal(t, 2, n)
	_, ok := s.Lookup("fresh")
	assert.True(t, ok)
	_, ok = s.Lookup("idle")
	assert.False(t, ok)
}

func TestAttachFromRequest(t *testing.T) {
	s := NewStore()
	h := s.Create("a", "backend")
	req := pipeline.NewRequest("GET", "/", nil)
	_, ok := FromRequest(req)
	assert.False(t, ok)
	Attach(req, h)
	got, ok := FromRequest(req)
	require.True(t, ok)
	assert.Same(t, h, got)
}
