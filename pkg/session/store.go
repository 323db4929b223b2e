package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store maps session keys to handles.
type Store struct {
	mu sync.RWMutex
	m  map[string]*Handle
}

func NewStore() *Store {
	return &Store{m: make(map[string]*Handle)}
}

// Lookup returns the handle for key. A missing key is (nil, false).
func (s *Store) Lookup(key string) (*Handle, bool) {
	s.mu.RLock()
	h, ok := s.m[key]
	s.mu.RUnlock()
	return h, ok
}

// Insert stores sess under key, replacing any previous handle.
func (s *Store) Insert(key string, sess *Session) *Handle {
	if sess.ID == "" {
		sess.ID = key
	}
	h := &Handle{key: key, sess: sess}
	s.mu.Lock()
	s.m[key] = h
	s.mu.Unlock()
	return h
}

// Create starts a new session for principal under a random key.
func (s *Store) Create(principal, role string) *Handle {
	now := time.Now().UTC()
	key := uuid.NewString()
	return s.Insert(key, &Session{
		ID:        key,
		Principal: principal,
		Role:      role,
		CreatedAt: now,
		LastSeen:  now,
		Values:    map[string]string{},
	})
}

// Remove deletes key and reports whether it was present.
func (s *Store) Remove(key string) bool {
	s.mu.Lock()
	_, ok := s.m[key]
	delete(s.m, key)
	s.mu.Unlock()
	return ok
}

// RemoveHandle deletes h only if the store still maps its key to h, so a
// session replaced in the meantime survives.
func (s *Store) RemoveHandle(h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.m[h.key]; ok && cur == h {
		delete(s.m, h.key)
		return true
	}
	return false
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Handles returns a snapshot of every handle.
func (s *Store) Handles() []*Handle {
	s.mu.RLock()
	out := make([]*Handle, 0, len(s.m))
	for _, h := range s.m {
		out = append(out, h)
	}
	s.mu.RUnlock()
	return out
}

// Expired returns handles idle for longer than ttl, plus poisoned ones.
// Sessions whose lock is currently held are in use and are skipped.
func (s *Store) Expired(ttl time.Duration, now time.Time) []*Handle {
	var out []*Handle
	for _, h := range s.Handles() {
		if h.Poisoned() {
			out = append(out, h)
			continue
		}
		if !h.mu.TryLock() {
			continue
		}
		idle := now.Sub(h.sess.LastSeen)
		h.mu.Unlock()
		if idle > ttl {
			out = append(out, h)
		}
	}
	return out
}

// Sweep removes expired sessions and returns how many were removed.
func (s *Store) Sweep(ttl time.Duration, now time.Time) int {
	n := 0
	for _, h := range s.Expired(ttl, now) {
		if s.RemoveHandle(h) {
			n++
		}
	}
	return n
}
