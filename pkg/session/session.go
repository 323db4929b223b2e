// Package session is the shared session store. Sessions are locked
// individually; the store-wide lock only guards the key to handle map and
// is never held while session state is read or mutated.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pipeserve/pkg/pipeline"
)

// ErrPoisoned matches every *PoisonedError.
var ErrPoisoned = pipeline.ErrPoisoned

// Session is the mutable per-client state.
type Session struct {
	ID        string            `json:"id"`
	Principal string            `json:"principal"`
	Role      string            `json:"role"`
	CreatedAt time.Time         `json:"created_at"`
	LastSeen  time.Time         `json:"last_seen"`
	Hits      int64             `json:"hits"`
	Values    map[string]string `json:"values,omitempty"`
}

func (s *Session) clone() Session {
	out := *s
	if s.Values != nil {
		out.Values = make(map[string]string, len(s.Values))
		for k, v := range s.Values {
			out.Values[k] = v
		}
	}
	return out
}

// PoisonedError is returned by Handle.WithLock once a previous holder
// panicked mid-mutation.
type PoisonedError struct {
	Key string
}

func (e *PoisonedError) Error() string {
	return fmt.Sprintf("session %s poisoned by an interrupted mutation", e.Key)
}

func (e *PoisonedError) Unwrap() error { return ErrPoisoned }

// Handle is a shared reference to one session and its lock. Handles stay
// valid after removal from the store; holders just stop being findable.
type Handle struct {
	key      string
	mu       sync.Mutex
	poisoned atomic.Bool
	sess     *Session
}

func (h *Handle) Key() string { return h.key }

// Poisoned reports whether a holder panicked while mutating. It does not
// wait for the session lock.
func (h *Handle) Poisoned() bool { return h.poisoned.Load() }

// WithLock runs fn with exclusive access to the session. If fn panics the
// handle is poisoned and the panic continues to unwind.
func (h *Handle) WithLock(fn func(*Session) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.poisoned.Load() {
		return &PoisonedError{Key: h.key}
	}
	completed := false
	defer func() {
		if !completed {
			h.poisoned.Store(true)
		}
	}()
	err := fn(h.sess)
	completed = true
	return err
}

// View returns a copy of the session taken under its lock.
func (h *Handle) View() (Session, error) {
	var out Session
	err := h.WithLock(func(s *Session) error {
		out = s.clone()
		return nil
	})
	return out, err
}

// Recover gives fn access to a possibly poisoned session. When fn returns
// nil the poison flag is cleared.
func (h *Handle) Recover(fn func(*Session) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := fn(h.sess); err != nil {
		return err
	}
	h.poisoned.Store(false)
	return nil
}

type ctxKey struct{}

// Attach makes h reachable from the request for inner units.
func Attach(req *pipeline.Request, h *Handle) {
	req.SetValue(ctxKey{}, h)
}

// FromRequest returns the handle attached by Attach.
func FromRequest(req *pipeline.Request) (*Handle, bool) {
	h, ok := req.Value(ctxKey{}).(*Handle)
	return h, ok && h != nil
}
