// Package expiry evicts idle sessions on a cron schedule.
package expiry

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"

	"pipeserve/pkg/logger"
	"pipeserve/pkg/session"
)

type Sweeper struct {
	cron     string
	ttl      time.Duration
	sessions *session.Store
	now      func() time.Time

	// OnSweep, when set, is told how many sessions each run evicted.
	OnSweep func(evicted int)

	runs    atomic.Int64
	evicted atomic.Int64
	started atomic.Bool
}

func New(cron string, ttl time.Duration, sessions *session.Store) (*Sweeper, error) {
	if !gronx.New().IsValid(cron) {
		return nil, fmt.Errorf("invalid sweep cron %q", cron)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive")
	}
	return &Sweeper{cron: cron, ttl: ttl, sessions: sessions, now: time.Now}, nil
}

// SweepNow evicts expired and poisoned sessions and returns how many went.
func (s *Sweeper) SweepNow() int {
	n := s.sessions.Sweep(s.ttl, s.now().UTC())
	s.runs.Add(1)
	s.evicted.Add(int64(n))
	if n > 0 {
		logger.Info("sessions_swept", "evicted", n, "remaining", s.sessions.Len())
	}
	if s.OnSweep != nil {
		s.OnSweep(n)
	}
	return n
}

func (s *Sweeper) Runs() int64    { return s.runs.Load() }
func (s *Sweeper) Evicted() int64 { return s.evicted.Load() }

// Run sweeps on every cron tick until stop is closed. Only the first call
// runs.
func (s *Sweeper) Run(stop <-chan struct{}) {
	if !s.started.CompareAndSwap(false, true) {
		logger.Warn("sweeper_run_ignored")
		return
	}
	logger.Info("sweeper_started", "cron", s.cron, "ttl", s.ttl)
	for {
		next, err := gronx.NextTickAfter(s.cron, s.now(), false)
		if err != nil {
			logger.Error("sweeper_nexttick_failed", "cron", s.cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-stop:
				return
			}
			continue
		}
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		t := time.NewTimer(wait)
		select {
		case <-t.C:
			s.SweepNow()
		case <-stop:
			t.Stop()
			logger.Info("sweeper_stopped", "runs", s.runs.Load(), "evicted", s.evicted.Load())
			return
		}
	}
}
