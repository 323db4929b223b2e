// Package sensor polls disk and heap usage and reports resource pressure
// to the pipeline.
package sensor

import (
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"pipeserve/pkg/logger"
)

type Config struct {
	// Path is the filesystem whose usage is watched.
	Path           string
	PollInterval   time.Duration
	DiskHighPct    int
	DiskLowPct     int
	MemHighPct     int
	RecoveryWindow time.Duration
}

// Reading is one poll result.
type Reading struct {
	DiskUsedPct float64
	DiskFree    uint64
	MemUsedPct  float64
	HeapInuse   uint64
}

// Probe takes a reading of the filesystem at path.
type Probe func(path string) (Reading, error)

// SystemProbe reads statfs for the disk and MemStats for the heap.
func SystemProbe(path string) (Reading, error) {
	var r Reading
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return r, err
	}
	available := stat.Bavail * uint64(stat.Bsize)
	total := stat.Blocks * uint64(stat.Bsize)
	if total > 0 {
		r.DiskUsedPct = float64(total-available) / float64(total) * 100
	}
	r.DiskFree = available

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.HeapSys > 0 {
		r.MemUsedPct = float64(m.HeapInuse) / float64(m.HeapSys) * 100
	}
	r.HeapInuse = m.HeapInuse
	return r, nil
}

type Sensor struct {
	cfg   Config
	probe Probe
	now   func() time.Time

	mu            sync.Mutex
	last          Reading
	diskAlert     bool
	memAlert      bool
	diskCalmSince time.Time
	memCalmSince  time.Time
	// cleared is closed and replaced each time pressure lifts.
	cleared chan struct{}

	runOnce sync.Once
}

func New(cfg Config) *Sensor {
	return NewWithProbe(cfg, SystemProbe)
}

func NewWithProbe(cfg Config, probe Probe) *Sensor {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.DiskHighPct <= 0 {
		cfg.DiskHighPct = 90
	}
	if cfg.DiskLowPct <= 0 || cfg.DiskLowPct >= cfg.DiskHighPct {
		cfg.DiskLowPct = cfg.DiskHighPct
	}
	if cfg.MemHighPct <= 0 {
		cfg.MemHighPct = 90
	}
	return &Sensor{cfg: cfg, probe: probe, now: time.Now, cleared: make(chan struct{})}
}

// Pressure implements middleware.PressureGauge.
func (s *Sensor) Pressure() (bool, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.diskAlert || s.memAlert {
		return true, s.cleared
	}
	return false, nil
}

// Last returns the most recent reading.
func (s *Sensor) Last() Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Run polls until stop is closed. It is meant to be spawned as a
// coordinator worker and only runs once.
func (s *Sensor) Run(stop <-chan struct{}) {
	started := false
	s.runOnce.Do(func() { started = true })
	if !started {
		return
	}
	s.Check()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Check()
		case <-stop:
			logger.Info("sensor_stopped")
			return
		}
	}
}

// Check takes one reading and updates the alert state.
func (s *Sensor) Check() {
	r, err := s.probe(s.cfg.Path)
	if err != nil {
		logger.Warn("sensor_probe_failed", "path", s.cfg.Path, "error", err)
		return
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.diskAlert || s.memAlert
	s.last = r

	switch {
	case r.DiskUsedPct > float64(s.cfg.DiskHighPct):
		s.diskCalmSince = time.Time{}
		if !s.diskAlert {
			logger.Warn("disk_usage_high", "used_pct", r.DiskUsedPct, "free", humanize.IBytes(r.DiskFree), "threshold_pct", s.cfg.DiskHighPct)
			s.diskAlert = true
		}
	case s.diskAlert && r.DiskUsedPct < float64(s.cfg.DiskLowPct):
		if s.diskCalmSince.IsZero() {
			s.diskCalmSince = now
		}
		if now.Sub(s.diskCalmSince) >= s.cfg.RecoveryWindow {
			logger.Info("disk_usage_recovered", "used_pct", r.DiskUsedPct, "low_pct", s.cfg.DiskLowPct, "window", s.cfg.RecoveryWindow)
			s.diskAlert = false
			s.diskCalmSince = time.Time{}
		}
	default:
		s.diskCalmSince = time.Time{}
	}

	switch {
	case r.MemUsedPct > float64(s.cfg.MemHighPct):
		s.memCalmSince = time.Time{}
		if !s.memAlert {
			logger.Warn("memory_usage_high", "used_pct", r.MemUsedPct, "heap_inuse", humanize.IBytes(r.HeapInuse), "threshold_pct", s.cfg.MemHighPct)
			s.memAlert = true
		}
	case s.memAlert:
		if s.memCalmSince.IsZero() {
			s.memCalmSince = now
		}
		if now.Sub(s.memCalmSince) >= s.cfg.RecoveryWindow {
			logger.Info("memory_usage_recovered", "used_pct", r.MemUsedPct, "window", s.cfg.RecoveryWindow)
			s.memAlert = false
			s.memCalmSince = time.Time{}
		}
	}

	if before && !s.diskAlert && !s.memAlert {
		close(s.cleared)
		s.cleared = make(chan struct{})
	}
}
