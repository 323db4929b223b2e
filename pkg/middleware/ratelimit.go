package middleware

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"pipeserve/pkg/logger"
	"pipeserve/pkg/pipeline"
)

type RateLimitConfig struct {
	RPS   float64
	Burst int
	// Key picks the limiter bucket. Defaults to the API key, then the
	// session token header, then the client IP.
	Key func(req *pipeline.Request) string
	// IdleTTL evicts buckets unused for longer than this. Default 10m.
	IdleTTL time.Duration
	// CleanupPeriod is how often Run sweeps idle buckets. Default 1m.
	CleanupPeriod time.Duration
}

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// Per-key rate limiter pool.
type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*limiterEntry
	rps   float64
	burst int
	ttl   time.Duration
	now   func() time.Time
}

func (p *limiterPool) get(key string) *rate.Limiter {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*limiterEntry)
	}
	if e, ok := p.m[key]; ok {
		e.lastSeen = now
		return e.l
	}
	rps := p.rps
	if rps <= 0 {
		rps = 5
	}
	burst := p.burst
	if burst <= 0 {
		burst = 10
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[key] = &limiterEntry{l: l, lastSeen: now}
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

// sweep removes limiters unused for longer than the ttl.
func (p *limiterPool) sweep() int {
	cutoff := p.now().Add(-p.ttl)
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
			n++
		}
	}
	return n
}

func (p *limiterPool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// RateLimiter holds per-key token buckets. Its Run loop evicts idle buckets
// and is meant to be spawned as a coordinator worker.
type RateLimiter struct {
	pool    *limiterPool
	keyFn   func(req *pipeline.Request) string
	period  time.Duration
	running atomic.Bool
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	period := cfg.CleanupPeriod
	if period <= 0 {
		period = time.Minute
	}
	keyFn := cfg.Key
	if keyFn == nil {
		keyFn = DefaultRateKey
	}
	return &RateLimiter{
		pool:   &limiterPool{rps: cfg.RPS, burst: cfg.Burst, ttl: ttl, now: time.Now},
		keyFn:  keyFn,
		period: period,
	}
}

// Len reports how many buckets are held.
func (l *RateLimiter) Len() int { return l.pool.len() }

// Sweep evicts idle buckets now and returns how many were removed.
func (l *RateLimiter) Sweep() int { return l.pool.sweep() }

// Run sweeps idle buckets every cleanup period until stop closes. Only the
// first call runs.
func (l *RateLimiter) Run(stop <-chan struct{}) {
	if !l.running.CompareAndSwap(false, true) {
		return
	}
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := l.pool.sweep(); n > 0 {
				logger.Debug("rate_limiter_swept", "evicted", n, "remaining", l.pool.len())
			}
		case <-stop:
			return
		}
	}
}

// DefaultRateKey buckets by credential when one is present, else by IP.
func DefaultRateKey(req *pipeline.Request) string {
	if k := req.Header.Get("X-API-Key"); k != "" {
		return "key:" + k
	}
	if k := bearer(req.Header); k != "" {
		return "key:" + k
	}
	if t := req.Header.Get("X-Session-Token"); t != "" {
		return "session:" + t
	}
	return "ip:" + clientIP(req)
}

// Middleware rejects requests over the per-key token bucket with 429.
func (l *RateLimiter) Middleware() pipeline.Middleware {
	return pipeline.MiddlewareFunc(func(ctx context.Context, req *pipeline.Request, next pipeline.Unit) (*pipeline.Response, error) {
		if !l.pool.Allow(l.keyFn(req)) {
			logger.Warn("rate_limited", "path", req.Path, "remote", req.RemoteAddr)
			r := reject(http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			r.Header.Set("Retry-After", "1")
			return r, nil
		}
		return next.Invoke(ctx, req)
	})
}
