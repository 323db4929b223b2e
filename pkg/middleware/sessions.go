package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"pipeserve/pkg/logger"
	"pipeserve/pkg/pipeline"
	"pipeserve/pkg/session"
)

const (
	PoisonEvict  = "evict"
	PoisonRepair = "repair"
)

type SessionConfig struct {
	Store  *session.Store
	Header string
	// Public requests skip session resolution.
	Public Matcher
	// TTL evicts sessions idle for longer. Zero disables the check.
	TTL time.Duration
	// Policy is applied to poisoned sessions: PoisonEvict or PoisonRepair.
	Policy string
	Now    func() time.Time
}

// Sessions resolves the session named by the token header, records the
// access on it and attaches the handle to the request.
func Sessions(cfg SessionConfig) pipeline.Middleware {
	if cfg.Store == nil {
		panic("middleware.Sessions: nil store")
	}
	if cfg.Header == "" {
		cfg.Header = "X-Session-Token"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return pipeline.MiddlewareFunc(func(ctx context.Context, req *pipeline.Request, next pipeline.Unit) (*pipeline.Response, error) {
		if cfg.Public != nil && cfg.Public(req) {
			return next.Invoke(ctx, req)
		}
		token := req.Header.Get(cfg.Header)
		if token == "" {
			return reject(http.StatusUnauthorized, "no_session", "missing session token"), nil
		}
		h, ok := cfg.Store.Lookup(token)
		if !ok {
			return reject(http.StatusUnauthorized, "unknown_session", "unknown session"), nil
		}

		now := cfg.Now().UTC()
		expired := false
		err := h.WithLock(func(s *session.Session) error {
			if cfg.TTL > 0 && now.Sub(s.LastSeen) > cfg.TTL {
				expired = true
				return nil
			}
			s.LastSeen = now
			s.Hits++
			return nil
		})
		if errors.Is(err, session.ErrPoisoned) {
			if resp := applyPoisonPolicy(cfg, h, now); resp != nil {
				return resp, nil
			}
		} else if err != nil {
			return nil, err
		}
		if expired {
			cfg.Store.RemoveHandle(h)
			logger.Info("session_expired", "session", h.Key())
			return reject(http.StatusUnauthorized, "session_expired", "session expired"), nil
		}

		session.Attach(req, h)
		return next.Invoke(ctx, req)
	})
}

// applyPoisonPolicy returns a rejection when the session was evicted, or
// nil when it was repaired and the request may continue.
func applyPoisonPolicy(cfg SessionConfig, h *session.Handle, now time.Time) *pipeline.Response {
	if cfg.Policy == PoisonRepair {
		err := h.Recover(func(s *session.Session) error {
			s.Values = map[string]string{}
			s.LastSeen = now
			s.Hits++
			return nil
		})
		if err == nil {
			logger.Warn("session_poisoned", "session", h.Key(), "action", "repaired")
			return nil
		}
		logger.Error("session_repair_failed", "session", h.Key(), "error", err)
	}
	cfg.Store.RemoveHandle(h)
	logger.Warn("session_poisoned", "session", h.Key(), "action", "evicted")
	return reject(http.StatusUnauthorized, "session_poisoned", "session invalidated")
}
