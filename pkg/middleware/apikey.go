package middleware

import (
	"context"
	"net/http"

	"pipeserve/pkg/logger"
	"pipeserve/pkg/pipeline"
)

type Role string

const (
	RoleNone    Role = ""
	RoleBackend Role = "backend"
	RoleAdmin   Role = "admin"
)

type APIKeyConfig struct {
	Backend []string
	Admin   []string
	// Require lists the requests that must carry a valid key.
	Require Matcher
}

type roleKey struct{}

// APIKeys resolves the caller role from X-API-Key or a bearer token.
func APIKeys(cfg APIKeyConfig) pipeline.Middleware {
	keys := make(map[string]Role, len(cfg.Backend)+len(cfg.Admin))
	for _, k := range cfg.Backend {
		keys[k] = RoleBackend
	}
	for _, k := range cfg.Admin {
		keys[k] = RoleAdmin
	}
	return pipeline.MiddlewareFunc(func(ctx context.Context, req *pipeline.Request, next pipeline.Unit) (*pipeline.Response, error) {
		key := req.Header.Get("X-API-Key")
		if key == "" {
			key = bearer(req.Header)
		}
		role := RoleNone
		if key != "" {
			role = keys[key]
		}
		if role != RoleNone {
			req.SetValue(roleKey{}, role)
		}
		if role == RoleNone && cfg.Require != nil && cfg.Require(req) {
			logger.Warn("request_unauthorized", "path", req.Path, "remote", req.RemoteAddr, "has_api_key", key != "")
			return reject(http.StatusUnauthorized, "unauthorized", "unauthorized"), nil
		}
		return next.Invoke(ctx, req)
	})
}

// RoleFrom returns the role resolved by APIKeys.
func RoleFrom(req *pipeline.Request) Role {
	r, _ := req.Value(roleKey{}).(Role)
	return r
}
