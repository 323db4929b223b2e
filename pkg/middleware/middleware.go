// Package middleware holds the concrete wrapping units used to build the
// request pipeline. Each constructor returns a pipeline.Middleware.
package middleware

import (
	"net"
	"net/http"
	"strings"

	"pipeserve/pkg/pipeline"
)

// RejectHeader carries the reason a middleware refused a request. The
// metrics layer counts rejections by it.
const RejectHeader = "X-Pipeline-Reject"

func reject(status int, reason, msg string) *pipeline.Response {
	r := pipeline.Errorf(status, "%s", msg)
	r.Header.Set(RejectHeader, reason)
	return r
}

// Matcher selects requests, e.g. the public paths that skip auth.
type Matcher func(req *pipeline.Request) bool

// Paths matches requests whose path is one of paths.
func Paths(paths ...string) Matcher {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return func(req *pipeline.Request) bool {
		_, ok := set[req.Path]
		return ok
	}
}

// Route matches a single method and path.
func Route(method, path string) Matcher {
	return func(req *pipeline.Request) bool {
		return req.Method == method && req.Path == path
	}
}

// Any matches when one of ms matches.
func Any(ms ...Matcher) Matcher {
	return func(req *pipeline.Request) bool {
		for _, m := range ms {
			if m != nil && m(req) {
				return true
			}
		}
		return false
	}
}

func clientIP(req *pipeline.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

func bearer(h http.Header) string {
	v := h.Get("Authorization")
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}
