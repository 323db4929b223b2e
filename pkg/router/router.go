// Package router dispatches requests by method and path. Paths may contain
// {name} segments whose values land in Request.Params. A Router is the
// terminal unit of a pipeline.
package router

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"pipeserve/pkg/pipeline"
)

type Router struct {
	routes   map[string][]route
	notFound pipeline.Unit
}

type route struct {
	pattern  string
	segments []segment
	handler  pipeline.Unit
}

type segment struct {
	name    string
	isParam bool
}

func New() *Router {
	return &Router{routes: make(map[string][]route)}
}

// Ready is always ready; per-route readiness is not consulted.
func (r *Router) Ready() pipeline.ReadyState { return pipeline.Ready() }

func (r *Router) Invoke(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	if list, ok := r.routes[req.Method]; ok {
		for _, rt := range list {
			if values, ok := match(req.Path, rt.segments); ok {
				req.Params = values
				return rt.handler.Invoke(ctx, req)
			}
		}
	}
	if allowed := r.allowed(req.Path); len(allowed) > 0 {
		resp := pipeline.Errorf(http.StatusMethodNotAllowed, "method not allowed")
		resp.Header.Set("Allow", strings.Join(allowed, ", "))
		return resp, nil
	}
	if r.notFound != nil {
		return r.notFound.Invoke(ctx, req)
	}
	return pipeline.Errorf(http.StatusNotFound, "not found"), nil
}

func (r *Router) allowed(path string) []string {
	var out []string
	for method, list := range r.routes {
		for _, rt := range list {
			if _, ok := match(path, rt.segments); ok {
				out = append(out, method)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func (r *Router) GET(path string, h pipeline.HandlerFunc) { r.Handle(http.MethodGet, path, h) }

func (r *Router) POST(path string, h pipeline.HandlerFunc) { r.Handle(http.MethodPost, path, h) }

func (r *Router) PUT(path string, h pipeline.HandlerFunc) { r.Handle(http.MethodPut, path, h) }

func (r *Router) DELETE(path string, h pipeline.HandlerFunc) { r.Handle(http.MethodDelete, path, h) }

// NotFound registers a handler for unmatched routes.
func (r *Router) NotFound(h pipeline.Unit) { r.notFound = h }

// Handle registers any Unit, including a nested pipeline, for method and path.
func (r *Router) Handle(method, path string, h pipeline.Unit) {
	r.routes[method] = append(r.routes[method], route{pattern: path, segments: parse(path), handler: h})
}

// Routes lists registered "METHOD pattern" pairs, sorted.
func (r *Router) Routes() []string {
	var out []string
	for method, list := range r.routes {
		for _, rt := range list {
			out = append(out, method+" "+rt.pattern)
		}
	}
	sort.Strings(out)
	return out
}

func parse(path string) []segment {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	segs := make([]segment, len(parts))
	for i, part := range parts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") && len(part) > 2 {
			segs[i] = segment{name: part[1 : len(part)-1], isParam: true}
		} else {
			segs[i] = segment{name: part}
		}
	}
	return segs
}

func match(path string, segs []segment) (map[string]string, bool) {
	path = strings.TrimPrefix(path, "/")
	var parts []string
	if path != "" {
		parts = strings.Split(path, "/")
	}
	if len(parts) != len(segs) {
		return nil, false
	}
	values := make(map[string]string)
	for i, seg := range segs {
		if seg.isParam {
			if parts[i] == "" {
				return nil, false
			}
			values[seg.name] = parts[i]
			continue
		}
		if seg.name != parts[i] {
			return nil, false
		}
	}
	return values, true
}
