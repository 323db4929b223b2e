package pipeline

import (
	"net/http"
	"net/url"
)

// Request is the inbound unit of work. It is owned by a single invocation
// and is never shared between goroutines.
type Request struct {
	Method     string
	Path       string
	Header     http.Header
	Query      url.Values
	Body       []byte
	RemoteAddr string
	// Params holds route parameters set by the router.
	Params map[string]string

	values map[any]any
}

func NewRequest(method, path string, body []byte) *Request {
	return &Request{
		Method: method,
		Path:   path,
		Header: http.Header{},
		Query:  url.Values{},
		Body:   body,
	}
}

// Param returns a route parameter or "".
func (r *Request) Param(name string) string {
	if r.Params == nil {
		return ""
	}
	return r.Params[name]
}

// SetValue attaches a cross-cutting value such as a session handle.
func (r *Request) SetValue(key, val any) {
	if r.values == nil {
		r.values = make(map[any]any)
	}
	r.values[key] = val
}

// Value returns a value attached with SetValue, or nil.
func (r *Request) Value(key any) any {
	if r.values == nil {
		return nil
	}
	return r.values[key]
}
