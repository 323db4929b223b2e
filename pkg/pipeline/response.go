package pipeline

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/valyala/bytebufferpool"
)

// Response is produced exactly once per invocation.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func NewResponse(status int, body []byte) *Response {
	return &Response{Status: status, Header: http.Header{}, Body: body}
}

// Failed reports whether the response carries a failure status.
func (r *Response) Failed() bool { return r.Status >= 400 }

// JSON encodes v into a response with a JSON content type.
func JSON(status int, v any) *Response {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return Errorf(http.StatusInternalServerError, "encode response: %v", err)
	}
	body := make([]byte, buf.Len())
	copy(body, buf.B)
	r := NewResponse(status, body)
	r.Header.Set("Content-Type", "application/json")
	return r
}

// Errorf builds a failure response with body {"error": msg}.
func Errorf(status int, format string, args ...any) *Response {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	b, _ := json.Marshal(map[string]string{"error": msg})
	r := NewResponse(status, append(b, '\n'))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func Text(status int, s string) *Response {
	r := NewResponse(status, []byte(s))
	r.Header.Set("Content-Type", "text/plain; charset=utf-8")
	return r
}
