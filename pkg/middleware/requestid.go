package middleware

import (
	"context"

	"github.com/google/uuid"

	"pipeserve/pkg/pipeline"
)

const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestID tags every request with an id, reusing an inbound X-Request-ID.
func RequestID() pipeline.Middleware {
	return pipeline.MiddlewareFunc(func(ctx context.Context, req *pipeline.Request, next pipeline.Unit) (*pipeline.Response, error) {
		id := req.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
			req.Header.Set(RequestIDHeader, id)
		}
		req.SetValue(requestIDKey{}, id)
		resp, err := next.Invoke(ctx, req)
		if resp != nil {
			resp.Header.Set(RequestIDHeader, id)
		}
		return resp, err
	})
}

// RequestIDFrom returns the id set by RequestID, or "".
func RequestIDFrom(req *pipeline.Request) string {
	id, _ := req.Value(requestIDKey{}).(string)
	return id
}
