package middleware

import (
	"context"
	"fmt"
	"runtime"

	"pipeserve/pkg/logger"
	"pipeserve/pkg/pipeline"
)

// Recover turns a panic in an inner unit into a KindPanic error.
func Recover() pipeline.Middleware {
	return pipeline.MiddlewareFunc(func(ctx context.Context, req *pipeline.Request, next pipeline.Unit) (resp *pipeline.Response, err error) {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 8<<10)
				n := runtime.Stack(buf, false)
				logger.Error("request_panic", "path", req.Path, "request_id", RequestIDFrom(req), "panic", fmt.Sprint(r), "stack", string(buf[:n]))
				resp, err = nil, pipeline.E(pipeline.KindPanic, req.Method+" "+req.Path, fmt.Errorf("%v", r))
			}
		}()
		return next.Invoke(ctx, req)
	})
}
