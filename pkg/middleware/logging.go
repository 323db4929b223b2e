package middleware

import (
	"context"
	"time"

	"pipeserve/pkg/logger"
	"pipeserve/pkg/pipeline"
)

// Logging emits one structured line per request.
func Logging() pipeline.Middleware {
	return pipeline.MiddlewareFunc(func(ctx context.Context, req *pipeline.Request, next pipeline.Unit) (*pipeline.Response, error) {
		start := time.Now()
		logger.Debug("incoming_request", "method", req.Method, "path", req.Path, "remote", req.RemoteAddr, "headers", logger.SafeHeaders(req.Header))
		resp, err := next.Invoke(ctx, req)
		elapsed := time.Since(start)
		if err != nil {
			logger.Warn("request_failed", "method", req.Method, "path", req.Path, "request_id", RequestIDFrom(req), "elapsed", elapsed, "error", err)
			return resp, err
		}
		logger.Info("request_completed", "method", req.Method, "path", req.Path, "status", resp.Status, "request_id", RequestIDFrom(req), "elapsed", elapsed)
		return resp, nil
	})
}
