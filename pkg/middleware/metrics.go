package middleware

import (
	"context"
	"time"

	"pipeserve/pkg/logger"
	"pipeserve/pkg/pipeline"
	"pipeserve/pkg/telemetry"
)

// Metrics reports every request to sink and logs requests slower than slow.
// A zero slow disables slow-request logging.
func Metrics(sink telemetry.Sink, slow time.Duration) pipeline.Middleware {
	if sink == nil {
		sink = telemetry.Nop{}
	}
	return pipeline.MiddlewareFunc(func(ctx context.Context, req *pipeline.Request, next pipeline.Unit) (*pipeline.Response, error) {
		start := time.Now()
		resp, err := next.Invoke(ctx, req)
		elapsed := time.Since(start)
		switch {
		case err != nil:
			sink.Failed(pipeline.KindOf(err).String())
		case resp != nil:
			sink.RequestDone(req.Method, resp.Status, elapsed)
			if reason := resp.Header.Get(RejectHeader); reason != "" {
				sink.Rejected(reason)
			}
		}
		if slow > 0 && elapsed > slow {
			logger.Warn("slow_request", "method", req.Method, "path", req.Path, "request_id", RequestIDFrom(req), "elapsed", elapsed, "threshold", slow)
		}
		return resp, err
	})
}
