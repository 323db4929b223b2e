package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"pipeserve/pkg/pipeline"
)

// Timeout bounds inner processing. Deadline failures become a 504.
func Timeout(d time.Duration) pipeline.Middleware {
	return func(next pipeline.Unit) pipeline.Unit {
		if d <= 0 {
			return next
		}
		return pipeline.Wrap(next, func(ctx context.Context, req *pipeline.Request, next pipeline.Unit) (*pipeline.Response, error) {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			resp, err := next.Invoke(tctx, req)
			if err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
				return reject(http.StatusGatewayTimeout, "timeout", "request timed out"), nil
			}
			return resp, err
		})
	}
}
