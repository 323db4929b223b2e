package middleware

import (
	"context"
	"net/http"

	"github.com/dustin/go-humanize"

	"pipeserve/pkg/pipeline"
)

// BodyLimit rejects bodies larger than max bytes with 413.
func BodyLimit(max int64) pipeline.Middleware {
	return func(next pipeline.Unit) pipeline.Unit {
		if max <= 0 {
			return next
		}
		msg := "request body exceeds " + humanize.Bytes(uint64(max))
		return pipeline.Wrap(next, func(ctx context.Context, req *pipeline.Request, next pipeline.Unit) (*pipeline.Response, error) {
			if int64(len(req.Body)) > max {
				return reject(http.StatusRequestEntityTooLarge, "body_too_large", msg), nil
			}
			return next.Invoke(ctx, req)
		})
	}
}
