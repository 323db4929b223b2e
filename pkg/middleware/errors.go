package middleware

import (
	"context"

	"pipeserve/pkg/logger"
	"pipeserve/pkg/pipeline"
)

// Errors is the last-resort converter and belongs outermost. Any error that
// escapes the inner units becomes a failure Response whose status follows
// the error kind. A nil response without error becomes a 500.
func Errors() pipeline.Middleware {
	return pipeline.MiddlewareFunc(func(ctx context.Context, req *pipeline.Request, next pipeline.Unit) (*pipeline.Response, error) {
		resp, err := next.Invoke(ctx, req)
		if err != nil {
			return ErrorResponse(err), nil
		}
		if resp == nil {
			logger.Error("nil_response", "path", req.Path)
			return pipeline.Errorf(500, "internal error"), nil
		}
		return resp, nil
	})
}

// ErrorResponse maps err onto a failure Response.
func ErrorResponse(err error) *pipeline.Response {
	kind := pipeline.KindOf(err)
	return pipeline.Errorf(kind.Status(), "%s", kind.String())
}
