// Package httpx adapts the pipeline to the two HTTP engines: fasthttp, the
// default, and net/http behind a gorilla/mux router.
package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"pipeserve/pkg/logger"
	"pipeserve/pkg/middleware"
	"pipeserve/pkg/pipeline"
	"pipeserve/pkg/shutdown"
	"pipeserve/pkg/telemetry"
)

const defaultDeadline = time.Minute

// Dispatcher admits a request through the coordinator and runs the
// pipeline for it.
type Dispatcher struct {
	Pipeline *pipeline.Pipeline
	Coord    *shutdown.Coordinator
	Sink     telemetry.Sink
	// Deadline bounds a request end to end, readiness wait included.
	Deadline time.Duration
}

// Dispatch always returns a response. Errors that reach it come from
// admission, the forced drain or the readiness wait.
func (d *Dispatcher) Dispatch(ctx context.Context, req *pipeline.Request) *pipeline.Response {
	start := time.Now()
	deadline := d.Deadline
	if deadline <= 0 {
		deadline = defaultDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	resp, err := shutdown.Guard(d.Coord, ctx, func(ictx context.Context) (*pipeline.Response, error) {
		return d.Pipeline.Serve(ictx, req)
	})
	if err == nil && resp != nil {
		return resp
	}

	sink := d.Sink
	if sink == nil {
		sink = telemetry.Nop{}
	}
	switch {
	case err == nil:
		logger.Error("nil_response", "method", req.Method, "path", req.Path)
		resp = pipeline.Errorf(http.StatusInternalServerError, "internal error")
	case errors.Is(err, shutdown.ErrUnavailable):
		sink.Rejected("draining")
		resp = middleware.ErrorResponse(err)
		resp.Header.Set("Retry-After", "1")
		resp.Header.Set("Connection", "close")
	default:
		kind := pipeline.KindOf(err)
		sink.Failed(kind.String())
		logger.Warn("dispatch_failed", "method", req.Method, "path", req.Path, "kind", kind.String(), "error", err)
		resp = middleware.ErrorResponse(err)
	}
	sink.RequestDone(req.Method, resp.Status, time.Since(start))
	return resp
}
