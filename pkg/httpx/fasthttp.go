package httpx

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"pipeserve/pkg/pipeline"
)

// MetricsPath is served outside the pipeline so scrapes are never shed.
const MetricsPath = "/metrics"

// FastHandler converts each fasthttp request into a pipeline request.
// metrics may be nil.
func FastHandler(d *Dispatcher, metrics http.Handler) fasthttp.RequestHandler {
	var metricsFast fasthttp.RequestHandler
	if metrics != nil {
		metricsFast = fasthttpadaptor.NewFastHTTPHandler(metrics)
	}
	return func(ctx *fasthttp.RequestCtx) {
		if metricsFast != nil && string(ctx.Path()) == MetricsPath {
			metricsFast(ctx)
			return
		}
		// RequestCtx is cancelled when the listener shuts down, which must
		// not cut short requests the coordinator is draining.
		resp := d.Dispatch(context.Background(), fromFast(ctx))
		writeFast(ctx, resp)
	}
}

func fromFast(ctx *fasthttp.RequestCtx) *pipeline.Request {
	body := append([]byte(nil), ctx.PostBody()...)
	req := pipeline.NewRequest(string(ctx.Method()), string(ctx.Path()), body)
	ctx.Request.Header.VisitAll(func(k, v []byte) {
		req.Header.Add(string(k), string(v))
	})
	q := url.Values{}
	ctx.QueryArgs().VisitAll(func(k, v []byte) {
		q.Add(string(k), string(v))
	})
	req.Query = q
	req.RemoteAddr = ctx.RemoteAddr().String()
	return req
}

func writeFast(ctx *fasthttp.RequestCtx, resp *pipeline.Response) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			ctx.Response.Header.Add(k, v)
		}
	}
	ctx.SetStatusCode(resp.Status)
	ctx.SetBody(resp.Body)
}

// FastOptions tunes the fasthttp server. Zero values pick the defaults.
type FastOptions struct {
	MaxRequestBodySize int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
}

func NewFastServer(h fasthttp.RequestHandler, opts FastOptions) *fasthttp.Server {
	const (
		readBufferSize       = 64 * 1024
		defaultBodySize      = 4 * 1024 * 1024
		defaultReadTimeout   = 10 * time.Second
		defaultWriteTimeout  = 10 * time.Second
		defaultIdleTimeout   = 30 * time.Second
		maxKeepaliveDuration = 2 * time.Minute
	)
	if opts.MaxRequestBodySize <= 0 {
		opts.MaxRequestBodySize = defaultBodySize
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	return &fasthttp.Server{
		Name:                 "pipeserve",
		Handler:              h,
		ReadBufferSize:       readBufferSize,
		MaxRequestBodySize:   opts.MaxRequestBodySize,
		ReadTimeout:          opts.ReadTimeout,
		WriteTimeout:         opts.WriteTimeout,
		IdleTimeout:          opts.IdleTimeout,
		MaxKeepaliveDuration: maxKeepaliveDuration,
	}
}
