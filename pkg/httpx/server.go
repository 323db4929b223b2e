package httpx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"

	"pipeserve/pkg/logger"
)

const (
	EngineFastHTTP = "fasthttp"
	EngineNetHTTP  = "nethttp"
)

// Server runs one of the engines behind a common lifecycle.
type Server struct {
	engine string
	fast   *fasthttp.Server
	std    *http.Server
}

type ServerOptions struct {
	Engine  string
	Metrics http.Handler
	Fast    FastOptions
}

func NewServer(d *Dispatcher, opts ServerOptions) (*Server, error) {
	switch opts.Engine {
	case "", EngineFastHTTP:
		return &Server{
			engine: EngineFastHTTP,
			fast:   NewFastServer(FastHandler(d, opts.Metrics), opts.Fast),
		}, nil
	case EngineNetHTTP:
		return &Server{
			engine: EngineNetHTTP,
			std: &http.Server{
				Handler:           NetHandler(d, opts.Metrics),
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       30 * time.Second,
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown server engine %q", opts.Engine)
	}
}

func (s *Server) Engine() string { return s.engine }

// Serve blocks accepting connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	logger.Info("http_listening", "engine", s.engine, "addr", ln.Addr().String())
	if s.fast != nil {
		return s.fast.Serve(ln)
	}
	err := s.std.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Shutdown closes the listener and waits for open connections, bounded by
// ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.std != nil {
		return s.std.Shutdown(ctx)
	}
	done := make(chan error, 1)
	go func() { done <- s.fast.Shutdown() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
