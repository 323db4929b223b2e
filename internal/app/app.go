package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pipeserve/internal/expiry"
	"pipeserve/pkg/api"
	"pipeserve/pkg/config"
	"pipeserve/pkg/config/banner"
	"pipeserve/pkg/httpx"
	"pipeserve/pkg/logger"
	"pipeserve/pkg/middleware"
	"pipeserve/pkg/pipeline"
	"pipeserve/pkg/sensor"
	"pipeserve/pkg/session"
	"pipeserve/pkg/shutdown"
	"pipeserve/pkg/store"
	"pipeserve/pkg/telemetry"
	"pipeserve/pkg/worker"
)

// App groups server state and components.
type App struct {
	eff     config.EffectiveConfigResult
	version string

	db       *store.DB
	sessions *session.Store
	queue    *worker.Queue
	workers  []*worker.Worker
	coord    *shutdown.Coordinator
	metrics  *telemetry.Prometheus
	sensor   *sensor.Sensor
	sweeper  *expiry.Sweeper
	limiter  *middleware.RateLimiter
	api      *api.Server

	pipeline   *pipeline.Pipeline
	dispatcher *httpx.Dispatcher
	server     *httpx.Server
	ln         net.Listener
}

// New opens storage and builds every component. Nothing runs until Run.
func New(eff config.EffectiveConfigResult, version string) (*App, error) {
	if eff.Config == nil {
		return nil, errors.New("app: nil config")
	}
	if err := config.ValidateConfig(eff.Config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg := eff.Config

	a := &App{eff: eff, version: version}

	var err error
	if eff.DBPath != "" {
		if err := os.MkdirAll(eff.DBPath, 0o700); err != nil {
			return nil, fmt.Errorf("create db dir %s: %w", eff.DBPath, err)
		}
		a.db, err = store.Open(eff.DBPath)
	} else {
		logger.Warn("store_in_memory", "msg", "no db path configured; data is lost on exit")
		a.db, err = store.OpenInMemory()
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a.sessions = session.NewStore()
	a.queue = worker.NewQueue(cfg.Worker.QueueCapacity)
	a.coord = shutdown.New(shutdown.Options{
		DrainTimeout:  cfg.Shutdown.DrainTimeout.Duration(),
		WorkerTimeout: cfg.Shutdown.WorkerTimeout.Duration(),
	})
	a.metrics = telemetry.NewPrometheus()
	a.api = &api.Server{DB: a.db, Sessions: a.sessions, Queue: a.queue, Coord: a.coord, Version: version}

	for i := 0; i < cfg.Worker.Workers; i++ {
		a.workers = append(a.workers, worker.New(fmt.Sprintf("audit-%d", i), a.queue, a.api.RecordAudit))
	}

	if cfg.Sensor.Enabled {
		a.sensor = sensor.New(sensor.Config{
			Path:           cfg.Sensor.Path,
			PollInterval:   cfg.Sensor.PollInterval.Duration(),
			DiskHighPct:    cfg.Sensor.DiskHighPct,
			DiskLowPct:     cfg.Sensor.DiskLowPct,
			MemHighPct:     cfg.Sensor.MemHighPct,
			RecoveryWindow: cfg.Sensor.RecoveryWindow.Duration(),
		})
	}

	a.sweeper, err = expiry.New(cfg.Session.SweepCron, cfg.Session.TTL.Duration(), a.sessions)
	if err != nil {
		_ = a.db.Close()
		return nil, err
	}
	a.sweeper.OnSweep = func(n int) {
		if n == 0 {
			return
		}
		if err := a.queue.Enqueue(worker.Job{Kind: "sessions_expired", Payload: []byte(fmt.Sprint(n))}); err != nil {
			logger.Warn("audit_enqueue_failed", "kind", "sessions_expired", "error", err)
		}
	}

	a.pipeline = a.buildPipeline()
	a.dispatcher = &httpx.Dispatcher{
		Pipeline: a.pipeline,
		Coord:    a.coord,
		Sink:     a.metrics,
		// the readiness wait plus the invocation's own timeout
		Deadline: 2 * cfg.Pipeline.Timeout.Duration(),
	}
	a.server, err = httpx.NewServer(a.dispatcher, httpx.ServerOptions{
		Engine:  cfg.Server.Engine,
		Metrics: promhttp.HandlerFor(a.metrics.Registry(), promhttp.HandlerOpts{}),
		Fast:    httpx.FastOptions{MaxRequestBodySize: 4 * int(cfg.Pipeline.BodyLimit.Int64())},
	})
	if err != nil {
		_ = a.db.Close()
		return nil, err
	}
	a.registerGauges()

	logger.LogConfigSummary("config_summary", []string{
		fmt.Sprintf("engine: %s", cfg.Server.Engine),
		fmt.Sprintf("pipeline_depth: %d", a.pipeline.Depth()),
		fmt.Sprintf("pipeline_timeout: %s", cfg.Pipeline.Timeout),
		fmt.Sprintf("body_limit: %s", humanize.IBytes(uint64(cfg.Pipeline.BodyLimit))),
		fmt.Sprintf("max_concurrency: %s", humanize.Comma(int64(cfg.Pipeline.MaxConcurrency))),
		fmt.Sprintf("audit_queue_capacity: %s", humanize.Comma(int64(cfg.Worker.QueueCapacity))),
		fmt.Sprintf("audit_workers: %d", cfg.Worker.Workers),
		fmt.Sprintf("drain_timeout: %s", cfg.Shutdown.DrainTimeout),
	})
	return a, nil
}

func (a *App) registerGauges() {
	a.metrics.Gauge("pipeserve_in_flight", "Invocations admitted and not yet finished.", func() float64 {
		return float64(a.coord.InFlight())
	})
	a.metrics.Gauge("pipeserve_sessions", "Live sessions.", func() float64 {
		return float64(a.sessions.Len())
	})
	a.metrics.Gauge("pipeserve_audit_queue_length", "Audit jobs waiting.", func() float64 {
		return float64(a.queue.Len())
	})
	a.metrics.Gauge("pipeserve_audit_dropped_total", "Audit jobs dropped because the queue was full.", func() float64 {
		return float64(a.queue.Dropped())
	})
	a.metrics.Gauge("pipeserve_shutdown_state", "0 accepting, 1 draining, 2 stopped.", func() float64 {
		return float64(a.coord.State())
	})
}

// Dispatcher is the transport-independent entry point.
func (a *App) Dispatcher() *httpx.Dispatcher { return a.dispatcher }

func (a *App) Coordinator() *shutdown.Coordinator { return a.coord }

// Listen binds the configured address. Run calls it when needed.
func (a *App) Listen() (net.Listener, error) {
	if a.ln != nil {
		return a.ln, nil
	}
	ln, err := net.Listen("tcp", a.eff.Config.Addr())
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", a.eff.Config.Addr(), err)
	}
	a.ln = ln
	return ln, nil
}

// Run starts background workers and the HTTP server, then blocks until ctx
// is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := a.Listen()
	if err != nil {
		return err
	}
	banner.Print(os.Stdout, a.eff, a.version)

	for _, w := range a.workers {
		a.coord.Spawn(w.Name(), w.Run)
	}
	a.coord.Spawn("session-sweeper", a.sweeper.Run)
	a.coord.Spawn("rate-limiter", a.limiter.Run)
	if a.sensor != nil {
		a.coord.Spawn("sensor", a.sensor.Run)
	}
	if err := a.coord.Subscribe(ctx.Done(), a.ShutdownBudget()); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Serve(ln) }()
	logger.Info("server_started", "addr", ln.Addr().String(), "engine", a.server.Engine(), "version", a.version)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

// ShutdownBudget bounds a whole teardown: the drain and worker timeouts plus
// a margin for closing the listener and storage.
func (a *App) ShutdownBudget() time.Duration {
	cfg := a.eff.Config.Shutdown
	return cfg.DrainTimeout.Duration() + cfg.WorkerTimeout.Duration() + 5*time.Second
}

// Shutdown drains in-flight requests, stops the listener and workers, then
// closes storage. Errors from each stage are joined.
func (a *App) Shutdown(ctx context.Context) error {
	logger.Info("shutdown_requested")
	start := time.Now()

	coordErr := make(chan error, 1)
	go func() { coordErr <- a.coord.Shutdown(ctx) }()

	var errs []error
	if a.ln != nil {
		if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_shutdown_failed", "error", err)
			errs = append(errs, err)
		}
	}
	if err := <-coordErr; err != nil {
		logger.Warn("coordinator_shutdown_incomplete", "error", err)
		errs = append(errs, err)
	}
	rep := a.coord.Report()

	if err := a.db.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
		errs = append(errs, err)
	}
	logger.Info("shutdown_complete",
		"elapsed", time.Since(start),
		"drained", rep.Drained,
		"forced", rep.Forced,
		"refused", rep.Refused,
		"stalled", rep.Stalled,
	)
	return errors.Join(errs...)
}
