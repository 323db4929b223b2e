package app

import (
	"net/http"

	"pipeserve/pkg/api"
	"pipeserve/pkg/middleware"
	"pipeserve/pkg/pipeline"
	"pipeserve/pkg/router"
)

// buildPipeline composes the request path. The last middleware listed is
// the outermost one.
func (a *App) buildPipeline() *pipeline.Pipeline {
	cfg := a.eff.Config

	r := router.New()
	a.api.Routes(r)

	public := middleware.Paths(api.Public...)
	a.limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
		RPS:   cfg.Security.RateLimit.RPS,
		Burst: cfg.Security.RateLimit.Burst,
	})
	var pressure pipeline.Middleware
	if a.sensor != nil {
		pressure = middleware.Pressure(a.sensor)
	}

	return pipeline.Compose(r,
		middleware.Sessions(middleware.SessionConfig{
			Store:  a.sessions,
			Header: cfg.Session.Header,
			Public: public,
			TTL:    cfg.Session.TTL.Duration(),
			Policy: cfg.Session.PoisonPolicy,
		}),
		middleware.APIKeys(middleware.APIKeyConfig{
			Backend: cfg.Security.APIKeys.Backend,
			Admin:   cfg.Security.APIKeys.Admin,
			Require: middleware.Route(http.MethodPost, "/v1/sessions"),
		}),
		middleware.BodyLimit(cfg.Pipeline.BodyLimit.Int64()),
		middleware.Timeout(cfg.Pipeline.Timeout.Duration()),
		a.limiter.Middleware(),
		middleware.ConcurrencyLimit(cfg.Pipeline.MaxConcurrency),
		pressure,
		middleware.Recover(),
		middleware.Metrics(a.metrics, cfg.Telemetry.SlowThreshold.Duration()),
		middleware.Logging(),
		middleware.RequestID(),
		middleware.Errors(),
	)
}
