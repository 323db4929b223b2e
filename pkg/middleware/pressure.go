package middleware

import (
	"context"
	"net/http"

	"pipeserve/pkg/pipeline"
)

// PressureGauge reports resource pressure. While pressured, cleared is
// closed once the pressure lifts.
type PressureGauge interface {
	Pressure() (pressured bool, cleared <-chan struct{})
}

type pressure struct {
	next  pipeline.Unit
	gauge PressureGauge
}

// Pressure holds requests back while gauge reports pressure. Requests that
// still meet pressure at invocation time are rejected with 503.
func Pressure(gauge PressureGauge) pipeline.Middleware {
	return func(next pipeline.Unit) pipeline.Unit {
		if gauge == nil {
			return next
		}
		return &pressure{next: next, gauge: gauge}
	}
}

func (p *pressure) Ready() pipeline.ReadyState {
	if on, cleared := p.gauge.Pressure(); on {
		return pipeline.Pending(cleared)
	}
	return p.next.Ready()
}

func (p *pressure) Invoke(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	if on, _ := p.gauge.Pressure(); on {
		r := reject(http.StatusServiceUnavailable, "pressure", "server under resource pressure")
		r.Header.Set("Retry-After", "1")
		return r, nil
	}
	return p.next.Invoke(ctx, req)
}
