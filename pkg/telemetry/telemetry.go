// Package telemetry is the observability sink for the pipeline. Recording
// never blocks the request path.
package telemetry

import (
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Sink receives per-request measurements.
type Sink interface {
	RequestDone(method string, status int, elapsed time.Duration)
	Failed(kind string)
	Rejected(reason string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RequestDone(string, int, time.Duration) {}
func (Nop) Failed(string)                          {}
func (Nop) Rejected(string)                        {}

// Prometheus records into a registry.
type Prometheus struct {
	reg      *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	failures *prometheus.CounterVec
	rejects  *prometheus.CounterVec
}

// NewPrometheus builds a sink with its own registry, including the Go
// runtime and process collectors.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	p := &Prometheus{
		reg: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeserve_requests_total",
			Help: "Requests completed, by method and status code.",
		}, []string{"method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeserve_request_duration_seconds",
			Help:    "Time spent inside the pipeline.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeserve_infra_errors_total",
			Help: "Infrastructural errors raised out of the pipeline, by kind.",
		}, []string{"kind"}),
		rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeserve_rejections_total",
			Help: "Requests rejected by middleware, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		p.requests, p.latency, p.failures, p.rejects,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pipeserve_heap_alloc_bytes",
			Help: "Current heap allocation in bytes.",
		}, func() float64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return float64(stats.HeapAlloc)
		}),
	)
	return p
}

// Registry exposes the underlying registry for the /metrics handler.
func (p *Prometheus) Registry() *prometheus.Registry { return p.reg }

func (p *Prometheus) RequestDone(method string, status int, elapsed time.Duration) {
	p.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	p.latency.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (p *Prometheus) Failed(kind string) {
	p.failures.WithLabelValues(kind).Inc()
}

func (p *Prometheus) Rejected(reason string) {
	p.rejects.WithLabelValues(reason).Inc()
}

// Gauge registers a gauge whose value is read from fn at scrape time.
func (p *Prometheus) Gauge(name, help string, fn func() float64) {
	p.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}
