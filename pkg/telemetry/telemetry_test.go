package telemetry

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecords(t *testing.T) {
	p := NewPrometheus()
	p.RequestDone(http.MethodGet, 200, 10*time.Millisecond)
	p.RequestDone(http.MethodGet, 200, 20*time.Millisecond)
	p.RequestDone(http.MethodPost, 503, time.Millisecond)
	p.Failed("shutting down")
	p.Rejected("rate_limited")

	assert.Equal(t, 2.0, testutil.ToFloat64(p.requests.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.requests.WithLabelValues("POST", "503")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.failures.WithLabelValues("shutting down")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.rejects.WithLabelValues("rate_limited")))
}

func TestGaugeFunc(t *testing.T) {
	p := NewPrometheus()
	v := 3.0
	p.Gauge("pipeserve_test_gauge", "test gauge", func() float64 { return v })
	mfs, err := p.Registry().Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "pipeserve_test_gauge" {
			found = true
			assert.Equal(t, 3.0, mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found)
}

func TestNopSink(t *testing.T) {
	var s Sink = Nop{}
	s.RequestDone("GET", 200, time.Second)
	s.Failed("x")
	s.Rejected("y")
}
