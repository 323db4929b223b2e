package httpx

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"pipeserve/pkg/pipeline"
	"pipeserve/pkg/shutdown"
)

func echo() pipeline.Unit {
	return pipeline.HandlerFunc(func(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
		return pipeline.JSON(http.StatusOK, map[string]any{
			"method": req.Method,
			"path":   req.Path,
			"q":      req.Query.Get("q"),
			"body":   string(req.Body),
			"hdr":    req.Header.Get("X-Test"),
		}), nil
	})
}

func dispatcher(u pipeline.Unit) *Dispatcher {
	return &Dispatcher{
		Pipeline: pipeline.Compose(u),
		Coord:    shutdown.New(shutdown.Options{DrainTimeout: 100 * time.Millisecond}),
	}
}

var metricsStub = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("# metrics\n"))
})

func fastClient(t *testing.T, d *Dispatcher) *fasthttp.Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv, err := NewServer(d, ServerOptions{Engine: EngineFastHTTP, Metrics: metricsStub})
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &fasthttp.Client{Dial: func(addr string) (net.Conn, error) { return ln.Dial() }}
}

func TestFastHTTPRoundTrip(t *testing.T) {
	c := fastClient(t, dispatcher(echo()))

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI("http://test/v1/echo?q=42")
	req.Header.SetMethod(http.MethodPost)
	req.Header.Set("X-Test", "yes")
	req.SetBodyString("hello")

	require.NoError(t, c.Do(req, resp))
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.JSONEq(t, `{"method":"POST","path":"/v1/echo","q":"42","body":"hello","hdr":"yes"}`, string(resp.Body()))
	assert.Equal(t, "application/json", string(resp.Header.Peek("Content-Type")))
}

func TestFastHTTPMetricsBypassPipeline(t *testing.T) {
	called := false
	c := fastClient(t, dispatcher(pipeline.HandlerFunc(func(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
		called = true
		return pipeline.Text(http.StatusOK, "x"), nil
	})))
	status, body, err := c.Get(nil, "http://test/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "# metrics\n", string(body))
	assert.False(t, called)
}

func TestNetHTTPRoundTrip(t *testing.T) {
	h := NetHandler(dispatcher(echo()), metricsStub)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/v1/echo?q=a", strings.NewReader("body"))
	req.Header.Set("X-Test", "net")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"method":"PUT","path":"/v1/echo","q":"a","body":"body","hdr":"net"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "# metrics\n", rec.Body.String())
}

func TestDispatchRefusedWhileDraining(t *testing.T) {
	d := dispatcher(echo())
	require.NoError(t, d.Coord.Shutdown(context.Background()))

	resp := d.Dispatch(context.Background(), pipeline.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.JSONEq(t, `{"error":"unavailable"}`, string(resp.Body))
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func TestDispatchForcedOnDrainTimeout(t *testing.T) {
	entered := make(chan struct{})
	stuck := pipeline.HandlerFunc(func(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
		close(entered)
		<-ctx.Done()
		time.Sleep(time.Second)
		return pipeline.Text(http.StatusOK, "late"), nil
	})
	d := dispatcher(stuck)

	got := make(chan *pipeline.Response, 1)
	go func() { got <- d.Dispatch(context.Background(), pipeline.NewRequest(http.MethodGet, "/", nil)) }()
	<-entered

	err := d.Coord.Shutdown(context.Background())
	require.ErrorIs(t, err, shutdown.ErrDrainTimeout)

	select {
	case resp := <-got:
		assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
		assert.JSONEq(t, `{"error":"shutting down"}`, string(resp.Body))
	case <-time.After(500 * time.Millisecond):
		t.Fatal("forced request did not complete")
	}
}

func TestDispatchReadinessDeadline(t *testing.T) {
	never := &pendingUnit{wake: make(chan struct{})}
	d := dispatcher(never)
	d.Deadline = 30 * time.Millisecond

	resp := d.Dispatch(context.Background(), pipeline.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusGatewayTimeout, resp.Status)
	assert.Equal(t, int64(0), d.Coord.InFlight())
}

type pendingUnit struct{ wake chan struct{} }

func (u *pendingUnit) Ready() pipeline.ReadyState { return pipeline.Pending(u.wake) }
func (u *pendingUnit) Invoke(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	return pipeline.Text(http.StatusOK, "ok"), nil
}

func TestUnknownEngine(t *testing.T) {
	_, err := NewServer(dispatcher(echo()), ServerOptions{Engine: "grpc"})
	assert.Error(t, err)
}
