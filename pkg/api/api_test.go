package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeserve/pkg/middleware"
	"pipeserve/pkg/pipeline"
	"pipeserve/pkg/router"
	"pipeserve/pkg/session"
	"pipeserve/pkg/shutdown"
	"pipeserve/pkg/store"
	"pipeserve/pkg/worker"
)

type fixture struct {
	srv *Server
	p   *pipeline.Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	srv := &Server{
		DB:       db,
		Sessions: session.NewStore(),
		Queue:    worker.NewQueue(16),
		Coord:    shutdown.New(shutdown.Options{}),
		Version:  "test",
	}
	r := router.New()
	srv.Routes(r)
	p := pipeline.Compose(r,
		middleware.Sessions(middleware.SessionConfig{
			Store:  srv.Sessions,
			Public: middleware.Paths(Public...),
		}),
		middleware.APIKeys(middleware.APIKeyConfig{
			Backend: []string{"bk"},
			Admin:   []string{"ak"},
			Require: middleware.Route(http.MethodPost, "/v1/sessions"),
		}),
	)
	return &fixture{srv: srv, p: p}
}

func (f *fixture) do(t *testing.T, method, path, token string, body []byte, hdr map[string]string) *pipeline.Response {
	t.Helper()
	path, rawQuery, _ := strings.Cut(path, "?")
	req := pipeline.NewRequest(method, path, body)
	q, err := url.ParseQuery(rawQuery)
	require.NoError(t, err)
	req.Query = q
	if token != "" {
		req.Header.Set("X-Session-Token", token)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := f.p.Serve(context.Background(), req)
	require.NoError(t, err)
	return resp
}

func (f *fixture) login(t *testing.T, key, principal string) string {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/v1/sessions", "", []byte(`{"principal":"`+principal+`"}`), map[string]string{"X-API-Key": key})
	require.Equal(t, http.StatusCreated, resp.Status, string(resp.Body))
	var out sessionView
	require.NoError(t, json.Unmarshal(resp.Body, &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

// drainAudit runs the audit handler over everything queued so far.
func (f *fixture) drainAudit(t *testing.T) {
	t.Helper()
	for {
		j, ok := f.srv.Queue.Dequeue()
		if !ok {
			return
		}
		require.NoError(t, f.srv.RecordAudit(j))
	}
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "", nil, nil).Status)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", "", nil, nil).Status)

	require.NoError(t, f.srv.Coord.Shutdown(context.Background()))
	resp := f.do(t, http.MethodGet, "/readyz", "", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Contains(t, string(resp.Body), `"state":"stopped"`)
}

func TestLoginRequiresKey(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/v1/sessions", "", []byte(`{"principal":"alice"}`), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)

	resp = f.do(t, http.MethodPost, "/v1/sessions", "", []byte(`{}`), map[string]string{"X-API-Key": "bk"})
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	resp = f.do(t, http.MethodPost, "/v1/sessions", "", []byte(`{"principal":"a:b"}`), map[string]string{"X-API-Key": "bk"})
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	tok := f.login(t, "bk", "alice")
	assert.Equal(t, 1, f.srv.Sessions.Len())

	resp := f.do(t, http.MethodGet, "/v1/session", tok, nil, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var v sessionView
	require.NoError(t, json.Unmarshal(resp.Body, &v))
	assert.Equal(t, "alice", v.Principal)
	assert.Equal(t, "backend", v.Role)
	assert.Equal(t, int64(1), v.Hits)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/v1/session", tok, nil, nil).Status)
	assert.Equal(t, 0, f.srv.Sessions.Len())
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/v1/session", tok, nil, nil).Status)
}

func TestItemsRoundTrip(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, "bk", "alice")
	bob := f.login(t, "bk", "bob")

	resp := f.do(t, http.MethodPut, "/v1/items/color", alice, []byte("blue"), nil)
	require.Equal(t, http.StatusCreated, resp.Status, string(resp.Body))

	resp = f.do(t, http.MethodGet, "/v1/items/color", alice, nil, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "blue", string(resp.Body))

	// namespaces are per principal
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/items/color", bob, nil, nil).Status)

	resp = f.do(t, http.MethodGet, "/v1/items", alice, nil, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.JSONEq(t, `{"keys":["color"]}`, string(resp.Body))

	h, ok := f.srv.Sessions.Lookup(alice)
	require.True(t, ok)
	sv, err := h.View()
	require.NoError(t, err)
	assert.Equal(t, "color", sv.Values["last_item"])

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/v1/items/color", alice, nil, nil).Status)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/v1/items/color", alice, nil, nil).Status)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodPost, "/v1/items/color", alice, nil, nil).Status)
}

func TestAuditVisibility(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, "bk", "alice")
	admin := f.login(t, "ak", "root")
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPut, "/v1/items/k", alice, []byte("v"), nil).Status)
	f.drainAudit(t)

	var out struct {
		Records []store.AuditRecord `json:"records"`
	}
	resp := f.do(t, http.MethodGet, "/v1/audit", alice, nil, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	require.NoError(t, json.Unmarshal(resp.Body, &out))
	require.Len(t, out.Records, 2)
	assert.Equal(t, KindItemPut, out.Records[0].Kind)
	assert.Equal(t, KindSessionCreated, out.Records[1].Kind)
	for _, r := range out.Records {
		assert.Equal(t, "alice", r.Principal)
	}

	resp = f.do(t, http.MethodGet, "/v1/audit?limit=10", admin, nil, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	out.Records = nil
	require.NoError(t, json.Unmarshal(resp.Body, &out))
	assert.Len(t, out.Records, 3)
}

func TestAuditQueueFullDoesNotFailRequest(t *testing.T) {
	f := newFixture(t)
	f.srv.Queue = worker.NewQueue(1)
	tok := f.login(t, "bk", "alice")
	for i := 0; i < 3; i++ {
		resp := f.do(t, http.MethodPut, "/v1/items/k", tok, []byte("v"), nil)
		assert.Equal(t, http.StatusCreated, resp.Status)
	}
	assert.Equal(t, 1, f.srv.Queue.Len())
	assert.Equal(t, uint64(3), f.srv.Queue.Dropped())
}

func TestStoreClosedIsInfrastructural(t *testing.T) {
	f := newFixture(t)
	tok := f.login(t, "bk", "alice")
	require.NoError(t, f.srv.DB.Close())

	req := pipeline.NewRequest(http.MethodGet, "/v1/items/k", nil)
	req.Header.Set("X-Session-Token", tok)
	_, err := f.p.Serve(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, pipeline.KindUnavailable, pipeline.KindOf(err))
}
