// Package api holds the business handlers served behind the pipeline.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"pipeserve/pkg/logger"
	"pipeserve/pkg/pipeline"
	"pipeserve/pkg/router"
	"pipeserve/pkg/session"
	"pipeserve/pkg/shutdown"
	"pipeserve/pkg/store"
	"pipeserve/pkg/worker"
)

// Audit job kinds.
const (
	KindSessionCreated = "session_created"
	KindSessionClosed  = "session_closed"
	KindItemPut        = "item_put"
	KindItemDeleted    = "item_deleted"
)

type Server struct {
	DB       *store.DB
	Sessions *session.Store
	Queue    *worker.Queue
	Coord    *shutdown.Coordinator
	Version  string
}

// Public lists the routes served without a session.
var Public = []string{"/healthz", "/readyz", "/v1/sessions"}

// Routes registers every handler on r.
func (s *Server) Routes(r *router.Router) {
	r.GET("/healthz", s.health)
	r.GET("/readyz", s.ready)

	r.POST("/v1/sessions", s.createSession)
	r.GET("/v1/session", s.getSession)
	r.DELETE("/v1/session", s.deleteSession)

	r.GET("/v1/items", s.listItems)
	r.PUT("/v1/items/{key}", s.putItem)
	r.GET("/v1/items/{key}", s.getItem)
	r.DELETE("/v1/items/{key}", s.deleteItem)

	r.GET("/v1/audit", s.listAudit)
}

func (s *Server) health(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	return pipeline.JSON(http.StatusOK, map[string]string{"status": "ok", "version": s.Version}), nil
}

func (s *Server) ready(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	state := shutdown.Accepting
	if s.Coord != nil {
		state = s.Coord.State()
	}
	body := map[string]any{
		"state":     state.String(),
		"store":     s.DB != nil && s.DB.Ready(),
		"sessions":  s.Sessions.Len(),
		"queue_len": s.Queue.Len(),
	}
	if state != shutdown.Accepting || s.DB == nil || !s.DB.Ready() {
		return pipeline.JSON(http.StatusServiceUnavailable, body), nil
	}
	return pipeline.JSON(http.StatusOK, body), nil
}

// audit enqueues a job for the audit worker without waiting for it.
func (s *Server) audit(kind, key, principal string, payload []byte) {
	err := s.Queue.Enqueue(worker.Job{Kind: kind, Key: key, Principal: principal, Payload: payload})
	if err != nil {
		logger.Warn("audit_enqueue_failed", "kind", kind, "key", key, "error", err)
	}
}

// RecordAudit is the audit worker handler.
func (s *Server) RecordAudit(j worker.Job) error {
	_, err := s.DB.AppendAudit(store.AuditRecord{
		Kind:      j.Kind,
		Key:       j.Key,
		Principal: j.Principal,
		Detail:    string(j.Payload),
		At:        j.At,
	})
	return err
}

// current returns the session attached by the session middleware.
func current(req *pipeline.Request) (*session.Handle, session.Session, error) {
	h, ok := session.FromRequest(req)
	if !ok {
		return nil, session.Session{}, pipeline.E(pipeline.KindInternal, "session", errors.New("no session attached"))
	}
	v, err := h.View()
	return h, v, err
}

// storeFailure maps store errors onto rejections or infrastructural errors.
func storeFailure(op string, err error) (*pipeline.Response, error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return pipeline.Errorf(http.StatusNotFound, "not found"), nil
	case errors.Is(err, store.ErrBadKey):
		return pipeline.Errorf(http.StatusBadRequest, "invalid key"), nil
	case errors.Is(err, store.ErrClosed):
		return nil, pipeline.E(pipeline.KindUnavailable, op, err)
	default:
		return nil, pipeline.E(pipeline.KindInternal, op, err)
	}
}

func queryInt(req *pipeline.Request, name string, def, max int) int {
	v := req.Query.Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

type sessionView struct {
	Token     string            `json:"token,omitempty"`
	Principal string            `json:"principal"`
	Role      string            `json:"role"`
	CreatedAt time.Time         `json:"created_at"`
	LastSeen  time.Time         `json:"last_seen"`
	Hits      int64             `json:"hits"`
	Values    map[string]string `json:"values,omitempty"`
}

func viewOf(v session.Session) sessionView {
	return sessionView{
		Principal: v.Principal,
		Role:      v.Role,
		CreatedAt: v.CreatedAt,
		LastSeen:  v.LastSeen,
		Hits:      v.Hits,
		Values:    v.Values,
	}
}

func decode(req *pipeline.Request, dst any) error {
	if len(req.Body) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(req.Body, dst)
}
