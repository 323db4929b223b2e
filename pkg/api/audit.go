package api

import (
	"context"
	"net/http"

	"pipeserve/pkg/middleware"
	"pipeserve/pkg/pipeline"
	"pipeserve/pkg/store"
)

// listAudit shows the caller's own records; admin sessions see all.
func (s *Server) listAudit(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	_, v, err := current(req)
	if err != nil {
		return nil, err
	}
	limit := queryInt(req, "limit", 50, 500)
	all := v.Role == string(middleware.RoleAdmin)

	// over-read so filtering by principal still fills the page in most cases
	fetch := limit
	if !all {
		fetch = limit * 4
	}
	recs, err := s.DB.ListAudit(fetch)
	if err != nil {
		return storeFailure("list_audit", err)
	}
	out := make([]store.AuditRecord, 0, limit)
	for _, r := range recs {
		if !all && r.Principal != v.Principal {
			continue
		}
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return pipeline.JSON(http.StatusOK, map[string]any{"records": out}), nil
}
