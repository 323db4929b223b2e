package api

import (
	"context"
	"net/http"
	"strings"

	"pipeserve/pkg/middleware"
	"pipeserve/pkg/pipeline"
)

type createSessionRequest struct {
	Principal string `json:"principal"`
}

func (s *Server) createSession(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	role := middleware.RoleFrom(req)
	if role == middleware.RoleNone {
		return pipeline.Errorf(http.StatusUnauthorized, "unauthorized"), nil
	}
	var body createSessionRequest
	if err := decode(req, &body); err != nil {
		return pipeline.Errorf(http.StatusBadRequest, "invalid body: %v", err), nil
	}
	principal := strings.TrimSpace(body.Principal)
	if principal == "" || strings.Contains(principal, ":") {
		return pipeline.Errorf(http.StatusBadRequest, "principal is required and must not contain ':'"), nil
	}

	h := s.Sessions.Create(principal, string(role))
	v, err := h.View()
	if err != nil {
		return nil, err
	}
	s.audit(KindSessionCreated, "", principal, nil)

	out := viewOf(v)
	out.Token = h.Key()
	return pipeline.JSON(http.StatusCreated, out), nil
}

func (s *Server) getSession(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	_, v, err := current(req)
	if err != nil {
		return nil, err
	}
	return pipeline.JSON(http.StatusOK, viewOf(v)), nil
}

func (s *Server) deleteSession(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	h, v, err := current(req)
	if err != nil {
		return nil, err
	}
	s.Sessions.RemoveHandle(h)
	s.audit(KindSessionClosed, "", v.Principal, nil)
	return pipeline.NewResponse(http.StatusNoContent, nil), nil
}
