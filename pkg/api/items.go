package api

import (
	"context"
	"net/http"
	"strconv"

	"pipeserve/pkg/pipeline"
	"pipeserve/pkg/session"
)

func (s *Server) putItem(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	h, v, err := current(req)
	if err != nil {
		return nil, err
	}
	key := req.Param("key")
	if err := s.DB.Put(v.Principal, key, req.Body); err != nil {
		return storeFailure("put_item", err)
	}
	err = h.WithLock(func(sess *session.Session) error {
		if sess.Values == nil {
			sess.Values = map[string]string{}
		}
		sess.Values["last_item"] = key
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit(KindItemPut, key, v.Principal, []byte(strconv.Itoa(len(req.Body))))
	return pipeline.JSON(http.StatusCreated, map[string]any{"key": key, "size": len(req.Body)}), nil
}

func (s *Server) getItem(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	_, v, err := current(req)
	if err != nil {
		return nil, err
	}
	val, err := s.DB.Get(v.Principal, req.Param("key"))
	if err != nil {
		return storeFailure("get_item", err)
	}
	resp := pipeline.NewResponse(http.StatusOK, val)
	resp.Header.Set("Content-Type", "application/octet-stream")
	return resp, nil
}

func (s *Server) deleteItem(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	_, v, err := current(req)
	if err != nil {
		return nil, err
	}
	key := req.Param("key")
	if err := s.DB.Delete(v.Principal, key); err != nil {
		return storeFailure("delete_item", err)
	}
	s.audit(KindItemDeleted, key, v.Principal, nil)
	return pipeline.NewResponse(http.StatusNoContent, nil), nil
}

func (s *Server) listItems(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	_, v, err := current(req)
	if err != nil {
		return nil, err
	}
	items, err := s.DB.List(v.Principal, queryInt(req, "limit", 100, 1000))
	if err != nil {
		return storeFailure("list_items", err)
	}
	keys := make([]string, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.Key)
	}
	return pipeline.JSON(http.StatusOK, map[string]any{"keys": keys}), nil
}
