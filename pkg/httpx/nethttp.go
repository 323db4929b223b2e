package httpx

import (
	"net/http"

	"github.com/gorilla/mux"

	"pipeserve/pkg/logger"
	"pipeserve/pkg/pipeline"
)

// NetHandler mounts the dispatcher on a gorilla/mux router. metrics may be
// nil.
func NetHandler(d *Dispatcher, metrics http.Handler) http.Handler {
	r := mux.NewRouter()
	if metrics != nil {
		r.Handle(MetricsPath, metrics)
	}
	r.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, hr *http.Request) {
		req, err := fromNet(hr)
		if err != nil {
			writeNet(w, pipeline.Errorf(http.StatusBadRequest, "read body: %v", err))
			return
		}
		writeNet(w, d.Dispatch(hr.Context(), req))
	})
	return r
}

func fromNet(hr *http.Request) (*pipeline.Request, error) {
	var body []byte
	if hr.Body != nil {
		b, err := readAll(hr)
		if err != nil {
			return nil, err
		}
		body = b
	}
	req := pipeline.NewRequest(hr.Method, hr.URL.Path, body)
	req.Header = hr.Header.Clone()
	req.Query = hr.URL.Query()
	req.RemoteAddr = hr.RemoteAddr
	return req, nil
}

func writeNet(w http.ResponseWriter, resp *pipeline.Response) {
	h := w.Header()
	for k, vs := range resp.Header {
		h[k] = append([]string(nil), vs...)
	}
	w.WriteHeader(resp.Status)
	if _, err := w.Write(resp.Body); err != nil {
		logger.Debug("response_write_failed", "error", err)
	}
}
