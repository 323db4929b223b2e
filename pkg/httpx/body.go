package httpx

import (
	"io"
	"net/http"

	"github.com/valyala/bytebufferpool"
)

// readAll drains the request body through a pooled buffer.
func readAll(hr *http.Request) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if _, err := io.Copy(buf, hr.Body); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.B...), nil
}
