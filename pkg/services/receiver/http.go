package receiver

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/hookcron/hookcron-go/pkg/services/library"
)

const maxBodySize = 1 << 20

// HTTPHandler serves handler on a plain net/http endpoint.
func (s *Service) HTTPHandler(handler library.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Handle(r.Context(), &httpCallbacks{w: w, r: r}, handler)
	})
}

type httpCallbacks struct {
	w http.ResponseWriter
	r *http.Request
}

func (c *httpCallbacks) GetBody() (any, error) {
	return io.ReadAll(http.MaxBytesReader(c.w, c.r.Body, maxBodySize))
}

func (c *httpCallbacks) GetHeaders() map[string]string {
	out := make(map[string]string, len(c.r.Header))
	for k := range c.r.Header {
		out[k] = c.r.Header.Get(k)
	}
	return out
}

func (c *httpCallbacks) Send(v any) error {
	return c.write(http.StatusOK, nil, v)
}

func (c *httpCallbacks) SendError(status int, headers map[string]string, v any) error {
	return c.write(status, headers, v)
}

func (c *httpCallbacks) write(status int, headers map[string]string, v any) error {
	for k, val := range headers {
		c.w.Header().Set(k, val)
	}
	c.w.Header().Set("Content-Type", "application/json")
	c.w.WriteHeader(status)
	return json.NewEncoder(c.w).Encode(v)
}
