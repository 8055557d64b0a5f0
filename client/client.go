package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hookcron/hookcron-go/internal/common/core"
	"github.com/hookcron/hookcron-go/pkg/config"
	"github.com/hookcron/hookcron-go/pkg/payloads"
)

// ErrInvalidRequest is returned when the request could not be built, for
// example because of a malformed URL or method.
var ErrInvalidRequest = errors.New("invalid request")

type Client struct {
	// HttpClient is exported so callers can swap the transport in tests.
	HttpClient *http.Client
	UserAgent  string
	// MaxResponseRead bounds how much of a response body is kept.
	MaxResponseRead int64
}

// Request is one outbound callback. Body is sent verbatim.
type Request struct {
	URL     string
	Method  string
	Headers []payloads.Header
	Body    string
}

type Response struct {
	StatusCode int
	Body       string
}

func New(config *config.Config) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: config.InsecureSkipVerify,
	}

	// No client level timeout, each call carries its own deadline.
	return &Client{
		HttpClient:      &http.Client{Transport: transport},
		UserAgent:       core.UserAgent,
		MaxResponseRead: core.MaxResponseRead,
	}
}

// NewRequest assembles the http.Request. Stored headers are applied first,
// then the fixed User-Agent and Content-Type which always win.
func (c *Client) NewRequest(ctx context.Context, r Request) (*http.Request, error) {
	method := strings.ToUpper(strings.TrimSpace(r.Method))
	if method == "" {
		method = core.DefaultMethod
	}

	var body io.Reader
	if r.Body != "" {
		body = strings.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, core.ErrFailedToMakeRequest.WithArgs(err))
	}

	for _, h := range r.Headers {
		if h.Name == "" {
			continue
		}
		req.Header.Set(h.Name, h.Value)
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Content-Type", "application/json")

	return req, nil
}

// Do sends the request and reads a bounded response. A non-2xx answer is
// returned without error.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	req, err := c.NewRequest(ctx, r)
	if err != nil {
		return nil, err
	}

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	limit := c.MaxResponseRead
	if limit <= 0 {
		limit = core.MaxResponseRead
	}
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil && !errors.Is(err, io.EOF) {
		return &Response{StatusCode: resp.StatusCode}, core.ErrFailedToReadBody.WithArgs(err)
	}
	// Drain what is left so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, limit))

	return &Response{StatusCode: resp.StatusCode, Body: string(bodyBytes)}, nil
}

// Success reports whether the status is in the 2xx range.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) String() string {
	return fmt.Sprintf("%d %s", r.StatusCode, core.Truncate(r.Body, 64))
}
