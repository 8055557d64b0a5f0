package library

import (
	"context"
	"time"

	"github.com/hookcron/hookcron-go/pkg/payloads"
)

//go:generate go run go.uber.org/mock/mockgen -source=$GOFILE -destination=mock/dispatch.go -package=mock_library Dispatcher

type DispatchRequest struct {
	URL     string
	Method  string
	Headers []payloads.Header
	Body    string
	Timeout time.Duration
}

type DispatchResponse struct {
	StatusCode int
	Body       string
}

// Dispatcher performs one outbound HTTP call. It never retries.
type Dispatcher interface {
	Send(ctx context.Context, req DispatchRequest) (*DispatchResponse, error)
}
