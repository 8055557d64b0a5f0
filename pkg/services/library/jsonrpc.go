package library

import (
	"context"

	"go.uber.org/zap"
)

// JSONRPC is a client connection to the admin endpoint.
type JSONRPC interface {
	Call(ctx context.Context, method string, params any, result any, logContext ...zap.Field) error
	Close() error
}
