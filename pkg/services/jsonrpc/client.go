package jsonrpc

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/hookcron/hookcron-go/internal/common/logger"
	"github.com/hookcron/hookcron-go/pkg/services/library"
	"github.com/sourcegraph/jsonrpc2"
	wsstream "github.com/sourcegraph/jsonrpc2/websocket"
	"go.uber.org/zap"
)

type Client struct {
	conn *jsonrpc2.Conn
	log  *logger.Logger
}

// Dial opens an admin connection. apiKey is sent as a bearer token when set.
func Dial(ctx context.Context, url, apiKey string, log *logger.Logger) (library.JSONRPC, error) {
	header := http.Header{}
	if apiKey != "" {
		header.Set("Authorization", "Bearer "+apiKey)
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s (status %d): %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	// The server never calls back, so any incoming request is refused.
	refuse := jsonrpc2.HandlerWithError(func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (any, error) {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "client accepts no calls"}
	})

	return &Client{
		conn: jsonrpc2.NewConn(context.Background(), wsstream.NewObjectStream(ws), refuse),
		log:  log.Named("jsonrpc-client"),
	}, nil
}

func (c *Client) Call(ctx context.Context, method string, params any, result any, logContext ...zap.Field) error {
	c.log.Debug("Making JSON-RPC call",
		append([]zap.Field{
			zap.String("method", method),
			zap.Any("params", params),
		}, logContext...)...)

	if err := c.conn.Call(ctx, method, params, result); err != nil {
		c.log.Error("JSON-RPC call failed",
			append([]zap.Field{
				zap.String("method", method),
				zap.Error(err),
			}, logContext...)...)
		return fmt.Errorf("JSON-RPC call to %s failed: %w", method, err)
	}

	c.log.Debug("JSON-RPC call successful",
		append([]zap.Field{
			zap.String("method", method),
		}, logContext...)...)
	return nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
