package library

import (
	"context"
	"encoding/json"
)

// Callbacks is what a hosting framework supplies so a receiver can read the
// incoming job request and reply to it.
type Callbacks interface {
	GetBody() (any, error)
	GetHeaders() map[string]string
	Send(v any) error
	SendError(status int, headers map[string]string, v any) error
}

// Invocation is what a job handler sees on the receiving side.
type Invocation struct {
	JobName  string
	Attempt  int
	Payload  json.RawMessage
	Verified bool
}

type HandlerFunc func(ctx context.Context, inv Invocation) error

type Receiver interface {
	Handle(ctx context.Context, cb Callbacks, handler HandlerFunc)
}
