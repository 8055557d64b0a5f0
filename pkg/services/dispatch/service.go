package dispatch

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/hookcron/hookcron-go/client"
	"github.com/hookcron/hookcron-go/internal/common/core"
	"github.com/hookcron/hookcron-go/internal/common/logger"
	"github.com/hookcron/hookcron-go/pkg/services/library"
	"go.uber.org/zap"
)

type Service struct {
	client  *client.Client
	timeout time.Duration
	log     *logger.Logger
}

// New returns a Dispatcher. timeout applies when a request carries none.
func New(client *client.Client, timeout time.Duration, log *logger.Logger) library.Dispatcher {
	if timeout <= 0 {
		timeout = core.DefaultDispatchTimeout
	}
	return &Service{
		client:  client,
		timeout: timeout,
		log:     log.Named("dispatch"),
	}
}

// Send performs exactly one request. Failures are returned as
// *core.DispatchError wrapping ErrDispatchTimeout or ErrDispatchTransport.
// A non-2xx response is returned as is, with a nil error.
func (s *Service) Send(ctx context.Context, req library.DispatchRequest) (*library.DispatchResponse, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := s.client.Do(ctx, client.Request{
		URL:     req.URL,
		Method:  req.Method,
		Headers: req.Headers,
		Body:    req.Body,
	})
	if err != nil {
		dispatchErr := classify(ctx, err)
		s.log.Debug("dispatch failed",
			zap.String("url", req.URL),
			zap.Int("status", dispatchErr.StatusCode),
			zap.Error(err))
		return nil, dispatchErr
	}

	s.log.Debug("dispatch done",
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode))

	return &library.DispatchResponse{
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
	}, nil
}

func classify(ctx context.Context, err error) *core.DispatchError {
	if errors.Is(err, client.ErrInvalidRequest) {
		return &core.DispatchError{
			Kind:       core.ErrDispatchTransport,
			StatusCode: core.StatusInvalidRequest,
			Detail:     err.Error(),
		}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return &core.DispatchError{
			Kind:       core.ErrDispatchTimeout,
			StatusCode: core.StatusTimeout,
			Detail:     err.Error(),
		}
	}

	return &core.DispatchError{
		Kind:       core.ErrDispatchTransport,
		StatusCode: core.StatusTransportError,
		Detail:     err.Error(),
	}
}
