package receiver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"

	"github.com/hookcron/hookcron-go/internal/common/core"
	"github.com/hookcron/hookcron-go/internal/common/logger"
	"github.com/hookcron/hookcron-go/pkg/services/library"
	"go.uber.org/zap"
)

const (
	KindInvalidOperation = "invalid_operation"
	KindInvalidBody      = "invalid_body"
	KindUnauthorized     = "unauthorized"
	KindHandlerError     = "handler_error"
	KindHandlerPanic     = "handler_panic"
)

type Service struct {
	codec library.Codec
	log   *logger.Logger
}

func New(codec library.Codec, log *logger.Logger) *Service {
	return &Service{
		codec: codec,
		log:   log.Named("receiver"),
	}
}

var _ library.Receiver = (*Service)(nil)

// Handle answers one incoming job request through cb. It always replies,
// either with Send or with SendError.
func (s *Service) Handle(ctx context.Context, cb library.Callbacks, handler library.HandlerFunc) {
	headers := canonical(cb.GetHeaders())

	op, err := ParseOperation(headers[core.HeaderOperation])
	if err != nil {
		s.reply(cb.SendError(http.StatusBadRequest, nil, core.ErrorBody{
			Kind:    KindInvalidOperation,
			Message: err.Error(),
		}))
		return
	}

	switch op.(type) {
	case PingOperation:
		s.reply(cb.Send(core.EmptyResult))
	case ExecuteOperation:
		s.execute(ctx, cb, headers, handler)
	default:
		panic(fmt.Sprintf("unhandled operation %T", op))
	}
}

func (s *Service) execute(ctx context.Context, cb library.Callbacks, headers map[string]string, handler library.HandlerFunc) {
	body, err := cb.GetBody()
	if err != nil {
		s.reply(cb.SendError(http.StatusBadRequest, nil, core.ErrorBody{
			Kind:    KindInvalidBody,
			Message: err.Error(),
		}))
		return
	}

	opened, err := s.codec.Open(body)
	if err != nil {
		status, kind := http.StatusBadRequest, KindInvalidBody
		if errors.Is(err, core.ErrSignatureMismatch) {
			status, kind = http.StatusUnauthorized, KindUnauthorized
		}
		s.reply(cb.SendError(status, nil, core.ErrorBody{Kind: kind, Message: err.Error()}))
		return
	}

	attempt, _ := strconv.Atoi(headers[core.HeaderAttempt])
	inv := library.Invocation{
		JobName:  headers[core.HeaderJob],
		Attempt:  attempt,
		Payload:  opened.Payload,
		Verified: opened.Verified,
	}
	log := s.log.WithJob(inv.JobName)

	if errBody := run(ctx, handler, inv); errBody != nil {
		log.Warn("job handler failed",
			zap.Int("attempt", inv.Attempt),
			zap.String("kind", errBody.Kind),
			zap.String("message", errBody.Message))
		s.reply(cb.SendError(http.StatusInternalServerError, nil, *errBody))
		return
	}

	log.Debug("job handled", zap.Int("attempt", inv.Attempt))
	s.reply(cb.Send(core.EmptyResult))
}

func run(ctx context.Context, handler library.HandlerFunc, inv library.Invocation) (errBody *core.ErrorBody) {
	defer func() {
		if rec := recover(); rec != nil {
			errBody = &core.ErrorBody{
				Kind:    KindHandlerPanic,
				Message: fmt.Sprint(rec),
				Detail:  string(debug.Stack()),
			}
		}
	}()

	if err := handler(ctx, inv); err != nil {
		return &core.ErrorBody{
			Kind:    KindHandlerError,
			Message: err.Error(),
			Detail:  fmt.Sprintf("%+v", err),
		}
	}
	return nil
}

func (s *Service) reply(err error) {
	if err != nil {
		s.log.Error("failed to send reply", zap.Error(err))
	}
}

func canonical(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[http.CanonicalHeaderKey(k)] = v
	}
	return out
}
