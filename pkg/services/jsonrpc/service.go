package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/hookcron/hookcron-go/internal/common/core"
	"github.com/hookcron/hookcron-go/internal/common/logger"
	"github.com/hookcron/hookcron-go/pkg/services/library"
	"github.com/sourcegraph/jsonrpc2"
	wsstream "github.com/sourcegraph/jsonrpc2/websocket"
	"go.uber.org/zap"
)

// Application error codes, outside the range reserved by JSON-RPC.
const (
	CodeJobNotFound   = -32001
	CodeInvalidJob    = -32002
	CodePayloadOpen   = -32003
	CodeInternalError = jsonrpc2.CodeInternalError
)

// Server exposes the jobs API as JSON-RPC 2.0 over a WebSocket.
type Server struct {
	jobs     library.Jobs
	upgrader websocket.Upgrader
	log      *logger.Logger
}

func NewServer(jobs library.Jobs, log *logger.Logger) *Server {
	return &Server{
		jobs: jobs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		log: log.Named("jsonrpc"),
	}
}

// ServeHTTP upgrades the request and serves calls until the peer hangs up.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	rpc := jsonrpc2.NewConn(r.Context(), wsstream.NewObjectStream(conn), jsonrpc2.HandlerWithError(s.handle))
	s.log.Debug("admin client connected", zap.String("remote", r.RemoteAddr))
	<-rpc.DisconnectNotify()
	s.log.Debug("admin client disconnected", zap.String("remote", r.RemoteAddr))
}

func (s *Server) handle(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	op, err := ParseOperation(req.Method, req.Params)
	if err != nil {
		s.log.Debug("rejected call", zap.String("method", req.Method), zap.Error(err))
		return nil, err
	}

	result, err := s.Execute(ctx, op)
	if err != nil {
		s.log.Warn("call failed",
			zap.String("method", req.Method),
			zap.String("job", op.jobName()),
			zap.Error(err))
		return nil, toRPCError(err)
	}
	return result, nil
}

// Execute runs a decoded operation against the jobs API.
func (s *Server) Execute(ctx context.Context, op Operation) (any, error) {
	switch op := op.(type) {
	case *EnqueueOperation:
		return s.jobs.Enqueue(ctx, op.Name, op.Payload, op.Options)
	case *UpdateOperation:
		return s.jobs.Update(ctx, op.Name, op.Options)
	case *GetOperation:
		return s.jobs.Get(ctx, op.Name)
	case *DeleteOperation:
		if err := s.jobs.Delete(ctx, op.Name); err != nil {
			return nil, err
		}
		return core.EmptyResult, nil
	case *PromoteOperation:
		return s.jobs.Promote(ctx, op.Name)
	case *RunsOperation:
		return s.jobs.Runs(ctx, op.Name, op.Limit)
	default:
		return nil, fmt.Errorf("unhandled operation %T", op)
	}
}

func toRPCError(err error) *jsonrpc2.Error {
	kind := core.ErrorKind(err)
	code := int64(CodeInternalError)
	switch kind {
	case "not_found":
		code = CodeJobNotFound
	case "invalid_job":
		code = CodeInvalidJob
	case "signature_mismatch", "envelope":
		code = CodePayloadOpen
	}

	data := json.RawMessage(strconv.Quote(kind))
	return &jsonrpc2.Error{Code: code, Message: err.Error(), Data: &data}
}
