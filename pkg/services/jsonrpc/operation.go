package jsonrpc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hookcron/hookcron-go/pkg/payloads"
	"github.com/sourcegraph/jsonrpc2"
)

const (
	MethodEnqueue = "job.enqueue"
	MethodUpdate  = "job.update"
	MethodGet     = "job.get"
	MethodDelete  = "job.delete"
	MethodPromote = "job.promote"
	MethodRuns    = "job.runs"
)

// Operation is a decoded admin request. Only the types below implement it,
// and the server matches on all of them.
type Operation interface {
	jobName() string
}

type EnqueueOperation struct {
	Name    string                  `json:"name"`
	Payload json.RawMessage         `json:"payload"`
	Options payloads.EnqueueOptions `json:"options"`
}

type UpdateOperation struct {
	Name    string                 `json:"name"`
	Options payloads.UpdateOptions `json:"options"`
}

type GetOperation struct {
	Name string `json:"name"`
}

type DeleteOperation struct {
	Name string `json:"name"`
}

type PromoteOperation struct {
	Name string `json:"name"`
}

type RunsOperation struct {
	Name  string `json:"name"`
	Limit int    `json:"limit,omitempty"`
}

func (o EnqueueOperation) jobName() string { return o.Name }
func (o UpdateOperation) jobName() string  { return o.Name }
func (o GetOperation) jobName() string     { return o.Name }
func (o DeleteOperation) jobName() string  { return o.Name }
func (o PromoteOperation) jobName() string { return o.Name }
func (o RunsOperation) jobName() string    { return o.Name }

// ParseOperation turns a method string and its params into an Operation.
// Errors are *jsonrpc2.Error values ready to be sent back.
func ParseOperation(method string, params *json.RawMessage) (Operation, error) {
	var op Operation
	switch method {
	case MethodEnqueue:
		op = &EnqueueOperation{}
	case MethodUpdate:
		op = &UpdateOperation{}
	case MethodGet:
		op = &GetOperation{}
	case MethodDelete:
		op = &DeleteOperation{}
	case MethodPromote:
		op = &PromoteOperation{}
	case MethodRuns:
		op = &RunsOperation{}
	default:
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: fmt.Sprintf("method not found: %s", method),
		}
	}

	if params == nil {
		return nil, invalidParams("params are required")
	}
	if err := json.Unmarshal(*params, op); err != nil {
		return nil, invalidParams(err.Error())
	}
	if strings.TrimSpace(op.jobName()) == "" {
		return nil, invalidParams("name is required")
	}
	return op, nil
}

func invalidParams(msg string) *jsonrpc2.Error {
	return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: msg}
}
