package receiver

import (
	"fmt"
	"strings"
)

// Operation is what the caller asks the receiver to do. The set is closed:
// only the types in this file implement it.
type Operation interface {
	operation()
}

// ExecuteOperation runs the job handler with the opened payload.
type ExecuteOperation struct{}

// PingOperation checks that the receiver is reachable and configured.
type PingOperation struct{}

func (ExecuteOperation) operation() {}
func (PingOperation) operation()    {}

// ParseOperation reads the operation header. A missing header means execute,
// which is what the scheduler sends.
func ParseOperation(value string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "execute":
		return ExecuteOperation{}, nil
	case "ping":
		return PingOperation{}, nil
	default:
		return nil, fmt.Errorf("unknown operation %q", value)
	}
}
