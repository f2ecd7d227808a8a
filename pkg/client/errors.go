package client

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrConnection means the gateway could not be reached; the request was never sent
	ErrConnection = errors.New("connection failed")
	// ErrTimeout means no terminal frame arrived within the call timeout
	ErrTimeout = errors.New("call timed out")
)

// TransportError is an I/O failure after the connection was established
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying I/O error
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ToolError is an error frame returned by the gateway
type ToolError struct {
	Code    int
	Message string
	Data    interface{}
}

// Error implements the error interface
func (e *ToolError) Error() string {
	return fmt.Sprintf("tool error %d: %s", e.Code, e.Message)
}

// Kind returns the failure class the gateway attached to a tool error
// (validation, execution or timeout), or "" for protocol errors.
func (e *ToolError) Kind() string {
	data, ok := e.Data.(map[string]interface{})
	if !ok {
		return ""
	}
	kind, _ := data["kind"].(string)
	return kind
}

// classify maps a read or write failure to the client's error taxonomy
func classify(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctxErr
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}

	return &TransportError{Op: op, Err: err}
}
