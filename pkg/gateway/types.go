package gateway

import (
	"encoding/json"
	"time"

	"github.com/harun/toolgate/pkg/tool"
)

// Version is the only protocol version tag accepted on requests
const Version = "2.0"

// Stream frame types
const (
	FrameToken = "token"
	FrameEnd   = "end"
)

// Request is one tool invocation. Method names the tool; Stream asks for
// incremental delivery.
type Request struct {
	JSONRPC  string                 `json:"jsonrpc"`
	Method   string                 `json:"method"`
	Params   map[string]interface{} `json:"params,omitempty"`
	ID       json.RawMessage        `json:"id,omitempty"`
	Metadata tool.CallMetadata      `json:"metadata"`
	Stream   bool                   `json:"stream,omitempty"`
}

// Response is the single terminal frame of a sync call. It also carries
// errors raised before a streaming call starts.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// StreamFrame is one token or the end marker of a streaming call. An end
// frame carries Error when the tool failed.
type StreamFrame struct {
	Type    string          `json:"type"`
	Content string          `json:"content,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface
func (e *RPCError) Error() string {
	return e.Message
}

// ConnectionInfo describes one open connection
type ConnectionInfo struct {
	ID           string    `json:"id"`
	RemoteAddr   string    `json:"remoteAddr"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
	Requests     int64     `json:"requests"`
	Idle         bool      `json:"idle"`
}

// RPC error codes
const (
	ParseError        = -32700
	InvalidRequest    = -32600
	MethodNotFound    = -32601
	InternalError     = -32603
	ServerError       = -32000
	RateLimitExceeded = -32005
)

var nullID = json.RawMessage("null")

func newErrorResponse(id json.RawMessage, code int, message string, data interface{}) *Response {
	if len(id) == 0 {
		id = nullID
	}
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error: &RPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// requestIDString renders an id for logs and handler calls. String ids are
// unquoted; numbers keep their JSON text.
func requestIDString(id json.RawMessage) string {
	if len(id) == 0 {
		return ""
	}
	if id[0] == '"' {
		var s string
		if err := json.Unmarshal(id, &s); err == nil {
			return s
		}
	}
	if string(id) == "null" {
		return ""
	}
	return string(id)
}
