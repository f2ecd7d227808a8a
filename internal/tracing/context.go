package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// ConnectionIDKey is the context key for the WebSocket connection ID
	ConnectionIDKey ContextKey = "conn_id"
	// AgentKey is the context key for the calling agent
	AgentKey ContextKey = "agent"
	// RequestIDKey is the context key for the JSON-RPC request ID
	RequestIDKey ContextKey = "request_id"
	// ToolKey is the context key for the invoked tool
	ToolKey ContextKey = "tool"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID      string
	ConnectionID string
	Agent        string
	RequestID    string
	Tool         string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithConnectionID adds a connection ID to the context
func WithConnectionID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ConnectionIDKey, connID)
}

// WithAgent adds the calling agent to the context
func WithAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, AgentKey, agent)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithTool adds the invoked tool name to the context
func WithTool(ctx context.Context, tool string) context.Context {
	return context.WithValue(ctx, ToolKey, tool)
}

func getString(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return getString(ctx, TraceIDKey)
}

// GetConnectionID retrieves the connection ID from the context
func GetConnectionID(ctx context.Context) string {
	return getString(ctx, ConnectionIDKey)
}

// GetAgent retrieves the calling agent from the context
func GetAgent(ctx context.Context) string {
	return getString(ctx, AgentKey)
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

// GetTool retrieves the invoked tool name from the context
func GetTool(ctx context.Context) string {
	return getString(ctx, ToolKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:      GetTraceID(ctx),
		ConnectionID: GetConnectionID(ctx),
		Agent:        GetAgent(ctx),
		RequestID:    GetRequestID(ctx),
		Tool:         GetTool(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.ConnectionID != "" {
		ctx = WithConnectionID(ctx, tc.ConnectionID)
	}
	if tc.Agent != "" {
		ctx = WithAgent(ctx, tc.Agent)
	}
	if tc.RequestID != "" {
		ctx = WithRequestID(ctx, tc.RequestID)
	}
	if tc.Tool != "" {
		ctx = WithTool(ctx, tc.Tool)
	}
	return ctx
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}
