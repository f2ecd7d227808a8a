package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	lc := logger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.ConnectionID != "" {
		lc = lc.Str("conn_id", tc.ConnectionID)
	}
	if tc.Agent != "" {
		lc = lc.Str("agent", tc.Agent)
	}
	if tc.RequestID != "" {
		lc = lc.Str("request_id", tc.RequestID)
	}
	if tc.Tool != "" {
		lc = lc.Str("tool", tc.Tool)
	}

	return lc.Logger()
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// MergeContext copies tracing values from source that target does not
// already carry. Background work started for a request uses it to keep the
// request's identifiers.
func MergeContext(target, source context.Context) context.Context {
	tc := FromContext(source)

	if tc.TraceID != "" && GetTraceID(target) == "" {
		target = WithTraceID(target, tc.TraceID)
	}
	if tc.ConnectionID != "" && GetConnectionID(target) == "" {
		target = WithConnectionID(target, tc.ConnectionID)
	}
	if tc.Agent != "" && GetAgent(target) == "" {
		target = WithAgent(target, tc.Agent)
	}
	if tc.RequestID != "" && GetRequestID(target) == "" {
		target = WithRequestID(target, tc.RequestID)
	}
	if tc.Tool != "" && GetTool(target) == "" {
		target = WithTool(target, tc.Tool)
	}

	return target
}

// CloneContext creates a new context with the same tracing information
func CloneContext(ctx context.Context) context.Context {
	return NewContext(context.Background(), FromContext(ctx))
}
