package gateway

import (
	"context"

	"github.com/harun/toolgate/internal/tracing"
)

// connectionContext derives the context every call on a connection runs
// under. Cancelling it is how a closed connection reaches in-flight handlers.
func connectionContext(parent context.Context, connID string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ctx = tracing.WithConnectionID(ctx, connID)
	return ctx, cancel
}

// ConnectionIDFromContext returns the id of the connection that carried the
// current call, or "" outside a connection.
func ConnectionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	return tracing.GetConnectionID(ctx)
}
