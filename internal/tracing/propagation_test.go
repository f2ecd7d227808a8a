package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestPropagateToLogger(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithConnectionID(ctx, "conn-456")
	ctx = WithAgent(ctx, "agent-789")
	ctx = WithTool(ctx, "echo")

	var buf bytes.Buffer
	logger := PropagateToLogger(ctx, zerolog.New(&buf))
	logger.Info().Msg("test message")

	output := buf.String()
	for _, want := range []string{
		`"trace_id":"trace-123"`,
		`"conn_id":"conn-456"`,
		`"agent":"agent-789"`,
		`"tool":"echo"`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %s in log output: %s", want, output)
		}
	}
	if strings.Contains(output, "request_id") {
		t.Errorf("Unset request ID should not be logged: %s", output)
	}
}

func TestMergeContext(t *testing.T) {
	source := WithTraceID(context.Background(), "trace-src")
	source = WithAgent(source, "agent-src")

	target := WithAgent(context.Background(), "agent-target")

	merged := MergeContext(target, source)

	if GetTraceID(merged) != "trace-src" {
		t.Error("Trace ID not merged")
	}
	if GetAgent(merged) != "agent-target" {
		t.Error("Existing agent should not be overwritten")
	}
}

func TestCloneContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRequestID(ctx, "req-1")

	clone := CloneContext(ctx)
	cancel()

	if clone.Err() != nil {
		t.Error("Clone should not inherit cancellation")
	}
	if GetTraceID(clone) != "trace-1" || GetRequestID(clone) != "req-1" {
		t.Error("Clone lost tracing values")
	}
}
