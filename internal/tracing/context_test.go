package tracing

import (
	"context"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithConnectionID(ctx, "conn-1")
	ctx = WithAgent(ctx, "planner")
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTool(ctx, "echo")

	if got := GetTraceID(ctx); got != "trace-1" {
		t.Errorf("Expected trace ID trace-1, got %s", got)
	}
	if got := GetConnectionID(ctx); got != "conn-1" {
		t.Errorf("Expected connection ID conn-1, got %s", got)
	}
	if got := GetAgent(ctx); got != "planner" {
		t.Errorf("Expected agent planner, got %s", got)
	}
	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("Expected request ID req-1, got %s", got)
	}
	if got := GetTool(ctx); got != "echo" {
		t.Errorf("Expected tool echo, got %s", got)
	}
}

func TestGetFromEmptyContext(t *testing.T) {
	ctx := context.Background()

	tc := FromContext(ctx)
	if *tc != (TraceContext{}) {
		t.Errorf("Expected empty trace context, got %+v", tc)
	}
}

func TestNewContextSkipsEmptyFields(t *testing.T) {
	base := WithAgent(context.Background(), "keep")
	ctx := NewContext(base, &TraceContext{TraceID: "trace-2"})

	if GetTraceID(ctx) != "trace-2" {
		t.Error("Trace ID not set")
	}
	if GetAgent(ctx) != "keep" {
		t.Error("Empty agent should not overwrite existing value")
	}
}

func TestNewRequestContext(t *testing.T) {
	ctx := NewRequestContext(context.Background())

	if GetTraceID(ctx) == "" {
		t.Error("NewRequestContext did not generate trace ID")
	}
}
