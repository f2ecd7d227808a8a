package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harun/toolgate/pkg/ledger"
	"github.com/harun/toolgate/pkg/tool"
)

// TokenizeTool splits text into words. Streaming calls receive one word per
// token, optionally paced by a delay.
type TokenizeTool struct {
	tool.BaseTool
	delay time.Duration
}

// NewTokenizeTool creates the tokenize tool. delayMs paces streamed tokens
// unless a call overrides it with its own delay_ms parameter.
func NewTokenizeTool(delayMs int) *TokenizeTool {
	return &TokenizeTool{
		BaseTool: tool.BaseTool{
			ToolName:        "tokenize",
			ToolDescription: "Split text into words, streaming one word per token",
			Schema: json.RawMessage(`{"type":"object","properties":{` +
				`"text":{"type":"string"},` +
				`"delay_ms":{"type":"integer","minimum":0}},"required":["text"]}`),
			Required: []string{"text"},
		},
		delay: time.Duration(delayMs) * time.Millisecond,
	}
}

// Validate requires text to be a string
func (t *TokenizeTool) Validate(params map[string]interface{}) error {
	if err := t.BaseTool.Validate(params); err != nil {
		return err
	}
	if _, ok := params["text"].(string); !ok {
		return tool.NewValidationError(t.ToolName, "text must be a string")
	}
	return nil
}

// Execute returns all words at once
func (t *TokenizeTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	text, _ := params["text"].(string)
	return splitWords(text), nil
}

// ExecuteStream emits the words in order
func (t *TokenizeTool) ExecuteStream(ctx context.Context, params map[string]interface{}, emit func(token string) error) error {
	text, _ := params["text"].(string)

	delay := t.delay
	if v, ok := params["delay_ms"].(float64); ok && v >= 0 {
		delay = time.Duration(v) * time.Millisecond
	}

	for i, word := range splitWords(text) {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := emit(word); err != nil {
			return err
		}
	}
	return nil
}

// splitWords keeps the trailing space on each word so the tokens
// concatenate back to the input
func splitWords(text string) []string {
	words := make([]string, 0)
	for _, piece := range strings.SplitAfter(text, " ") {
		if piece != "" {
			words = append(words, piece)
		}
	}
	return words
}

// ListToolsTool reports the metadata of every registered tool
type ListToolsTool struct {
	tool.BaseTool
	registry *tool.Registry
}

// NewListToolsTool creates list_tools over registry
func NewListToolsTool(registry *tool.Registry) *ListToolsTool {
	return &ListToolsTool{
		BaseTool: tool.BaseTool{
			ToolName:        "list_tools",
			ToolDescription: "List registered tools",
		},
		registry: registry,
	}
}

// Execute returns the tool list ordered by name
func (t *ListToolsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"tools": t.registry.List(),
	}, nil
}

// InvocationsTool reports the invocation ledger
type InvocationsTool struct {
	tool.BaseTool
	ledger *ledger.Ledger
}

// NewInvocationsTool creates invocations over l
func NewInvocationsTool(l *ledger.Ledger) *InvocationsTool {
	return &InvocationsTool{
		BaseTool: tool.BaseTool{
			ToolName:        "invocations",
			ToolDescription: "Show the last invocation of each tool",
			Schema:          json.RawMessage(`{"type":"object","properties":{"tool":{"type":"string"}}}`),
		},
		ledger: l,
	}
}

// Execute returns every record, or the one named by the tool parameter
func (t *InvocationsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if name := stringParam(params, "tool", ""); name != "" {
		rec, ok := t.ledger.Get(name)
		if !ok {
			return nil, tool.NewExecutionError(t.ToolName, fmt.Errorf("no invocation recorded for %s", name))
		}
		return rec, nil
	}
	return map[string]interface{}{
		"invocations": t.ledger.All(),
	}, nil
}
