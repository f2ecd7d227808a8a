package tool

import (
	"context"
	"encoding/json"
)

// DefaultEmotion is used when neither the caller nor the tool supplies one
const DefaultEmotion = "neutral"

// Tool is the contract a collaborator implements to be invocable through the registry
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON schema of the accepted parameters. It is
	// published for introspection only.
	Parameters() json.RawMessage
	RequiredParameters() []string
	Validate(params map[string]interface{}) error
	Execute(ctx context.Context, params map[string]interface{}) (interface{}, error)
}

// StreamingTool is implemented by tools that produce incremental output
type StreamingTool interface {
	Tool
	// ExecuteStream sends tokens through emit in order. Returning an error
	// after some tokens were emitted does not retract them.
	ExecuteStream(ctx context.Context, params map[string]interface{}, emit func(token string) error) error
}

// CallMetadata is the caller-supplied context attached to an invocation
type CallMetadata struct {
	Emotion string `json:"emotion,omitempty"`
	Agent   string `json:"agent,omitempty"`
}

// Call is one invocation as seen by a handler
type Call struct {
	RequestID string
	Params    map[string]interface{}
	Metadata  CallMetadata
	// Emit is non-nil only for streaming invocations
	Emit func(token string) error
}

// Streaming reports whether the caller asked for incremental delivery
func (c Call) Streaming() bool {
	return c.Emit != nil
}

// Handler executes one call. It is process-local and never persisted.
type Handler func(ctx context.Context, call Call) (interface{}, error)

// Metadata is the durable part of a descriptor
type Metadata struct {
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	DefaultEmotion     string          `json:"emotion"`
	Parameters         json.RawMessage `json:"parameters,omitempty"`
	RequiredParameters []string        `json:"required_parameters,omitempty"`
}

// Descriptor bundles durable metadata with the process-local handler
type Descriptor struct {
	Metadata
	Handler Handler `json:"-"`
	// Validator runs after the required-parameter check; nil skips it
	Validator func(params map[string]interface{}) error `json:"-"`
}

// Validate checks required-parameter presence, then the tool's own rules
func (d Descriptor) Validate(params map[string]interface{}) error {
	if err := RequireParameters(d.Name, d.RequiredParameters, params); err != nil {
		return err
	}
	if d.Validator == nil {
		return nil
	}
	if err := d.Validator(params); err != nil {
		if IsValidation(err) {
			return err
		}
		return NewValidationError(d.Name, err.Error())
	}
	return nil
}

// RequireParameters fails on the first name in required that params lacks
func RequireParameters(toolName string, required []string, params map[string]interface{}) error {
	for _, name := range required {
		if _, ok := params[name]; !ok {
			return MissingParameterError(toolName, name)
		}
	}
	return nil
}

func (m Metadata) clone() Metadata {
	out := m
	if m.RequiredParameters != nil {
		out.RequiredParameters = append([]string(nil), m.RequiredParameters...)
	}
	if m.Parameters != nil {
		out.Parameters = append(json.RawMessage(nil), m.Parameters...)
	}
	return out
}

// BaseTool supplies metadata accessors and required-parameter validation.
// Embed it and implement Execute.
type BaseTool struct {
	ToolName        string
	ToolDescription string
	Schema          json.RawMessage
	Required        []string
}

func (b *BaseTool) Name() string                 { return b.ToolName }
func (b *BaseTool) Description() string          { return b.ToolDescription }
func (b *BaseTool) RequiredParameters() []string { return b.Required }

// Parameters returns the schema, defaulting to an empty object schema
func (b *BaseTool) Parameters() json.RawMessage {
	if len(b.Schema) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return b.Schema
}

// Validate fails when a required parameter is absent
func (b *BaseTool) Validate(params map[string]interface{}) error {
	return RequireParameters(b.ToolName, b.Required, params)
}
