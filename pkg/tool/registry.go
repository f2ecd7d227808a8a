package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// ChangeFunc observes the registry after every registration
type ChangeFunc func(tools []Metadata)

// Registry maps tool names to descriptors. Reads and writes are mutually
// exclusive; handlers always run outside the lock.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Descriptor
	onChange []ChangeFunc
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]Descriptor),
		logger: logger.With().Str("component", "tool-registry").Logger(),
	}
}

// OnChange adds an observer called after each registration, outside the lock
func (r *Registry) OnChange(fn ChangeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.onChange = append(r.onChange, fn)
}

// Register upserts a handler under name. Re-registering an existing name
// replaces it and logs a warning.
func (r *Registry) Register(name string, handler Handler, description, defaultEmotion string) {
	r.RegisterDescriptor(Descriptor{
		Metadata: Metadata{
			Name:           name,
			Description:    description,
			DefaultEmotion: defaultEmotion,
		},
		Handler: handler,
	})
}

// RegisterDescriptor upserts a complete descriptor
func (r *Registry) RegisterDescriptor(desc Descriptor) {
	if desc.DefaultEmotion == "" {
		desc.DefaultEmotion = DefaultEmotion
	}
	if desc.Handler == nil {
		name := desc.Name
		desc.Handler = func(ctx context.Context, call Call) (interface{}, error) {
			return nil, NewExecutionError(name, fmt.Errorf("tool %s has no handler", name))
		}
	}
	desc.Metadata = desc.Metadata.clone()

	r.mu.Lock()
	_, exists := r.tools[desc.Name]
	r.tools[desc.Name] = desc
	observers := append([]ChangeFunc(nil), r.onChange...)
	r.mu.Unlock()

	if exists {
		r.logger.Warn().Str("tool", desc.Name).Msg("Tool already registered, overwriting")
	} else {
		r.logger.Info().Str("tool", desc.Name).Msg("Registered tool")
	}

	if len(observers) > 0 {
		snapshot := r.List()
		for _, fn := range observers {
			fn(snapshot)
		}
	}
}

// RegisterTool registers a Tool implementation. The resulting handler
// validates parameters before Execute runs.
func (r *Registry) RegisterTool(t Tool, opts ...RegisterOption) {
	o := registerOptions{
		name:        t.Name(),
		description: t.Description(),
		emotion:     DefaultEmotion,
	}
	if e, ok := t.(interface{ DefaultEmotion() string }); ok && e.DefaultEmotion() != "" {
		o.emotion = e.DefaultEmotion()
	}
	for _, opt := range opts {
		opt(&o)
	}

	required := mergeRequired(t.RequiredParameters(), o.required)
	name := o.name
	streaming, canStream := t.(StreamingTool)

	handler := func(ctx context.Context, call Call) (interface{}, error) {
		if err := RequireParameters(name, required, call.Params); err != nil {
			return nil, err
		}
		if err := t.Validate(call.Params); err != nil {
			if IsValidation(err) {
				return nil, err
			}
			return nil, NewValidationError(name, err.Error())
		}

		if call.Streaming() && canStream {
			if err := streaming.ExecuteStream(ctx, call.Params, call.Emit); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return t.Execute(ctx, call.Params)
	}

	r.RegisterDescriptor(Descriptor{
		Metadata: Metadata{
			Name:               name,
			Description:        o.description,
			DefaultEmotion:     o.emotion,
			Parameters:         t.Parameters(),
			RequiredParameters: required,
		},
		Handler: handler,
	})
}

// Lookup returns a snapshot of the descriptor registered under name
func (r *Registry) Lookup(name string) (Descriptor, error) {
	r.mu.RLock()
	desc, exists := r.tools[name]
	r.mu.RUnlock()

	if !exists {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	desc.Metadata = desc.Metadata.clone()
	return desc, nil
}

// Has reports whether a tool is registered under name
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tools[name]
	return exists
}

// List returns the metadata of all registered tools ordered by name
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	list := make([]Metadata, 0, len(r.tools))
	for _, desc := range r.tools {
		list = append(list, desc.Metadata.clone())
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
}

// RegisterOption overrides metadata taken from a Tool implementation
type RegisterOption func(*registerOptions)

type registerOptions struct {
	name        string
	description string
	emotion     string
	required    []string
}

// WithName registers the tool under a different name
func WithName(name string) RegisterOption {
	return func(o *registerOptions) {
		if name != "" {
			o.name = name
		}
	}
}

// WithDescription overrides the tool description
func WithDescription(description string) RegisterOption {
	return func(o *registerOptions) {
		if description != "" {
			o.description = description
		}
	}
}

// WithEmotion sets the default emotion
func WithEmotion(emotion string) RegisterOption {
	return func(o *registerOptions) {
		if emotion != "" {
			o.emotion = emotion
		}
	}
}

// WithRequired adds required parameters on top of the tool's own
func WithRequired(params ...string) RegisterOption {
	return func(o *registerOptions) {
		o.required = append(o.required, params...)
	}
}

func mergeRequired(base, extra []string) []string {
	if len(extra) == 0 {
		return append([]string(nil), base...)
	}
	seen := make(map[string]bool, len(base)+len(extra))
	merged := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, name := range list {
			if !seen[name] {
				seen[name] = true
				merged = append(merged, name)
			}
		}
	}
	return merged
}
