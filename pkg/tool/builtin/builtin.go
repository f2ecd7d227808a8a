// Package builtin provides the tools every gateway ships with and the
// catalog entries that let plugin manifests instantiate them under other
// names.
package builtin

import (
	"errors"
	"fmt"

	"github.com/harun/toolgate/pkg/ledger"
	"github.com/harun/toolgate/pkg/tool"
	"github.com/rs/zerolog"
)

// Options configures built-in tool registration
type Options struct {
	// WorkspaceRoot confines scan_files; empty means the process working directory
	WorkspaceRoot string
	Registry      *tool.Registry
	Ledger        *ledger.Ledger
	Logger        zerolog.Logger
}

// Tool kinds known to the catalog
const (
	KindEcho        = "echo"
	KindCreateTask  = "create_task"
	KindScanFiles   = "scan_files"
	KindTokenize    = "tokenize"
	KindListTools   = "list_tools"
	KindInvocations = "invocations"
)

// Catalog returns a catalog holding every built-in kind
func Catalog(opts Options) *tool.Catalog {
	c := tool.NewCatalog()
	AddToCatalog(c, opts)
	return c
}

// AddToCatalog adds every built-in kind to c
func AddToCatalog(c *tool.Catalog, opts Options) {
	c.Add(KindEcho, func(m *tool.Manifest) (tool.Tool, error) {
		return NewEchoTool(), nil
	})
	c.Add(KindCreateTask, func(m *tool.Manifest) (tool.Tool, error) {
		return NewCreateTaskTool(opts.Logger), nil
	})
	c.Add(KindScanFiles, func(m *tool.Manifest) (tool.Tool, error) {
		return NewScanFilesTool(m.ConfigString("root", opts.WorkspaceRoot))
	})
	c.Add(KindTokenize, func(m *tool.Manifest) (tool.Tool, error) {
		return NewTokenizeTool(m.ConfigInt("delay_ms", 0)), nil
	})
	c.Add(KindListTools, func(m *tool.Manifest) (tool.Tool, error) {
		if opts.Registry == nil {
			return nil, errors.New("list_tools needs a registry")
		}
		return NewListToolsTool(opts.Registry), nil
	})
	c.Add(KindInvocations, func(m *tool.Manifest) (tool.Tool, error) {
		if opts.Ledger == nil {
			return nil, errors.New("invocations needs a ledger")
		}
		return NewInvocationsTool(opts.Ledger), nil
	})
}

// RegisterAll registers the built-in tools under their own names. Tools
// whose dependency is missing from opts are skipped.
func RegisterAll(registry *tool.Registry, opts Options) error {
	if registry == nil {
		return errors.New("tool registry is required")
	}
	if opts.Registry == nil {
		opts.Registry = registry
	}

	scan, err := NewScanFilesTool(opts.WorkspaceRoot)
	if err != nil {
		return fmt.Errorf("failed to create scan_files tool: %w", err)
	}

	tools := []tool.Tool{
		NewEchoTool(),
		NewCreateTaskTool(opts.Logger),
		scan,
		NewTokenizeTool(0),
		NewListToolsTool(opts.Registry),
	}
	if opts.Ledger != nil {
		tools = append(tools, NewInvocationsTool(opts.Ledger))
	}

	for _, t := range tools {
		registry.RegisterTool(t)
	}
	return nil
}
