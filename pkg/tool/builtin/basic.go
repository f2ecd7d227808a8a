package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harun/toolgate/pkg/tool"
	"github.com/rs/zerolog"
)

// EchoTool returns its message parameter unchanged
type EchoTool struct {
	tool.BaseTool
}

// NewEchoTool creates the echo tool
func NewEchoTool() *EchoTool {
	return &EchoTool{
		BaseTool: tool.BaseTool{
			ToolName:        "echo",
			ToolDescription: "Echo a message back",
			Schema:          json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}}}`),
		},
	}
}

// Execute returns {"message": <message>}
func (t *EchoTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	message, ok := params["message"]
	if !ok {
		message = ""
	}
	return map[string]interface{}{"message": message}, nil
}

// CreateTaskTool records a task and hands back its id
type CreateTaskTool struct {
	tool.BaseTool
	logger zerolog.Logger
	now    func() time.Time
}

// NewCreateTaskTool creates the create_task tool
func NewCreateTaskTool(logger zerolog.Logger) *CreateTaskTool {
	return &CreateTaskTool{
		BaseTool: tool.BaseTool{
			ToolName:        "create_task",
			ToolDescription: "Create a to-do item for the system",
			Schema: json.RawMessage(`{"type":"object","properties":{` +
				`"title":{"type":"string"},` +
				`"description":{"type":"string"},` +
				`"priority":{"type":"string","enum":["low","medium","high"]}}}`),
		},
		logger: logger.With().Str("tool", "create_task").Logger(),
		now:    time.Now,
	}
}

// DefaultEmotion is the emotion create_task is registered with
func (t *CreateTaskTool) DefaultEmotion() string { return "determined" }

// Execute creates the task
func (t *CreateTaskTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	title := stringParam(params, "title", "Untitled Task")
	description := stringParam(params, "description", "")
	priority := stringParam(params, "priority", "medium")

	taskID := uuid.NewString()
	t.logger.Info().Str("task_id", taskID).Str("title", title).Str("priority", priority).Msg("Created task")

	return map[string]interface{}{
		"task_id":     taskID,
		"title":       title,
		"description": description,
		"priority":    priority,
		"created_at":  t.now().UTC().Format(time.RFC3339),
	}, nil
}

// ScanFilesTool lists files matching a glob pattern inside a root directory
type ScanFilesTool struct {
	tool.BaseTool
	root string
	now  func() time.Time
}

// NewScanFilesTool creates scan_files confined to root. An empty root uses
// the working directory.
func NewScanFilesTool(root string) (*ScanFilesTool, error) {
	if strings.TrimSpace(root) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scan root: %w", err)
	}

	return &ScanFilesTool{
		BaseTool: tool.BaseTool{
			ToolName:        "scan_files",
			ToolDescription: "Scan files in a directory",
			Schema: json.RawMessage(`{"type":"object","properties":{` +
				`"directory":{"type":"string","description":"Directory relative to the scan root"},` +
				`"pattern":{"type":"string","description":"Glob pattern, default *"}}}`),
		},
		root: filepath.Clean(abs),
		now:  time.Now,
	}, nil
}

// DefaultEmotion is the emotion scan_files is registered with
func (t *ScanFilesTool) DefaultEmotion() string { return "curious" }

// Validate rejects directories or patterns that leave the root and malformed
// patterns
func (t *ScanFilesTool) Validate(params map[string]interface{}) error {
	dir, err := t.resolve(stringParam(params, "directory", "."))
	if err != nil {
		return tool.NewValidationError(t.ToolName, err.Error())
	}
	pattern := stringParam(params, "pattern", "*")
	if _, err := filepath.Match(pattern, ""); err != nil {
		return tool.NewValidationError(t.ToolName, fmt.Sprintf("invalid pattern: %v", err))
	}
	if filepath.IsAbs(pattern) || !t.within(filepath.Join(dir, pattern)) {
		return tool.NewValidationError(t.ToolName, fmt.Sprintf("pattern %q is outside the scan root", pattern))
	}
	return nil
}

// Execute globs pattern inside directory
func (t *ScanFilesTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	dir, err := t.resolve(stringParam(params, "directory", "."))
	if err != nil {
		return nil, tool.NewValidationError(t.ToolName, err.Error())
	}
	pattern := stringParam(params, "pattern", "*")
	if filepath.IsAbs(pattern) || !t.within(filepath.Join(dir, pattern)) {
		return nil, tool.NewValidationError(t.ToolName, fmt.Sprintf("pattern %q is outside the scan root", pattern))
	}

	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, tool.NewValidationError(t.ToolName, fmt.Sprintf("invalid pattern: %v", err))
	}

	files := make([]string, 0, len(matches))
	for _, match := range matches {
		rel, err := filepath.Rel(t.root, match)
		if err != nil || escapes(rel) {
			continue
		}
		files = append(files, filepath.ToSlash(rel))
	}

	return map[string]interface{}{
		"files":      files,
		"count":      len(files),
		"scanned_at": t.now().UTC().Format(time.RFC3339),
	}, nil
}

func (t *ScanFilesTool) resolve(dir string) (string, error) {
	if strings.Contains(dir, "://") {
		return "", errors.New("directory must be a local path")
	}

	candidate := dir
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(t.root, candidate)
	}
	candidate = filepath.Clean(candidate)

	if !t.within(candidate) {
		return "", fmt.Errorf("directory %q is outside the scan root", dir)
	}
	return candidate, nil
}

// within reports whether path, once cleaned, stays under the root
func (t *ScanFilesTool) within(path string) bool {
	rel, err := filepath.Rel(t.root, filepath.Clean(path))
	return err == nil && !escapes(rel)
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func stringParam(params map[string]interface{}, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}
