package builtin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/toolgate/pkg/ledger"
	"github.com/harun/toolgate/pkg/tool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T, root string) (*tool.Registry, *ledger.Ledger) {
	t.Helper()

	registry := tool.NewRegistry(zerolog.Nop())
	l, err := ledger.Open(nil, ledger.Options{}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, RegisterAll(registry, Options{
		WorkspaceRoot: root,
		Ledger:        l,
		Logger:        zerolog.Nop(),
	}))
	return registry, l
}

func call(t *testing.T, registry *tool.Registry, name string, params map[string]interface{}) (interface{}, error) {
	t.Helper()

	desc, err := registry.Lookup(name)
	require.NoError(t, err)
	return desc.Handler(context.Background(), tool.Call{Params: params})
}

func TestRegisterAll(t *testing.T) {
	registry, _ := newRegistry(t, t.TempDir())

	names := []string{}
	for _, meta := range registry.List() {
		names = append(names, meta.Name)
	}
	assert.Equal(t, []string{"create_task", "echo", "invocations", "list_tools", "scan_files", "tokenize"}, names)

	desc, err := registry.Lookup("create_task")
	require.NoError(t, err)
	assert.Equal(t, "determined", desc.DefaultEmotion)

	desc, err = registry.Lookup("scan_files")
	require.NoError(t, err)
	assert.Equal(t, "curious", desc.DefaultEmotion)

	desc, err = registry.Lookup("echo")
	require.NoError(t, err)
	assert.Equal(t, tool.DefaultEmotion, desc.DefaultEmotion)
}

func TestEchoTool(t *testing.T) {
	registry, _ := newRegistry(t, t.TempDir())

	result, err := call(t, registry, "echo", map[string]interface{}{"message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"message": "hi"}, result)
}

func TestCreateTaskTool(t *testing.T) {
	registry, _ := newRegistry(t, t.TempDir())

	t.Run("should fill defaults", func(t *testing.T) {
		result, err := call(t, registry, "create_task", map[string]interface{}{})
		require.NoError(t, err)

		task := result.(map[string]interface{})
		assert.Equal(t, "Untitled Task", task["title"])
		assert.Equal(t, "medium", task["priority"])
		assert.NotEmpty(t, task["task_id"])
		assert.NotEmpty(t, task["created_at"])
	})

	t.Run("should generate distinct ids", func(t *testing.T) {
		first, err := call(t, registry, "create_task", map[string]interface{}{"title": "a"})
		require.NoError(t, err)
		second, err := call(t, registry, "create_task", map[string]interface{}{"title": "b"})
		require.NoError(t, err)

		assert.NotEqual(t, first.(map[string]interface{})["task_id"], second.(map[string]interface{})["task_id"])
	})
}

func TestScanFilesTool(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.log"), []byte("b"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "c.txt"), []byte("c"), 0644))

	registry, _ := newRegistry(t, root)

	t.Run("should match pattern in root", func(t *testing.T) {
		result, err := call(t, registry, "scan_files", map[string]interface{}{"pattern": "*.txt"})
		require.NoError(t, err)

		out := result.(map[string]interface{})
		assert.Equal(t, []string{"a.txt"}, out["files"])
		assert.Equal(t, 1, out["count"])
	})

	t.Run("should scan subdirectories", func(t *testing.T) {
		result, err := call(t, registry, "scan_files", map[string]interface{}{"directory": "sub"})
		require.NoError(t, err)
		assert.Equal(t, []string{"sub/c.txt"}, result.(map[string]interface{})["files"])
	})

	t.Run("should reject directories outside the root", func(t *testing.T) {
		_, err := call(t, registry, "scan_files", map[string]interface{}{"directory": "../"})
		require.Error(t, err)
		assert.True(t, tool.IsValidation(err))
	})

	t.Run("should reject malformed patterns", func(t *testing.T) {
		_, err := call(t, registry, "scan_files", map[string]interface{}{"pattern": "[a"})
		require.Error(t, err)
		assert.True(t, tool.IsValidation(err))
	})

	t.Run("should expose pattern checks through the descriptor", func(t *testing.T) {
		desc, err := registry.Lookup("scan_files")
		require.NoError(t, err)

		err = desc.Validate(map[string]interface{}{"pattern": "../*"})
		require.Error(t, err)
		assert.True(t, tool.IsValidation(err))
		assert.NoError(t, desc.Validate(map[string]interface{}{"pattern": "*.txt"}))
	})

	t.Run("should allow patterns that climb back into the root", func(t *testing.T) {
		result, err := call(t, registry, "scan_files", map[string]interface{}{"directory": "sub", "pattern": "../*.txt"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a.txt"}, result.(map[string]interface{})["files"])
	})
}

func TestScanFilesTool_PatternEscape(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("s"), 0644))

	scan, err := NewScanFilesTool(root)
	require.NoError(t, err)

	for _, pattern := range []string{"../*.txt", "sub/../../*", "../*", filepath.Join(parent, "*.txt")} {
		t.Run(pattern, func(t *testing.T) {
			params := map[string]interface{}{"pattern": pattern}

			err := scan.Validate(params)
			require.Error(t, err)
			assert.True(t, tool.IsValidation(err))

			result, err := scan.Execute(context.Background(), params)
			require.Error(t, err)
			assert.True(t, tool.IsValidation(err))
			assert.Nil(t, result)
		})
	}
}

func TestTokenizeTool(t *testing.T) {
	registry, _ := newRegistry(t, t.TempDir())

	t.Run("should require text", func(t *testing.T) {
		_, err := call(t, registry, "tokenize", map[string]interface{}{})
		require.Error(t, err)
		assert.True(t, tool.IsValidation(err))
		assert.Contains(t, err.Error(), "Missing required parameter: text")
	})

	t.Run("should reject non-string text", func(t *testing.T) {
		_, err := call(t, registry, "tokenize", map[string]interface{}{"text": 42.0})
		require.Error(t, err)
		assert.True(t, tool.IsValidation(err))
	})

	t.Run("should return words for sync calls", func(t *testing.T) {
		result, err := call(t, registry, "tokenize", map[string]interface{}{"text": "a b c"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a ", "b ", "c"}, result)
	})

	t.Run("should emit words for streaming calls", func(t *testing.T) {
		desc, err := registry.Lookup("tokenize")
		require.NoError(t, err)

		var tokens []string
		result, err := desc.Handler(context.Background(), tool.Call{
			Params: map[string]interface{}{"text": "one two three", "delay_ms": 1.0},
			Emit: func(token string) error {
				tokens = append(tokens, token)
				return nil
			},
		})
		require.NoError(t, err)
		assert.Nil(t, result)
		assert.Equal(t, []string{"one ", "two ", "three"}, tokens)
	})

	t.Run("should stop when cancelled", func(t *testing.T) {
		desc, err := registry.Lookup("tokenize")
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		var tokens []string
		_, err = desc.Handler(ctx, tool.Call{
			Params: map[string]interface{}{"text": "one two three", "delay_ms": 1000.0},
			Emit: func(token string) error {
				tokens = append(tokens, token)
				cancel()
				return nil
			},
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, []string{"one "}, tokens)
	})
}

func TestIntrospectionTools(t *testing.T) {
	registry, l := newRegistry(t, t.TempDir())

	t.Run("should list registered tools", func(t *testing.T) {
		result, err := call(t, registry, "list_tools", nil)
		require.NoError(t, err)

		tools := result.(map[string]interface{})["tools"].([]tool.Metadata)
		assert.Len(t, tools, 6)
	})

	t.Run("should report ledger records", func(t *testing.T) {
		l.Record("echo", "happy", "tester")

		result, err := call(t, registry, "invocations", map[string]interface{}{"tool": "echo"})
		require.NoError(t, err)
		rec := result.(ledger.Record)
		assert.Equal(t, "happy", rec.LastEmotion)
		assert.Equal(t, "tester", rec.Agent)

		result, err = call(t, registry, "invocations", nil)
		require.NoError(t, err)
		assert.Len(t, result.(map[string]interface{})["invocations"], 1)
	})

	t.Run("should fail for tools never invoked", func(t *testing.T) {
		_, err := call(t, registry, "invocations", map[string]interface{}{"tool": "ghost"})
		require.Error(t, err)
		assert.False(t, tool.IsValidation(err))
	})
}

func TestCatalog(t *testing.T) {
	registry := tool.NewRegistry(zerolog.Nop())
	catalog := Catalog(Options{WorkspaceRoot: t.TempDir(), Registry: registry})

	assert.Equal(t, []string{"create_task", "echo", "invocations", "list_tools", "scan_files", "tokenize"}, catalog.Kinds())

	_, err := catalog.Build(&tool.Manifest{Kind: KindInvocations})
	assert.Error(t, err)

	built, err := catalog.Build(&tool.Manifest{Kind: KindTokenize, Config: map[string]interface{}{"delay_ms": 5.0}})
	require.NoError(t, err)
	assert.Equal(t, "tokenize", built.Name())
}
