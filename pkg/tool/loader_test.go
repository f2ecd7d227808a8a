package tool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() *Catalog {
	catalog := NewCatalog()
	catalog.Add("greet", func(m *Manifest) (Tool, error) {
		g := newGreetTool()
		g.ToolDescription = m.ConfigString("greeting", g.ToolDescription)
		return g, nil
	})
	return catalog
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoader_LoadDirectory(t *testing.T) {
	t.Run("should load json and yaml manifests", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.json", `{"kind":"greet","name":"greet_json","emotion":"warm"}`)
		writeFile(t, dir, "b.yaml", "kind: greet\nname: greet_yaml\nrequired_parameters: [lang]\n")
		writeFile(t, dir, "notes.txt", "ignored")

		registry := NewRegistry(zerolog.Nop())
		count, err := registry.LoadFromDirectory(dir, testCatalog())
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		desc, err := registry.Lookup("greet_json")
		require.NoError(t, err)
		assert.Equal(t, "warm", desc.DefaultEmotion)

		desc, err = registry.Lookup("greet_yaml")
		require.NoError(t, err)
		assert.Equal(t, []string{"name", "lang"}, desc.RequiredParameters)
	})

	t.Run("should skip bad manifests", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "good.json", `{"kind":"greet"}`)
		writeFile(t, dir, "broken.json", `{"kind":`)
		writeFile(t, dir, "unknown.json", `{"kind":"teleport"}`)
		writeFile(t, dir, "extra.json", `{"kind":"greet","surprise":true}`)
		writeFile(t, dir, "off.json", `{"kind":"greet","name":"off","disabled":true}`)

		registry := NewRegistry(zerolog.Nop())
		count, err := registry.LoadFromDirectory(dir, testCatalog())
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.True(t, registry.Has("greet"))
		assert.False(t, registry.Has("off"))
	})

	t.Run("should fail on a missing directory", func(t *testing.T) {
		registry := NewRegistry(zerolog.Nop())
		_, err := registry.LoadFromDirectory(filepath.Join(t.TempDir(), "nope"), testCatalog())
		assert.Error(t, err)
	})

	t.Run("should pass manifest config to the factory", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "g.yml", "kind: greet\nconfig:\n  greeting: Howdy\n")

		registry := NewRegistry(zerolog.Nop())
		loader := NewLoader(registry, testCatalog(), zerolog.Nop())
		loaded, err := loader.LoadFile(path)
		require.NoError(t, err)
		assert.True(t, loaded)

		desc, err := registry.Lookup("greet")
		require.NoError(t, err)
		assert.Equal(t, "Howdy", desc.Description)
	})
}

func TestManifest_Config(t *testing.T) {
	m := &Manifest{Config: map[string]interface{}{"s": "v", "f": 3.0, "i": 4}}

	assert.Equal(t, "v", m.ConfigString("s", "d"))
	assert.Equal(t, "d", m.ConfigString("missing", "d"))
	assert.Equal(t, 3, m.ConfigInt("f", 0))
	assert.Equal(t, 4, m.ConfigInt("i", 0))
	assert.Equal(t, 9, m.ConfigInt("s", 9))
}

func TestIsManifestFile(t *testing.T) {
	assert.True(t, IsManifestFile("/x/tool.json"))
	assert.True(t, IsManifestFile("tool.YAML"))
	assert.True(t, IsManifestFile("tool.yml"))
	assert.False(t, IsManifestFile(".hidden.json"))
	assert.False(t, IsManifestFile("tool.go"))
}

func TestManifestStore(t *testing.T) {
	t.Run("should persist metadata without handlers", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state", "tools.json")
		store := NewManifestStore(path, zerolog.Nop())

		registry := NewRegistry(zerolog.Nop())
		missing := store.Attach(registry)
		assert.Empty(t, missing)

		registry.Register("echo", func(ctx context.Context, call Call) (interface{}, error) {
			return nil, nil
		}, "Echo", "calm")

		tools, err := store.Load()
		require.NoError(t, err)
		require.Len(t, tools, 1)
		assert.Equal(t, "echo", tools[0].Name)
		assert.Equal(t, "calm", tools[0].DefaultEmotion)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "handler")
	})

	t.Run("should report tools that were not re-registered", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tools.json")
		store := NewManifestStore(path, zerolog.Nop())
		require.NoError(t, store.Save([]Metadata{{Name: "old"}, {Name: "kept"}}))

		registry := NewRegistry(zerolog.Nop())
		registry.Register("kept", nil, "", "")

		missing := NewManifestStore(path, zerolog.Nop()).Attach(registry)
		assert.Equal(t, []string{"old"}, missing)
	})

	t.Run("should return nothing when no file exists", func(t *testing.T) {
		store := NewManifestStore(filepath.Join(t.TempDir(), "none.json"), zerolog.Nop())
		tools, err := store.Load()
		require.NoError(t, err)
		assert.Nil(t, tools)
	})
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry(zerolog.Nop())
	loader := NewLoader(registry, testCatalog(), zerolog.Nop())

	watcher, err := NewWatcher(loader, dir, 20*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	writeFile(t, dir, "late.json", `{"kind":"greet","name":"late"}`)

	require.Eventually(t, func() bool {
		return registry.Has("late")
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, watcher.Stop())
	assert.NoError(t, watcher.Stop())
}
