package tool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Manifest describes one tool to instantiate from the plugin directory
type Manifest struct {
	Name               string                 `json:"name,omitempty"`
	Kind               string                 `json:"kind"`
	Description        string                 `json:"description,omitempty"`
	Emotion            string                 `json:"emotion,omitempty"`
	RequiredParameters []string               `json:"required_parameters,omitempty"`
	Config             map[string]interface{} `json:"config,omitempty"`
	Disabled           bool                   `json:"disabled,omitempty"`

	// Path is the file the manifest was read from
	Path string `json:"-"`
}

// ConfigString returns a string config value or def
func (m *Manifest) ConfigString(key, def string) string {
	if v, ok := m.Config[key].(string); ok && v != "" {
		return v
	}
	return def
}

// ConfigInt returns an integer config value or def. JSON numbers decode as
// float64 and YAML integers as int; both are accepted.
func (m *Manifest) ConfigInt(key string, def int) int {
	switch v := m.Config[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

// IsManifestFile reports whether path has a manifest extension
func IsManifestFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// Loader turns manifest files into registered tools
type Loader struct {
	registry     *Registry
	catalog      *Catalog
	schemaLoader gojsonschema.JSONLoader
	logger       zerolog.Logger
}

// NewLoader creates a loader that registers into registry using catalog
func NewLoader(registry *Registry, catalog *Catalog, logger zerolog.Logger) *Loader {
	return &Loader{
		registry:     registry,
		catalog:      catalog,
		schemaLoader: gojsonschema.NewStringLoader(ManifestSchema),
		logger:       logger.With().Str("component", "tool-loader").Logger(),
	}
}

// LoadDirectory registers every valid manifest in dir and returns how many
// tools were loaded. A bad manifest is logged and skipped; only an
// unreadable directory is an error.
func (l *Loader) LoadDirectory(dir string) (int, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to stat tool directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("%s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read tool directory %s: %w", dir, err)
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() || !IsManifestFile(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		loaded, err := l.LoadFile(path)
		if err != nil {
			l.logger.Error().Err(err).Str("path", path).Msg("Failed to load tool manifest, skipping")
			continue
		}
		if loaded {
			count++
		}
	}

	l.logger.Info().Str("dir", dir).Int("count", count).Msg("Loaded tools from directory")
	return count, nil
}

// LoadFile registers the tool described by one manifest. It returns false
// without error for a disabled manifest.
func (l *Loader) LoadFile(path string) (bool, error) {
	manifest, err := l.ReadManifest(path)
	if err != nil {
		return false, err
	}
	if manifest.Disabled {
		l.logger.Debug().Str("path", path).Msg("Tool manifest disabled, skipping")
		return false, nil
	}

	t, err := l.catalog.Build(manifest)
	if err != nil {
		return false, err
	}

	l.registry.RegisterTool(t,
		WithName(manifest.Name),
		WithDescription(manifest.Description),
		WithEmotion(manifest.Emotion),
		WithRequired(manifest.RequiredParameters...),
	)

	l.logger.Debug().
		Str("path", path).
		Str("kind", manifest.Kind).
		Str("tool", manifestToolName(manifest, t)).
		Msg("Loaded tool manifest")
	return true, nil
}

// ReadManifest reads, schema-validates and decodes a manifest file
func (l *Loader) ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
		}
	}

	if err := l.validateSchema(data); err != nil {
		return nil, fmt.Errorf("manifest schema validation failed: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest JSON: %w", err)
	}
	manifest.Path = path

	return &manifest, nil
}

func (l *Loader) validateSchema(data []byte) error {
	result, err := gojsonschema.Validate(l.schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var errMsg string
		for i, resultErr := range result.Errors() {
			if i > 0 {
				errMsg += "; "
			}
			errMsg += resultErr.String()
		}
		return fmt.Errorf("schema validation errors: %s", errMsg)
	}

	return nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func manifestToolName(m *Manifest, t Tool) string {
	if m.Name != "" {
		return m.Name
	}
	return t.Name()
}

// LoadFromDirectory is a shorthand for loading dir with a fresh Loader
func (r *Registry) LoadFromDirectory(dir string, catalog *Catalog) (int, error) {
	return NewLoader(r, catalog, r.logger).LoadDirectory(dir)
}
