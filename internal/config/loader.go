package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	appDir         = ".toolgate"
	configFileName = "toolgate.json"
	envPrefix      = "TOOLGATE"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file if present and applies TOOLGATE_* environment
// overrides, e.g. TOOLGATE_SERVER_PORT for server.port.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("json")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyDerivedPaths(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that the
// config file does not mention.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.path", cfg.Server.Path)
	v.SetDefault("server.call_timeout", cfg.Server.CallTimeout)
	v.SetDefault("server.rate_limit_per_minute", cfg.Server.RateLimitPerMinute)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	v.SetDefault("server.max_message_bytes", cfg.Server.MaxMessageBytes)

	v.SetDefault("tools.plugin_dir", cfg.Tools.PluginDir)
	v.SetDefault("tools.watch", cfg.Tools.Watch)
	v.SetDefault("tools.manifest_path", cfg.Tools.ManifestPath)
	v.SetDefault("tools.builtins", cfg.Tools.Builtins)
	v.SetDefault("tools.workspace_root", cfg.Tools.WorkspaceRoot)

	v.SetDefault("ledger.backend", cfg.Ledger.Backend)
	v.SetDefault("ledger.path", cfg.Ledger.Path)
	v.SetDefault("ledger.flush_interval", cfg.Ledger.FlushInterval)
	v.SetDefault("ledger.compact_schedule", cfg.Ledger.CompactSchedule)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.max_size", cfg.Logging.MaxSize)
	v.SetDefault("logging.max_age", cfg.Logging.MaxAge)
	v.SetDefault("logging.compress", cfg.Logging.Compress)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)
	v.SetDefault("logging.audit_file", cfg.Logging.AuditFile)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)

	v.SetDefault("data_dir", cfg.DataDir)
}

// applyDerivedPaths fills paths left empty relative to the data directory
func applyDerivedPaths(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, appDir)
	}

	if cfg.Tools.ManifestPath == "" {
		cfg.Tools.ManifestPath = filepath.Join(cfg.DataDir, "tools.json")
	}

	if cfg.Ledger.Path == "" {
		name := "ledger.jsonl"
		if cfg.Ledger.Backend == "sqlite" {
			name = "ledger.db"
		}
		cfg.Ledger.Path = filepath.Join(cfg.DataDir, name)
	}

	return nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to determine config path")
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("server", map[string]interface{}{
		"host":                  cfg.Server.Host,
		"port":                  cfg.Server.Port,
		"path":                  cfg.Server.Path,
		"call_timeout":          cfg.Server.CallTimeout.String(),
		"rate_limit_per_minute": cfg.Server.RateLimitPerMinute,
		"shutdown_timeout":      cfg.Server.ShutdownTimeout.String(),
		"max_message_bytes":     cfg.Server.MaxMessageBytes,
	})
	v.Set("tools", cfg.Tools)
	v.Set("ledger", map[string]interface{}{
		"backend":          cfg.Ledger.Backend,
		"path":             cfg.Ledger.Path,
		"flush_interval":   cfg.Ledger.FlushInterval.String(),
		"compact_schedule": cfg.Ledger.CompactSchedule,
	})
	v.Set("logging", cfg.Logging)
	v.Set("tracing", cfg.Tracing)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		// If file doesn't exist, create it
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, appDir, configFileName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
