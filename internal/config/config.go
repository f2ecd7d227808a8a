package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Config represents the main toolgate configuration
type Config struct {
	// Server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Ledger
	Ledger LedgerConfig `json:"ledger" mapstructure:"ledger"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds protocol server configuration
type ServerConfig struct {
	Host               string        `json:"host" mapstructure:"host"`
	Port               int           `json:"port" mapstructure:"port"`
	Path               string        `json:"path" mapstructure:"path"`
	CallTimeout        time.Duration `json:"call_timeout" mapstructure:"call_timeout"`
	RateLimitPerMinute int           `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"` // 0 disables
	ShutdownTimeout    time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxMessageBytes    int64         `json:"max_message_bytes" mapstructure:"max_message_bytes"`
}

// ToolsConfig holds tool registry configuration
type ToolsConfig struct {
	PluginDir    string `json:"plugin_dir" mapstructure:"plugin_dir"`
	Watch        bool   `json:"watch" mapstructure:"watch"`
	ManifestPath string `json:"manifest_path" mapstructure:"manifest_path"`
	Builtins     bool   `json:"builtins" mapstructure:"builtins"`
	// WorkspaceRoot confines scan_files; empty means the working directory
	WorkspaceRoot string `json:"workspace_root" mapstructure:"workspace_root"`
}

// LedgerConfig holds invocation ledger configuration
type LedgerConfig struct {
	Backend         string        `json:"backend" mapstructure:"backend"` // file, sqlite, memory
	Path            string        `json:"path" mapstructure:"path"`
	FlushInterval   time.Duration `json:"flush_interval" mapstructure:"flush_interval"`
	CompactSchedule string        `json:"compact_schedule" mapstructure:"compact_schedule"` // cron expression, empty disables
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

// Addr returns the host:port the server listens on
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "localhost",
			Port:               8765,
			Path:               "/ws",
			CallTimeout:        30 * time.Second,
			RateLimitPerMinute: 0,
			ShutdownTimeout:    10 * time.Second,
			MaxMessageBytes:    1 << 20,
		},
		Tools: ToolsConfig{
			PluginDir:    "",
			Watch:        false,
			ManifestPath: "",
			Builtins:     true,
		},
		Ledger: LedgerConfig{
			Backend:         "file",
			Path:            "",
			FlushInterval:   time.Second,
			CompactSchedule: "@daily",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "toolgate",
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid. All problems are reported
// together.
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
