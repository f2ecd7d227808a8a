package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePort validates a listen port. 0 picks a free port.
func (v *Validator) ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}
	return nil
}

// ValidatePath validates the WebSocket endpoint path
func (v *Validator) ValidatePath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("path must start with /, got %q", path)
	}
	switch path {
	case "/healthz", "/metrics", "/rpc":
		return fmt.Errorf("path %s is reserved", path)
	}
	return nil
}

// ValidateLedgerBackend validates the ledger persistence backend
func (v *Validator) ValidateLedgerBackend(backend string) error {
	validBackends := []string{"file", "sqlite", "memory"}
	for _, valid := range validBackends {
		if backend == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid ledger backend: %s (must be one of: %s)", backend, strings.Join(validBackends, ", "))
}

// ValidateSchedule validates a cron expression. Empty disables the schedule.
func (v *Validator) ValidateSchedule(expr string) error {
	if expr == "" {
		return nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// ValidatePluginDir checks the plugin directory exists when one is configured
func (v *Validator) ValidatePluginDir(dir string) error {
	if dir == "" {
		return nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("plugin directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("plugin directory %s is not a directory", dir)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation and returns every problem found
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidatePort(cfg.Server.Port); err != nil {
		errors = append(errors, fmt.Errorf("server.port: %w", err))
	}
	if err := v.ValidatePath(cfg.Server.Path); err != nil {
		errors = append(errors, fmt.Errorf("server.path: %w", err))
	}
	if cfg.Server.CallTimeout <= 0 {
		errors = append(errors, fmt.Errorf("server.call_timeout must be positive"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errors = append(errors, fmt.Errorf("server.shutdown_timeout must be >= 0"))
	}
	if cfg.Server.RateLimitPerMinute < 0 {
		errors = append(errors, fmt.Errorf("server.rate_limit_per_minute must be >= 0"))
	}
	if cfg.Server.MaxMessageBytes < 0 {
		errors = append(errors, fmt.Errorf("server.max_message_bytes must be >= 0"))
	}

	if err := v.ValidatePluginDir(cfg.Tools.PluginDir); err != nil {
		errors = append(errors, fmt.Errorf("tools.plugin_dir: %w", err))
	}
	if cfg.Tools.Watch && cfg.Tools.PluginDir == "" {
		errors = append(errors, fmt.Errorf("tools.watch requires tools.plugin_dir"))
	}

	if err := v.ValidateLedgerBackend(cfg.Ledger.Backend); err != nil {
		errors = append(errors, fmt.Errorf("ledger.backend: %w", err))
	}
	if cfg.Ledger.FlushInterval <= 0 {
		errors = append(errors, fmt.Errorf("ledger.flush_interval must be positive"))
	}
	if err := v.ValidateSchedule(cfg.Ledger.CompactSchedule); err != nil {
		errors = append(errors, fmt.Errorf("ledger.compact_schedule: %w", err))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
