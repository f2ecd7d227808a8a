package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePort(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidatePort(0))
	assert.NoError(t, v.ValidatePort(8765))
	assert.Error(t, v.ValidatePort(-1))
	assert.Error(t, v.ValidatePort(65536))
}

func TestValidatePath(t *testing.T) {
	v := NewValidator()

	t.Run("valid path", func(t *testing.T) {
		assert.NoError(t, v.ValidatePath("/ws"))
	})

	t.Run("missing slash", func(t *testing.T) {
		assert.Error(t, v.ValidatePath("ws"))
	})

	t.Run("reserved path", func(t *testing.T) {
		assert.Error(t, v.ValidatePath("/healthz"))
		assert.Error(t, v.ValidatePath("/metrics"))
	})
}

func TestValidateLedgerBackend(t *testing.T) {
	v := NewValidator()

	for _, backend := range []string{"file", "sqlite", "memory"} {
		assert.NoError(t, v.ValidateLedgerBackend(backend), backend)
	}
	err := v.ValidateLedgerBackend("postgres")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be one of")
}

func TestValidateSchedule(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateSchedule(""))
	assert.NoError(t, v.ValidateSchedule("@hourly"))
	assert.NoError(t, v.ValidateSchedule("0 3 * * *"))
	assert.Error(t, v.ValidateSchedule("0 3 * *"))
}

func TestValidatePluginDir(t *testing.T) {
	v := NewValidator()
	tmpDir := t.TempDir()

	assert.NoError(t, v.ValidatePluginDir(""))
	assert.NoError(t, v.ValidatePluginDir(tmpDir))
	assert.Error(t, v.ValidatePluginDir(filepath.Join(tmpDir, "missing")))

	file := filepath.Join(tmpDir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	assert.Error(t, v.ValidatePluginDir(file))
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	validLevels := []string{"debug", "info", "warn", "error"}
	for _, level := range validLevels {
		t.Run(level, func(t *testing.T) {
			assert.NoError(t, v.ValidateLogLevel(level))
		})
	}

	t.Run("invalid level", func(t *testing.T) {
		assert.Error(t, v.ValidateLogLevel("invalid"))
	})
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("valid config", func(t *testing.T) {
		errs := v.ValidateConfig(DefaultConfig())
		assert.Empty(t, errs)
	})

	t.Run("multiple errors", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.RateLimitPerMinute = -5
		cfg.Ledger.Backend = "unknown"
		cfg.Ledger.FlushInterval = 0

		errs := v.ValidateConfig(cfg)
		assert.Len(t, errs, 3)
	})
}

func TestWizardRun(t *testing.T) {
	pluginDir := t.TempDir()

	// host, bad port, port, plugin dir, watch, backend, default log level
	answers := strings.Join([]string{
		"0.0.0.0",
		"not-a-port",
		"9300",
		pluginDir,
		"y",
		"sqlite",
		"",
	}, "\n") + "\n"

	var out bytes.Buffer
	cfg, err := NewWizard(strings.NewReader(answers), &out).Run()

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9300, cfg.Server.Port)
	assert.Equal(t, pluginDir, cfg.Tools.PluginDir)
	assert.True(t, cfg.Tools.Watch)
	assert.Equal(t, "sqlite", cfg.Ledger.Backend)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Contains(t, out.String(), "Error:")
	assert.NoError(t, cfg.Validate())
}

func TestWizardRunInputEnds(t *testing.T) {
	_, err := NewWizard(strings.NewReader(""), &bytes.Buffer{}).Run()
	assert.Error(t, err)
}
