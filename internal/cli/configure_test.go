package cli

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/harun/toolgate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		output, err := execute(t, "", "configure", "--help")
		require.NoError(t, err)
		assert.Contains(t, output, "interactive configuration wizard")
	})

	t.Run("saves the wizard answers", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "toolgate.json")

		// host, port, plugin dir, backend, log level
		answers := strings.Join([]string{"127.0.0.1", "9400", "", "memory", "warn"}, "\n") + "\n"
		output, err := execute(t, answers, "configure", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, output, "Configuration saved to: "+path)

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", cfg.Server.Host)
		assert.Equal(t, 9400, cfg.Server.Port)
		assert.Equal(t, "memory", cfg.Ledger.Backend)
		assert.Equal(t, "warn", cfg.Logging.Level)
	})

	t.Run("fails when input ends early", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "toolgate.json")
		_, err := execute(t, "", "configure", "--config", path)
		assert.Error(t, err)
	})
}
