package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		output, err := execute(t, "", "stop", "--help")
		require.NoError(t, err)

		assert.Contains(t, output, "Stop a running toolgate gateway")
		assert.Contains(t, output, "timeout")
	})

	t.Run("not running", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), 0)
		_, err := execute(t, "", "stop", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not running")
	})
}
