package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/harun/toolgate/internal/app"
	"github.com/spf13/cobra"
)

const pidFileName = "toolgate.pid"

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the toolgate gateway",
	Long: `Start the toolgate gateway in the foreground.
The gateway serves tools until it receives SIGINT or SIGTERM, then finishes
in-flight calls and flushes the invocation ledger before exiting.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pidFile := getPIDFilePath(cfg.DataDir)
	if isRunning(pidFile) {
		return fmt.Errorf("gateway is already running (PID file: %s)", pidFile)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}

	if err := writePIDFile(pidFile); err != nil {
		return err
	}
	defer os.Remove(pidFile)

	log.Info().Str("pid_file", pidFile).Int("pid", os.Getpid()).Msg("Starting toolgate")
	return a.Run(cmd.Context())
}

func getPIDFilePath(dataDir string) string {
	if dataDir == "" {
		return filepath.Join(os.TempDir(), pidFileName)
	}
	return filepath.Join(dataDir, pidFileName)
}

func writePIDFile(pidFile string) error {
	if err := os.MkdirAll(filepath.Dir(pidFile), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

func readPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}

func isRunning(pidFile string) bool {
	pid, err := readPID(pidFile)
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so we need to send signal 0
	return process.Signal(syscall.Signal(0)) == nil
}
