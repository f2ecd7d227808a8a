package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading answers from in and writing prompts to out
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run asks for the settings most installs change and returns the resulting
// config. An empty answer keeps the default shown in brackets.
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== toolgate Configuration Wizard ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	validator := NewValidator()

	host, err := w.ask("Listen host", cfg.Server.Host)
	if err != nil {
		return nil, err
	}
	cfg.Server.Host = host

	for {
		answer, err := w.ask("Listen port", strconv.Itoa(cfg.Server.Port))
		if err != nil {
			return nil, err
		}
		port, convErr := strconv.Atoi(answer)
		if convErr == nil {
			convErr = validator.ValidatePort(port)
		}
		if convErr != nil {
			fmt.Fprintf(w.out, "Error: %v\n", convErr)
			continue
		}
		cfg.Server.Port = port
		break
	}

	fmt.Fprintln(w.out)

	for {
		dir, err := w.ask("Plugin directory (empty for builtins only)", "")
		if err != nil {
			return nil, err
		}
		if err := validator.ValidatePluginDir(dir); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Tools.PluginDir = dir
		break
	}

	if cfg.Tools.PluginDir != "" {
		watch, err := w.ask("Reload tools when manifests change? (y/n)", "n")
		if err != nil {
			return nil, err
		}
		cfg.Tools.Watch = strings.ToLower(watch) == "y"
	}

	fmt.Fprintln(w.out)

	fmt.Fprintln(w.out, "Ledger backends:")
	fmt.Fprintln(w.out, "  file   - append-only JSON lines (default)")
	fmt.Fprintln(w.out, "  sqlite - one row per tool")
	fmt.Fprintln(w.out, "  memory - not persisted")
	backend, err := w.ask("Ledger backend", cfg.Ledger.Backend)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateLedgerBackend(backend); err != nil {
		fmt.Fprintf(w.out, "Warning: %v, using default (%s)\n", err, cfg.Ledger.Backend)
	} else {
		cfg.Ledger.Backend = backend
	}

	fmt.Fprintln(w.out)

	level, err := w.ask("Log level (debug/info/warn/error)", cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateLogLevel(level); err != nil {
		fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
	} else {
		cfg.Logging.Level = level
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

func (w *Wizard) ask(prompt, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(w.out, "%s: ", prompt)
	}

	answer, err := w.readLine()
	if err != nil {
		return "", err
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// readLine accepts a final line without a trailing newline
func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
