// Package app wires configuration, logging, the ledger, the tool registry and
// the gateway server into one runnable process.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/toolgate/internal/config"
	"github.com/harun/toolgate/internal/logger"
	"github.com/harun/toolgate/internal/observability"
	"github.com/harun/toolgate/internal/tracing"
	"github.com/harun/toolgate/pkg/gateway"
	"github.com/harun/toolgate/pkg/ledger"
	"github.com/harun/toolgate/pkg/tool"
	"github.com/harun/toolgate/pkg/tool/builtin"
	"go.uber.org/dig"
	"golang.org/x/sync/errgroup"
)

// App owns every long-lived component of a running gateway
type App struct {
	config   *config.Config
	logger   *logger.Logger
	ledger   *ledger.Ledger
	registry *tool.Registry
	loader   *tool.Loader
	server   *gateway.Server
	watcher  *tool.Watcher

	stopCompaction func()
	tracingEnabled bool
	auditEnabled   bool

	startTime time.Time
	running   bool
	stopOnce  sync.Once
	mu        sync.RWMutex
}

// Status describes a running App
type Status struct {
	Running     bool          `json:"running"`
	Addr        string        `json:"addr,omitempty"`
	Tools       int           `json:"tools"`
	Connections int           `json:"connections"`
	StartTime   time.Time     `json:"start_time,omitempty"`
	Uptime      time.Duration `json:"uptime,omitempty"`
}

// New builds the dependency graph for cfg. Nothing listens until Start.
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	observability.EnsureRegistered()

	var opened *ledger.Ledger
	c := dig.New()
	providers := []interface{}{
		func() *config.Config { return cfg },
		func() *logger.Logger { return log },
		func(cfg *config.Config, log *logger.Logger) (*ledger.Ledger, error) {
			l, err := provideLedger(cfg, log)
			opened = l
			return l, err
		},
		provideTools,
		provideServer,
	}
	for _, p := range providers {
		if err := c.Provide(p); err != nil {
			return nil, fmt.Errorf("failed to provide component: %w", err)
		}
	}

	var a *App
	err := c.Invoke(func(l *ledger.Ledger, r *tool.Registry, loader *tool.Loader, s *gateway.Server) {
		a = &App{
			config:   cfg,
			logger:   log,
			ledger:   l,
			registry: r,
			loader:   loader,
			server:   s,
		}
	})
	if err != nil {
		if opened != nil {
			if closeErr := opened.Close(); closeErr != nil {
				log.Warn().Err(closeErr).Msg("Failed to close ledger")
			}
		}
		return nil, fmt.Errorf("failed to build application: %w", dig.RootCause(err))
	}

	return a, nil
}

var (
	openStore = ledger.NewStore
	newServer = gateway.NewServer
)

func provideLedger(cfg *config.Config, log *logger.Logger) (*ledger.Ledger, error) {
	store, err := openStore(cfg.Ledger.Backend, cfg.Ledger.Path, log.Component("ledger"))
	if err != nil {
		return nil, err
	}
	l, err := ledger.Open(store, ledger.Options{FlushInterval: cfg.Ledger.FlushInterval}, log.GetZerolog())
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	return l, nil
}

// toolSet is the registry plus the loader that fills it from manifests
type toolSet struct {
	dig.Out

	Registry *tool.Registry
	Loader   *tool.Loader
}

func provideTools(cfg *config.Config, log *logger.Logger, l *ledger.Ledger) (toolSet, error) {
	registry := tool.NewRegistry(log.GetZerolog())
	registry.OnChange(func(tools []tool.Metadata) {
		observability.SetRegisteredTools(len(tools))
	})

	opts := builtin.Options{
		WorkspaceRoot: cfg.Tools.WorkspaceRoot,
		Registry:      registry,
		Ledger:        l,
		Logger:        log.GetZerolog(),
	}
	if cfg.Tools.Builtins {
		if err := builtin.RegisterAll(registry, opts); err != nil {
			return toolSet{}, err
		}
	}

	loader := tool.NewLoader(registry, builtin.Catalog(opts), log.GetZerolog())
	if cfg.Tools.PluginDir != "" {
		count, err := loader.LoadDirectory(cfg.Tools.PluginDir)
		if err != nil {
			return toolSet{}, fmt.Errorf("failed to load plugin manifests: %w", err)
		}
		log.Info().Int("count", count).Str("dir", cfg.Tools.PluginDir).Msg("Plugin manifests loaded")
	}

	if cfg.Tools.ManifestPath != "" {
		tool.NewManifestStore(cfg.Tools.ManifestPath, log.GetZerolog()).Attach(registry)
	}

	return toolSet{Registry: registry, Loader: loader}, nil
}

func provideServer(cfg *config.Config, log *logger.Logger, l *ledger.Ledger, r *tool.Registry) (*gateway.Server, error) {
	return newServer(gateway.Config{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		Path:               cfg.Server.Path,
		CallTimeout:        cfg.Server.CallTimeout,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		MaxMessageBytes:    cfg.Server.MaxMessageBytes,
		Registry:           r,
		Ledger:             l,
		Logger:             log.GetZerolog(),
	})
}

// Start starts background work and binds the server
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return errors.New("gateway is already running")
	}

	if a.config.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(a.config.Tracing.ServiceName); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			a.tracingEnabled = true
		}
	}

	if a.config.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(a.config.Logging.AuditFile); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to open audit log")
		} else {
			a.auditEnabled = true
		}
	}

	a.ledger.Start()
	if expr := a.config.Ledger.CompactSchedule; expr != "" {
		stop, err := a.ledger.ScheduleCompaction(expr)
		if err != nil {
			return fmt.Errorf("failed to schedule ledger compaction: %w", err)
		}
		a.stopCompaction = stop
	}

	if a.config.Tools.PluginDir != "" && a.config.Tools.Watch {
		watcher, err := tool.NewWatcher(a.loader, a.config.Tools.PluginDir, 0)
		if err != nil {
			return fmt.Errorf("failed to watch plugin directory: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("failed to watch plugin directory: %w", err)
		}
		a.watcher = watcher
	}

	if err := a.server.Start(); err != nil {
		return err
	}

	a.running = true
	a.startTime = time.Now()
	a.logger.Info().
		Str("addr", a.server.Addr()).
		Int("tools", a.registry.Len()).
		Msg("Gateway started")
	return nil
}

// Stop drains the server and releases everything Start acquired. Calling it
// more than once is a no-op.
func (a *App) Stop() error {
	var errs []error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()

		a.logger.Info().Msg("Stopping gateway")

		if err := a.server.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("server: %w", err))
		}
		if a.watcher != nil {
			if err := a.watcher.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("watcher: %w", err))
			}
		}
		if a.stopCompaction != nil {
			a.stopCompaction()
		}
		if err := a.ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ledger: %w", err))
		}

		if a.tracingEnabled {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
				a.logger.Error().Err(err).Msg("Failed to shutdown tracing")
			}
			cancel()
		}
		if a.auditEnabled {
			if err := observability.GetAuditLogger().Close(); err != nil {
				a.logger.Error().Err(err).Msg("Failed to close audit logger")
			}
		}

		a.logger.Info().Msg("Gateway stopped")
	})
	return errors.Join(errs...)
}

// Run starts the app and blocks until ctx is cancelled or SIGINT/SIGTERM
// arrives, then stops it.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(); err != nil {
		_ = a.Stop()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info().Msg("Shutdown requested")
		return a.Stop()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Status reports whether the app is serving and what it serves
func (a *App) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	status := Status{
		Running: a.running,
		Tools:   a.registry.Len(),
	}
	if a.running {
		status.Addr = a.server.Addr()
		status.Connections = len(a.server.Connections())
		status.StartTime = a.startTime
		status.Uptime = time.Since(a.startTime)
	}
	return status
}

// Registry returns the tool registry
func (a *App) Registry() *tool.Registry {
	return a.registry
}

// Ledger returns the invocation ledger
func (a *App) Ledger() *ledger.Ledger {
	return a.ledger
}

// Server returns the gateway server
func (a *App) Server() *gateway.Server {
	return a.server
}
