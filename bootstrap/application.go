package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	promadapter "github.com/najoast/actorrt/adapters/prometheus"
	"github.com/najoast/actorrt/config"
	"github.com/najoast/actorrt/core"
)

// DefaultApplication implements the Application interface
type DefaultApplication struct {
	// config holds the configuration the application was built with
	config *config.Config

	// configFile is watched for changes when set
	configFile string

	logger    *slog.Logger
	logCloser io.Closer

	// registry collects runtime and process metrics
	registry *prometheus.Registry

	runtime *core.Runtime

	// lifecycleManager manages service lifecycles
	lifecycleManager *DefaultLifecycleManager

	// mutex protects concurrent access
	mutex sync.Mutex

	// running indicates if the application is running
	running bool
}

// Run runs the application until ctx is done or a shutdown signal arrives
func (app *DefaultApplication) Run(ctx context.Context) error {
	app.mutex.Lock()
	if app.running {
		app.mutex.Unlock()
		return fmt.Errorf("application is already running")
	}
	app.running = true
	app.mutex.Unlock()

	if err := app.lifecycleManager.Start(ctx); err != nil {
		app.mutex.Lock()
		app.running = false
		app.mutex.Unlock()
		return fmt.Errorf("failed to start services: %w", err)
	}
	app.logger.Info("application started",
		slog.String("app", app.config.App.Name),
		slog.String("environment", string(app.config.App.Environment)),
		slog.Any("services", app.lifecycleManager.Services()),
	)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	if ctx.Err() != nil {
		app.logger.Info("context cancelled, shutting down")
	} else {
		app.logger.Info("received shutdown signal, shutting down")
	}

	// the caller's ctx is already done, so shutdown gets a fresh one
	return app.Shutdown(context.Background())
}

// Shutdown stops every service, bounded by the configured shutdown timeout
func (app *DefaultApplication) Shutdown(ctx context.Context) error {
	app.mutex.Lock()
	if !app.running {
		app.mutex.Unlock()
		return nil
	}
	app.running = false
	app.mutex.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, app.config.Runtime.ShutdownTimeout.Std())
	defer cancel()

	err := app.lifecycleManager.Stop(shutdownCtx)
	if err != nil {
		app.logger.Error("shutdown finished with errors", slog.Any("error", err))
	} else {
		app.logger.Info("application stopped")
	}
	if app.logCloser != nil {
		if cerr := app.logCloser.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to stop services: %w", err)
	}
	return nil
}

// Runtime returns the scheduler objects are spawned on
func (app *DefaultApplication) Runtime() *core.Runtime {
	return app.runtime
}

// Config returns the configuration the application was built with
func (app *DefaultApplication) Config() *config.Config {
	return app.config
}

// Logger returns the application logger
func (app *DefaultApplication) Logger() *slog.Logger {
	return app.logger
}

// Registry returns the metrics registry served by the monitor
func (app *DefaultApplication) Registry() *prometheus.Registry {
	return app.registry
}

// LifecycleManager returns the lifecycle manager
func (app *DefaultApplication) LifecycleManager() LifecycleManager {
	return app.lifecycleManager
}

type registration struct {
	name    string
	service Service
	deps    []string
}

// ApplicationBuilder helps build and configure applications
type ApplicationBuilder struct {
	config     *config.Config
	configFile string
	logger     *slog.Logger
	registry   *prometheus.Registry
	services   []registration
}

// NewApplicationBuilder creates a new application builder
func NewApplicationBuilder() *ApplicationBuilder {
	return &ApplicationBuilder{}
}

// WithConfig sets the configuration. Ignored when a config file is given.
func (b *ApplicationBuilder) WithConfig(cfg *config.Config) *ApplicationBuilder {
	b.config = cfg
	return b
}

// WithConfigFile loads configuration from a file and reloads the default
// time slice when the file changes
func (b *ApplicationBuilder) WithConfigFile(filename string) *ApplicationBuilder {
	b.configFile = filename
	return b
}

// WithLogger overrides the logger built from the log configuration
func (b *ApplicationBuilder) WithLogger(logger *slog.Logger) *ApplicationBuilder {
	b.logger = logger
	return b
}

// WithRegistry sets the registry runtime metrics are registered on
func (b *ApplicationBuilder) WithRegistry(reg *prometheus.Registry) *ApplicationBuilder {
	b.registry = reg
	return b
}

// WithService registers an extra service, started after the runtime
func (b *ApplicationBuilder) WithService(name string, service Service, deps ...string) *ApplicationBuilder {
	b.services = append(b.services, registration{name: name, service: service, deps: deps})
	return b
}

// Build builds the configured application
func (b *ApplicationBuilder) Build() (*DefaultApplication, error) {
	cfg := b.config
	if b.configFile != "" {
		loaded, err := config.NewLoader().LoadFromFile(b.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &DefaultApplication{
		config:     cfg,
		configFile: b.configFile,
		logger:     b.logger,
		registry:   b.registry,
	}

	if app.logger == nil {
		logger, closer, err := config.NewLogger(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		app.logger = logger
		app.logCloser = closer
	}
	app.logger = app.logger.With(slog.String("app", cfg.App.Name))

	if app.registry == nil {
		app.registry = prometheus.NewRegistry()
		app.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	opts := cfg.Runtime.Options()
	opts.Logger = app.logger
	opts.Metrics = promadapter.NewRuntimeMetrics(app.registry)
	app.runtime = core.NewRuntime(opts)

	app.lifecycleManager = NewLifecycleManager(app.logger)
	if err := app.registerCoreServices(); err != nil {
		return nil, err
	}
	for _, r := range b.services {
		deps := r.deps
		if !slices.Contains(deps, RuntimeServiceName) {
			deps = append(slices.Clone(deps), RuntimeServiceName)
		}
		if err := app.lifecycleManager.Register(r.name, r.service, deps...); err != nil {
			return nil, err
		}
	}
	return app, nil
}

func (app *DefaultApplication) registerCoreServices() error {
	lm := app.lifecycleManager

	if err := lm.Register(RuntimeServiceName, NewRuntimeService(app.runtime, app.config.Runtime.ShutdownTimeout.Std())); err != nil {
		return err
	}
	if app.config.Monitor.Enabled {
		monitor := NewMonitorService(app.config.Monitor, app.runtime, app.registry, lm, app.logger)
		if err := lm.Register(MonitorServiceName, monitor, RuntimeServiceName); err != nil {
			return err
		}
	}
	if app.configFile != "" {
		watch := NewConfigWatchService(app.configFile, app.runtime, app.logger)
		if err := lm.Register(ConfigWatchServiceName, watch, RuntimeServiceName); err != nil {
			return err
		}
	}
	return nil
}

var _ Application = (*DefaultApplication)(nil)
