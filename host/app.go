package host

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/skillsenselab/orbit/auth"
	"github.com/skillsenselab/orbit/component"
	"github.com/skillsenselab/orbit/logger"
	"github.com/skillsenselab/orbit/observability"
	"github.com/skillsenselab/orbit/plugin"
	"github.com/skillsenselab/orbit/router"
	"github.com/skillsenselab/orbit/server"
)

// App is a running provider host: the plugin registry, the capability
// router, and optionally the admin server, managed as components.
type App struct {
	Name    string
	Version string
	Cfg     *Config

	Components *component.Registry
	Registry   *plugin.Registry
	Router     *router.Router
	Logger     *logger.Logger

	gracefulTimeout time.Duration
	meterProvider   *sdkmetric.MeterProvider
	tracerProvider  *sdktrace.TracerProvider
}

// Option configures the App during creation.
type Option func(*appOptions)

type appOptions struct {
	logger          *logger.Logger
	gracefulTimeout *time.Duration
	discoverers     []plugin.Discoverer
	routerOptions   []router.Option
}

// WithLogger sets a custom logger. Without it the logger is initialized
// from the config's Logging section.
func WithLogger(l *logger.Logger) Option {
	return func(o *appOptions) { o.logger = l }
}

// WithGracefulTimeout bounds graceful shutdown.
func WithGracefulTimeout(d time.Duration) Option {
	return func(o *appOptions) { o.gracefulTimeout = &d }
}

// WithDiscoverers replaces the default binary discoverer, e.g. with a static
// descriptor list in tests.
func WithDiscoverers(ds ...plugin.Discoverer) Option {
	return func(o *appOptions) { o.discoverers = ds }
}

// WithRouterOptions appends options to the capability router, e.g. a fake
// launcher factory in tests.
func WithRouterOptions(opts ...router.Option) Option {
	return func(o *appOptions) { o.routerOptions = opts }
}

// New builds an App from cfg. Defaults are applied and the configuration is
// validated; components are wired but not started.
func New(cfg *Config, opts ...Option) (*App, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	o := &appOptions{}
	for _, opt := range opts {
		opt(o)
	}

	log := o.logger
	if log == nil {
		logger.Init(cfg.Logging)
		log = logger.GetGlobalLogger()
	}

	app := &App{
		Name:            cfg.Name,
		Version:         cfg.Version,
		Cfg:             cfg,
		Components:      component.NewRegistry(log),
		Logger:          log,
		gracefulTimeout: 15 * time.Second,
	}
	if o.gracefulTimeout != nil {
		app.gracefulTimeout = *o.gracefulTimeout
	}

	if err := app.wire(o); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) wire(o *appOptions) error {
	discoverers := o.discoverers
	if len(discoverers) == 0 {
		discoverers = []plugin.Discoverer{plugin.NewBinaryDiscoverer(a.Cfg.PluginDir)}
	}
	a.Registry = plugin.NewRegistry(a.Logger, discoverers...)

	routerOpts := []router.Option{
		router.WithLogger(a.Logger.WithComponent("router")),
		router.WithWorkDir(a.Cfg.WorkDir),
	}
	for id, providerCfg := range a.Cfg.Providers {
		routerOpts = append(routerOpts, router.WithProviderConfig(id, providerCfg))
	}
	if a.Cfg.Telemetry.Enabled {
		metrics, err := observability.NewMetrics(observability.Meter(a.Name))
		if err != nil {
			return fmt.Errorf("telemetry metrics: %w", err)
		}
		routerOpts = append(routerOpts, router.WithMetrics(metrics))
	}
	routerOpts = append(routerOpts, o.routerOptions...)
	a.Router = router.New(a.Registry, a.Cfg.Satellite, routerOpts...)

	if err := a.Components.Register(router.NewComponent(a.Registry, a.Router)); err != nil {
		return err
	}

	if a.Cfg.Server.Enabled {
		var tokens *auth.Service
		if a.Cfg.Auth.Enabled {
			svc, err := auth.NewService(a.Cfg.Auth)
			if err != nil {
				return err
			}
			tokens = svc
		}
		srv := server.New(a.Cfg.Server, a.Logger)
		srv.ApplyMiddleware(tokens)
		srv.RegisterAdminRoutes(a.Name, a.Components.HealthAll, a.Router)
		if err := a.Components.Register(server.NewComponent(srv)); err != nil {
			return err
		}
	}
	return nil
}

// Startup initializes telemetry and starts all components. Provider
// discovery runs as part of the router component's start.
func (a *App) Startup(ctx context.Context) error {
	a.Logger.Info("Starting host", map[string]interface{}{
		"name":    a.Name,
		"version": a.Version,
	})

	if a.Cfg.Telemetry.Enabled {
		tp, err := observability.InitTracer(ctx, a.tracerConfig())
		if err != nil {
			return fmt.Errorf("telemetry tracer: %w", err)
		}
		a.tracerProvider = tp

		mp, err := observability.InitMeter(ctx, a.meterConfig())
		if err != nil {
			return fmt.Errorf("telemetry meter: %w", err)
		}
		a.meterProvider = mp
	}

	if err := a.Components.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start components: %w", err)
	}

	if err := a.ReadyCheck(ctx); err != nil {
		a.Logger.Warn("Ready check reported issues", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return nil
}

// ReadyCheck verifies that all registered components are healthy.
func (a *App) ReadyCheck(ctx context.Context) error {
	results := a.Components.HealthAll(ctx)
	var unhealthy []string
	for _, h := range results {
		if h.Status != component.StatusHealthy {
			detail := h.Name + "=" + string(h.Status)
			if h.Message != "" {
				detail += "(" + h.Message + ")"
			}
			unhealthy = append(unhealthy, detail)
		}
	}
	if len(unhealthy) > 0 {
		return fmt.Errorf("unhealthy components: %v", unhealthy)
	}
	return nil
}

// Run executes the full host lifecycle: Startup, block on signal, graceful
// Shutdown.
func (a *App) Run(ctx context.Context) error {
	if err := a.Startup(ctx); err != nil {
		return err
	}

	a.Logger.Info("Host ready, waiting for shutdown signal")
	a.waitForSignal(ctx)

	return a.Shutdown()
}

func (a *App) waitForSignal(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.Logger.Info("Received shutdown signal", map[string]interface{}{
			"signal": sig.String(),
		})
	case <-ctx.Done():
		a.Logger.Info("Context canceled, shutting down")
	}
}

// Shutdown stops all components within the graceful timeout, then flushes
// telemetry.
func (a *App) Shutdown() error {
	a.Logger.Info("Shutting down host", map[string]interface{}{
		"timeout": a.gracefulTimeout.String(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), a.gracefulTimeout)
	defer cancel()

	var shutdownErr error
	if err := a.Components.StopAll(ctx); err != nil {
		a.Logger.Error("Shutdown completed with errors", map[string]interface{}{
			"error": err.Error(),
		})
		shutdownErr = err
	}

	if a.meterProvider != nil {
		if err := a.meterProvider.Shutdown(ctx); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	a.Logger.Info("Host shutdown complete")
	return shutdownErr
}

func (a *App) tracerConfig() observability.TracerConfig {
	cfg := observability.DefaultTracerConfig(a.Name)
	cfg.ServiceVersion = a.Version
	cfg.Environment = a.Cfg.Environment
	if a.Cfg.Telemetry.Endpoint != "" {
		cfg.Endpoint = a.Cfg.Telemetry.Endpoint
	}
	return cfg
}

func (a *App) meterConfig() observability.MeterConfig {
	cfg := observability.DefaultMeterConfig(a.Name)
	cfg.ServiceVersion = a.Version
	cfg.Environment = a.Cfg.Environment
	if a.Cfg.Telemetry.Endpoint != "" {
		cfg.Endpoint = a.Cfg.Telemetry.Endpoint
	}
	return cfg
}
