// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the llmbench server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"llmbench/config"
	"llmbench/internal/httpclient"
	"llmbench/internal/observability"
	"llmbench/internal/providers"
	"llmbench/internal/server"
	"llmbench/internal/session"
)

// validateTimeout bounds each provider's connectivity check.
const validateTimeout = 30 * time.Second

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config   *config.Config
	store    *config.Store
	registry *providers.Registry
	resolver *providers.CachedResolver
	sessions *session.Manager
	server   *server.Server

	stopWatch context.CancelFunc

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig holds the settings produced by config.Load.
	AppConfig *config.Config

	// Store replaces the credential store read from AppConfig.Credentials.
	Store *config.Store

	// HTTPClient is shared by every adapter (default: httpclient.NewDefaultHTTPClient).
	HTTPClient *http.Client

	// Registerer and Gatherer back the metrics (default: the prometheus globals).
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// New creates a new App with all dependencies initialized. Credential file
// watching, when enabled, runs until ctx is done or Shutdown is called.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	appCfg := cfg.AppConfig

	store := cfg.Store
	if store == nil {
		var err error
		store, err = config.NewStore(appCfg.Credentials.EnvFile, appCfg.Credentials.YAMLFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load credentials: %w", err)
		}
	}

	opts := providers.BuildOptions{
		HTTPClient:         cfg.HTTPClient,
		AzureUsageFallback: appCfg.Azure.UsageFallback,
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = httpclient.NewDefaultHTTPClient()
	}

	// Hooks must be in place before any adapter is built.
	var observer session.Observer
	if appCfg.Metrics.Enabled {
		reg := cfg.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		metrics := observability.New(reg)
		opts.Hooks = metrics.Hooks()
		observer = metrics
	}

	app := &App{
		config: appCfg,
		store:  store,
	}
	app.registry = providers.NewDefaultRegistry(store, opts)
	app.resolver = providers.NewCachedResolver(app.registry)
	app.sessions = session.NewManager(app.resolver, observer)

	app.logStartupInfo()
	store.OnReload(app.logProviderStatuses)

	if appCfg.Credentials.Watch {
		watchCtx, cancel := context.WithCancel(ctx)
		if err := store.Watch(watchCtx); err != nil {
			cancel()
			slog.Warn("credential file watch disabled", "path", appCfg.Credentials.EnvFile, "error", err)
		} else {
			app.stopWatch = cancel
		}
	}

	app.server = server.New(server.Deps{
		Statuses:    app.registry,
		Resolver:    app.resolver,
		Sessions:    app.sessions,
		Credentials: store,
	}, &server.Config{
		MetricsEnabled:  appCfg.Metrics.Enabled,
		MetricsEndpoint: appCfg.Metrics.Endpoint,
		Gatherer:        cfg.Gatherer,
		BodyLimit:       appCfg.Server.BodyLimit,
	})

	return app, nil
}

// Handler returns the HTTP handler of the API.
func (a *App) Handler() http.Handler {
	return a.server
}

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager {
	return a.sessions
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server, honoring ctx, and then the credential
// watcher. Turns still streaming are cancelled with their request contexts.
//
// Shutdown is idempotent; after the first call, subsequent calls are no-ops.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}
	if a.stopWatch != nil {
		a.stopWatch()
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

// Validate checks the connection of every configured provider and writes one
// line per provider to out. It returns the process exit code: 0 when every
// configured provider answered, 1 otherwise or when none is configured.
func (a *App) Validate(ctx context.Context, out io.Writer) int {
	code := 0
	configured := 0
	for _, st := range a.registry.Statuses(ctx) {
		if !st.Configured {
			continue
		}
		configured++
		p, err := a.resolver.Resolve(st.Key)
		if err != nil {
			slog.Error("provider failed to build", "provider", st.Key, "error", err)
			code = 1
			continue
		}
		checkCtx, cancel := context.WithTimeout(ctx, validateTimeout)
		ok := p.ValidateConnection(checkCtx)
		cancel()

		result := "ok"
		if !ok {
			result = "FAILED"
			code = 1
		}
		fmt.Fprintf(out, "%-14s %s\n", st.Key, result)
	}
	if configured == 0 {
		slog.Error("no provider is configured")
		return 1
	}
	return code
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	slog.Info("credentials configured",
		"env_file", cfg.Credentials.EnvFile,
		"yaml_file", cfg.Credentials.YAMLFile,
		"watch", cfg.Credentials.Watch,
	)
	slog.Info("azure usage fallback", "mode", cfg.Azure.UsageFallback)

	a.logProviderStatuses()
}

func (a *App) logProviderStatuses() {
	for _, st := range a.registry.Statuses(context.Background()) {
		if st.Configured {
			slog.Info("provider configured", "provider", st.Key, "default_model", st.DefaultModel)
			continue
		}
		slog.Info("provider not configured", "status", st.String(), "missing", st.Missing)
	}
}
