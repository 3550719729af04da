// Package app wires configuration, logging, metrics and the dev server into
// a runnable process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"forumsync/internal/config"
	"forumsync/internal/devserver"
	"forumsync/internal/logging"
)

// Application owns the dev server and its listeners.
type Application struct {
	config        *config.Config
	registry      *prometheus.Registry
	server        *devserver.Server
	httpServer    *http.Server
	metricsServer *http.Server
	logger        zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewApplication builds every component in dependency order:
// metrics registry, dev server, HTTP listeners.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	server := devserver.New(cfg.Server, devserver.Options{
		Registerer: registry,
		Gatherer:   registry,
	})

	app := &Application{
		config:   cfg,
		registry: registry,
		server:   server,
		httpServer: &http.Server{
			Addr:        net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
			Handler:     server,
			ReadTimeout: cfg.Server.ReadTimeout,
			// no WriteTimeout: it would cut long-lived sockets
		},
		logger: logging.Component("app"),
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		app.metricsServer = &http.Server{
			Addr:        cfg.Metrics.Addr,
			Handler:     mux,
			ReadTimeout: cfg.Server.ReadTimeout,
		}
	}

	return app, nil
}

// Start runs the hub and begins accepting connections. It returns once the
// listeners are bound.
func (app *Application) Start(ctx context.Context) error {
	if err := app.server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dev server: %w", err)
	}

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.server.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.mu.Lock()
	app.listener = ln
	app.mu.Unlock()

	go app.serve(app.httpServer, ln)

	if app.metricsServer != nil {
		mln, err := net.Listen("tcp", app.metricsServer.Addr)
		if err != nil {
			_ = app.httpServer.Close()
			_ = app.server.Stop()
			return fmt.Errorf("failed to listen on %s: %w", app.metricsServer.Addr, err)
		}
		go app.serve(app.metricsServer, mln)
		app.logger.Info().Str("addr", mln.Addr().String()).Msg("metrics listener started")
	}

	app.logger.Info().Str("addr", ln.Addr().String()).Msg("forumsync dev server started")
	return nil
}

func (app *Application) serve(srv *http.Server, ln net.Listener) {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error().Err(err).Str("addr", ln.Addr().String()).Msg("http server stopped")
	}
}

// Stop shuts down in reverse order: listeners, then sockets and hub.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info().Msg("shutting down")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if app.metricsServer != nil {
		if err := app.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
	}
	if err := app.server.Stop(); err != nil && !errors.Is(err, devserver.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("dev server shutdown: %w", err))
	}

	app.logger.Info().Msg("shutdown complete")
	return errors.Join(errs...)
}

// Addr is the bound address once started, the configured one before.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Server exposes the dev server, mainly for tests.
func (app *Application) Server() *devserver.Server {
	return app.server
}
