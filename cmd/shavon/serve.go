// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/shavon/internal/auth"
	"github.com/holomush/shavon/internal/config"
	"github.com/holomush/shavon/internal/web"
)

// newServeCmd creates the serve subcommand.
func newServeCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the application HTTP server and, unless server.metrics_addr is
empty, the metrics and health server. Runs until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, logger, deps)
		},
	}

	cmd.Flags().String("host", "localhost", "listen host")
	cmd.Flags().Int("port", 8000, "listen port")
	cmd.Flags().String("metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address (empty = disabled)")

	return cmd
}

// runServeWithDeps runs the server until a signal arrives, ctx ends or a
// listener fails.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, logger *slog.Logger, deps *Deps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("starting shavon",
		"version", cfg.App.Version,
		"addr", cfg.ListenAddr(),
		"metrics_addr", cfg.Server.MetricsAddr)

	pool, err := deps.PoolOpener(ctx, cfg.PoolConfig())
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()

	var (
		obsServer ObservabilityServer
		recorder  auth.Recorder
		httpRec   web.HTTPRecorder
		obsErrCh  <-chan error
	)
	if cfg.Server.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Server.MetricsAddr, pool.Ping, logger)
		recorder = obsServer.Metrics()
		httpRec = obsServer.Metrics()
		obsErrCh, err = obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
	}

	stack, err := buildAuth(cfg, pool, logger, recorder, true)
	if err != nil {
		stopAll(cfg, logger, obsServer, nil)
		return err
	}

	webServer, err := web.New(web.Config{
		AppName: cfg.App.Name,
		Version: cfg.App.Version,
		Cookie: web.CookieConfig{
			Name:     cfg.Auth.CookieName,
			Domain:   cfg.Auth.CookieDomain,
			Lifespan: cfg.Auth.CookieLifespan,
			Secure:   cfg.Auth.CookieSecure,
		},
		TrustProxy: cfg.Server.TrustProxy,
	}, web.Deps{
		Auth:     stack.service,
		Gate:     stack.gate,
		Users:    stack.admin,
		Recorder: httpRec,
		Logger:   logger,
	})
	if err != nil {
		stopAll(cfg, logger, obsServer, nil)
		return err
	}

	webErrCh, err := webServer.Start(cfg.ListenAddr())
	if err != nil {
		stopAll(cfg, logger, obsServer, nil)
		return oops.Code("WEB_START_FAILED").Wrap(err)
	}

	sigCh, stopSignals := deps.Signals()
	defer stopSignals()

	cmd.Printf("Listening on http://%s\n", webServer.Addr())

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	case err, ok := <-webErrCh:
		if ok && err != nil {
			runErr = oops.Code("WEB_SERVE_FAILED").Wrap(err)
		}
	case err, ok := <-obsErrCh:
		if ok && err != nil {
			runErr = oops.Code("OBSERVABILITY_SERVE_FAILED").Wrap(err)
		}
	}

	stopAll(cfg, logger, obsServer, webServer)
	logger.Info("shutdown complete")
	return runErr
}

type stopper interface {
	Stop(ctx context.Context) error
}

// stopAll stops the web server first so in-flight requests still see a
// ready probe while draining.
func stopAll(cfg *config.Config, logger *slog.Logger, obs ObservabilityServer, webServer *web.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var servers []stopper
	if webServer != nil {
		servers = append(servers, webServer)
	}
	if obs != nil {
		servers = append(servers, obs)
	}
	for _, s := range servers {
		if err := s.Stop(ctx); err != nil {
			logger.Warn("error stopping server", "error", err)
		}
	}
}
