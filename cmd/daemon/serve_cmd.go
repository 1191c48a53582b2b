// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ManuGH/tunegate/internal/api"
	"github.com/ManuGH/tunegate/internal/config"
	"github.com/ManuGH/tunegate/internal/daemon"
	"github.com/ManuGH/tunegate/internal/health"
	"github.com/ManuGH/tunegate/internal/log"
	"github.com/ManuGH/tunegate/internal/resilience"
	"github.com/ManuGH/tunegate/internal/telemetry"
	"github.com/ManuGH/tunegate/internal/version"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	// Safe defaults until the configuration is loaded.
	log.Configure(log.Config{Level: "info", Version: version.Version})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, loader, err := opts.loadConfig()
	if err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "config.load_failed").Str(log.FieldPath, opts.configPath).Msg("failed to load configuration")
		return err
	}
	logger = log.WithComponent("daemon")
	logger.Info().
		Str(log.FieldEvent, "config.loaded").
		Str(log.FieldPath, loader.Path()).
		Int("env_overrides", len(loader.ConsumedEnvKeys)).
		Msg("configuration loaded")

	if err := health.PerformStartupChecks(cfg); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "startup.check_failed").Msg("startup checks failed")
		return err
	}

	tp, err := telemetry.NewProvider(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	var current atomic.Pointer[pipeline]
	current.Store(p)

	srv, err := api.New(api.Options{
		Version:  version.Version,
		Stack:    stackConfig(cfg),
		Pipeline: p.api(),
	})
	if err != nil {
		return fmt.Errorf("build api server: %w", err)
	}
	srv.HealthManager().RegisterChecker(health.NewBreakerChecker("upstream_breakers", func() []*resilience.CircuitBreaker {
		return current.Load().resolver.Breakers()
	}))

	holder := config.NewHolder(cfg, loader)
	holder.OnReload(func(next config.Config) {
		configureLogging(next)
		np, err := buildPipeline(next)
		if err == nil {
			err = srv.SetPipeline(np.api())
		}
		if err != nil {
			logger.Error().Err(err).Str(log.FieldEvent, "config.apply_failed").Msg("reloaded config could not be applied; keeping current pipeline")
			return
		}
		current.Store(np)
		if next.Server.ListenAddr != cfg.Server.ListenAddr {
			logger.Warn().Str(log.FieldEvent, "config.restart_required").Msg("listen address changes take effect after restart")
		}
	})

	mgr, err := daemon.NewManager(cfg.Server, daemon.Deps{Logger: logger, APIHandler: srv.Handler()})
	if err != nil {
		return fmt.Errorf("create daemon manager: %w", err)
	}
	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)

	logger.Info().
		Str(log.FieldEvent, "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", cfg.Server.ListenAddr).
		Strs("sources", p.resolver.Sources()).
		Strs("allowed_hosts", p.fetcher.AllowedSuffixes()).
		Str(log.FieldMode, cfg.Fetcher.DefaultMode).
		Bool("tracing", tp.Enabled()).
		Msg("starting tunegate")

	if err := daemon.NewApp(logger, mgr, holder).Run(ctx); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "daemon.failed").Msg("daemon app failed")
		return err
	}
	logger.Info().Msg("server exiting")
	return nil
}
