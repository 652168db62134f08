package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/central/internal/central"
	"github.com/rickgao/central/internal/config"
	"github.com/rickgao/central/internal/database"
	"github.com/rickgao/central/internal/metrics"
	"github.com/rickgao/central/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/central.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	// Set up structured logging
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting central",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"config", *configPath,
	)
	metrics.InitInfo(version.Version, version.Commit)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	var (
		opts  []central.Option
		audit central.Pinger
	)
	if cfg.Audit.Enabled {
		logger.Info("connecting to audit database",
			"host", cfg.Database.Audit.Host,
			"port", cfg.Database.Audit.Port,
			"database", cfg.Database.Audit.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database.Audit)
		if err != nil {
			logger.Error("failed to connect to audit database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			logger.Error("failed to prepare audit schema", "error", err)
			os.Exit(1)
		}
		opts = append(opts, central.WithAuditSink(pool))
		audit = pool
	}

	c := central.New(cfg, logger, opts...)
	if err := c.Start(ctx); err != nil {
		logger.Error("failed to start central", "error", err)
		os.Exit(1)
	}

	channelMux := http.NewServeMux()
	channelMux.Handle(cfg.Server.Path, c.Handler())
	channelServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           channelMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	adminMux := http.NewServeMux()
	adminMux.Handle(cfg.Metrics.Path, promhttp.Handler())
	adminMux.Handle("/", c.HealthHandler(audit))
	adminServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           adminMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("accepting channels", "addr", cfg.Server.ListenAddr, "path", cfg.Server.Path)
		if err := channelServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("channel server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("starting health server",
			"port", cfg.Metrics.Port,
			"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
		)
		if err := adminServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout)
		defer shutdownCancel()
		if err := c.Shutdown(shutdownCtx); err != nil {
			logger.Warn("proceeding without every channel acknowledging", "error", err)
		}

		// Channels are done (or given up on); a fresh budget for teardown.
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()

		stopErr := c.Stop(stopCtx)
		if err := channelServer.Shutdown(stopCtx); err != nil {
			logger.Warn("channel server shutdown", "error", err)
		}
		if err := adminServer.Shutdown(stopCtx); err != nil {
			logger.Warn("health server shutdown", "error", err)
		}
		return stopErr
	})

	if err := g.Wait(); err != nil {
		logger.Error("central exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("central stopped")
}
