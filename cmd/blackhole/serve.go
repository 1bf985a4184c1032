package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blackhole/pkg/answer"
	"blackhole/pkg/api"
	"blackhole/pkg/config"
	"blackhole/pkg/dns"
	"blackhole/pkg/logging"
	"blackhole/pkg/reload"
	"blackhole/pkg/rules"
	"blackhole/pkg/storage"
	"blackhole/pkg/telemetry"
	"blackhole/pkg/tempanswer"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const retentionInterval = time.Hour

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the DNS server and admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = logger.Close() }()
	logging.SetGlobal(logger)

	logger.Info("blackhole starting", "version", version, "build_time", buildTime, "config", configPath)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	telem, err := telemetry.New(ctx, &cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	metrics, err := telem.InitMetrics()
	if err != nil {
		return fmt.Errorf("initialize metrics: %w", err)
	}

	st, err := storage.New(&cfg.Storage, metrics)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Failed to close storage", "error", err)
		}
	}()

	store := rules.NewStore()
	manager := reload.New(store, st, logger, metrics)
	manager.SetSource(func() (*config.Config, error) { return config.Load(configPath) })
	if err := manager.Apply(ctx, cfg); err != nil {
		return err
	}

	temp, err := tempanswer.New(&cfg.TempAnswers, metrics)
	if err != nil {
		return fmt.Errorf("initialize temp answers: %w", err)
	}

	chain := answer.Chain{
		temp,
		answer.NewPatternProvider(store, temp, logger, metrics),
	}
	handler := dns.NewHandler(&cfg.Server, chain, st, logger, metrics)
	handler.SetTracer(telem.Tracer())
	server := dns.NewServer(&cfg.Server, handler, logger)

	watcher, err := config.NewWatcher(configPath, logger.Logger)
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	watcher.OnChange(func(next *config.Config) {
		if err := manager.Apply(ctx, next); err != nil {
			logger.Error("Failed to apply reloaded rules", "error", err)
		}
		if next.Server != cfg.Server {
			logger.Warn("Server settings changed; restart to apply them")
		}
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return watcher.Start(gctx) })

	if cfg.API.Enabled {
		apiServer := api.New(&api.Config{
			ListenAddress: cfg.API.ListenAddress,
			Auth:          cfg.API,
			Storage:       st,
			Rules:         store,
			Reload:        manager,
			TempAnswers:   temp,
			Logger:        logger.Logger,
			Version:       version,
		})
		g.Go(func() error { return apiServer.Start(gctx) })
	}

	if cfg.Storage.Enabled && cfg.Storage.RetentionDays > 0 {
		g.Go(func() error {
			runRetention(gctx, st, cfg.Storage.RetentionDays, logger)
			return nil
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := telem.Shutdown(shutdownCtx); serr != nil {
		logger.Error("Error during telemetry shutdown", "error", serr)
	}

	logger.Info("blackhole stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runRetention deletes query log rows older than days, once at start and
// then every retentionInterval, until ctx is done.
func runRetention(ctx context.Context, st storage.Storage, days int, logger *logging.Logger) {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()

	for {
		cutoff := time.Now().AddDate(0, 0, -days)
		if err := st.Cleanup(ctx, cutoff); err != nil && ctx.Err() == nil {
			logger.Warn("Query log cleanup failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
