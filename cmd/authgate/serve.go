package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vyrodovalexey/authgate/internal/config"
	"github.com/vyrodovalexey/authgate/internal/observability"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Long: `Start every server of the configuration file and serve until SIGINT or
SIGTERM. Changes to the file are applied without a restart, except for
listen addresses and rate limits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, v)
		},
	}
}

// runServe loads the configuration, starts the gateway and blocks until
// ctx is done.
func runServe(ctx context.Context, v *viper.Viper) error {
	path := v.GetString(keyConfig)

	cfg, err := config.LoadAndValidate(path)
	if err != nil {
		return fmt.Errorf("invalid configuration %s: %w", path, err)
	}

	logger, err := observability.NewLogger(logConfig(v, cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	observability.SetGlobalLogger(logger)

	logger.Info("starting authgate",
		observability.String("version", version),
		observability.String("config", path),
		observability.Int("servers", len(cfg.Servers)),
		observability.Int("upstreams", len(cfg.Upstreams)),
	)

	app, err := initApplication(cfg, logger)
	if err != nil {
		return err
	}

	if err := app.gateway.Start(ctx); err != nil {
		_ = app.shutdown(context.Background())
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	app.startConfigWatcher(ctx, path)

	<-ctx.Done()
	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration())
	defer cancel()

	if err := app.shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown finished with errors", observability.Error(err))
		return err
	}

	logger.Info("authgate stopped")
	return nil
}
