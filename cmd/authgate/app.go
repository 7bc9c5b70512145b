package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/vyrodovalexey/authgate/internal/config"
	"github.com/vyrodovalexey/authgate/internal/gateway"
	"github.com/vyrodovalexey/authgate/internal/observability"
)

// application holds all application components.
type application struct {
	logger  observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	gateway *gateway.Gateway
	watcher *config.Watcher
}

// initApplication initializes all application components.
func initApplication(cfg *config.Config, logger observability.Logger) (*application, error) {
	metrics := observability.NewMetrics("authgate")
	metrics.SetBuildInfo(version, gitCommit, buildTime)

	tracer, err := initTracer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
		gateway.WithVersion(version),
	}
	if cfg.Tracing.Enabled {
		opts = append(opts, gateway.WithTracer(tracer))
	}

	gw, err := gateway.New(cfg, opts...)
	if err != nil {
		_ = tracer.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	return &application{
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		gateway: gw,
	}, nil
}

// initTracer initializes the tracer.
func initTracer(cfg *config.Config, logger observability.Logger) (*observability.Tracer, error) {
	return observability.NewTracer(observability.TracerConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.Endpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
	}, logger.Named("tracing"))
}

// startConfigWatcher reloads the gateway whenever the file at path
// changes. A watcher that cannot start is logged and skipped.
func (a *application) startConfigWatcher(ctx context.Context, path string) {
	watcher, err := config.NewWatcher(path,
		func(cfg *config.Config) {
			_ = a.gateway.Reload(cfg)
		},
		config.WithLogger(a.logger.Named("config")),
		config.WithErrorCallback(func(error) {
			a.metrics.RecordConfigReload(false)
		}),
	)
	if err != nil {
		a.logger.Warn("failed to create config watcher, hot reload disabled", observability.Error(err))
		return
	}

	if err := watcher.Start(ctx); err != nil {
		a.logger.Warn("failed to start config watcher, hot reload disabled", observability.Error(err))
		_ = watcher.Stop()
		return
	}
	a.watcher = watcher
}

// shutdown stops the watcher, the gateway and the tracer in that order.
// The audit log is closed once the gateway has stopped.
func (a *application) shutdown(ctx context.Context) error {
	var errs []error

	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop config watcher: %w", err))
		}
	}

	if a.gateway.IsRunning() {
		if err := a.gateway.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop gateway gracefully: %w", err))
		}
	}
	if err := a.gateway.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close audit log: %w", err))
	}

	if err := a.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown tracer: %w", err))
	}

	return errors.Join(errs...)
}
