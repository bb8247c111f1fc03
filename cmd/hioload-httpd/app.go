// File: cmd/hioload-httpd/app.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/zap"

	"github.com/momentics/hioload-httpd/credentials"
	"github.com/momentics/hioload-httpd/server"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "hioload-httpd",
		Short:         "Serve a document root over HTTP from a single epoll event loop",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("config")
			cfg, err := loadConfig(v, file)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	if err := bindFlags(cmd.Flags(), v); err != nil {
		panic(err)
	}
	return cmd
}

func run(ctx context.Context, cfg appConfig) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, stopLog, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer stopLog()

	mp, err := newMeterProvider(cfg.Metrics)
	if err != nil {
		return err
	}
	if mp != nil {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = errors.Join(err, mp.Shutdown(sctx))
		}()
	}

	resources, err := credentials.OpenPool(ctx, cfg.Credentials)
	if err != nil {
		logger.Error("credential store unavailable", zap.String("driver", cfg.Credentials.Driver), zap.Error(err))
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = errors.Join(err, resources.Close(cctx))
	}()

	snap, err := credentials.LoadSnapshot(ctx, resources)
	if err != nil {
		return err
	}
	logger.Info("credentials loaded", zap.Int("users", snap.Len()), zap.Int("pool", resources.Cap()))

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithResources(resources),
		server.WithSnapshot(snap),
	}
	if mp != nil {
		opts = append(opts, server.WithMeterProvider(mp))
	}
	srv, err := server.New(cfg.Server, opts...)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	return srv.Run(ctx)
}

// newMeterProvider returns nil when metrics export is off; the server then
// records into the global no-op provider.
func newMeterProvider(cfg metricsConfig) (*sdkmetric.MeterProvider, error) {
	if cfg.Interval <= 0 {
		return nil, nil
	}
	exp, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("metrics exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", "hioload-httpd"))),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(cfg.Interval))),
	), nil
}
