// Copyright (C) 2025-2026 ChronoLake, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/chronolake/compactor/config"
	"github.com/chronolake/compactor/internal/compaction"
	"github.com/chronolake/compactor/internal/dbopen"
	"github.com/chronolake/compactor/internal/events"
	"github.com/chronolake/compactor/internal/healthcheck"
	"github.com/chronolake/compactor/internal/objstore"
	"github.com/chronolake/compactor/internal/scheduler"
)

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the compaction worker",
		RunE: func(_ *cobra.Command, _ []string) error {
			servicename := "chronolake-compactor"
			addlAttrs := attribute.NewSet(
				attribute.String("action", "compact"),
			)
			doneCtx, doneFx, err := setupTelemetry(servicename, &addlAttrs)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}

			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cfg.Compaction.Bucket == "" {
				return fmt.Errorf("compaction.bucket must be configured")
			}

			return runCompactor(doneCtx, cfg)
		},
	}

	rootCmd.AddCommand(cmd)
}

func runCompactor(ctx context.Context, cfg *config.Config) error {
	store, err := dbopen.ConnectToCLDB(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to cldb: %w", err)
	}
	defer store.Close()

	blobs, err := objstore.New(ctx, storageOptions(cfg.Storage)...)
	if err != nil {
		return fmt.Errorf("failed to create object store client: %w", err)
	}

	health := healthcheck.NewServer(healthcheck.Config{Port: cfg.Health.Port})
	go func() {
		if err := health.Start(ctx); err != nil {
			slog.Error("Health check server stopped", slog.Any("error", err))
		}
	}()
	health.SetStatus(healthcheck.StatusHealthy)

	sched := scheduler.NewLocalScheduler(store, scheduler.Config{
		LeaseDuration: cfg.Scheduler.LeaseDuration,
		SkipDuration:  cfg.Scheduler.SkipDuration,
	})

	split, err := compaction.NewFileSplit(cfg.Compaction.SplitStrategy)
	if err != nil {
		return fmt.Errorf("failed to configure split strategy: %w", err)
	}

	params := compaction.DriverParams{
		Stream: compaction.NewOncePartitionStream(
			compaction.NewMetricsPartitionsSource(
				compaction.NewLoggingPartitionsSource(
					compaction.NewSchedulerPartitionsSource(sched, cfg.Compaction.MaxJobs)))),
		Lister:    store,
		Split:     split,
		Rewriter:  compaction.NewParquetRewriter(blobs, cfg.Compaction.Bucket),
		Committer: compaction.NewSchedulerCommitter(sched),
		Sink: compaction.NewMetricsDoneSink(
			compaction.NewLoggingDoneSink(
				compaction.NewSchedulerDoneSink(sched,
					cfg.DoneSink.RetryInitialInterval, cfg.DoneSink.RetryMaxElapsedTime))),
	}

	if cfg.Events.Enabled {
		if len(cfg.Events.Brokers) == 0 {
			return fmt.Errorf("events.enabled requires events.brokers")
		}
		notifier := events.NewNotifier(events.NotifierConfig{
			Brokers: cfg.Events.Brokers,
			Topic:   cfg.Events.Topic,
		})
		defer func() {
			if err := notifier.Close(); err != nil {
				slog.Error("Error closing event notifier", slog.Any("error", err))
			}
		}()
		params.Notifier = notifier
	}

	driver, err := compaction.NewDriver(params, compaction.DriverConfig{
		Workers:   cfg.Compaction.Workers,
		IdleSleep: cfg.Compaction.IdleSleep,
	})
	if err != nil {
		return fmt.Errorf("failed to create compaction driver: %w", err)
	}

	slog.Info("Starting compaction worker",
		slog.Int("workers", cfg.Compaction.Workers),
		slog.Int("maxJobs", cfg.Compaction.MaxJobs),
		slog.String("splitStrategy", cfg.Compaction.SplitStrategy),
		slog.String("bucket", cfg.Compaction.Bucket))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		return driver.Run(gctx)
	})

	health.SetReady(true)
	err = g.Wait()
	health.SetReady(false)

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("compaction worker stopped: %w", err)
	}
	slog.Info("Compaction worker shut down")
	return nil
}

func storageOptions(cfg config.StorageConfig) []objstore.Option {
	var opts []objstore.Option
	if cfg.Region != "" {
		opts = append(opts, objstore.WithRegion(cfg.Region))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, objstore.WithEndpoint(cfg.Endpoint))
	}
	if cfg.PathStyle {
		opts = append(opts, objstore.WithPathStyle())
	}
	if cfg.InsecureTLS {
		opts = append(opts, objstore.WithInsecureTLS())
	}
	return opts
}
