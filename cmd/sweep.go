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
	"slices"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/chronolake/compactor/cldb"
	"github.com/chronolake/compactor/config"
	"github.com/chronolake/compactor/internal/dbopen"
	"github.com/chronolake/compactor/internal/healthcheck"
	"github.com/chronolake/compactor/internal/objstore"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove soft-deleted parquet files once their grace period expires",
		RunE: func(_ *cobra.Command, _ []string) error {
			servicename := "chronolake-sweeper"
			addlAttrs := attribute.NewSet(
				attribute.String("action", "sweep"),
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

			return runSweeper(doneCtx, cfg)
		},
	}

	rootCmd.AddCommand(cmd)
}

func runSweeper(ctx context.Context, cfg *config.Config) error {
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

	slog.Info("Starting sweeper",
		slog.String("bucket", cfg.Compaction.Bucket),
		slog.Duration("graceAge", cfg.Sweep.GraceAge),
		slog.Int("batchSize", cfg.Sweep.BatchSize),
		slog.Int("workers", cfg.Sweep.Workers))

	health.SetReady(true)
	err = sweeperLoop(ctx, store, blobs, cfg)
	health.SetReady(false)

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sweeper stopped: %w", err)
	}
	slog.Info("Sweeper shut down")
	return nil
}

// sweeperLoop runs sweep rounds until ctx ends. A full batch means more work
// is likely waiting, so the next round starts immediately; otherwise the loop
// pauses. Errors are logged and retried.
func sweeperLoop(ctx context.Context, store *cldb.Store, blobs *objstore.Client, cfg *config.Config) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		start := time.Now()
		didWork, err := runSweepRound(ctx, store, blobs, cfg)
		sweepRoundSeconds.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributeSet(commonAttributes))

		switch {
		case err != nil:
			slog.Error("Sweep round failed", slog.Any("error", err))
			if stop := sleepCtx(ctx, cfg.Sweep.IdleSleep); stop {
				return ctx.Err()
			}
		case didWork:
			// full batch, go again right away
		default:
			if stop := sleepCtx(ctx, cfg.Sweep.IdleSleep); stop {
				return ctx.Err()
			}
		}
	}
}

// runSweepRound deletes the bytes behind one batch of expired soft-deleted
// files, marks the survivors swept, and purges rows swept long enough ago.
// Files whose objects could not be deleted stay unmarked and are retried on
// a later round.
func runSweepRound(ctx context.Context, store *cldb.Store, blobs *objstore.Client, cfg *config.Config) (bool, error) {
	cutoff := time.Now().Add(-cfg.Sweep.GraceAge)

	files, err := store.ListFilesToSweep(ctx, cutoff, cfg.Sweep.BatchSize)
	if err != nil {
		return false, err
	}

	var swept []int64
	if len(files) > 0 {
		chunkSize := max(1, (len(files)+cfg.Sweep.Workers-1)/cfg.Sweep.Workers)

		jobs := make(chan []cldb.SweepFile, cfg.Sweep.Workers)
		var mu sync.Mutex
		var wg sync.WaitGroup
		for range cfg.Sweep.Workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for chunk := range jobs {
					ids := deleteSweepChunk(ctx, blobs, cfg.Compaction.Bucket, chunk)
					mu.Lock()
					swept = append(swept, ids...)
					mu.Unlock()
				}
			}()
		}
		for chunk := range slices.Chunk(files, chunkSize) {
			jobs <- chunk
		}
		close(jobs)
		wg.Wait()

		if err := store.MarkFilesSwept(ctx, swept); err != nil {
			return false, err
		}
		objectsSwept.Add(ctx, int64(len(swept)), metric.WithAttributeSet(commonAttributes))
	}

	purged, err := store.PurgeSweptFiles(ctx, cutoff, cfg.Sweep.BatchSize)
	if err != nil {
		return false, err
	}
	if purged > 0 {
		rowsPurged.Add(ctx, purged, metric.WithAttributeSet(commonAttributes))
	}

	if len(files) > 0 || purged > 0 {
		slog.Info("Sweep round finished",
			slog.Int("listed", len(files)),
			slog.Int("swept", len(swept)),
			slog.Int64("purged", purged))
	}

	return len(files) == cfg.Sweep.BatchSize, nil
}

// deleteSweepChunk removes one chunk's objects and returns the ids whose
// bytes are confirmed gone. Missing objects count as deleted.
func deleteSweepChunk(ctx context.Context, blobs *objstore.Client, bucket string, chunk []cldb.SweepFile) []int64 {
	keys := make([]string, len(chunk))
	for i, f := range chunk {
		keys[i] = f.ObjectKey
	}

	failed, err := blobs.DeleteObjects(ctx, bucket, keys)
	if err != nil {
		slog.Warn("Some objects could not be deleted",
			slog.Int("failed", len(failed)),
			slog.Any("error", err))
	}

	failedSet := make(map[string]struct{}, len(failed))
	for _, key := range failed {
		failedSet[key] = struct{}{}
	}

	ids := make([]int64, 0, len(chunk))
	for _, f := range chunk {
		if _, ok := failedSet[f.ObjectKey]; !ok {
			ids = append(ids, f.ID)
		}
	}
	return ids
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}
