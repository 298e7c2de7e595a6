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

// Package compaction plans and executes parquet file compaction: it streams
// claimed partitions, splits each file set into rewrite and promote groups,
// merges the rewrite group into replacement files, and commits the whole
// delta through the scheduler as one atomic catalog transition.
package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/chronolake/compactor/cldb"
	"github.com/chronolake/compactor/internal/events"
	"github.com/chronolake/compactor/internal/logctx"
	"github.com/chronolake/compactor/internal/scheduler"
)

// FileLister reads a partition's live file set from the catalog.
type FileLister interface {
	ListActiveFilesByPartition(ctx context.Context, partitionID int64) ([]cldb.ParquetFile, error)
}

// OutcomeNotifier publishes terminal job outcomes for downstream consumers.
type OutcomeNotifier interface {
	NotifyDone(ctx context.Context, event events.CompactionDone) error
}

// DriverParams carries the driver's collaborators. Notifier is optional;
// everything else is required.
type DriverParams struct {
	Stream    PartitionStream
	Lister    FileLister
	Split     FileSplit
	Rewriter  RewriteExecutor
	Committer Committer
	Sink      PartitionDoneSink
	Notifier  OutcomeNotifier
}

// DriverConfig tunes the run loop.
type DriverConfig struct {
	// Workers is the number of jobs processed concurrently.
	Workers int
	// IdleSleep is the pause after a pass that found no work.
	IdleSleep time.Duration
}

func (c *DriverConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = 2 * time.Second
	}
}

// Driver runs compaction jobs end to end. Every streamed job results in
// exactly one recorded outcome, whatever path it takes.
type Driver struct {
	stream    PartitionStream
	lister    FileLister
	split     FileSplit
	rewriter  RewriteExecutor
	committer Committer
	sink      PartitionDoneSink
	notifier  OutcomeNotifier
	cfg       DriverConfig
}

func NewDriver(p DriverParams, cfg DriverConfig) (*Driver, error) {
	switch {
	case p.Stream == nil:
		return nil, fmt.Errorf("driver needs a partition stream")
	case p.Lister == nil:
		return nil, fmt.Errorf("driver needs a file lister")
	case p.Split == nil:
		return nil, fmt.Errorf("driver needs a file split")
	case p.Rewriter == nil:
		return nil, fmt.Errorf("driver needs a rewrite executor")
	case p.Committer == nil:
		return nil, fmt.Errorf("driver needs a committer")
	case p.Sink == nil:
		return nil, fmt.Errorf("driver needs a done sink")
	}
	cfg.applyDefaults()
	return &Driver{
		stream:    p.Stream,
		lister:    p.Lister,
		split:     p.Split,
		rewriter:  p.Rewriter,
		committer: p.Committer,
		sink:      p.Sink,
		notifier:  p.Notifier,
		cfg:       cfg,
	}, nil
}

// Run loops over stream passes until ctx ends. Job failures are recorded,
// not returned; only context cancellation stops the driver.
func (d *Driver) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		processed := d.runPass(ctx)
		if processed == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.cfg.IdleSleep):
			}
		}
	}
}

// runPass streams one batch of jobs through the worker pool and waits for
// all of them to finish.
func (d *Driver) runPass(ctx context.Context) int {
	g := new(errgroup.Group)
	g.SetLimit(d.cfg.Workers)

	processed := 0
	for job := range d.stream.Stream(ctx) {
		processed++
		g.Go(func() error {
			d.processJob(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return processed
}

// processJob compacts one partition and records the outcome exactly once.
func (d *Driver) processJob(ctx context.Context, job scheduler.CompactionJob) {
	start := time.Now()
	ll := logctx.FromContext(ctx).With(
		slog.Int64("job_id", job.ID),
		slog.Int64("partition_id", job.PartitionID))
	ctx = logctx.WithLogger(ctx, ll)

	jobsStarted.Add(ctx, 1)

	stats, jobErr := d.compactPartition(ctx, job)

	// The outcome must land even when shutdown cancelled ctx mid-job;
	// otherwise the claim dangles until the lease reaper finds it.
	recordCtx := context.WithoutCancel(ctx)
	if err := d.sink.Record(recordCtx, job, jobErr); err != nil {
		ll.Error("Job outcome was not recorded, claim left to the lease reaper",
			slog.Any("record_error", err),
			slog.Any("job_error", jobErr))
		outcomesDropped.Add(ctx, 1)
		return
	}

	compactionSeconds.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.Bool("failed", jobErr != nil)))
	d.notifyDone(recordCtx, job, stats, jobErr, time.Since(start))
}

type jobStats struct {
	deleted  int
	upgraded int
	created  int
	target   cldb.CompactionLevel
}

func (d *Driver) compactPartition(ctx context.Context, job scheduler.CompactionJob) (jobStats, error) {
	var stats jobStats

	files, err := d.lister.ListActiveFilesByPartition(ctx, job.PartitionID)
	if err != nil {
		return stats, fmt.Errorf("list partition files: %w", err)
	}

	// An empty partition is a success without a commit: there is nothing to
	// change and an empty commit is disallowed.
	if len(files) == 0 {
		emptyPartitions.Add(ctx, 1)
		return stats, nil
	}

	target := TargetLevelFor(files)
	stats.target = target

	mustRewrite, canPromote := d.split.Apply(files, target)

	// Only files below the target actually move; a file already at the
	// target level just stays where it is.
	var upgrades []cldb.ParquetFile
	for _, f := range canPromote {
		if f.CompactionLevel < target {
			upgrades = append(upgrades, f)
		}
	}

	var creates []cldb.ParquetFileParams
	if len(mustRewrite) > 0 {
		creates, err = d.rewriter.Rewrite(ctx, job, mustRewrite, target)
		if err != nil {
			return stats, fmt.Errorf("rewrite %d files: %w", len(mustRewrite), err)
		}
		if len(creates) == 0 {
			return stats, fmt.Errorf("rewrite of %d files produced no replacements", len(mustRewrite))
		}
	}

	if len(mustRewrite) == 0 && len(upgrades) == 0 {
		// The whole set already satisfies the target level.
		return stats, nil
	}

	// Commit plus the follow-on accounting run detached from cancellation:
	// an applied catalog transaction must never be severed from its
	// observer by shutdown.
	commitCtx := context.WithoutCancel(ctx)
	ids, err := d.committer.Commit(commitCtx, job, mustRewrite, upgrades, creates, target)
	if err != nil {
		return stats, fmt.Errorf("commit file updates: %w", err)
	}

	stats.deleted = len(mustRewrite)
	stats.upgraded = len(upgrades)
	stats.created = len(ids)

	filesRewritten.Add(ctx, int64(len(mustRewrite)))
	filesPromoted.Add(ctx, int64(len(upgrades)))
	return stats, nil
}

func (d *Driver) notifyDone(ctx context.Context, job scheduler.CompactionJob,
	stats jobStats, jobErr error, elapsed time.Duration) {

	if d.notifier == nil {
		return
	}

	event := events.CompactionDone{
		JobID:         job.ID,
		PartitionID:   job.PartitionID,
		Outcome:       events.OutcomeCompleted,
		TargetLevel:   stats.target.String(),
		FilesDeleted:  stats.deleted,
		FilesUpgraded: stats.upgraded,
		FilesCreated:  stats.created,
		DurationMs:    elapsed.Milliseconds(),
		FinishedAt:    time.Now().UTC(),
	}
	if jobErr != nil {
		event.Outcome = events.OutcomeFailed
		event.ErrorKind = ErrorKindFromError(jobErr).String()
	}

	if err := d.notifier.NotifyDone(ctx, event); err != nil {
		logctx.FromContext(ctx).Warn("Failed to publish compaction done event",
			slog.Any("error", err))
	}
}

// TargetLevelFor picks the next level up from the least-compacted file, so a
// mixed-level set is pulled forward one step at a time.
func TargetLevelFor(files []cldb.ParquetFile) cldb.CompactionLevel {
	lowest := files[0].CompactionLevel
	for _, f := range files[1:] {
		if f.CompactionLevel < lowest {
			lowest = f.CompactionLevel
		}
	}
	return lowest.Next()
}
