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

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/chronolake/compactor/cldb"
	"github.com/chronolake/compactor/internal/idgen"
	"github.com/chronolake/compactor/internal/logctx"
)

// Catalog is the slice of the cldb store the scheduler drives.
type Catalog interface {
	ClaimCompactionJobs(ctx context.Context, workerID int64, max int) ([]cldb.CompactionJobRow, error)
	HeartbeatCompactionJobs(ctx context.Context, jobIDs []int64) error
	ReleaseExpiredClaims(ctx context.Context, cutoff time.Time) (int64, error)
	CommitFileUpdates(ctx context.Context, params cldb.CommitFilesParams) ([]int64, error)
	CompleteCompactionJob(ctx context.Context, jobID int64) error
	FailCompactionJob(ctx context.Context, jobID int64, reason string) error
	SkipPartitionUntil(ctx context.Context, partitionID int64, until time.Time) error
}

var _ Catalog = (*cldb.Store)(nil)

// Config tunes the local scheduler's lease discipline.
type Config struct {
	// WorkerID identifies this process when claiming. Zero means generate one.
	WorkerID int64
	// LeaseDuration is how long a claim survives without a heartbeat before
	// the reaper releases it.
	LeaseDuration time.Duration
	// SkipDuration is how long a partition is shelved after a failed job.
	SkipDuration time.Duration
}

func (c *Config) applyDefaults() {
	if c.WorkerID == 0 {
		c.WorkerID = idgen.NextWorkerID()
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 5 * time.Minute
	}
	if c.SkipDuration <= 0 {
		c.SkipDuration = 15 * time.Minute
	}
}

// LocalScheduler is a catalog-backed Scheduler living in the worker process.
// The catalog's partial unique index is the authority on claim exclusivity;
// the in-memory claim table layers protocol checks on top so a misbehaving
// caller gets ErrJobNotClaimed instead of a silent catalog no-op.
type LocalScheduler struct {
	catalog Catalog
	cfg     Config

	mu     sync.Mutex
	claims map[int64]CompactionJob // partition id -> live job
}

var _ Scheduler = (*LocalScheduler)(nil)

func NewLocalScheduler(catalog Catalog, cfg Config) *LocalScheduler {
	cfg.applyDefaults()
	return &LocalScheduler{
		catalog: catalog,
		cfg:     cfg,
		claims:  make(map[int64]CompactionJob),
	}
}

// Run drives lease heartbeats and expired-claim reaping until ctx ends.
func (s *LocalScheduler) Run(ctx context.Context) error {
	heartbeat := time.NewTicker(s.cfg.LeaseDuration / 3)
	defer heartbeat.Stop()
	reap := time.NewTicker(s.cfg.LeaseDuration)
	defer reap.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-heartbeat.C:
			if err := s.heartbeatClaims(ctx); err != nil {
				logctx.FromContext(ctx).Warn("Failed to heartbeat claims", slog.Any("error", err))
			}
		case <-reap.C:
			released, err := s.catalog.ReleaseExpiredClaims(ctx, time.Now().Add(-s.cfg.LeaseDuration))
			if err != nil {
				logctx.FromContext(ctx).Warn("Failed to release expired claims", slog.Any("error", err))
				continue
			}
			if released > 0 {
				logctx.FromContext(ctx).Info("Released expired claims", slog.Int64("count", released))
				claimsReleased.Add(ctx, released)
			}
		}
	}
}

func (s *LocalScheduler) heartbeatClaims(ctx context.Context) error {
	s.mu.Lock()
	jobIDs := make([]int64, 0, len(s.claims))
	for _, job := range s.claims {
		jobIDs = append(jobIDs, job.ID)
	}
	s.mu.Unlock()
	return s.catalog.HeartbeatCompactionJobs(ctx, jobIDs)
}

func (s *LocalScheduler) LeaseJobs(ctx context.Context, max int) ([]CompactionJob, error) {
	rows, err := s.catalog.ClaimCompactionJobs(ctx, s.cfg.WorkerID, max)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}

	jobs := make([]CompactionJob, 0, len(rows))
	s.mu.Lock()
	for _, row := range rows {
		job := CompactionJob{
			ID:             row.ID,
			PartitionID:    row.PartitionID,
			IdempotencyKey: row.IdempotencyKey,
		}
		s.claims[job.PartitionID] = job
		jobs = append(jobs, job)
	}
	s.mu.Unlock()

	if len(jobs) > 0 {
		jobsLeased.Add(ctx, int64(len(jobs)))
	}
	return jobs, nil
}

func (s *LocalScheduler) UpdateJobStatus(ctx context.Context, status JobStatus) (StatusResponse, error) {
	if err := s.checkClaim(status.Job); err != nil {
		return nil, err
	}

	switch variant := status.Variant.(type) {
	case StatusUpdate:
		return s.applyCommit(ctx, status.Job, variant.Update)
	case StatusError:
		logctx.FromContext(ctx).Warn("Job reported error",
			slog.Int64("job_id", status.Job.ID),
			slog.Int64("partition_id", status.Job.PartitionID),
			slog.String("error_kind", variant.Kind.String()))
		jobErrorsReported.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", variant.Kind.String())))
		return Ack{}, nil
	default:
		return nil, fmt.Errorf("unsupported status variant %T", status.Variant)
	}
}

func (s *LocalScheduler) applyCommit(ctx context.Context, job CompactionJob, update CommitUpdate) (StatusResponse, error) {
	if update.Empty() {
		return nil, fmt.Errorf("job %d: %w", job.ID, cldb.ErrEmptyCommit)
	}
	if update.PartitionID != job.PartitionID {
		return nil, fmt.Errorf("commit update targets partition %d but job %d owns partition %d",
			update.PartitionID, job.ID, job.PartitionID)
	}

	params := cldb.CommitFilesParams{
		JobID:          job.ID,
		PartitionID:    job.PartitionID,
		IdempotencyKey: job.IdempotencyKey,
		TargetLevel:    update.TargetLevel,
		Create:         update.Create,
	}
	for _, f := range update.Delete {
		params.Delete = append(params.Delete, f.ID)
	}
	for _, f := range update.Upgrade {
		params.Upgrade = append(params.Upgrade, f.ID)
	}

	ids, err := s.catalog.CommitFileUpdates(ctx, params)
	if err != nil {
		if errors.Is(err, cldb.ErrJobNotActive) {
			s.dropClaim(job)
			return nil, fmt.Errorf("commit for job %d: %w", job.ID, ErrJobNotClaimed)
		}
		return nil, fmt.Errorf("commit for job %d: %w", job.ID, err)
	}

	commitsApplied.Add(ctx, 1)
	filesDeleted.Add(ctx, int64(len(update.Delete)))
	filesUpgraded.Add(ctx, int64(len(update.Upgrade)))
	filesCreated.Add(ctx, int64(len(update.Create)))

	return CreatedParquetFiles{IDs: ids}, nil
}

func (s *LocalScheduler) EndJob(ctx context.Context, end JobEnd) error {
	if err := s.checkClaim(end.Job); err != nil {
		return err
	}

	var err error
	var outcome string
	switch variant := end.Outcome.(type) {
	case EndComplete:
		outcome = "complete"
		err = s.catalog.CompleteCompactionJob(ctx, end.Job.ID)
	case EndRequestSkip:
		outcome = "request_skip"
		err = s.catalog.FailCompactionJob(ctx, end.Job.ID, variant.Reason)
		if err == nil {
			if skipErr := s.catalog.SkipPartitionUntil(ctx, end.Job.PartitionID,
				time.Now().Add(s.cfg.SkipDuration)); skipErr != nil {
				logctx.FromContext(ctx).Warn("Failed to shelve partition",
					slog.Int64("partition_id", end.Job.PartitionID),
					slog.Any("error", skipErr))
			}
		}
	default:
		return fmt.Errorf("unsupported end variant %T", end.Outcome)
	}

	if err != nil {
		if errors.Is(err, cldb.ErrJobNotActive) {
			s.dropClaim(end.Job)
			return fmt.Errorf("end job %d: %w", end.Job.ID, ErrJobNotClaimed)
		}
		return fmt.Errorf("end job %d: %w", end.Job.ID, err)
	}

	s.dropClaim(end.Job)
	jobsEnded.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return nil
}

// checkClaim verifies the scheduler holds a live claim matching the job.
func (s *LocalScheduler) checkClaim(job CompactionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	held, ok := s.claims[job.PartitionID]
	if !ok || held.ID != job.ID {
		return fmt.Errorf("job %d for partition %d: %w", job.ID, job.PartitionID, ErrJobNotClaimed)
	}
	return nil
}

func (s *LocalScheduler) dropClaim(job CompactionJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.claims[job.PartitionID]; ok && held.ID == job.ID {
		delete(s.claims, job.PartitionID)
	}
}
