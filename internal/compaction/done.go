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

package compaction

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/chronolake/compactor/internal/logctx"
	"github.com/chronolake/compactor/internal/scheduler"
)

// PartitionDoneSink durably records that a job's compaction attempt
// concluded. Record is called exactly once per job, success or failure;
// until it lands, the partition stays invisible to re-selection.
type PartitionDoneSink interface {
	Record(ctx context.Context, job scheduler.CompactionJob, jobErr error) error
}

// SchedulerDoneSink ends the job at the scheduler: a nil jobErr completes it,
// anything else fails it and shelves the partition. Transient scheduler
// failures are retried with exponential backoff so a recording hiccup cannot
// strand the partition in a claimed state for the whole lease.
type SchedulerDoneSink struct {
	sched           scheduler.Scheduler
	initialInterval time.Duration
	maxElapsedTime  time.Duration
}

func NewSchedulerDoneSink(sched scheduler.Scheduler, initialInterval, maxElapsedTime time.Duration) *SchedulerDoneSink {
	if initialInterval <= 0 {
		initialInterval = 250 * time.Millisecond
	}
	if maxElapsedTime <= 0 {
		maxElapsedTime = 30 * time.Second
	}
	return &SchedulerDoneSink{
		sched:           sched,
		initialInterval: initialInterval,
		maxElapsedTime:  maxElapsedTime,
	}
}

func (s *SchedulerDoneSink) Record(ctx context.Context, job scheduler.CompactionJob, jobErr error) error {
	end := scheduler.JobEnd{Job: job, Outcome: scheduler.EndComplete{}}
	if jobErr != nil {
		s.reportError(ctx, job, jobErr)
		end.Outcome = scheduler.EndRequestSkip{Reason: jobErr.Error()}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.initialInterval
	policy.MaxElapsedTime = s.maxElapsedTime

	return backoff.Retry(func() error {
		err := s.sched.EndJob(ctx, end)
		if errors.Is(err, scheduler.ErrJobNotClaimed) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx))
}

// reportError sends the classified failure to the scheduler before the job
// ends. Best effort: losing the report loses an error kind label, nothing
// else.
func (s *SchedulerDoneSink) reportError(ctx context.Context, job scheduler.CompactionJob, jobErr error) {
	_, err := s.sched.UpdateJobStatus(ctx, scheduler.JobStatus{
		Job:     job,
		Variant: scheduler.StatusError{Kind: ErrorKindFromError(jobErr)},
	})
	if err != nil {
		logctx.FromContext(ctx).Warn("Failed to report job error to scheduler",
			slog.Int64("job_id", job.ID),
			slog.Any("error", err))
	}
}

// LoggingDoneSink logs every recorded outcome of the wrapped sink.
type LoggingDoneSink struct {
	inner PartitionDoneSink
}

func NewLoggingDoneSink(inner PartitionDoneSink) *LoggingDoneSink {
	return &LoggingDoneSink{inner: inner}
}

func (s *LoggingDoneSink) Record(ctx context.Context, job scheduler.CompactionJob, jobErr error) error {
	err := s.inner.Record(ctx, job, jobErr)

	ll := logctx.FromContext(ctx).With(
		slog.Int64("job_id", job.ID),
		slog.Int64("partition_id", job.PartitionID))
	switch {
	case err != nil:
		ll.Error("Failed to record job outcome", slog.Any("error", err))
	case jobErr != nil:
		ll.Warn("Compaction job failed",
			slog.String("error_kind", ErrorKindFromError(jobErr).String()),
			slog.Any("error", jobErr))
	default:
		ll.Info("Compaction job finished")
	}
	return err
}

// MetricsDoneSink counts recorded outcomes by result and error kind.
type MetricsDoneSink struct {
	inner PartitionDoneSink
}

func NewMetricsDoneSink(inner PartitionDoneSink) *MetricsDoneSink {
	return &MetricsDoneSink{inner: inner}
}

func (s *MetricsDoneSink) Record(ctx context.Context, job scheduler.CompactionJob, jobErr error) error {
	err := s.inner.Record(ctx, job, jobErr)

	outcome := "completed"
	kind := ""
	if jobErr != nil {
		outcome = "failed"
		kind = ErrorKindFromError(jobErr).String()
	}
	outcomesRecorded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("error_kind", kind),
		attribute.Bool("record_failed", err != nil),
	))
	return err
}
