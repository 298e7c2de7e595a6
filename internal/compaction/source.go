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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/chronolake/compactor/internal/logctx"
	"github.com/chronolake/compactor/internal/scheduler"
)

// PartitionsSource produces the next batch of compaction jobs to work on.
type PartitionsSource interface {
	Fetch(ctx context.Context) ([]scheduler.CompactionJob, error)
}

// SchedulerPartitionsSource leases jobs from the scheduler, which claims
// eligible partitions in the catalog as a side effect.
type SchedulerPartitionsSource struct {
	sched   scheduler.Scheduler
	maxJobs int
}

func NewSchedulerPartitionsSource(sched scheduler.Scheduler, maxJobs int) *SchedulerPartitionsSource {
	if maxJobs <= 0 {
		maxJobs = 10
	}
	return &SchedulerPartitionsSource{sched: sched, maxJobs: maxJobs}
}

func (s *SchedulerPartitionsSource) Fetch(ctx context.Context) ([]scheduler.CompactionJob, error) {
	return s.sched.LeaseJobs(ctx, s.maxJobs)
}

// StaticPartitionsSource serves a fixed job list.
type StaticPartitionsSource struct {
	jobs []scheduler.CompactionJob
}

func NewStaticPartitionsSource(jobs ...scheduler.CompactionJob) *StaticPartitionsSource {
	return &StaticPartitionsSource{jobs: jobs}
}

func (s *StaticPartitionsSource) Fetch(_ context.Context) ([]scheduler.CompactionJob, error) {
	out := make([]scheduler.CompactionJob, len(s.jobs))
	copy(out, s.jobs)
	return out, nil
}

// LoggingPartitionsSource logs every fetch of the wrapped source.
type LoggingPartitionsSource struct {
	inner PartitionsSource
}

func NewLoggingPartitionsSource(inner PartitionsSource) *LoggingPartitionsSource {
	return &LoggingPartitionsSource{inner: inner}
}

func (s *LoggingPartitionsSource) Fetch(ctx context.Context) ([]scheduler.CompactionJob, error) {
	jobs, err := s.inner.Fetch(ctx)
	if err != nil {
		logctx.FromContext(ctx).Warn("Failed to fetch compaction jobs", slog.Any("error", err))
		return nil, err
	}
	if len(jobs) > 0 {
		logctx.FromContext(ctx).Info("Fetched compaction jobs", slog.Int("count", len(jobs)))
	}
	return jobs, nil
}

// MetricsPartitionsSource counts fetches and fetched jobs on the wrapped
// source.
type MetricsPartitionsSource struct {
	inner PartitionsSource
}

func NewMetricsPartitionsSource(inner PartitionsSource) *MetricsPartitionsSource {
	return &MetricsPartitionsSource{inner: inner}
}

func (s *MetricsPartitionsSource) Fetch(ctx context.Context) ([]scheduler.CompactionJob, error) {
	start := time.Now()
	jobs, err := s.inner.Fetch(ctx)

	status := "ok"
	if err != nil {
		status = "error"
	}
	sourceFetches.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	sourceFetchSeconds.Record(ctx, time.Since(start).Seconds())
	if err == nil {
		sourceJobsFetched.Add(ctx, int64(len(jobs)))
	}
	return jobs, err
}
