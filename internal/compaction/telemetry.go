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
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	sourceFetches      metric.Int64Counter
	sourceJobsFetched  metric.Int64Counter
	sourceFetchSeconds metric.Float64Histogram

	jobsStarted       metric.Int64Counter
	emptyPartitions   metric.Int64Counter
	filesRewritten    metric.Int64Counter
	filesPromoted     metric.Int64Counter
	outcomesRecorded  metric.Int64Counter
	outcomesDropped   metric.Int64Counter
	compactionSeconds metric.Float64Histogram
)

func init() {
	meter := otel.Meter("github.com/chronolake/compactor/internal/compaction")

	var err error

	sourceFetches, err = meter.Int64Counter(
		"chronolake.compaction.source.fetches",
		metric.WithDescription("Number of partition source fetches"),
	)
	if err != nil {
		log.Fatalf("failed to create source.fetches counter: %v", err)
	}

	sourceJobsFetched, err = meter.Int64Counter(
		"chronolake.compaction.source.jobs_fetched",
		metric.WithDescription("Number of compaction jobs returned by source fetches"),
	)
	if err != nil {
		log.Fatalf("failed to create source.jobs_fetched counter: %v", err)
	}

	sourceFetchSeconds, err = meter.Float64Histogram(
		"chronolake.compaction.source.fetch_seconds",
		metric.WithDescription("Duration of partition source fetches"),
		metric.WithUnit("s"),
	)
	if err != nil {
		log.Fatalf("failed to create source.fetch_seconds histogram: %v", err)
	}

	jobsStarted, err = meter.Int64Counter(
		"chronolake.compaction.jobs_started",
		metric.WithDescription("Number of compaction jobs started"),
	)
	if err != nil {
		log.Fatalf("failed to create jobs_started counter: %v", err)
	}

	emptyPartitions, err = meter.Int64Counter(
		"chronolake.compaction.empty_partitions",
		metric.WithDescription("Number of jobs that found no live files"),
	)
	if err != nil {
		log.Fatalf("failed to create empty_partitions counter: %v", err)
	}

	filesRewritten, err = meter.Int64Counter(
		"chronolake.compaction.files_rewritten",
		metric.WithDescription("Number of parquet files merged into replacements"),
	)
	if err != nil {
		log.Fatalf("failed to create files_rewritten counter: %v", err)
	}

	filesPromoted, err = meter.Int64Counter(
		"chronolake.compaction.files_promoted",
		metric.WithDescription("Number of parquet files promoted without a rewrite"),
	)
	if err != nil {
		log.Fatalf("failed to create files_promoted counter: %v", err)
	}

	outcomesRecorded, err = meter.Int64Counter(
		"chronolake.compaction.outcomes_recorded",
		metric.WithDescription("Number of job outcomes recorded, by result"),
	)
	if err != nil {
		log.Fatalf("failed to create outcomes_recorded counter: %v", err)
	}

	outcomesDropped, err = meter.Int64Counter(
		"chronolake.compaction.outcomes_dropped",
		metric.WithDescription("Number of job outcomes that could not be recorded"),
	)
	if err != nil {
		log.Fatalf("failed to create outcomes_dropped counter: %v", err)
	}

	compactionSeconds, err = meter.Float64Histogram(
		"chronolake.compaction.job_seconds",
		metric.WithDescription("End to end duration of compaction jobs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		log.Fatalf("failed to create job_seconds histogram: %v", err)
	}
}
