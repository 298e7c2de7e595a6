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
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	jobsLeased        metric.Int64Counter
	jobsEnded         metric.Int64Counter
	jobErrorsReported metric.Int64Counter
	commitsApplied    metric.Int64Counter
	filesDeleted      metric.Int64Counter
	filesUpgraded     metric.Int64Counter
	filesCreated      metric.Int64Counter
	claimsReleased    metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/chronolake/compactor/internal/scheduler")

	var err error

	jobsLeased, err = meter.Int64Counter(
		"chronolake.scheduler.jobs_leased",
		metric.WithDescription("Number of compaction jobs leased to workers"),
	)
	if err != nil {
		log.Fatalf("failed to create scheduler.jobs_leased counter: %v", err)
	}

	jobsEnded, err = meter.Int64Counter(
		"chronolake.scheduler.jobs_ended",
		metric.WithDescription("Number of compaction jobs ended, by outcome"),
	)
	if err != nil {
		log.Fatalf("failed to create scheduler.jobs_ended counter: %v", err)
	}

	jobErrorsReported, err = meter.Int64Counter(
		"chronolake.scheduler.job_errors_reported",
		metric.WithDescription("Number of non-fatal errors reported by running jobs"),
	)
	if err != nil {
		log.Fatalf("failed to create scheduler.job_errors_reported counter: %v", err)
	}

	commitsApplied, err = meter.Int64Counter(
		"chronolake.scheduler.commits_applied",
		metric.WithDescription("Number of file update commits applied to the catalog"),
	)
	if err != nil {
		log.Fatalf("failed to create scheduler.commits_applied counter: %v", err)
	}

	filesDeleted, err = meter.Int64Counter(
		"chronolake.scheduler.files_deleted",
		metric.WithDescription("Number of parquet files soft deleted by commits"),
	)
	if err != nil {
		log.Fatalf("failed to create scheduler.files_deleted counter: %v", err)
	}

	filesUpgraded, err = meter.Int64Counter(
		"chronolake.scheduler.files_upgraded",
		metric.WithDescription("Number of parquet files upgraded in place by commits"),
	)
	if err != nil {
		log.Fatalf("failed to create scheduler.files_upgraded counter: %v", err)
	}

	filesCreated, err = meter.Int64Counter(
		"chronolake.scheduler.files_created",
		metric.WithDescription("Number of parquet files created by commits"),
	)
	if err != nil {
		log.Fatalf("failed to create scheduler.files_created counter: %v", err)
	}

	claimsReleased, err = meter.Int64Counter(
		"chronolake.scheduler.claims_released",
		metric.WithDescription("Number of expired job claims released by the reaper"),
	)
	if err != nil {
		log.Fatalf("failed to create scheduler.claims_released counter: %v", err)
	}
}
