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
	"fmt"

	"github.com/chronolake/compactor/cldb"
	"github.com/chronolake/compactor/internal/scheduler"
)

// Committer turns a planned rewrite outcome into one atomic catalog
// transition: superseded files deleted, promoted files upgraded, new files
// registered, all under the job's target level.
type Committer interface {
	Commit(ctx context.Context, job scheduler.CompactionJob,
		deletes, upgrades []cldb.ParquetFile, creates []cldb.ParquetFileParams,
		target cldb.CompactionLevel) ([]int64, error)
}

// SchedulerCommitter submits the delta through the scheduler's job-status
// protocol. It never retries: a failed or ambiguous commit fails the job, and
// the job's idempotency key stops a replay from applying twice.
type SchedulerCommitter struct {
	sched scheduler.Scheduler
}

func NewSchedulerCommitter(sched scheduler.Scheduler) *SchedulerCommitter {
	return &SchedulerCommitter{sched: sched}
}

// Commit applies the delta and returns the ids assigned to creates, in
// submission order. An empty delta is rejected before any scheduler call.
func (c *SchedulerCommitter) Commit(ctx context.Context, job scheduler.CompactionJob,
	deletes, upgrades []cldb.ParquetFile, creates []cldb.ParquetFileParams,
	target cldb.CompactionLevel) ([]int64, error) {

	update := scheduler.NewCommitUpdate(job.PartitionID, deletes, upgrades, creates, target)
	if update.Empty() {
		return nil, fmt.Errorf("partition %d: %w", job.PartitionID, cldb.ErrEmptyCommit)
	}

	resp, err := c.sched.UpdateJobStatus(ctx, scheduler.JobStatus{
		Job:     job,
		Variant: scheduler.StatusUpdate{Update: update},
	})
	if err != nil {
		return nil, fmt.Errorf("submit commit update: %w", err)
	}

	switch r := resp.(type) {
	case scheduler.CreatedParquetFiles:
		return r.IDs, nil
	default:
		// An Ack here means the scheduler treated a commit as a no-op status
		// report. Continuing would lose the created file ids, so this is
		// unrecoverable.
		panic(fmt.Sprintf("commit for partition %d answered with %T instead of created file ids",
			job.PartitionID, r))
	}
}
