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

// Package scheduler owns the compaction job lifecycle: leasing partitions to
// workers, applying commit deltas against the catalog, and recording terminal
// job outcomes. It guarantees at most one live job per partition, so commit
// updates for a partition are strictly serialized.
package scheduler

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrJobNotClaimed is returned for status updates or job ends referencing a
// job this scheduler does not hold a live claim for.
var ErrJobNotClaimed = errors.New("job is not claimed")

// CompactionJob is one unit of work bound to a single partition. A job lives
// for the duration of one compaction attempt; re-compacting the same
// partition later produces a new job with a fresh id and idempotency key.
type CompactionJob struct {
	ID             int64
	PartitionID    int64
	IdempotencyKey uuid.UUID
}

// JobStatus is a mid-flight status report for a claimed job.
type JobStatus struct {
	Job     CompactionJob
	Variant StatusVariant
}

// StatusVariant is either a commit delta or an error report.
type StatusVariant interface {
	isStatusVariant()
}

// StatusUpdate submits a commit delta to be applied atomically.
type StatusUpdate struct {
	Update CommitUpdate
}

// StatusError reports a classified failure for observability; it changes no
// catalog state.
type StatusError struct {
	Kind ErrorKind
}

func (StatusUpdate) isStatusVariant() {}
func (StatusError) isStatusVariant()  {}

// StatusResponse is the scheduler's answer to a status update.
type StatusResponse interface {
	isStatusResponse()
}

// CreatedParquetFiles carries the ids assigned to a commit's create set, in
// the same order the files were submitted. It is the only valid response to a
// StatusUpdate.
type CreatedParquetFiles struct {
	IDs []int64
}

// Ack acknowledges a status report that creates no files. It is never a valid
// response to a commit delta.
type Ack struct{}

func (CreatedParquetFiles) isStatusResponse() {}
func (Ack) isStatusResponse()                 {}

// JobEnd records a job's terminal outcome.
type JobEnd struct {
	Job     CompactionJob
	Outcome EndVariant
}

// EndVariant is how a job terminated.
type EndVariant interface {
	isEndVariant()
}

// EndComplete marks the job successfully finished.
type EndComplete struct{}

// EndRequestSkip marks the job failed and asks the scheduler to shelve the
// partition for a while before re-selection.
type EndRequestSkip struct {
	Reason string
}

func (EndComplete) isEndVariant()    {}
func (EndRequestSkip) isEndVariant() {}

// Scheduler is the authority over job state. Implementations must be safe for
// concurrent use by many workers.
type Scheduler interface {
	// LeaseJobs claims up to max eligible partitions and returns one job per
	// claimed partition.
	LeaseJobs(ctx context.Context, max int) ([]CompactionJob, error)

	// UpdateJobStatus applies a status variant for a claimed job. A commit
	// delta is applied as one atomic catalog transaction and answered with
	// CreatedParquetFiles; other variants are answered with Ack.
	UpdateJobStatus(ctx context.Context, status JobStatus) (StatusResponse, error)

	// EndJob records the job's terminal outcome and releases its claim.
	EndJob(ctx context.Context, end JobEnd) error
}
