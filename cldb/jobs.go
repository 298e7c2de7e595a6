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

package cldb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const selectClaimCandidates = `
SELECT p.id
FROM partitions p
WHERE p.new_file_at IS NOT NULL
  AND (p.last_compacted_at IS NULL OR p.new_file_at > p.last_compacted_at)
  AND (p.skip_until IS NULL OR p.skip_until <= now())
  AND NOT EXISTS (
    SELECT 1 FROM compaction_jobs j
    WHERE j.partition_id = p.id AND j.state IN ('claimed', 'committing')
  )
ORDER BY p.new_file_at
FOR UPDATE OF p SKIP LOCKED
LIMIT $1`

const insertClaimedJob = `
INSERT INTO compaction_jobs (partition_id, claimed_by)
VALUES ($1, $2)
RETURNING id, partition_id, state, claimed_by, claimed_at, heartbeated_at, idempotency_key`

// ClaimCompactionJobs selects up to max partitions with new data and no live
// job and claims them for the given worker. Candidate rows are locked with
// SKIP LOCKED so concurrent claimers never block each other or double-claim.
func (store *Store) ClaimCompactionJobs(ctx context.Context, workerID int64, max int) ([]CompactionJobRow, error) {
	if max <= 0 {
		return nil, nil
	}

	var jobs []CompactionJobRow
	err := store.execTx(ctx, func(s *Store) error {
		rows, err := s.db.Query(ctx, selectClaimCandidates, max)
		if err != nil {
			return fmt.Errorf("select claim candidates: %w", err)
		}
		var candidates []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan candidate: %w", err)
			}
			if partitionRecentlyFailed(id) {
				continue
			}
			candidates = append(candidates, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, partitionID := range candidates {
			batch.Queue(insertClaimedJob, partitionID, workerID)
		}
		br := s.db.SendBatch(ctx, batch)
		defer func() { _ = br.Close() }()

		for range candidates {
			var job CompactionJobRow
			if err := br.QueryRow().Scan(&job.ID, &job.PartitionID, &job.State, &job.ClaimedBy,
				&job.ClaimedAt, &job.HeartbeatedAt, &job.IdempotencyKey); err != nil {
				return fmt.Errorf("claim job: %w", err)
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// HeartbeatCompactionJobs extends the lease on the given live jobs.
func (store *Store) HeartbeatCompactionJobs(ctx context.Context, jobIDs []int64) error {
	if len(jobIDs) == 0 {
		return nil
	}
	_, err := store.db.Exec(ctx,
		`UPDATE compaction_jobs SET heartbeated_at = now()
		 WHERE id = ANY($1) AND state IN ('claimed', 'committing')`, jobIDs)
	if err != nil {
		return fmt.Errorf("heartbeat jobs: %w", err)
	}
	return nil
}

// ReleaseExpiredClaims fails live jobs whose lease heartbeat is older than the
// cutoff, making their partitions selectable again. Returns the number of
// claims released.
func (store *Store) ReleaseExpiredClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := store.db.Exec(ctx,
		`UPDATE compaction_jobs
		 SET state = 'failed', completed_at = now(), error_message = 'claim lease expired'
		 WHERE state IN ('claimed', 'committing') AND heartbeated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("release expired claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

const finishJob = `
UPDATE compaction_jobs
SET state = $2, completed_at = now(), error_message = $3
WHERE id = $1 AND state IN ('claimed', 'committing')
RETURNING partition_id`

// CompleteCompactionJob marks a live job done and stamps its partition's
// last_compacted_at so the partition stays unselected until new data arrives.
func (store *Store) CompleteCompactionJob(ctx context.Context, jobID int64) error {
	return store.execTx(ctx, func(s *Store) error {
		var partitionID int64
		err := s.db.QueryRow(ctx, finishJob, jobID, JobStateDone, nil).Scan(&partitionID)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("job %d: %w", jobID, ErrJobNotActive)
		}
		if err != nil {
			return fmt.Errorf("complete job %d: %w", jobID, err)
		}
		if _, err := s.db.Exec(ctx,
			`UPDATE partitions SET last_compacted_at = now() WHERE id = $1`, partitionID); err != nil {
			return fmt.Errorf("stamp partition %d: %w", partitionID, err)
		}
		return nil
	})
}

// FailCompactionJob marks a live job failed with the given reason. The
// partition remains eligible for re-selection unless the caller also skips it.
func (store *Store) FailCompactionJob(ctx context.Context, jobID int64, reason string) error {
	var partitionID int64
	err := store.db.QueryRow(ctx, finishJob, jobID, JobStateFailed, reason).Scan(&partitionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("job %d: %w", jobID, ErrJobNotActive)
	}
	if err != nil {
		return fmt.Errorf("fail job %d: %w", jobID, err)
	}
	return nil
}

// SkipPartitionUntil shelves a partition from selection until the given time.
func (store *Store) SkipPartitionUntil(ctx context.Context, partitionID int64, until time.Time) error {
	tag, err := store.db.Exec(ctx,
		`UPDATE partitions SET skip_until = $2 WHERE id = $1`, partitionID, until)
	if err != nil {
		return fmt.Errorf("skip partition %d: %w", partitionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("partition %d does not exist", partitionID)
	}
	markPartitionFailed(partitionID, time.Until(until))
	return nil
}

const getCompactionJob = `
SELECT id, partition_id, state, claimed_by, claimed_at, heartbeated_at,
       completed_at, error_message, idempotency_key
FROM compaction_jobs
WHERE id = $1`

func (store *Store) GetCompactionJob(ctx context.Context, jobID int64) (CompactionJobRow, error) {
	var job CompactionJobRow
	err := store.db.QueryRow(ctx, getCompactionJob, jobID).Scan(
		&job.ID, &job.PartitionID, &job.State, &job.ClaimedBy, &job.ClaimedAt,
		&job.HeartbeatedAt, &job.CompletedAt, &job.ErrorMessage, &job.IdempotencyKey)
	if err != nil {
		return CompactionJobRow{}, fmt.Errorf("get job %d: %w", jobID, err)
	}
	return job, nil
}
