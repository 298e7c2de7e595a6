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

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrDuplicateCommit means a commit with the same idempotency key was
	// already applied. The caller's delta is durable; it must not be
	// resubmitted.
	ErrDuplicateCommit = errors.New("commit was already applied")

	// ErrJobNotActive means the referenced job is not claimed or committing.
	ErrJobNotActive = errors.New("compaction job is not in a live state")

	// ErrEmptyCommit means the delta carries no deletes, upgrades or creates.
	ErrEmptyCommit = errors.New("commit carries no file changes")

	// ErrStaleFileSet means a referenced file no longer matches the planned
	// state, for example it was already soft-deleted or its level moved.
	ErrStaleFileSet = errors.New("file set changed since planning")
)

// CommitFilesParams is one atomic catalog delta for a single partition.
type CommitFilesParams struct {
	JobID          int64
	PartitionID    int64
	IdempotencyKey uuid.UUID
	TargetLevel    CompactionLevel
	Delete         []int64
	Upgrade        []int64
	Create         []ParquetFileParams
}

func (p CommitFilesParams) empty() bool {
	return len(p.Delete) == 0 && len(p.Upgrade) == 0 && len(p.Create) == 0
}

const insertCommitLedger = `
INSERT INTO compaction_commits (idempotency_key, job_id, partition_id, target_level,
                                files_deleted, files_upgraded, files_created)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (idempotency_key) DO NOTHING`

const advanceJobToCommitting = `
UPDATE compaction_jobs
SET state = 'committing', heartbeated_at = now()
WHERE id = $1 AND state IN ('claimed', 'committing')`

const softDeleteFile = `
UPDATE parquet_files
SET to_delete = now()
WHERE id = $1 AND partition_id = $2 AND to_delete IS NULL`

const upgradeFileLevel = `
UPDATE parquet_files
SET compaction_level = $3
WHERE id = $1 AND partition_id = $2 AND to_delete IS NULL AND compaction_level < $3`

const insertCreatedFile = `
INSERT INTO parquet_files (partition_id, object_key, compaction_level, min_time, max_time,
                           row_count, size_bytes, sort_key)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`

// CommitFileUpdates applies one compaction delta as a single transaction:
// superseded files are soft-deleted, promoted files have their level raised in
// place, and new files are inserted. Returned ids correspond to params.Create
// by position. Either the whole delta lands or none of it does; concurrent
// readers never observe an intermediate file set.
//
// The idempotency key is recorded in the same transaction. Submitting a key
// that was already recorded fails with ErrDuplicateCommit before any file row
// is touched, so an ambiguous earlier attempt can never be double-applied.
func (store *Store) CommitFileUpdates(ctx context.Context, params CommitFilesParams) ([]int64, error) {
	if params.empty() {
		return nil, ErrEmptyCommit
	}
	if !params.TargetLevel.Valid() {
		return nil, fmt.Errorf("invalid target level %d", params.TargetLevel)
	}
	if params.IdempotencyKey == uuid.Nil {
		return nil, errors.New("missing idempotency key")
	}

	ids := make([]int64, 0, len(params.Create))
	err := store.execTx(ctx, func(s *Store) error {
		tag, err := s.db.Exec(ctx, insertCommitLedger,
			params.IdempotencyKey, params.JobID, params.PartitionID, params.TargetLevel,
			len(params.Delete), len(params.Upgrade), len(params.Create))
		if err != nil {
			return fmt.Errorf("record commit: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrDuplicateCommit
		}

		tag, err = s.db.Exec(ctx, advanceJobToCommitting, params.JobID)
		if err != nil {
			return fmt.Errorf("advance job %d: %w", params.JobID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("job %d: %w", params.JobID, ErrJobNotActive)
		}

		batch := &pgx.Batch{}
		for _, fileID := range params.Delete {
			batch.Queue(softDeleteFile, fileID, params.PartitionID)
		}
		for _, fileID := range params.Upgrade {
			batch.Queue(upgradeFileLevel, fileID, params.PartitionID, params.TargetLevel)
		}
		for _, create := range params.Create {
			batch.Queue(insertCreatedFile,
				params.PartitionID, create.ObjectKey, create.CompactionLevel,
				create.MinTime, create.MaxTime, create.RowCount, create.SizeBytes, create.SortKey)
		}

		br := s.db.SendBatch(ctx, batch)
		defer func() { _ = br.Close() }()

		var errs *multierror.Error
		for _, fileID := range params.Delete {
			tag, err := br.Exec()
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("delete file %d: %w", fileID, err))
				continue
			}
			if tag.RowsAffected() != 1 {
				errs = multierror.Append(errs, fmt.Errorf("delete file %d: %w", fileID, ErrStaleFileSet))
			}
		}
		for _, fileID := range params.Upgrade {
			tag, err := br.Exec()
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("upgrade file %d: %w", fileID, err))
				continue
			}
			if tag.RowsAffected() != 1 {
				errs = multierror.Append(errs, fmt.Errorf("upgrade file %d: %w", fileID, ErrStaleFileSet))
			}
		}
		for i := range params.Create {
			var id int64
			if err := br.QueryRow().Scan(&id); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("create file %d: %w", i, err))
				continue
			}
			ids = append(ids, id)
		}

		return errs.ErrorOrNil()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// WasCommitApplied reports whether a commit with the given idempotency key is
// recorded in the ledger. Used when reconciling an ambiguous commit outcome.
func (store *Store) WasCommitApplied(ctx context.Context, key uuid.UUID) (bool, error) {
	var exists bool
	err := store.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM compaction_commits WHERE idempotency_key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("look up commit %s: %w", key, err)
	}
	return exists, nil
}
