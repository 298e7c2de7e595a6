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
	"fmt"
	"time"
)

// SweepFile is a soft-deleted file whose bytes still need removal.
type SweepFile struct {
	ID        int64
	ObjectKey string
}

const listFilesToSweep = `
SELECT id, object_key
FROM parquet_files
WHERE to_delete IS NOT NULL
  AND to_delete < $1
  AND deleted_at IS NULL
ORDER BY to_delete
LIMIT $2`

// ListFilesToSweep returns soft-deleted files whose grace period expired
// before the cutoff and whose bytes have not yet been removed.
func (store *Store) ListFilesToSweep(ctx context.Context, cutoff time.Time, limit int) ([]SweepFile, error) {
	rows, err := store.db.Query(ctx, listFilesToSweep, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list files to sweep: %w", err)
	}
	defer rows.Close()

	var files []SweepFile
	for rows.Next() {
		var f SweepFile
		if err := rows.Scan(&f.ID, &f.ObjectKey); err != nil {
			return nil, fmt.Errorf("scan sweep file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// MarkFilesSwept records that the bytes behind the given rows are gone.
func (store *Store) MarkFilesSwept(ctx context.Context, fileIDs []int64) error {
	if len(fileIDs) == 0 {
		return nil
	}
	_, err := store.db.Exec(ctx,
		`UPDATE parquet_files SET deleted_at = now()
		 WHERE id = ANY($1) AND to_delete IS NOT NULL AND deleted_at IS NULL`, fileIDs)
	if err != nil {
		return fmt.Errorf("mark files swept: %w", err)
	}
	return nil
}

// PurgeSweptFiles removes catalog rows for files swept before the cutoff.
// Returns the number of rows removed.
func (store *Store) PurgeSweptFiles(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	tag, err := store.db.Exec(ctx,
		`DELETE FROM parquet_files
		 WHERE id IN (
		   SELECT id FROM parquet_files
		   WHERE deleted_at IS NOT NULL AND deleted_at < $1
		   LIMIT $2
		 )`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("purge swept files: %w", err)
	}
	return tag.RowsAffected(), nil
}
