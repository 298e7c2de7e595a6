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
)

const listActiveFilesByPartition = `
SELECT id, partition_id, object_key, compaction_level, min_time, max_time,
       row_count, size_bytes, sort_key, created_at
FROM parquet_files
WHERE partition_id = $1
  AND to_delete IS NULL
ORDER BY id`

// ListActiveFilesByPartition returns the partition's live file set, ordered
// by id.
func (store *Store) ListActiveFilesByPartition(ctx context.Context, partitionID int64) ([]ParquetFile, error) {
	rows, err := store.db.Query(ctx, listActiveFilesByPartition, partitionID)
	if err != nil {
		return nil, fmt.Errorf("list files for partition %d: %w", partitionID, err)
	}
	defer rows.Close()

	var files []ParquetFile
	for rows.Next() {
		var f ParquetFile
		if err := rows.Scan(&f.ID, &f.PartitionID, &f.ObjectKey, &f.CompactionLevel,
			&f.MinTime, &f.MaxTime, &f.RowCount, &f.SizeBytes, &f.SortKey, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan parquet file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

const insertParquetFile = `
INSERT INTO parquet_files (partition_id, object_key, compaction_level, min_time, max_time,
                           row_count, size_bytes, sort_key)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`

// InsertParquetFile registers a single ingested file and bumps the owning
// partition's new_file_at marker so the partition becomes eligible for
// compaction again.
func (store *Store) InsertParquetFile(ctx context.Context, params ParquetFileParams) (int64, error) {
	var id int64
	err := store.execTx(ctx, func(s *Store) error {
		row := s.db.QueryRow(ctx, insertParquetFile,
			params.PartitionID, params.ObjectKey, params.CompactionLevel,
			params.MinTime, params.MaxTime, params.RowCount, params.SizeBytes, params.SortKey)
		if err := row.Scan(&id); err != nil {
			return fmt.Errorf("insert parquet file: %w", err)
		}
		tag, err := s.db.Exec(ctx,
			`UPDATE partitions SET new_file_at = now() WHERE id = $1`, params.PartitionID)
		if err != nil {
			return fmt.Errorf("bump partition new_file_at: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("partition %d does not exist", params.PartitionID)
		}
		return nil
	})
	return id, err
}

const insertPartition = `
INSERT INTO partitions (table_name, partition_key)
VALUES ($1, $2)
ON CONFLICT (table_name, partition_key) DO UPDATE SET table_name = EXCLUDED.table_name
RETURNING id`

// UpsertPartition registers a partition, returning its stable id.
func (store *Store) UpsertPartition(ctx context.Context, tableName, partitionKey string) (int64, error) {
	var id int64
	if err := store.db.QueryRow(ctx, insertPartition, tableName, partitionKey).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert partition %s/%s: %w", tableName, partitionKey, err)
	}
	return id, nil
}

const getPartition = `
SELECT id, table_name, partition_key, new_file_at, last_compacted_at, skip_until, created_at
FROM partitions
WHERE id = $1`

func (store *Store) GetPartition(ctx context.Context, partitionID int64) (Partition, error) {
	var p Partition
	err := store.db.QueryRow(ctx, getPartition, partitionID).Scan(
		&p.ID, &p.TableName, &p.PartitionKey, &p.NewFileAt, &p.LastCompactedAt, &p.SkipUntil, &p.CreatedAt)
	if err != nil {
		return Partition{}, fmt.Errorf("get partition %d: %w", partitionID, err)
	}
	return p, nil
}
