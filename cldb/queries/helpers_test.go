//go:build integration

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

package queries

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chronolake/compactor/cldb"
)

var objectKeySeq atomic.Int64

// newPartition registers a partition named after the test.
func newPartition(t *testing.T, ctx context.Context, store *cldb.Store) int64 {
	t.Helper()
	id, err := store.UpsertPartition(ctx, "measurements", t.Name())
	require.NoError(t, err)
	return id
}

// addFile inserts one live file through the ingest path, which also marks the
// partition eligible for compaction.
func addFile(t *testing.T, ctx context.Context, store *cldb.Store, partitionID int64,
	level cldb.CompactionLevel, minTime, maxTime int64) int64 {
	t.Helper()
	id, err := store.InsertParquetFile(ctx, cldb.ParquetFileParams{
		PartitionID:     partitionID,
		ObjectKey:       fmt.Sprintf("measurements/partition-%d/%d.parquet", partitionID, objectKeySeq.Add(1)),
		CompactionLevel: level,
		MinTime:         minTime,
		MaxTime:         maxTime,
		RowCount:        100,
		SizeBytes:       4096,
		SortKey:         []string{"timestamp"},
	})
	require.NoError(t, err)
	return id
}

// claimPartition claims pending jobs and returns the one for the given
// partition, failing the test if it was not claimed.
func claimPartition(t *testing.T, ctx context.Context, store *cldb.Store,
	workerID, partitionID int64) cldb.CompactionJobRow {
	t.Helper()
	jobs, err := store.ClaimCompactionJobs(ctx, workerID, 10)
	require.NoError(t, err)
	for _, job := range jobs {
		if job.PartitionID == partitionID {
			return job
		}
	}
	t.Fatalf("partition %d was not claimed", partitionID)
	return cldb.CompactionJobRow{}
}

// activeFileIDs lists the partition's live file ids in catalog order.
func activeFileIDs(t *testing.T, ctx context.Context, store *cldb.Store, partitionID int64) []int64 {
	t.Helper()
	files, err := store.ListActiveFilesByPartition(ctx, partitionID)
	require.NoError(t, err)
	ids := make([]int64, len(files))
	for i, f := range files {
		ids[i] = f.ID
	}
	return ids
}
