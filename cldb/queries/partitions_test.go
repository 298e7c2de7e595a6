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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronolake/compactor/cldb"
	"github.com/chronolake/compactor/testhelpers"
)

func TestUpsertPartition_StableID(t *testing.T) {
	ctx := context.Background()
	db := testhelpers.NewTestStore(t)

	first, err := db.UpsertPartition(ctx, "measurements", "2026-08-25")
	require.NoError(t, err)

	second, err := db.UpsertPartition(ctx, "measurements", "2026-08-25")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := db.UpsertPartition(ctx, "measurements", "2026-08-26")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestInsertParquetFile_MarksPartitionEligible(t *testing.T) {
	ctx := context.Background()
	db := testhelpers.NewTestStore(t)

	pid := newPartition(t, ctx, db)

	before, err := db.GetPartition(ctx, pid)
	require.NoError(t, err)
	assert.Nil(t, before.NewFileAt)

	addFile(t, ctx, db, pid, cldb.LevelInitial, 0, 10)

	after, err := db.GetPartition(ctx, pid)
	require.NoError(t, err)
	assert.NotNil(t, after.NewFileAt)
}

func TestInsertParquetFile_UnknownPartition(t *testing.T) {
	ctx := context.Background()
	db := testhelpers.NewTestStore(t)

	_, err := db.InsertParquetFile(ctx, cldb.ParquetFileParams{
		PartitionID: 999_999_999_999,
		ObjectKey:   "orphan.parquet",
		MinTime:     0,
		MaxTime:     1,
	})
	require.Error(t, err)
}

func TestListActiveFilesByPartition_OrderedByID(t *testing.T) {
	ctx := context.Background()
	db := testhelpers.NewTestStore(t)

	pid := newPartition(t, ctx, db)
	fileA := addFile(t, ctx, db, pid, cldb.LevelInitial, 20, 30)
	fileB := addFile(t, ctx, db, pid, cldb.LevelFinal, 0, 10)
	fileC := addFile(t, ctx, db, pid, cldb.LevelFileNonOverlapped, 40, 50)

	ids := activeFileIDs(t, ctx, db, pid)
	assert.Equal(t, []int64{fileA, fileB, fileC}, ids)
}
