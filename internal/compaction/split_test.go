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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronolake/compactor/cldb"
)

func splitFile(id int64, level cldb.CompactionLevel, minTime, maxTime int64) cldb.ParquetFile {
	return cldb.ParquetFile{
		ID:              id,
		PartitionID:     42,
		ObjectKey:       "compacted/partition-42/test.parquet",
		CompactionLevel: level,
		MinTime:         minTime,
		MaxTime:         maxTime,
		RowCount:        100,
		SizeBytes:       1024,
	}
}

func fileIDs(files []cldb.ParquetFile) []int64 {
	ids := make([]int64, 0, len(files))
	for _, f := range files {
		ids = append(ids, f.ID)
	}
	return ids
}

func TestNewFileSplit(t *testing.T) {
	s, err := NewFileSplit("")
	require.NoError(t, err)
	assert.IsType(t, OverlapAwareSplit{}, s)

	s, err = NewFileSplit(SplitStrategyOverlap)
	require.NoError(t, err)
	assert.IsType(t, OverlapAwareSplit{}, s)

	s, err = NewFileSplit(SplitStrategyAll)
	require.NoError(t, err)
	assert.IsType(t, CompactEverythingSplit{}, s)

	_, err = NewFileSplit("bogus")
	assert.Error(t, err)
}

func TestCompactEverythingSplit(t *testing.T) {
	files := []cldb.ParquetFile{
		splitFile(3, cldb.LevelFinal, 100, 200),
		splitFile(1, cldb.LevelInitial, 0, 10),
		splitFile(2, cldb.LevelFileNonOverlapped, 20, 30),
	}

	mustRewrite, canPromote := CompactEverythingSplit{}.Apply(files, cldb.LevelFileNonOverlapped)

	assert.Equal(t, []int64{1, 2, 3}, fileIDs(mustRewrite))
	assert.Empty(t, canPromote)
}

func TestCompactEverythingSplitEmpty(t *testing.T) {
	mustRewrite, canPromote := CompactEverythingSplit{}.Apply(nil, cldb.LevelFileNonOverlapped)
	assert.Nil(t, mustRewrite)
	assert.Nil(t, canPromote)
}

func TestOverlapAwareSplitEmpty(t *testing.T) {
	mustRewrite, canPromote := OverlapAwareSplit{}.Apply(nil, cldb.LevelFileNonOverlapped)
	assert.Nil(t, mustRewrite)
	assert.Nil(t, canPromote)
}

func TestOverlapAwareSplitSingleFile(t *testing.T) {
	files := []cldb.ParquetFile{splitFile(1, cldb.LevelInitial, 0, 100)}

	mustRewrite, canPromote := OverlapAwareSplit{}.Apply(files, cldb.LevelFileNonOverlapped)

	assert.Empty(t, mustRewrite)
	assert.Equal(t, []int64{1}, fileIDs(canPromote))
}

func TestOverlapAwareSplit(t *testing.T) {
	// A straddles B, so A must be rewritten. B only counts peers at its own
	// level or above, and A sits below it, so B stays promotable. C is off on
	// its own.
	a := splitFile(1, cldb.LevelInitial, 0, 10)
	b := splitFile(2, cldb.LevelFileNonOverlapped, 5, 15)
	c := splitFile(3, cldb.LevelInitial, 20, 30)

	mustRewrite, canPromote := OverlapAwareSplit{}.Apply(
		[]cldb.ParquetFile{a, b, c}, cldb.LevelFileNonOverlapped)

	assert.Equal(t, []int64{1}, fileIDs(mustRewrite))
	assert.Equal(t, []int64{2, 3}, fileIDs(canPromote))
}

func TestOverlapAwareSplitSameLevelOverlap(t *testing.T) {
	// Two level-0 files sharing time range force each other into the
	// rewrite set.
	files := []cldb.ParquetFile{
		splitFile(1, cldb.LevelInitial, 0, 10),
		splitFile(2, cldb.LevelInitial, 5, 15),
		splitFile(3, cldb.LevelInitial, 100, 110),
	}

	mustRewrite, canPromote := OverlapAwareSplit{}.Apply(files, cldb.LevelFileNonOverlapped)

	assert.Equal(t, []int64{1, 2}, fileIDs(mustRewrite))
	assert.Equal(t, []int64{3}, fileIDs(canPromote))
}

func TestOverlapAwareSplitTouchingEdges(t *testing.T) {
	// Time intervals are closed on both ends, so files meeting at a single
	// timestamp overlap.
	files := []cldb.ParquetFile{
		splitFile(1, cldb.LevelInitial, 0, 5),
		splitFile(2, cldb.LevelInitial, 5, 10),
	}

	mustRewrite, canPromote := OverlapAwareSplit{}.Apply(files, cldb.LevelFileNonOverlapped)

	assert.Equal(t, []int64{1, 2}, fileIDs(mustRewrite))
	assert.Empty(t, canPromote)
}

func TestOverlapAwareSplitHigherLevelShieldsNothing(t *testing.T) {
	// A level-1 file overlapped by a level-2 file must be rewritten even
	// though the level-2 file itself stays put.
	files := []cldb.ParquetFile{
		splitFile(1, cldb.LevelFileNonOverlapped, 0, 10),
		splitFile(2, cldb.LevelFinal, 5, 15),
	}

	mustRewrite, canPromote := OverlapAwareSplit{}.Apply(files, cldb.LevelFinal)

	assert.Equal(t, []int64{1}, fileIDs(mustRewrite))
	assert.Equal(t, []int64{2}, fileIDs(canPromote))
}

func TestOverlapAwareSplitPartitionsInput(t *testing.T) {
	files := []cldb.ParquetFile{
		splitFile(5, cldb.LevelInitial, 0, 50),
		splitFile(2, cldb.LevelFileNonOverlapped, 10, 20),
		splitFile(9, cldb.LevelInitial, 100, 120),
		splitFile(1, cldb.LevelFinal, 30, 60),
		splitFile(7, cldb.LevelInitial, 200, 210),
	}

	mustRewrite, canPromote := OverlapAwareSplit{}.Apply(files, cldb.LevelFileNonOverlapped)

	require.Len(t, mustRewrite, len(files)-len(canPromote))
	seen := map[int64]int{}
	for _, f := range mustRewrite {
		seen[f.ID]++
	}
	for _, f := range canPromote {
		seen[f.ID]++
	}
	for _, f := range files {
		assert.Equal(t, 1, seen[f.ID], "file %d must land in exactly one output", f.ID)
	}
}

func TestOverlapAwareSplitStableUnderPermutation(t *testing.T) {
	files := []cldb.ParquetFile{
		splitFile(1, cldb.LevelInitial, 0, 10),
		splitFile(2, cldb.LevelFileNonOverlapped, 5, 15),
		splitFile(3, cldb.LevelInitial, 20, 30),
		splitFile(4, cldb.LevelFinal, 25, 40),
		splitFile(5, cldb.LevelInitial, 100, 110),
	}

	wantRewrite, wantPromote := OverlapAwareSplit{}.Apply(files, cldb.LevelFileNonOverlapped)

	rng := rand.New(rand.NewSource(1))
	for range 10 {
		shuffled := make([]cldb.ParquetFile, len(files))
		copy(shuffled, files)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		gotRewrite, gotPromote := OverlapAwareSplit{}.Apply(shuffled, cldb.LevelFileNonOverlapped)
		assert.Equal(t, fileIDs(wantRewrite), fileIDs(gotRewrite))
		assert.Equal(t, fileIDs(wantPromote), fileIDs(gotPromote))
	}
}

func TestOverlapAwareSplitPromotedFilesNeverOverlap(t *testing.T) {
	// Whatever the input looks like, promoting the promote set must never
	// put two overlapping files at the same level.
	rng := rand.New(rand.NewSource(7))
	for range 50 {
		n := 2 + rng.Intn(20)
		files := make([]cldb.ParquetFile, 0, n)
		for i := range n {
			start := int64(rng.Intn(1000))
			files = append(files, splitFile(
				int64(i+1),
				cldb.CompactionLevel(rng.Intn(3)),
				start,
				start+int64(rng.Intn(200)),
			))
		}

		_, canPromote := OverlapAwareSplit{}.Apply(files, cldb.LevelFileNonOverlapped)

		for i := range canPromote {
			for j := i + 1; j < len(canPromote); j++ {
				assert.False(t, canPromote[i].Overlaps(canPromote[j]),
					"promoted files %d and %d overlap", canPromote[i].ID, canPromote[j].ID)
			}
		}
	}
}
