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
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/chronolake/compactor/cldb"
)

// FileSplit decides which of a partition's files need their bytes rewritten
// to reach the target level and which can be promoted in place. The two
// outputs partition the input exactly: every input file lands in one of them,
// none is dropped or duplicated.
type FileSplit interface {
	Apply(files []cldb.ParquetFile, target cldb.CompactionLevel) (mustRewrite, canPromote []cldb.ParquetFile)
}

// Strategy names accepted by NewFileSplit.
const (
	SplitStrategyOverlap = "overlap"
	SplitStrategyAll     = "all"
)

func NewFileSplit(strategy string) (FileSplit, error) {
	switch strategy {
	case SplitStrategyOverlap, "":
		return OverlapAwareSplit{}, nil
	case SplitStrategyAll:
		return CompactEverythingSplit{}, nil
	default:
		return nil, fmt.Errorf("unknown split strategy %q", strategy)
	}
}

// CompactEverythingSplit rewrites every file regardless of overlap. More I/O
// than needed, but trivially correct for any input.
type CompactEverythingSplit struct{}

func (CompactEverythingSplit) Apply(files []cldb.ParquetFile, _ cldb.CompactionLevel) ([]cldb.ParquetFile, []cldb.ParquetFile) {
	if len(files) == 0 {
		return nil, nil
	}
	return sortFilesByID(files), nil
}

// OverlapAwareSplit promotes a file in place when its closed time interval
// intersects no other file of equal or higher level; everything else gets
// rewritten. Any two promoted files are therefore non-overlapping: if they
// overlapped, the one at the lower (or equal) level would have seen the other
// and been sent to the rewrite set instead.
type OverlapAwareSplit struct{}

func (OverlapAwareSplit) Apply(files []cldb.ParquetFile, _ cldb.CompactionLevel) ([]cldb.ParquetFile, []cldb.ParquetFile) {
	if len(files) == 0 {
		return nil, nil
	}

	// Canonical order keeps the outputs stable under input permutation.
	ordered := sortFilesByID(files)

	promotable := mapset.NewThreadUnsafeSet[int64]()
	for _, f := range ordered {
		if clearOfPeers(f, ordered) {
			promotable.Add(f.ID)
		}
	}

	var mustRewrite, canPromote []cldb.ParquetFile
	for _, f := range ordered {
		if promotable.Contains(f.ID) {
			canPromote = append(canPromote, f)
		} else {
			mustRewrite = append(mustRewrite, f)
		}
	}
	return mustRewrite, canPromote
}

// clearOfPeers reports whether f overlaps no other file at f's level or
// above.
func clearOfPeers(f cldb.ParquetFile, files []cldb.ParquetFile) bool {
	for _, other := range files {
		if other.ID == f.ID {
			continue
		}
		if other.CompactionLevel >= f.CompactionLevel && f.Overlaps(other) {
			return false
		}
	}
	return true
}

func sortFilesByID(files []cldb.ParquetFile) []cldb.ParquetFile {
	ordered := make([]cldb.ParquetFile, len(files))
	copy(ordered, files)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	return ordered
}
