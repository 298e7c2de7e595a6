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

package scheduler

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/chronolake/compactor/cldb"
)

// CommitUpdate is one atomic delta for a single partition: superseded files
// to soft-delete, files whose level rises in place, new files to register,
// and the level assigned to both upgraded and created files.
type CommitUpdate struct {
	PartitionID int64
	Delete      []cldb.ParquetFile
	Upgrade     []cldb.ParquetFile
	Create      []cldb.ParquetFileParams
	TargetLevel cldb.CompactionLevel
}

// NewCommitUpdate builds a validated delta. The delete and upgrade sets must
// be disjoint and every referenced file must belong to the stated partition;
// violating either is a bug in the planner, not a runtime condition, so this
// panics rather than returning an error.
func NewCommitUpdate(partitionID int64, deletes, upgrades []cldb.ParquetFile,
	creates []cldb.ParquetFileParams, target cldb.CompactionLevel) CommitUpdate {

	if !target.Valid() {
		panic(fmt.Sprintf("commit update: invalid target level %d", target))
	}

	deleteIDs := mapset.NewThreadUnsafeSet[int64]()
	for _, f := range deletes {
		if f.PartitionID != partitionID {
			panic(fmt.Sprintf("commit update: delete file %d belongs to partition %d, not %d",
				f.ID, f.PartitionID, partitionID))
		}
		if !deleteIDs.Add(f.ID) {
			panic(fmt.Sprintf("commit update: file %d listed twice in delete set", f.ID))
		}
	}

	upgradeIDs := mapset.NewThreadUnsafeSet[int64]()
	for _, f := range upgrades {
		if f.PartitionID != partitionID {
			panic(fmt.Sprintf("commit update: upgrade file %d belongs to partition %d, not %d",
				f.ID, f.PartitionID, partitionID))
		}
		if !upgradeIDs.Add(f.ID) {
			panic(fmt.Sprintf("commit update: file %d listed twice in upgrade set", f.ID))
		}
		if f.CompactionLevel >= target {
			panic(fmt.Sprintf("commit update: file %d is already at level %s, cannot upgrade to %s",
				f.ID, f.CompactionLevel, target))
		}
	}

	if overlap := deleteIDs.Intersect(upgradeIDs); overlap.Cardinality() > 0 {
		panic(fmt.Sprintf("commit update: files %v appear in both delete and upgrade sets",
			overlap.ToSlice()))
	}

	for i, p := range creates {
		if p.PartitionID != partitionID {
			panic(fmt.Sprintf("commit update: create %d targets partition %d, not %d",
				i, p.PartitionID, partitionID))
		}
	}

	return CommitUpdate{
		PartitionID: partitionID,
		Delete:      deletes,
		Upgrade:     upgrades,
		Create:      creates,
		TargetLevel: target,
	}
}

// Empty reports whether the delta changes nothing.
func (u CommitUpdate) Empty() bool {
	return len(u.Delete) == 0 && len(u.Upgrade) == 0 && len(u.Create) == 0
}
