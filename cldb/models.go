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
	"time"

	"github.com/google/uuid"
)

// CompactionLevel describes how far a parquet file has progressed through
// compaction. A file's level only ever increases.
type CompactionLevel int16

const (
	// LevelInitial is assigned to freshly ingested files, which may overlap
	// any other file in their partition.
	LevelInitial CompactionLevel = 0
	// LevelFileNonOverlapped files do not overlap any other file at the same
	// or higher level within their partition.
	LevelFileNonOverlapped CompactionLevel = 1
	// LevelFinal files are maximally compacted.
	LevelFinal CompactionLevel = 2
)

func (l CompactionLevel) String() string {
	switch l {
	case LevelInitial:
		return "initial"
	case LevelFileNonOverlapped:
		return "file_non_overlapped"
	case LevelFinal:
		return "final"
	default:
		return "unknown"
	}
}

func (l CompactionLevel) Valid() bool {
	return l >= LevelInitial && l <= LevelFinal
}

// Next returns the next compaction level, saturating at LevelFinal.
func (l CompactionLevel) Next() CompactionLevel {
	if l >= LevelFinal {
		return LevelFinal
	}
	return l + 1
}

// ParquetFile is a persisted file's catalog record. Rows are immutable except
// for compaction_level upgrades and the soft-delete markers.
type ParquetFile struct {
	ID              int64
	PartitionID     int64
	ObjectKey       string
	CompactionLevel CompactionLevel
	MinTime         int64
	MaxTime         int64
	RowCount        int64
	SizeBytes       int64
	SortKey         []string
	CreatedAt       time.Time
}

// Overlaps reports whether the closed time intervals of two files intersect.
func (f ParquetFile) Overlaps(other ParquetFile) bool {
	return f.MinTime <= other.MaxTime && other.MinTime <= f.MaxTime
}

// ParquetFileParams describes a file about to be created. An ID is assigned
// only once the row is durably inserted by a commit.
type ParquetFileParams struct {
	PartitionID     int64
	ObjectKey       string
	CompactionLevel CompactionLevel
	MinTime         int64
	MaxTime         int64
	RowCount        int64
	SizeBytes       int64
	SortKey         []string
}

// Partition is one compactable unit of a table, typically a time bucket.
type Partition struct {
	ID              int64
	TableName       string
	PartitionKey    string
	NewFileAt       *time.Time
	LastCompactedAt *time.Time
	SkipUntil       *time.Time
	CreatedAt       time.Time
}

// JobState is the lifecycle state of a compaction job row.
type JobState string

const (
	JobStateClaimed    JobState = "claimed"
	JobStateCommitting JobState = "committing"
	JobStateDone       JobState = "done"
	JobStateFailed     JobState = "failed"
)

// CompactionJobRow is a claimed unit of compaction work. At most one row per
// partition may be in a live state (claimed or committing); the schema
// enforces this with a partial unique index.
type CompactionJobRow struct {
	ID             int64
	PartitionID    int64
	State          JobState
	ClaimedBy      int64
	ClaimedAt      time.Time
	HeartbeatedAt  time.Time
	CompletedAt    *time.Time
	ErrorMessage   *string
	IdempotencyKey uuid.UUID
}
