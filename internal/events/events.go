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

// Package events publishes compaction outcomes to Kafka for downstream
// consumers (query-tier cache invalidation, ops dashboards). Delivery is
// best effort; the catalog stays the source of truth.
package events

import "time"

// Outcome values carried in CompactionDone.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// CompactionDone is emitted once per job after its terminal outcome is
// recorded in the catalog.
type CompactionDone struct {
	JobID         int64     `json:"job_id"`
	PartitionID   int64     `json:"partition_id"`
	Outcome       string    `json:"outcome"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	TargetLevel   string    `json:"target_level,omitempty"`
	FilesDeleted  int       `json:"files_deleted"`
	FilesUpgraded int       `json:"files_upgraded"`
	FilesCreated  int       `json:"files_created"`
	DurationMs    int64     `json:"duration_ms"`
	FinishedAt    time.Time `json:"finished_at"`
}
