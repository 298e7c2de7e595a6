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

	"github.com/jellydator/ttlcache/v3"
)

const failedPartitionTTL = 10 * time.Minute

// failedPartitionCache shelves partitions that recently failed compaction in
// this process, so a claim pass does not re-select them before the catalog's
// skip_until write is visible.
var failedPartitionCache = ttlcache.New(
	ttlcache.WithTTL[int64, struct{}](failedPartitionTTL),
	ttlcache.WithDisableTouchOnHit[int64, struct{}](),
	ttlcache.WithCapacity[int64, struct{}](100_000),
)

func init() {
	go failedPartitionCache.Start()
}

func markPartitionFailed(partitionID int64, ttl time.Duration) {
	if ttl <= 0 || ttl > failedPartitionTTL {
		ttl = failedPartitionTTL
	}
	failedPartitionCache.Set(partitionID, struct{}{}, ttl)
}

func partitionRecentlyFailed(partitionID int64) bool {
	return failedPartitionCache.Get(partitionID) != nil
}
