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

package idgen

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextWorkerID(t *testing.T) {
	a := NextWorkerID()
	b := NextWorkerID()
	assert.Positive(t, a)
	assert.Positive(t, b)
	assert.NotEqual(t, a, b)
}

func TestNewULID_Sortable(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	earlier := NewULID(t0)
	later := NewULID(t0.Add(time.Second))
	assert.Less(t, earlier, later)
}

func TestParquetObjectKey(t *testing.T) {
	key := ParquetObjectKey(17, 1, time.Now())
	require.True(t, strings.HasPrefix(key, "compacted/partition-17/l1/"))
	assert.True(t, strings.HasSuffix(key, ".parquet"))
}
