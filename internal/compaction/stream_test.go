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
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronolake/compactor/internal/scheduler"
)

type countingSource struct {
	jobs    []scheduler.CompactionJob
	err     error
	fetches int
}

func (s *countingSource) Fetch(_ context.Context) ([]scheduler.CompactionJob, error) {
	s.fetches++
	if s.err != nil {
		return nil, s.err
	}
	return s.jobs, nil
}

func testJob(id, partition int64) scheduler.CompactionJob {
	return scheduler.CompactionJob{
		ID:             id,
		PartitionID:    partition,
		IdempotencyKey: uuid.New(),
	}
}

func TestOncePartitionStreamYieldsInSourceOrder(t *testing.T) {
	jobs := []scheduler.CompactionJob{testJob(1, 10), testJob(2, 20), testJob(3, 30)}
	stream := NewOncePartitionStream(NewStaticPartitionsSource(jobs...))

	var got []int64
	for job := range stream.Stream(context.Background()) {
		got = append(got, job.ID)
	}

	assert.Equal(t, []int64{1, 2, 3}, got)
}

func TestOncePartitionStreamOneFetchPerIteration(t *testing.T) {
	source := &countingSource{jobs: []scheduler.CompactionJob{testJob(1, 10)}}
	stream := NewOncePartitionStream(source)

	for range 3 {
		count := 0
		for range stream.Stream(context.Background()) {
			count++
		}
		require.Equal(t, 1, count)
	}

	assert.Equal(t, 3, source.fetches)
}

func TestOncePartitionStreamFetchError(t *testing.T) {
	source := &countingSource{err: errors.New("scheduler down")}
	stream := NewOncePartitionStream(source)

	for range stream.Stream(context.Background()) {
		t.Fatal("a failed fetch must yield nothing")
	}

	assert.Equal(t, 1, source.fetches)
}

func TestOncePartitionStreamEarlyBreak(t *testing.T) {
	jobs := []scheduler.CompactionJob{testJob(1, 10), testJob(2, 20), testJob(3, 30)}
	stream := NewOncePartitionStream(NewStaticPartitionsSource(jobs...))

	var got []int64
	for job := range stream.Stream(context.Background()) {
		got = append(got, job.ID)
		if len(got) == 2 {
			break
		}
	}

	assert.Equal(t, []int64{1, 2}, got)
}

func TestStaticPartitionsSourceReturnsCopy(t *testing.T) {
	jobs := []scheduler.CompactionJob{testJob(1, 10), testJob(2, 20)}
	source := NewStaticPartitionsSource(jobs...)

	first, err := source.Fetch(context.Background())
	require.NoError(t, err)
	first[0].ID = 999

	second, err := source.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), second[0].ID)
}
