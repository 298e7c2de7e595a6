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
	"iter"
	"log/slog"

	"github.com/chronolake/compactor/internal/logctx"
	"github.com/chronolake/compactor/internal/scheduler"
)

// PartitionStream adapts a batch source to a job sequence the driver can
// range over.
type PartitionStream interface {
	Stream(ctx context.Context) iter.Seq[scheduler.CompactionJob]
}

// OncePartitionStream fetches one batch per Stream call and yields it in
// source order. It holds no state between calls, so iterating twice performs
// two independent fetches. A fetch error ends the sequence after logging;
// the driver's outer loop decides whether to try again.
type OncePartitionStream struct {
	source PartitionsSource
}

func NewOncePartitionStream(source PartitionsSource) *OncePartitionStream {
	return &OncePartitionStream{source: source}
}

func (s *OncePartitionStream) Stream(ctx context.Context) iter.Seq[scheduler.CompactionJob] {
	return func(yield func(scheduler.CompactionJob) bool) {
		jobs, err := s.source.Fetch(ctx)
		if err != nil {
			logctx.FromContext(ctx).Warn("Partition fetch failed", slog.Any("error", err))
			return
		}
		for _, job := range jobs {
			if !yield(job) {
				return
			}
		}
	}
}
