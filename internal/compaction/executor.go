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
	"fmt"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/chronolake/compactor/cldb"
	"github.com/chronolake/compactor/internal/idgen"
	"github.com/chronolake/compactor/internal/scheduler"
)

// RewriteExecutor turns a rewrite set into replacement file params. The
// returned params are not yet registered; the committer does that.
type RewriteExecutor interface {
	Rewrite(ctx context.Context, job scheduler.CompactionJob, files []cldb.ParquetFile,
		target cldb.CompactionLevel) ([]cldb.ParquetFileParams, error)
}

// ObjectClient is the slice of the object store the rewriter needs.
type ObjectClient interface {
	DownloadObject(ctx context.Context, dir, bucket, key string) (tmpfile string, size int64, notFound bool, err error)
	UploadObject(ctx context.Context, bucket, key, sourceFilename string) error
}

// ParquetRewriter merges a partition's rewrite set into one parquet file and
// uploads it under a fresh object key. Old objects are never touched here;
// the commit soft-deletes their rows and the sweeper removes the bytes later.
type ParquetRewriter struct {
	store  ObjectClient
	bucket string
}

func NewParquetRewriter(store ObjectClient, bucket string) *ParquetRewriter {
	return &ParquetRewriter{store: store, bucket: bucket}
}

func (r *ParquetRewriter) Rewrite(ctx context.Context, job scheduler.CompactionJob,
	files []cldb.ParquetFile, target cldb.CompactionLevel) ([]cldb.ParquetFileParams, error) {

	if len(files) == 0 {
		return nil, nil
	}

	tmpdir, err := os.MkdirTemp("", "compact-rewrite-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpdir) }()

	inputs := make([]string, 0, len(files))
	for _, f := range files {
		if ctx.Err() != nil {
			return nil, NewWorkerInterrupted("context cancelled during input download")
		}
		local, _, notFound, err := r.store.DownloadObject(ctx, tmpdir, r.bucket, f.ObjectKey)
		if err != nil {
			return nil, fmt.Errorf("download input %s: %w", f.ObjectKey, err)
		}
		if notFound {
			return nil, fmt.Errorf("input object %s for file %d is missing", f.ObjectKey, f.ID)
		}
		inputs = append(inputs, local)
	}

	merged := tmpdir + "/merged.parquet"
	rowCount, err := mergeParquetFiles(merged, inputs, files[0].SortKey)
	if err != nil {
		return nil, fmt.Errorf("merge %d inputs: %w", len(inputs), err)
	}

	stat, err := os.Stat(merged)
	if err != nil {
		return nil, fmt.Errorf("stat merged file: %w", err)
	}

	if ctx.Err() != nil {
		return nil, NewWorkerInterrupted("context cancelled before output upload")
	}

	key := idgen.ParquetObjectKey(job.PartitionID, int16(target), time.Now())
	if err := r.store.UploadObject(ctx, r.bucket, key, merged); err != nil {
		return nil, fmt.Errorf("upload output %s: %w", key, err)
	}

	minTime, maxTime := timeRangeOf(files)
	return []cldb.ParquetFileParams{{
		PartitionID:     job.PartitionID,
		ObjectKey:       key,
		CompactionLevel: target,
		MinTime:         minTime,
		MaxTime:         maxTime,
		RowCount:        rowCount,
		SizeBytes:       stat.Size(),
		SortKey:         files[0].SortKey,
	}}, nil
}

// mergeParquetFiles merges the row groups of the inputs into dst. With a sort
// key the merge is ordered on those columns, which requires every input row
// group to declare that sorting in its metadata; without one the inputs are
// concatenated. All inputs must share a schema, which holds for files of one
// partition.
func mergeParquetFiles(dst string, inputs []string, sortKey []string) (int64, error) {
	var schema *parquet.Schema
	var rowGroups []parquet.RowGroup

	for _, input := range inputs {
		f, err := os.Open(input)
		if err != nil {
			return 0, fmt.Errorf("open input: %w", err)
		}
		defer func() { _ = f.Close() }()

		stat, err := f.Stat()
		if err != nil {
			return 0, fmt.Errorf("stat input: %w", err)
		}
		pf, err := parquet.OpenFile(f, stat.Size())
		if err != nil {
			return 0, fmt.Errorf("open parquet %s: %w", input, err)
		}
		if schema == nil {
			schema = pf.Schema()
		}
		rowGroups = append(rowGroups, pf.RowGroups()...)
	}

	sorting := make([]parquet.SortingColumn, 0, len(sortKey))
	for _, col := range sortKey {
		sorting = append(sorting, parquet.Ascending(col))
	}

	mergeOpts := []parquet.RowGroupOption{schema}
	if len(sorting) > 0 {
		mergeOpts = append(mergeOpts, parquet.SortingRowGroupConfig(parquet.SortingColumns(sorting...)))
	}
	mergedGroup, err := parquet.MergeRowGroups(rowGroups, mergeOpts...)
	if err != nil {
		return 0, fmt.Errorf("merge row groups: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create output: %w", err)
	}
	defer func() { _ = out.Close() }()

	writerOpts := []parquet.WriterOption{
		schema,
		parquet.Compression(&parquet.Zstd),
		parquet.PageBufferSize(32 * 1024),
		parquet.MaxRowsPerRowGroup(80_000),
	}
	if len(sorting) > 0 {
		writerOpts = append(writerOpts, parquet.SortingWriterConfig(parquet.SortingColumns(sorting...)))
	}
	writer := parquet.NewGenericWriter[map[string]any](out, writerOpts...)

	rows := mergedGroup.Rows()
	defer func() { _ = rows.Close() }()

	n, err := parquet.CopyRows(writer, rows)
	if err != nil {
		return 0, fmt.Errorf("copy rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("close writer: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("close output: %w", err)
	}
	return n, nil
}

func timeRangeOf(files []cldb.ParquetFile) (minTime, maxTime int64) {
	minTime, maxTime = files[0].MinTime, files[0].MaxTime
	for _, f := range files[1:] {
		minTime = min(minTime, f.MinTime)
		maxTime = max(maxTime, f.MaxTime)
	}
	return minTime, maxTime
}
