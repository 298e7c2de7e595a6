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
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronolake/compactor/cldb"
)

type tsRow struct {
	Timestamp int64   `parquet:"timestamp"`
	Value     float64 `parquet:"value"`
}

// writeParquetRows produces an input file the way the ingester does: rows in
// timestamp order with the sorting declared in the row group metadata.
func writeParquetRows(t *testing.T, rows []tsRow) []byte {
	t.Helper()
	var buf bytes.Buffer
	pw := parquet.NewGenericWriter[tsRow](&buf,
		parquet.SortingWriterConfig(parquet.SortingColumns(parquet.Ascending("timestamp"))))
	n, err := pw.Write(rows)
	require.NoError(t, err)
	require.Equal(t, len(rows), n)
	require.NoError(t, pw.Close())
	return buf.Bytes()
}

func readParquetRows(t *testing.T, data []byte) []tsRow {
	t.Helper()
	rows, err := parquet.Read[tsRow](bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	return rows
}

// memObjectClient keeps objects in memory and satisfies downloads by copying
// them into the caller's temp dir.
type memObjectClient struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads []string
}

func newMemObjectClient() *memObjectClient {
	return &memObjectClient{objects: map[string][]byte{}}
}

func (c *memObjectClient) DownloadObject(_ context.Context, dir, _, key string) (string, int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[key]
	if !ok {
		return "", 0, true, nil
	}
	f, err := os.CreateTemp(dir, "download-*.parquet")
	if err != nil {
		return "", 0, false, err
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(data); err != nil {
		return "", 0, false, err
	}
	return f.Name(), int64(len(data)), false, nil
}

func (c *memObjectClient) UploadObject(_ context.Context, _, key, sourceFilename string) error {
	data, err := os.ReadFile(sourceFilename)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[key] = data
	c.uploads = append(c.uploads, key)
	return nil
}

func rewriteInputs(t *testing.T, store *memObjectClient) []cldb.ParquetFile {
	t.Helper()
	store.objects["in/a.parquet"] = writeParquetRows(t, []tsRow{
		{Timestamp: 0, Value: 1.0},
		{Timestamp: 10, Value: 2.0},
		{Timestamp: 20, Value: 3.0},
	})
	store.objects["in/b.parquet"] = writeParquetRows(t, []tsRow{
		{Timestamp: 5, Value: 4.0},
		{Timestamp: 15, Value: 5.0},
		{Timestamp: 25, Value: 6.0},
	})

	a := splitFile(1, cldb.LevelInitial, 0, 20)
	a.ObjectKey = "in/a.parquet"
	a.SortKey = []string{"timestamp"}
	b := splitFile(2, cldb.LevelInitial, 5, 25)
	b.ObjectKey = "in/b.parquet"
	b.SortKey = []string{"timestamp"}
	return []cldb.ParquetFile{a, b}
}

func TestParquetRewriterMergesInputs(t *testing.T) {
	store := newMemObjectClient()
	files := rewriteInputs(t, store)
	r := NewParquetRewriter(store, "test-bucket")

	creates, err := r.Rewrite(context.Background(), testJob(7, 42), files,
		cldb.LevelFileNonOverlapped)
	require.NoError(t, err)
	require.Len(t, creates, 1)

	created := creates[0]
	assert.Equal(t, int64(42), created.PartitionID)
	assert.Equal(t, cldb.LevelFileNonOverlapped, created.CompactionLevel)
	assert.Equal(t, int64(0), created.MinTime)
	assert.Equal(t, int64(25), created.MaxTime)
	assert.Equal(t, int64(6), created.RowCount)
	assert.Positive(t, created.SizeBytes)
	assert.Equal(t, []string{"timestamp"}, created.SortKey)
	assert.True(t, strings.HasPrefix(created.ObjectKey, "compacted/partition-42/l1/"),
		"unexpected object key %s", created.ObjectKey)

	require.Len(t, store.uploads, 1)
	rows := readParquetRows(t, store.objects[created.ObjectKey])
	require.Len(t, rows, 6)
	want := []int64{0, 5, 10, 15, 20, 25}
	for i, row := range rows {
		assert.Equal(t, want[i], row.Timestamp)
	}
}

func TestParquetRewriterNoSortKey(t *testing.T) {
	store := newMemObjectClient()
	files := rewriteInputs(t, store)
	for i := range files {
		files[i].SortKey = nil
	}
	r := NewParquetRewriter(store, "test-bucket")

	creates, err := r.Rewrite(context.Background(), testJob(7, 42), files,
		cldb.LevelFileNonOverlapped)
	require.NoError(t, err)
	require.Len(t, creates, 1)

	// Without a sort key the inputs are concatenated; all rows survive.
	assert.Equal(t, int64(6), creates[0].RowCount)
	assert.Empty(t, creates[0].SortKey)
	rows := readParquetRows(t, store.objects[creates[0].ObjectKey])
	assert.Len(t, rows, 6)
}

func TestParquetRewriterMintsFreshObjectKeys(t *testing.T) {
	store := newMemObjectClient()
	files := rewriteInputs(t, store)
	r := NewParquetRewriter(store, "test-bucket")
	ctx := context.Background()

	first, err := r.Rewrite(ctx, testJob(7, 42), files, cldb.LevelFileNonOverlapped)
	require.NoError(t, err)
	second, err := r.Rewrite(ctx, testJob(8, 42), files, cldb.LevelFileNonOverlapped)
	require.NoError(t, err)

	// The sweeper purges old objects by key, so a replacement must never
	// reuse one.
	assert.NotEqual(t, first[0].ObjectKey, second[0].ObjectKey)
	for _, f := range files {
		assert.NotEqual(t, f.ObjectKey, first[0].ObjectKey)
		assert.NotEqual(t, f.ObjectKey, second[0].ObjectKey)
	}
}

func TestParquetRewriterMissingInput(t *testing.T) {
	store := newMemObjectClient()
	files := rewriteInputs(t, store)
	delete(store.objects, "in/b.parquet")
	r := NewParquetRewriter(store, "test-bucket")

	_, err := r.Rewrite(context.Background(), testJob(7, 42), files,
		cldb.LevelFileNonOverlapped)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
	assert.Empty(t, store.uploads)
}

func TestParquetRewriterEmptySet(t *testing.T) {
	r := NewParquetRewriter(newMemObjectClient(), "test-bucket")

	creates, err := r.Rewrite(context.Background(), testJob(7, 42), nil,
		cldb.LevelFileNonOverlapped)

	require.NoError(t, err)
	assert.Nil(t, creates)
}

func TestParquetRewriterCancelledContext(t *testing.T) {
	store := newMemObjectClient()
	files := rewriteInputs(t, store)
	r := NewParquetRewriter(store, "test-bucket")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Rewrite(ctx, testJob(7, 42), files, cldb.LevelFileNonOverlapped)

	assert.True(t, IsWorkerInterrupted(err), "got %v", err)
	assert.Empty(t, store.uploads)
}
