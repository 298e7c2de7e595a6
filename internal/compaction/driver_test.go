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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronolake/compactor/cldb"
	"github.com/chronolake/compactor/internal/events"
	"github.com/chronolake/compactor/internal/scheduler"
)

type recordedOutcome struct {
	job scheduler.CompactionJob
	err error
}

type recordingSink struct {
	mu       sync.Mutex
	recorded []recordedOutcome
	failWith error
}

func (s *recordingSink) Record(_ context.Context, job scheduler.CompactionJob, jobErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, recordedOutcome{job: job, err: jobErr})
	return s.failWith
}

func (s *recordingSink) outcomes() []recordedOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordedOutcome, len(s.recorded))
	copy(out, s.recorded)
	return out
}

type fakeLister struct {
	mu    sync.Mutex
	files map[int64][]cldb.ParquetFile
	err   error
}

func (l *fakeLister) ListActiveFilesByPartition(_ context.Context, partitionID int64) ([]cldb.ParquetFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	return l.files[partitionID], nil
}

type rewriteCall struct {
	files  []cldb.ParquetFile
	target cldb.CompactionLevel
}

type fakeRewriter struct {
	mu          sync.Mutex
	err         error
	errFor      map[int64]error
	returnEmpty bool
	calls       []rewriteCall
}

func (r *fakeRewriter) Rewrite(_ context.Context, job scheduler.CompactionJob,
	files []cldb.ParquetFile, target cldb.CompactionLevel) ([]cldb.ParquetFileParams, error) {

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, rewriteCall{files: files, target: target})
	if r.err != nil {
		return nil, r.err
	}
	if err := r.errFor[job.PartitionID]; err != nil {
		return nil, err
	}
	if r.returnEmpty {
		return nil, nil
	}

	minTime, maxTime := files[0].MinTime, files[0].MaxTime
	var rows, size int64
	for _, f := range files {
		minTime = min(minTime, f.MinTime)
		maxTime = max(maxTime, f.MaxTime)
		rows += f.RowCount
		size += f.SizeBytes
	}
	return []cldb.ParquetFileParams{{
		PartitionID:     job.PartitionID,
		ObjectKey:       fmt.Sprintf("compacted/partition-%d/rewrite.parquet", job.PartitionID),
		CompactionLevel: target,
		MinTime:         minTime,
		MaxTime:         maxTime,
		RowCount:        rows,
		SizeBytes:       size,
	}}, nil
}

type commitCall struct {
	job      scheduler.CompactionJob
	deletes  []cldb.ParquetFile
	upgrades []cldb.ParquetFile
	creates  []cldb.ParquetFileParams
	target   cldb.CompactionLevel
}

type fakeCommitter struct {
	mu     sync.Mutex
	err    error
	calls  []commitCall
	nextID int64
}

func (c *fakeCommitter) Commit(_ context.Context, job scheduler.CompactionJob,
	deletes, upgrades []cldb.ParquetFile, creates []cldb.ParquetFileParams,
	target cldb.CompactionLevel) ([]int64, error) {

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, commitCall{
		job: job, deletes: deletes, upgrades: upgrades, creates: creates, target: target,
	})
	if c.err != nil {
		return nil, c.err
	}
	if c.nextID == 0 {
		c.nextID = 1000
	}
	ids := make([]int64, 0, len(creates))
	for range creates {
		ids = append(ids, c.nextID)
		c.nextID++
	}
	return ids, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []events.CompactionDone
	err    error
}

func (n *fakeNotifier) NotifyDone(_ context.Context, event events.CompactionDone) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func partitionFile(partition, id int64, level cldb.CompactionLevel, minTime, maxTime int64) cldb.ParquetFile {
	f := splitFile(id, level, minTime, maxTime)
	f.PartitionID = partition
	return f
}

type driverFixture struct {
	lister    *fakeLister
	rewriter  *fakeRewriter
	committer *fakeCommitter
	sink      *recordingSink
	notifier  *fakeNotifier
}

func newDriverFixture() *driverFixture {
	return &driverFixture{
		lister:    &fakeLister{files: map[int64][]cldb.ParquetFile{}},
		rewriter:  &fakeRewriter{},
		committer: &fakeCommitter{},
		sink:      &recordingSink{},
		notifier:  &fakeNotifier{},
	}
}

func (f *driverFixture) driver(t *testing.T, jobs ...scheduler.CompactionJob) *Driver {
	t.Helper()
	d, err := NewDriver(DriverParams{
		Stream:    NewOncePartitionStream(NewStaticPartitionsSource(jobs...)),
		Lister:    f.lister,
		Split:     OverlapAwareSplit{},
		Rewriter:  f.rewriter,
		Committer: f.committer,
		Sink:      f.sink,
		Notifier:  f.notifier,
	}, DriverConfig{Workers: 2, IdleSleep: 5 * time.Millisecond})
	require.NoError(t, err)
	return d
}

func TestDriverCompactsPartition(t *testing.T) {
	fx := newDriverFixture()
	fx.lister.files[42] = []cldb.ParquetFile{
		splitFile(1, cldb.LevelInitial, 0, 10),
		splitFile(2, cldb.LevelFileNonOverlapped, 5, 15),
		splitFile(3, cldb.LevelInitial, 20, 30),
	}
	job := testJob(7, 42)

	processed := fx.driver(t, job).runPass(context.Background())
	require.Equal(t, 1, processed)

	// File 1 overlaps the level-1 file 2, so it is the only rewrite. File 3
	// promotes; file 2 already sits at the target level and stays put.
	require.Len(t, fx.rewriter.calls, 1)
	assert.Equal(t, []int64{1}, fileIDs(fx.rewriter.calls[0].files))
	assert.Equal(t, cldb.LevelFileNonOverlapped, fx.rewriter.calls[0].target)

	require.Len(t, fx.committer.calls, 1)
	commit := fx.committer.calls[0]
	assert.Equal(t, []int64{1}, fileIDs(commit.deletes))
	assert.Equal(t, []int64{3}, fileIDs(commit.upgrades))
	require.Len(t, commit.creates, 1)
	assert.Equal(t, cldb.LevelFileNonOverlapped, commit.creates[0].CompactionLevel)
	assert.Equal(t, cldb.LevelFileNonOverlapped, commit.target)

	outcomes := fx.sink.outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, job.ID, outcomes[0].job.ID)
	assert.NoError(t, outcomes[0].err)

	require.Len(t, fx.notifier.events, 1)
	event := fx.notifier.events[0]
	assert.Equal(t, events.OutcomeCompleted, event.Outcome)
	assert.Equal(t, int64(42), event.PartitionID)
	assert.Equal(t, "file_non_overlapped", event.TargetLevel)
	assert.Equal(t, 1, event.FilesDeleted)
	assert.Equal(t, 1, event.FilesUpgraded)
	assert.Equal(t, 1, event.FilesCreated)
}

func TestDriverEmptyPartition(t *testing.T) {
	fx := newDriverFixture()
	job := testJob(7, 42)

	fx.driver(t, job).runPass(context.Background())

	assert.Empty(t, fx.rewriter.calls)
	assert.Empty(t, fx.committer.calls)

	outcomes := fx.sink.outcomes()
	require.Len(t, outcomes, 1)
	assert.NoError(t, outcomes[0].err, "an empty partition is a success")
}

func TestDriverNothingToDo(t *testing.T) {
	// Every file is already final and none overlap, so there is no delta to
	// commit. The job still succeeds.
	fx := newDriverFixture()
	fx.lister.files[42] = []cldb.ParquetFile{
		splitFile(1, cldb.LevelFinal, 0, 10),
		splitFile(2, cldb.LevelFinal, 20, 30),
	}

	fx.driver(t, testJob(7, 42)).runPass(context.Background())

	assert.Empty(t, fx.rewriter.calls)
	assert.Empty(t, fx.committer.calls)

	outcomes := fx.sink.outcomes()
	require.Len(t, outcomes, 1)
	assert.NoError(t, outcomes[0].err)
}

func TestDriverRewriteFailure(t *testing.T) {
	fx := newDriverFixture()
	fx.lister.files[42] = []cldb.ParquetFile{
		splitFile(1, cldb.LevelInitial, 0, 10),
		splitFile(2, cldb.LevelInitial, 5, 15),
	}
	fx.rewriter.err = errors.New("merge blew up")

	fx.driver(t, testJob(7, 42)).runPass(context.Background())

	assert.Empty(t, fx.committer.calls, "a failed rewrite must not reach the committer")

	outcomes := fx.sink.outcomes()
	require.Len(t, outcomes, 1)
	assert.ErrorContains(t, outcomes[0].err, "merge blew up")

	require.Len(t, fx.notifier.events, 1)
	assert.Equal(t, events.OutcomeFailed, fx.notifier.events[0].Outcome)
	assert.Equal(t, "unknown", fx.notifier.events[0].ErrorKind)
}

func TestDriverEmptyRewriteResultFails(t *testing.T) {
	fx := newDriverFixture()
	fx.lister.files[42] = []cldb.ParquetFile{
		splitFile(1, cldb.LevelInitial, 0, 10),
		splitFile(2, cldb.LevelInitial, 5, 15),
	}
	fx.rewriter.returnEmpty = true

	fx.driver(t, testJob(7, 42)).runPass(context.Background())

	assert.Empty(t, fx.committer.calls)

	outcomes := fx.sink.outcomes()
	require.Len(t, outcomes, 1)
	assert.ErrorContains(t, outcomes[0].err, "produced no replacements")
}

func TestDriverCommitFailure(t *testing.T) {
	fx := newDriverFixture()
	fx.lister.files[42] = []cldb.ParquetFile{
		splitFile(1, cldb.LevelInitial, 0, 10),
		splitFile(2, cldb.LevelInitial, 5, 15),
	}
	fx.committer.err = fmt.Errorf("apply commit: %w", cldb.ErrStaleFileSet)

	fx.driver(t, testJob(7, 42)).runPass(context.Background())

	outcomes := fx.sink.outcomes()
	require.Len(t, outcomes, 1)
	assert.ErrorIs(t, outcomes[0].err, cldb.ErrStaleFileSet)

	require.Len(t, fx.notifier.events, 1)
	assert.Equal(t, "catalog", fx.notifier.events[0].ErrorKind)
}

func TestDriverListFailure(t *testing.T) {
	fx := newDriverFixture()
	fx.lister.err = errors.New("catalog unreachable")

	fx.driver(t, testJob(7, 42)).runPass(context.Background())

	outcomes := fx.sink.outcomes()
	require.Len(t, outcomes, 1)
	assert.ErrorContains(t, outcomes[0].err, "catalog unreachable")
}

func TestDriverOneOutcomePerJob(t *testing.T) {
	fx := newDriverFixture()
	// Partition 1 compacts, partition 2 is empty, partition 3 fails in the
	// rewriter. Each job must land exactly one outcome.
	fx.lister.files[1] = []cldb.ParquetFile{
		partitionFile(1, 1, cldb.LevelInitial, 0, 10),
		partitionFile(1, 2, cldb.LevelInitial, 5, 15),
	}
	fx.lister.files[3] = []cldb.ParquetFile{
		partitionFile(3, 3, cldb.LevelInitial, 0, 10),
		partitionFile(3, 4, cldb.LevelInitial, 5, 15),
	}
	fx.rewriter.errFor = map[int64]error{3: errors.New("merge blew up")}

	jobs := []scheduler.CompactionJob{testJob(11, 1), testJob(12, 2), testJob(13, 3)}
	processed := fx.driver(t, jobs...).runPass(context.Background())
	require.Equal(t, 3, processed)

	outcomes := fx.sink.outcomes()
	require.Len(t, outcomes, 3)

	byJob := map[int64]int{}
	for _, o := range outcomes {
		byJob[o.job.ID]++
	}
	for _, job := range jobs {
		assert.Equal(t, 1, byJob[job.ID], "job %d must record exactly one outcome", job.ID)
	}
}

func TestDriverRecordFailureSkipsNotify(t *testing.T) {
	fx := newDriverFixture()
	fx.sink.failWith = errors.New("sink unavailable")

	fx.driver(t, testJob(7, 42)).runPass(context.Background())

	require.Len(t, fx.sink.outcomes(), 1)
	assert.Empty(t, fx.notifier.events, "an unrecorded outcome must not be published")
}

func TestDriverRunStopsOnCancel(t *testing.T) {
	fx := newDriverFixture()
	d := fx.driver(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not stop after cancellation")
	}
}

func TestNewDriverValidation(t *testing.T) {
	fx := newDriverFixture()
	valid := DriverParams{
		Stream:    NewOncePartitionStream(NewStaticPartitionsSource()),
		Lister:    fx.lister,
		Split:     OverlapAwareSplit{},
		Rewriter:  fx.rewriter,
		Committer: fx.committer,
		Sink:      fx.sink,
	}

	_, err := NewDriver(valid, DriverConfig{})
	require.NoError(t, err)

	for name, mutate := range map[string]func(*DriverParams){
		"stream":    func(p *DriverParams) { p.Stream = nil },
		"lister":    func(p *DriverParams) { p.Lister = nil },
		"split":     func(p *DriverParams) { p.Split = nil },
		"rewriter":  func(p *DriverParams) { p.Rewriter = nil },
		"committer": func(p *DriverParams) { p.Committer = nil },
		"sink":      func(p *DriverParams) { p.Sink = nil },
	} {
		t.Run(name, func(t *testing.T) {
			params := valid
			mutate(&params)
			_, err := NewDriver(params, DriverConfig{})
			assert.Error(t, err)
		})
	}
}

func TestTargetLevelFor(t *testing.T) {
	assert.Equal(t, cldb.LevelFileNonOverlapped, TargetLevelFor([]cldb.ParquetFile{
		splitFile(1, cldb.LevelInitial, 0, 10),
		splitFile(2, cldb.LevelFinal, 20, 30),
	}))
	assert.Equal(t, cldb.LevelFinal, TargetLevelFor([]cldb.ParquetFile{
		splitFile(1, cldb.LevelFileNonOverlapped, 0, 10),
	}))
	assert.Equal(t, cldb.LevelFinal, TargetLevelFor([]cldb.ParquetFile{
		splitFile(1, cldb.LevelFinal, 0, 10),
	}), "the final level saturates")
}
