package storage_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	internal_storage "github.com/yang-jaeyoung/flowledger/internal/storage"
	"github.com/yang-jaeyoung/flowledger/internal/testutil"
	"github.com/yang-jaeyoung/flowledger/pkg/models"
	"github.com/yang-jaeyoung/flowledger/pkg/storage"
)

func newEvent(t models.EventType, workflowID string) models.Event {
	return models.NewEvent(t, workflowID, models.WorkflowCreatedPayload{Title: "test"})
}

func TestFileStoreAppendAndRead(t *testing.T) {
	ts := testutil.SetupTestStore(t)

	seq1, err := ts.Store.Append(newEvent(models.WorkflowCreatedEvent, "wf-1"))
	require.NoError(t, err)
	seq2, err := ts.Store.Append(newEvent(models.TaskAddedEvent, "wf-1"))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), seq1)
	assert.Equal(t, uint64(2), seq2)
	assert.Equal(t, uint64(2), ts.Store.LastSeq())

	events, reports, err := ts.Store.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, reports)
	require.Len(t, events, 2)
	assert.Equal(t, models.WorkflowCreatedEvent, events[0].Type)
	assert.Equal(t, models.TaskAddedEvent, events[1].Type)
}

func TestFileStoreReadSince(t *testing.T) {
	ts := testutil.SetupTestStore(t)

	for i := 0; i < 5; i++ {
		_, err := ts.Store.Append(newEvent(models.TaskAddedEvent, "wf-1"))
		require.NoError(t, err)
	}

	tail, reports, err := ts.Store.ReadSince(3)
	require.NoError(t, err)
	assert.Empty(t, reports)
	require.Len(t, tail, 2)
	assert.Equal(t, uint64(4), tail[0].Seq)
	assert.Equal(t, uint64(5), tail[1].Seq)
}

// 50 concurrent appends must land as 50 valid, distinct, parseable lines in
// some total order, never a merged or truncated line.
func TestFileStoreConcurrentAppends(t *testing.T) {
	ts := testutil.SetupTestStore(t)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := ts.Store.Append(newEvent(models.TaskAddedEvent, "wf-1"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	f, err := os.Open(filepath.Join(ts.Root, "events.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	seen := make(map[uint64]bool)
	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		lines++
		var ev models.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev), "line %d is not valid JSON: %s", lines, scanner.Text())
		assert.False(t, seen[ev.Seq], "sequence %d appears twice", ev.Seq)
		seen[ev.Seq] = true
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, n, lines)
	assert.Len(t, seen, n)
	assert.Equal(t, uint64(n), ts.Store.LastSeq())
}

func TestFileStoreCorruptLineIsReportedNotFatal(t *testing.T) {
	ts := testutil.SetupTestStore(t)

	_, err := ts.Store.Append(newEvent(models.WorkflowCreatedEvent, "wf-1"))
	require.NoError(t, err)
	ts.AppendRawLine(t, `{"seq": 99, "truncated`)
	ts.AppendRawLine(t, `not json at all`)
	_, err = ts.Store.Append(newEvent(models.TaskAddedEvent, "wf-1"))
	require.NoError(t, err)

	events, reports, err := ts.Store.ReadAll()
	require.NoError(t, err)

	// Both well-formed lines survive, both garbage lines are reported.
	require.Len(t, events, 2)
	require.Len(t, reports, 2)
	assert.Equal(t, 2, reports[0].Line)
	assert.Equal(t, `{"seq": 99, "truncated`, reports[0].Raw)
	assert.NotEmpty(t, reports[0].Err)
	assert.Equal(t, 3, reports[1].Line)
}

func TestFileStoreRecoversLastSeqOnReopen(t *testing.T) {
	root := t.TempDir()
	store, err := internal_storage.NewFileStore(root, internal_storage.Options{})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := store.Append(newEvent(models.TaskAddedEvent, "wf-1"))
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())

	reopened, err := internal_storage.NewFileStore(root, internal_storage.Options{})
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(3), reopened.LastSeq())
	seq, err := reopened.Append(newEvent(models.TaskAddedEvent, "wf-1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq)
}

func TestFileStoreRewrite(t *testing.T) {
	ts := testutil.SetupTestStore(t)

	for i := 0; i < 5; i++ {
		_, err := ts.Store.Append(newEvent(models.TaskAddedEvent, "wf-1"))
		require.NoError(t, err)
	}

	err := ts.Store.Rewrite(func(ev models.Event) bool { return ev.Seq <= 2 })
	require.NoError(t, err)

	events, reports, err := ts.Store.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, reports)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(2), ts.Store.LastSeq())

	// Appends continue from the surviving sequence.
	seq, err := ts.Store.Append(newEvent(models.TaskAddedEvent, "wf-1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)

	// The pre-rewrite log is kept as a backup.
	_, err = os.Stat(filepath.Join(ts.Root, "events.jsonl.bak"))
	assert.NoError(t, err)
}

// A rewrite stalled inside the writer surfaces as an IOError instead of
// hanging the caller. The keep predicate runs on the writer goroutine, so a
// slow predicate stands in for a stalled disk.
func TestFileStoreRewriteTimesOut(t *testing.T) {
	root := t.TempDir()
	store, err := internal_storage.NewFileStore(root, internal_storage.Options{
		AppendTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Append(newEvent(models.TaskAddedEvent, "wf-1"))
	require.NoError(t, err)

	err = store.Rewrite(func(ev models.Event) bool {
		time.Sleep(time.Second)
		return true
	})
	var ioerr *storage.IOError
	require.ErrorAs(t, err, &ioerr)
	assert.Equal(t, "rewrite", ioerr.Op)
}

func TestFileStoreClosedAppendFails(t *testing.T) {
	root := t.TempDir()
	store, err := internal_storage.NewFileStore(root, internal_storage.Options{})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.Append(newEvent(models.TaskAddedEvent, "wf-1"))
	assert.Error(t, err)
}

func TestFileStoreEmptyLog(t *testing.T) {
	ts := testutil.SetupTestStore(t)

	events, reports, err := ts.Store.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, reports)
	assert.Equal(t, uint64(0), ts.Store.LastSeq())
}
