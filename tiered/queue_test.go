package tiered

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestQueueEnqueueAndReplayFIFO(t *testing.T) {
	q, err := NewWriteQueue(openTestDB(t))
	require.NoError(t, err)
	defer q.Close()

	ctx := context.Background()
	for _, id := range []string{"a-1", "a-2", "a-3"} {
		require.NoError(t, q.Enqueue(ctx, WriteOperation{ActionID: id, Type: OpUpdate}))
	}
	require.Equal(t, 3, q.Len())

	var applied []string
	replayed, err := q.Replay(ctx, func(_ context.Context, op WriteOperation) error {
		applied = append(applied, op.ActionID)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, replayed)
	require.Equal(t, []string{"a-1", "a-2", "a-3"}, applied)
	require.Equal(t, 0, q.Len())
}

func TestQueueReplayFailureKeepsItemAndIncrementsRetry(t *testing.T) {
	q, err := NewWriteQueue(openTestDB(t))
	require.NoError(t, err)
	defer q.Close()

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, WriteOperation{ActionID: "a-1", Type: OpCreate}))
	require.NoError(t, q.Enqueue(ctx, WriteOperation{ActionID: "a-2", Type: OpCreate}))

	boom := errors.New("store still down")
	replayed, err := q.Replay(ctx, func(_ context.Context, op WriteOperation) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, replayed)
	// Nothing dropped, head keeps its place with the bumped retry count.
	require.Equal(t, 2, q.Len())

	_, head, ok, err := q.head()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a-1", head.ActionID)
	require.Equal(t, 1, head.RetryCount)

	// A later successful replay drains everything, exactly once each.
	var applied []string
	replayed, err = q.Replay(ctx, func(_ context.Context, op WriteOperation) error {
		applied = append(applied, op.ActionID)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, replayed)
	require.Equal(t, []string{"a-1", "a-2"}, applied)
}

func TestQueueSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	open := func() *badger.DB {
		db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
		require.NoError(t, err)
		return db
	}

	db := open()
	q, err := NewWriteQueue(db)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), WriteOperation{
		ActionID: "a-1", Type: OpUpdate, Payload: json.RawMessage(`{"action":{"actionId":"a-1"}}`),
	}))
	require.NoError(t, q.Close())
	require.NoError(t, db.Close())

	db = open()
	defer db.Close()
	q, err = NewWriteQueue(db)
	require.NoError(t, err)
	defer q.Close()

	require.Equal(t, 1, q.Len(), "queued write must survive a process restart")
	_, head, ok, err := q.head()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a-1", head.ActionID)
}
