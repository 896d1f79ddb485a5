package tiered

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/clinicflow/intake/internal/metrics"
)

// Write operation types.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// WriteOperation is the durable record of a write accepted while the
// primary store was unavailable, queued for replay.
type WriteOperation struct {
	ActionID   string          `json:"actionId"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	RetryCount int             `json:"retryCount"`
}

const queuePrefix = "wq:"

// WriteQueue is a multi-producer, single-consumer FIFO backed by Badger,
// so queued writes survive a process restart. Appends are safe from any
// request goroutine; Replay drains under a mutex so only one replay runs
// at a time.
type WriteQueue struct {
	db      *badger.DB
	seq     *badger.Sequence
	drainMu sync.Mutex
}

// NewWriteQueue opens the queue on an existing Badger database. The
// database may be shared with the snapshot tier; queue keys are
// prefixed.
func NewWriteQueue(db *badger.DB) (*WriteQueue, error) {
	seq, err := db.GetSequence([]byte("wq-seq"), 64)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue sequence: %w", err)
	}
	q := &WriteQueue{db: db, seq: seq}
	metrics.QueueDepth.Set(float64(q.Len()))
	return q, nil
}

// Close releases the sequence. The underlying database is owned by the
// caller.
func (q *WriteQueue) Close() error {
	return q.seq.Release()
}

// Enqueue appends one operation to the tail of the queue.
func (q *WriteQueue) Enqueue(_ context.Context, op WriteOperation) error {
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	raw, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to encode write operation: %w", err)
	}

	n, err := q.seq.Next()
	if err != nil {
		return fmt.Errorf("failed to advance queue sequence: %w", err)
	}
	key := queueKey(n)

	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, raw)
	})
	if err != nil {
		return fmt.Errorf("failed to append write operation: %w", err)
	}

	metrics.QueuedWrites.Inc()
	metrics.QueueDepth.Set(float64(q.Len()))
	return nil
}

// queueKey yields lexicographically ordered keys so iteration is FIFO.
func queueKey(n uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", queuePrefix, n))
}

// Replay applies queued operations in FIFO order. A successful apply
// removes the operation; a failure increments its retryCount, rewrites
// it in place, and stops the drain so ordering is preserved. Returns the
// number of operations replayed.
func (q *WriteQueue) Replay(ctx context.Context, apply func(context.Context, WriteOperation) error) (int, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	replayed := 0
	for {
		key, op, ok, err := q.head()
		if err != nil {
			return replayed, err
		}
		if !ok {
			break
		}

		if err := apply(ctx, op); err != nil {
			op.RetryCount++
			metrics.ReplayFailures.Inc()
			if rewriteErr := q.rewrite(key, op); rewriteErr != nil {
				return replayed, fmt.Errorf("replay failed and retry count not recorded: %w", rewriteErr)
			}
			return replayed, fmt.Errorf("replay of %s for action %s failed (attempt %d): %w",
				op.Type, op.ActionID, op.RetryCount, err)
		}

		if err := q.remove(key); err != nil {
			return replayed, err
		}
		replayed++
		metrics.ReplayedWrites.Inc()
		metrics.QueueDepth.Set(float64(q.Len()))
	}
	return replayed, nil
}

// head returns the oldest queued operation without removing it.
func (q *WriteQueue) head() (key []byte, op WriteOperation, ok bool, err error) {
	err = q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(queuePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Rewind()
		if !it.Valid() {
			return nil
		}
		item := it.Item()
		key = item.KeyCopy(nil)
		raw, copyErr := item.ValueCopy(nil)
		if copyErr != nil {
			return copyErr
		}
		if unmarshalErr := json.Unmarshal(raw, &op); unmarshalErr != nil {
			return fmt.Errorf("corrupt queue entry %s: %w", key, unmarshalErr)
		}
		ok = true
		return nil
	})
	if err != nil {
		return nil, WriteOperation{}, false, fmt.Errorf("failed to read queue head: %w", err)
	}
	return key, op, ok, nil
}

func (q *WriteQueue) rewrite(key []byte, op WriteOperation) error {
	raw, err := json.Marshal(op)
	if err != nil {
		return err
	}
	return q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, raw)
	})
}

func (q *WriteQueue) remove(key []byte) error {
	return q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Len counts queued operations.
func (q *WriteQueue) Len() int {
	count := 0
	_ = q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(queuePrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count
}
