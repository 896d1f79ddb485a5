package tiered

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/clinicflow/intake/questionnaire"
)

const snapshotPrefix = "snap:"

// SnapshotTier holds the warm point-in-time export of questionnaires in
// an embedded Badger database: the most recent copy pushed while the
// primary store was healthy.
type SnapshotTier struct {
	db *badger.DB
}

// NewSnapshotTier wraps an existing Badger database. Keys are prefixed,
// so the database may be shared with the write queue.
func NewSnapshotTier(db *badger.DB) *SnapshotTier {
	return &SnapshotTier{db: db}
}

func (t *SnapshotTier) Name() string { return "warm-snapshot" }

func (t *SnapshotTier) Get(_ context.Context, actionID string) (*questionnaire.Bundle, error) {
	var bundle questionnaire.Bundle
	err := t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotPrefix + actionID))
		if err != nil {
			return err
		}
		return item.Value(func(raw []byte) error {
			return json.Unmarshal(raw, &bundle)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("snapshot for action %s: %w", actionID, questionnaire.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return &bundle, nil
}

func (t *SnapshotTier) Put(_ context.Context, actionID string, bundle *questionnaire.Bundle) error {
	raw, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	err = t.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotPrefix+actionID), raw)
	})
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (t *SnapshotTier) Delete(_ context.Context, actionID string) error {
	err := t.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(snapshotPrefix + actionID))
	})
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
