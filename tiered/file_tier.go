package tiered

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/clinicflow/intake/questionnaire"
)

// FileTier is the last fallback: one JSON file per questionnaire under
// a local data directory, fronted by a small bounded in-process cache so
// repeated degraded reads skip the disk.
type FileTier struct {
	dir       string
	extension string

	mu        sync.Mutex
	cache     map[string]*questionnaire.Bundle
	order     []string
	cacheSize int
}

// NewFileTier creates the tier, ensuring the data directory exists.
// cacheSize bounds the in-process cache; 0 disables it.
func NewFileTier(dir string, cacheSize int) (*FileTier, error) {
	if dir == "" {
		return nil, fmt.Errorf("file tier requires a data directory")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return &FileTier{
		dir:       dir,
		extension: ".json",
		cache:     make(map[string]*questionnaire.Bundle),
		cacheSize: cacheSize,
	}, nil
}

func (t *FileTier) Name() string { return "local-file" }

func (t *FileTier) path(actionID string) string {
	return filepath.Join(t.dir, actionID+t.extension)
}

func (t *FileTier) Get(_ context.Context, actionID string) (*questionnaire.Bundle, error) {
	if bundle := t.cached(actionID); bundle != nil {
		return bundle, nil
	}

	raw, err := os.ReadFile(t.path(actionID))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("file for action %s: %w", actionID, questionnaire.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read fallback file: %w", err)
	}

	var bundle questionnaire.Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, fmt.Errorf("failed to decode fallback file: %w", err)
	}
	t.remember(actionID, &bundle)
	return &bundle, nil
}

func (t *FileTier) Put(_ context.Context, actionID string, bundle *questionnaire.Bundle) error {
	raw, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode fallback file: %w", err)
	}

	// Write-then-rename so a crash mid-write never leaves a truncated file.
	tmp := t.path(actionID) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o640); err != nil {
		return fmt.Errorf("failed to write fallback file: %w", err)
	}
	if err := os.Rename(tmp, t.path(actionID)); err != nil {
		return fmt.Errorf("failed to finalize fallback file: %w", err)
	}

	t.remember(actionID, bundle)
	return nil
}

func (t *FileTier) Delete(_ context.Context, actionID string) error {
	t.mu.Lock()
	if _, ok := t.cache[actionID]; ok {
		delete(t.cache, actionID)
		for i, id := range t.order {
			if id == actionID {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	}
	t.mu.Unlock()

	err := os.Remove(t.path(actionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete fallback file: %w", err)
	}
	return nil
}

func (t *FileTier) cached(actionID string) *questionnaire.Bundle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache[actionID]
}

// remember keeps the most recent cacheSize bundles, evicting oldest-first.
func (t *FileTier) remember(actionID string, bundle *questionnaire.Bundle) {
	if t.cacheSize <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.cache[actionID]; !ok {
		t.order = append(t.order, actionID)
		if len(t.order) > t.cacheSize {
			evict := t.order[0]
			t.order = t.order[1:]
			delete(t.cache, evict)
		}
	}
	t.cache[actionID] = bundle
}
