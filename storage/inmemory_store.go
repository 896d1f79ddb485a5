package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clinicflow/intake/questionnaire"
	"github.com/clinicflow/intake/rules"
)

// InMemoryStore implements Store using maps. Thread-safe with an
// RWMutex. Used by tests and local development.
type InMemoryStore struct {
	actions map[string]questionnaire.Action
	bundles map[string]questionnaire.Bundle
	rules   map[string]*rules.Rule // keyed flow/ruleID
	mu      sync.RWMutex
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		actions: make(map[string]questionnaire.Action),
		bundles: make(map[string]questionnaire.Bundle),
		rules:   make(map[string]*rules.Rule),
	}
}

func ruleKey(flow, ruleID string) string { return flow + "/" + ruleID }

func (s *InMemoryStore) SaveBundle(_ context.Context, bundle *questionnaire.Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.actions[bundle.Action.ActionID] = bundle.Action
	s.bundles[bundle.Action.ActionID] = *bundle
	return nil
}

func (s *InMemoryStore) GetAction(_ context.Context, actionID string) (*questionnaire.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	action, ok := s.actions[actionID]
	if !ok {
		return nil, fmt.Errorf("action %s: %w", actionID, questionnaire.ErrNotFound)
	}
	return &action, nil
}

func (s *InMemoryStore) QuestionsByAction(_ context.Context, actionID string) ([]questionnaire.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bundle, ok := s.bundles[actionID]
	if !ok {
		return nil, nil
	}
	out := make([]questionnaire.Question, len(bundle.Questions))
	copy(out, bundle.Questions)
	return out, nil
}

func (s *InMemoryStore) AnswerOptionsByAction(_ context.Context, actionID string) ([]questionnaire.AnswerOption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bundle, ok := s.bundles[actionID]
	if !ok {
		return nil, nil
	}
	out := make([]questionnaire.AnswerOption, len(bundle.AnswerOptions))
	copy(out, bundle.AnswerOptions)
	return out, nil
}

func (s *InMemoryStore) DetailsByAction(_ context.Context, actionID string) ([]questionnaire.Detail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bundle, ok := s.bundles[actionID]
	if !ok {
		return nil, nil
	}
	out := make([]questionnaire.Detail, len(bundle.Details))
	copy(out, bundle.Details)
	return out, nil
}

func (s *InMemoryStore) DeleteAction(_ context.Context, actionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.actions[actionID]; !ok {
		return fmt.Errorf("action %s: %w", actionID, questionnaire.ErrNotFound)
	}
	delete(s.actions, actionID)
	delete(s.bundles, actionID)
	return nil
}

func (s *InMemoryStore) AddRule(_ context.Context, r *rules.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ruleKey(r.Flow, r.RuleID)
	if _, exists := s.rules[key]; exists {
		return fmt.Errorf("rule %s already exists for flow %s", r.RuleID, r.Flow)
	}

	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	stored := *r
	s.rules[key] = &stored
	return nil
}

func (s *InMemoryStore) UpdateRule(_ context.Context, r *rules.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ruleKey(r.Flow, r.RuleID)
	existing, ok := s.rules[key]
	if !ok {
		return fmt.Errorf("rule %s for flow %s: %w", r.RuleID, r.Flow, questionnaire.ErrNotFound)
	}

	// Preserve the original creation timestamp.
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = time.Now()
	stored := *r
	s.rules[key] = &stored
	return nil
}

func (s *InMemoryStore) DeactivateRule(_ context.Context, flow, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[ruleKey(flow, ruleID)]
	if !ok {
		return fmt.Errorf("rule %s for flow %s: %w", ruleID, flow, questionnaire.ErrNotFound)
	}
	r.Active = false
	r.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) GetRule(_ context.Context, flow, ruleID string) (*rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[ruleKey(flow, ruleID)]
	if !ok {
		return nil, fmt.Errorf("rule %s for flow %s: %w", ruleID, flow, questionnaire.ErrNotFound)
	}
	out := *r
	return &out, nil
}

func (s *InMemoryStore) RulesByFlow(_ context.Context, flow string) ([]*rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*rules.Rule
	for _, r := range s.rules {
		if r.Flow == flow {
			copied := *r
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }
