// Package storage defines the primary-store contract for questionnaire
// and rule records, with PostgreSQL as the authoritative implementation
// and an in-memory implementation for tests and local development.
package storage

import (
	"context"

	"github.com/clinicflow/intake/questionnaire"
	"github.com/clinicflow/intake/rules"
)

// Store is keyed CRUD over the normalized questionnaire records plus the
// rule set, partitioned by action id (flow for rules). Absent entities
// are reported as questionnaire.ErrNotFound.
type Store interface {
	// SaveBundle persists every component of one questionnaire
	// atomically, replacing any previous records for the action.
	SaveBundle(ctx context.Context, bundle *questionnaire.Bundle) error

	GetAction(ctx context.Context, actionID string) (*questionnaire.Action, error)
	QuestionsByAction(ctx context.Context, actionID string) ([]questionnaire.Question, error)
	AnswerOptionsByAction(ctx context.Context, actionID string) ([]questionnaire.AnswerOption, error)
	DetailsByAction(ctx context.Context, actionID string) ([]questionnaire.Detail, error)
	DeleteAction(ctx context.Context, actionID string) error

	AddRule(ctx context.Context, r *rules.Rule) error
	UpdateRule(ctx context.Context, r *rules.Rule) error
	DeactivateRule(ctx context.Context, flow, ruleID string) error
	GetRule(ctx context.Context, flow, ruleID string) (*rules.Rule, error)
	// RulesByFlow returns active and inactive rules so listing
	// endpoints can audit superseded versions.
	RulesByFlow(ctx context.Context, flow string) ([]*rules.Rule, error)

	// Ping is the liveness probe target: a trivial query against the
	// store, used by the health monitor.
	Ping(ctx context.Context) error
}

// LoadBundle reads every component of one questionnaire from the store.
// A missing action is ErrNotFound; missing child records are tolerated
// (the assembler omits dangling references).
func LoadBundle(ctx context.Context, s Store, actionID string) (*questionnaire.Bundle, error) {
	action, err := s.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	questions, err := s.QuestionsByAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	options, err := s.AnswerOptionsByAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	details, err := s.DetailsByAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	return &questionnaire.Bundle{
		Action:        *action,
		Questions:     questions,
		AnswerOptions: options,
		Details:       details,
	}, nil
}
