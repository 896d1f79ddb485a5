package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clinicflow/intake/questionnaire"
)

// stubSource serves a fixed rule set per flow.
type stubSource struct {
	rules map[string][]*Rule
}

func (s *stubSource) RulesByFlow(_ context.Context, flow string) ([]*Rule, error) {
	return s.rules[flow], nil
}

func newMatcher(t *testing.T, ruleSet ...*Rule) *Matcher {
	t.Helper()
	byFlow := make(map[string][]*Rule)
	for _, r := range ruleSet {
		byFlow[r.Flow] = append(byFlow[r.Flow], r)
	}
	m, err := NewMatcher(&stubSource{rules: byFlow})
	if err != nil {
		t.Fatalf("NewMatcher() failed: %v", err)
	}
	return m
}

func TestSelectHighestSalienceWins(t *testing.T) {
	low := &Rule{Flow: "MC_CORE", RuleID: "r-low", ActionID: "act-low",
		Condition: `requiredQuestionnaireContext == "ELIGIBILITY"`, Salience: 50, Active: true}
	high := &Rule{Flow: "MC_CORE", RuleID: "r-high", ActionID: "act-high",
		Condition: `requiredQuestionnaireContext == "ELIGIBILITY"`, Salience: 100, Active: true}

	vars := map[string]any{
		"requiredQuestionnaireContext": "ELIGIBILITY",
		"reasonId":                     86,
	}

	// Selection must not depend on storage order.
	for name, order := range map[string][]*Rule{
		"low first":  {low, high},
		"high first": {high, low},
	} {
		t.Run(name, func(t *testing.T) {
			m := newMatcher(t, order...)
			got, err := m.Select(context.Background(), "MC_CORE", vars)
			if err != nil {
				t.Fatalf("Select() failed: %v", err)
			}
			if got.ActionID != "act-high" {
				t.Errorf("expected salience-100 rule, got %s (salience %d)", got.RuleID, got.Salience)
			}
		})
	}
}

func TestSelectSkipsInactiveRules(t *testing.T) {
	m := newMatcher(t,
		&Rule{Flow: "MC_CORE", RuleID: "r-1", ActionID: "act-1", Condition: `true`, Salience: 100, Active: false},
		&Rule{Flow: "MC_CORE", RuleID: "r-2", ActionID: "act-2", Condition: `true`, Salience: 10, Active: true},
	)

	got, err := m.Select(context.Background(), "MC_CORE", map[string]any{})
	if err != nil {
		t.Fatalf("Select() failed: %v", err)
	}
	if got.RuleID != "r-2" {
		t.Errorf("inactive rule should never match, got %s", got.RuleID)
	}
}

func TestSelectUnknownVariableDoesNotMatch(t *testing.T) {
	m := newMatcher(t,
		&Rule{Flow: "MC_CORE", RuleID: "r-1", ActionID: "act-1", Condition: `noSuchVariable == 1`, Salience: 100, Active: true},
		&Rule{Flow: "MC_CORE", RuleID: "r-2", ActionID: "act-2", Condition: `age >= 18`, Salience: 10, Active: true},
	)

	got, err := m.Select(context.Background(), "MC_CORE", map[string]any{"age": 30})
	if err != nil {
		t.Fatalf("unknown variable in a condition must not fail the request: %v", err)
	}
	if got.RuleID != "r-2" {
		t.Errorf("rule with unknown variable should not match, got %s", got.RuleID)
	}
}

func TestSelectNonBooleanConditionDoesNotMatch(t *testing.T) {
	m := newMatcher(t,
		&Rule{Flow: "MC_CORE", RuleID: "r-1", ActionID: "act-1", Condition: `age + 1`, Salience: 100, Active: true},
	)

	_, err := m.Select(context.Background(), "MC_CORE", map[string]any{"age": 30})
	if !errors.Is(err, questionnaire.ErrNoRuleMatched) {
		t.Errorf("expected ErrNoRuleMatched for non-boolean condition, got %v", err)
	}
}

func TestSelectMalformedConditionDoesNotMatch(t *testing.T) {
	m := newMatcher(t,
		&Rule{Flow: "MC_CORE", RuleID: "r-1", ActionID: "act-1", Condition: `age >=`, Salience: 100, Active: true},
		&Rule{Flow: "MC_CORE", RuleID: "r-2", ActionID: "act-2", Condition: `age >= 18`, Salience: 10, Active: true},
	)

	got, err := m.Select(context.Background(), "MC_CORE", map[string]any{"age": 30})
	if err != nil {
		t.Fatalf("Select() failed: %v", err)
	}
	if got.RuleID != "r-2" {
		t.Errorf("unparseable condition should not match, got %s", got.RuleID)
	}
}

func TestSelectNoMatchReturnsSentinel(t *testing.T) {
	m := newMatcher(t,
		&Rule{Flow: "MC_CORE", RuleID: "r-1", ActionID: "act-1", Condition: `state == "NY"`, Salience: 1, Active: true},
	)

	_, err := m.Select(context.Background(), "MC_CORE", map[string]any{"state": "CA"})
	if !errors.Is(err, questionnaire.ErrNoRuleMatched) {
		t.Errorf("expected ErrNoRuleMatched, got %v", err)
	}
}

func TestSelectTieBreaks(t *testing.T) {
	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("equal salience, newer created wins", func(t *testing.T) {
		m := newMatcher(t,
			&Rule{Flow: "F", RuleID: "r-a", ActionID: "act-a", Condition: `true`, Salience: 50, Active: true, CreatedAt: older},
			&Rule{Flow: "F", RuleID: "r-b", ActionID: "act-b", Condition: `true`, Salience: 50, Active: true, CreatedAt: newer},
		)
		got, err := m.Select(context.Background(), "F", map[string]any{})
		if err != nil {
			t.Fatalf("Select() failed: %v", err)
		}
		if got.RuleID != "r-b" {
			t.Errorf("most recently created rule should win the tie, got %s", got.RuleID)
		}
	})

	t.Run("equal salience and created, lexicographic rule id wins", func(t *testing.T) {
		m := newMatcher(t,
			&Rule{Flow: "F", RuleID: "r-b", ActionID: "act-b", Condition: `true`, Salience: 50, Active: true, CreatedAt: older},
			&Rule{Flow: "F", RuleID: "r-a", ActionID: "act-a", Condition: `true`, Salience: 50, Active: true, CreatedAt: older},
		)
		got, err := m.Select(context.Background(), "F", map[string]any{})
		if err != nil {
			t.Fatalf("Select() failed: %v", err)
		}
		if got.RuleID != "r-a" {
			t.Errorf("lexicographically smallest rule id should win, got %s", got.RuleID)
		}
	})
}

func TestCompileCondition(t *testing.T) {
	m := newMatcher(t)

	if err := m.CompileCondition("F", "r-1", `age >= 18 && state == "NY"`); err != nil {
		t.Errorf("valid condition should compile: %v", err)
	}
	if err := m.CompileCondition("F", "r-2", `age >= &&`); err == nil {
		t.Error("malformed condition should fail compilation")
	}
}

func TestProgramRecompiledWhenConditionChanges(t *testing.T) {
	r := &Rule{Flow: "F", RuleID: "r-1", ActionID: "act-1", Condition: `age >= 18`, Salience: 1, Active: true}
	m := newMatcher(t, r)

	got, err := m.Select(context.Background(), "F", map[string]any{"age": 20})
	if err != nil || got.RuleID != "r-1" {
		t.Fatalf("expected initial condition to match, got %v %v", got, err)
	}

	// Update the stored condition; the memoized program must not be reused.
	r.Condition = `age >= 65`
	_, err = m.Select(context.Background(), "F", map[string]any{"age": 20})
	if !errors.Is(err, questionnaire.ErrNoRuleMatched) {
		t.Errorf("stale compiled program was reused after condition change: %v", err)
	}
}
