package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/clinicflow/intake/questionnaire"
)

// evalCostLimit caps CEL evaluation cost so a pathological condition
// cannot exhaust the request.
const evalCostLimit = 1_000_000

// Source loads the rule set for a flow. Rule sets are small enough to
// evaluate in full per request, so there is no secondary indexing.
type Source interface {
	RulesByFlow(ctx context.Context, flow string) ([]*Rule, error)
}

// Matcher selects the single applicable rule for a flow by evaluating
// each active rule's condition against the request's context variables.
//
// Conditions are CEL expressions over named variables
// (e.g. `requiredQuestionnaireContext == "ELIGIBILITY" && reasonId == 86`).
// Expressions are parsed without type checking: a condition referencing a
// variable absent from the context fails evaluation, and an evaluation
// failure means "this rule does not match" — it never fails the request.
type Matcher struct {
	env      *cel.Env
	source   Source
	mu       sync.RWMutex
	programs map[string]compiledCondition
}

type compiledCondition struct {
	condition string
	program   cel.Program
}

// NewMatcher creates a Matcher backed by the given rule source.
func NewMatcher(source Source) (*Matcher, error) {
	env, err := cel.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Matcher{
		env:      env,
		source:   source,
		programs: make(map[string]compiledCondition),
	}, nil
}

// CompileCondition parses a condition expression, returning an error
// suitable for write-path validation. The compiled program is memoized.
func (m *Matcher) CompileCondition(flow, ruleID, condition string) error {
	_, err := m.program(flow, ruleID, condition)
	return err
}

// Select returns the applicable rule for the flow, or
// questionnaire.ErrNoRuleMatched when no active rule's condition holds.
//
// Among matching rules the highest salience wins; ties break to the most
// recently created rule, then to the lexicographically smallest rule id,
// so selection is deterministic regardless of storage order.
func (m *Matcher) Select(ctx context.Context, flow string, vars map[string]any) (*Rule, error) {
	ruleSet, err := m.source.RulesByFlow(ctx, flow)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules for flow %s: %w", flow, err)
	}

	var selected *Rule
	for _, r := range ruleSet {
		if !r.Active {
			continue
		}
		if !m.matches(r, vars) {
			continue
		}
		if selected == nil || ruleWins(r, selected) {
			selected = r
		}
	}

	if selected == nil {
		return nil, questionnaire.ErrNoRuleMatched
	}
	return selected, nil
}

// matches evaluates one rule's condition. Any compile or evaluation
// error (including unknown context variables) makes the rule not match.
func (m *Matcher) matches(r *Rule, vars map[string]any) bool {
	prog, err := m.program(r.Flow, r.RuleID, r.Condition)
	if err != nil {
		return false
	}
	out, _, err := prog.Eval(vars)
	if err != nil {
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}

func ruleWins(candidate, incumbent *Rule) bool {
	if candidate.Salience != incumbent.Salience {
		return candidate.Salience > incumbent.Salience
	}
	if !candidate.CreatedAt.Equal(incumbent.CreatedAt) {
		return candidate.CreatedAt.After(incumbent.CreatedAt)
	}
	return candidate.RuleID < incumbent.RuleID
}

// program returns the memoized compiled condition for a rule,
// recompiling when the stored condition text has changed.
func (m *Matcher) program(flow, ruleID, condition string) (cel.Program, error) {
	key := flow + "/" + ruleID

	m.mu.RLock()
	cached, ok := m.programs[key]
	m.mu.RUnlock()
	if ok && cached.condition == condition {
		return cached.program, nil
	}

	// Parse only: no declarations, so unknown variables surface at
	// evaluation time rather than rejecting the rule set up front.
	ast, issues := m.env.Parse(condition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("condition parse error: %w", issues.Err())
	}
	prog, err := m.env.Program(ast, cel.CostLimit(evalCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	m.mu.Lock()
	m.programs[key] = compiledCondition{condition: condition, program: prog}
	m.mu.Unlock()

	return prog, nil
}
