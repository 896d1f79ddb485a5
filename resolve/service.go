package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/clinicflow/intake/questionnaire"
	"github.com/clinicflow/intake/rules"
	"github.com/clinicflow/intake/storage"
	"github.com/clinicflow/intake/tiered"
)

// ResolveRequest selects a questionnaire either directly by action id
// or by evaluating the flow's rules against the context variables.
type ResolveRequest struct {
	Flow     string
	ActionID string
	Context  map[string]any
}

// ResolveResult carries the resolved tree. Matched is false when no
// rule applied; that is a pass-through outcome, not an error.
type ResolveResult struct {
	Matched       bool                `json:"matched"`
	RuleID        string              `json:"ruleId,omitempty"`
	Questionnaire *questionnaire.Tree `json:"questionnaire,omitempty"`
}

// Service is the questionnaire resolution engine: rule selection on the
// read path, flatten-and-persist on the write path, both running
// through the tiered controller.
type Service struct {
	matcher    *rules.Matcher
	store      storage.Store
	controller *tiered.Controller
	strategy   Strategy
	assembler  *questionnaire.Assembler
	log        *slog.Logger
}

// NewService wires the resolution service.
func NewService(matcher *rules.Matcher, store storage.Store, controller *tiered.Controller,
	strategy Strategy, log *slog.Logger) *Service {
	return &Service{
		matcher:    matcher,
		store:      store,
		controller: controller,
		strategy:   strategy,
		assembler:  questionnaire.NewAssembler(),
		log:        log,
	}
}

// Resolve materializes the questionnaire for a request. A direct action
// id bypasses rule matching; otherwise the flow's rules decide.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (*ResolveResult, error) {
	actionID := req.ActionID
	ruleID := ""

	if actionID == "" {
		if req.Flow == "" {
			return nil, questionnaire.Validationf("flow", "flow is required when no actionId is given")
		}
		for key := range req.Context {
			if err := rules.ValidateContextKey(key); err != nil {
				return nil, questionnaire.Validationf("context", "invalid context key %q: %v", key, err)
			}
		}
		rule, err := s.matcher.Select(ctx, req.Flow, req.Context)
		if errors.Is(err, questionnaire.ErrNoRuleMatched) {
			s.log.Debug("no rule matched", "flow", req.Flow)
			return &ResolveResult{Matched: false}, nil
		}
		if err != nil {
			return nil, err
		}
		actionID = rule.ActionID
		ruleID = rule.RuleID
	}

	bundle, err := s.strategy.GetQuestionnaire(ctx, actionID)
	if err != nil {
		return nil, err
	}

	tree := s.assembler.Assemble(bundle.Action, bundle.Questions, bundle.AnswerOptions, bundle.Details)
	return &ResolveResult{Matched: true, RuleID: ruleID, Questionnaire: tree}, nil
}

// GetQuestionnaire returns the assembled tree for one action.
func (s *Service) GetQuestionnaire(ctx context.Context, actionID string) (*questionnaire.Tree, error) {
	bundle, err := s.strategy.GetQuestionnaire(ctx, actionID)
	if err != nil {
		return nil, err
	}
	return s.assembler.Assemble(bundle.Action, bundle.Questions, bundle.AnswerOptions, bundle.Details), nil
}

// SaveQuestionnaire validates and persists a nested tree, returning the
// stored shape with generated ids and sequences. While the primary
// store is down the write is queued and the returned tree reflects the
// accepted (not yet store-durable) state.
func (s *Service) SaveQuestionnaire(ctx context.Context, tree *questionnaire.Tree) (*questionnaire.Tree, error) {
	if err := validateTree(tree); err != nil {
		return nil, err
	}

	opType := tiered.OpCreate
	if tree.ActionID != "" {
		opType = tiered.OpUpdate
	}

	bundle := s.assembler.Flatten(tree)
	if err := s.controller.Write(ctx, opType, bundle); err != nil {
		return nil, err
	}

	return s.assembler.Assemble(bundle.Action, bundle.Questions, bundle.AnswerOptions, bundle.Details), nil
}

// DeleteQuestionnaire removes one questionnaire (queued while degraded).
func (s *Service) DeleteQuestionnaire(ctx context.Context, actionID string) error {
	return s.controller.Delete(ctx, actionID)
}

// validateTree performs the structural checks a write must pass before
// any persistence attempt.
func validateTree(tree *questionnaire.Tree) error {
	if tree == nil {
		return questionnaire.Validationf("", "request body is empty")
	}
	if len(tree.Questions) == 0 {
		return questionnaire.Validationf("questions", "a questionnaire needs at least one question")
	}
	seen := make(map[*questionnaire.QuestionNode]bool)
	var check func(path string, nodes []*questionnaire.QuestionNode) error
	check = func(path string, nodes []*questionnaire.QuestionNode) error {
		for i, q := range nodes {
			if seen[q] {
				continue
			}
			seen[q] = true
			at := fmt.Sprintf("%s[%d]", path, i)
			if strings.TrimSpace(q.Text) == "" {
				return questionnaire.Validationf(at+".text", "question text is required")
			}
			if strings.TrimSpace(q.AnswerType) == "" {
				return questionnaire.Validationf(at+".answerType", "answer type is required")
			}
			for j, opt := range q.AnswerOptions {
				if strings.TrimSpace(opt.Text) == "" {
					return questionnaire.Validationf(fmt.Sprintf("%s.answerOptions[%d].text", at, j),
						"answer option text is required")
				}
				if err := check(fmt.Sprintf("%s.answerOptions[%d].relatedQuestions", at, j), opt.RelatedQuestions); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return check("questions", tree.Questions)
}

// CreateRule validates and stores a new rule. A duplicate active rule
// for the same (flow, condition) pair is rejected before persistence.
func (s *Service) CreateRule(ctx context.Context, r *rules.Rule) error {
	if r == nil {
		return questionnaire.Validationf("", "request body is empty")
	}
	// Assign the id before validation so the condition compiled there is
	// memoized under the rule's real key, not a placeholder.
	if r.RuleID == "" {
		r.RuleID = uuid.NewString()
	}
	if err := s.validateRule(r); err != nil {
		return err
	}
	r.Active = true

	existing, err := s.store.RulesByFlow(ctx, r.Flow)
	if err != nil {
		return fmt.Errorf("failed to check existing rules: %w", err)
	}
	for _, other := range existing {
		if other.Active && other.Condition == r.Condition {
			return questionnaire.Validationf("condition",
				"an active rule (%s) already exists for this flow and condition", other.RuleID)
		}
	}

	return s.store.AddRule(ctx, r)
}

// UpdateRule validates and updates an existing rule in place. Moving a
// rule onto a condition already held by another active rule of the flow
// is rejected.
func (s *Service) UpdateRule(ctx context.Context, r *rules.Rule) error {
	if err := s.validateRule(r); err != nil {
		return err
	}
	if r.RuleID == "" {
		return questionnaire.Validationf("ruleId", "ruleId is required")
	}

	if _, err := s.store.GetRule(ctx, r.Flow, r.RuleID); err != nil {
		return err
	}

	existing, err := s.store.RulesByFlow(ctx, r.Flow)
	if err != nil {
		return fmt.Errorf("failed to check existing rules: %w", err)
	}
	for _, other := range existing {
		if other.RuleID != r.RuleID && other.Active && other.Condition == r.Condition {
			return questionnaire.Validationf("condition",
				"an active rule (%s) already exists for this flow and condition", other.RuleID)
		}
	}

	return s.store.UpdateRule(ctx, r)
}

// DeactivateRule retires a rule without deleting it, keeping the row
// for audit listings.
func (s *Service) DeactivateRule(ctx context.Context, flow, ruleID string) error {
	return s.store.DeactivateRule(ctx, flow, ruleID)
}

// RulesForFlow lists every rule of a flow, active and inactive.
func (s *Service) RulesForFlow(ctx context.Context, flow string) ([]*rules.Rule, error) {
	return s.store.RulesByFlow(ctx, flow)
}

func (s *Service) validateRule(r *rules.Rule) error {
	if r == nil {
		return questionnaire.Validationf("", "request body is empty")
	}
	if strings.TrimSpace(r.Flow) == "" {
		return questionnaire.Validationf("flow", "flow is required")
	}
	if strings.TrimSpace(r.ActionID) == "" {
		return questionnaire.Validationf("actionId", "actionId is required")
	}
	if strings.TrimSpace(r.Condition) == "" {
		return questionnaire.Validationf("condition", "condition is required")
	}
	if r.Salience < 0 {
		return questionnaire.Validationf("salience", "salience must not be negative")
	}
	if err := s.matcher.CompileCondition(r.Flow, r.RuleID, r.Condition); err != nil {
		return questionnaire.Validationf("condition", "condition does not compile: %v", err)
	}
	return nil
}
