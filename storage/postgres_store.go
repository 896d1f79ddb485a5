package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/clinicflow/intake/questionnaire"
	"github.com/clinicflow/intake/rules"
)

// PostgresStore implements Store backed by PostgreSQL. Id lists are
// stored as text[] columns via pq.Array.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed Store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// SaveBundle replaces every record for the bundle's action in one
// transaction, so a reader never sees a half-written questionnaire.
func (s *PostgresStore) SaveBundle(ctx context.Context, bundle *questionnaire.Bundle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	actionID := bundle.Action.ActionID
	for _, table := range []string{"questions", "answer_options", "details"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE action_id = $1", table), actionID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO actions (action_id, action_text, question_ids, detail_ids)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (action_id) DO UPDATE
		SET action_text = EXCLUDED.action_text,
		    question_ids = EXCLUDED.question_ids,
		    detail_ids = EXCLUDED.detail_ids
	`, actionID, bundle.Action.ActionText,
		pq.Array(bundle.Action.QuestionIDs), pq.Array(bundle.Action.DetailIDs))
	if err != nil {
		return fmt.Errorf("failed to upsert action: %w", err)
	}

	for _, q := range bundle.Questions {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO questions (action_id, question_id, text, answer_type, required,
			                       sequence, help_text, character_limit, answer_option_ids)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, q.ActionID, q.QuestionID, q.Text, q.AnswerType, q.Required,
			q.Sequence, q.HelpText, q.CharacterLimit, pq.Array(q.AnswerOptionIDs))
		if err != nil {
			return fmt.Errorf("failed to insert question %s: %w", q.QuestionID, err)
		}
	}

	for _, o := range bundle.AnswerOptions {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO answer_options (action_id, question_id, answer_option_id, text,
			                            value, sequence, related_question_ids)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, o.ActionID, o.QuestionID, o.AnswerOptionID, o.Text,
			o.Value, o.Sequence, pq.Array(o.RelatedQuestionIDs))
		if err != nil {
			return fmt.Errorf("failed to insert answer option %s: %w", o.AnswerOptionID, err)
		}
	}

	for _, d := range bundle.Details {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO details (action_id, detail_id, title, instructions, helper,
			                     page_number, sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, d.ActionID, d.DetailID, d.Title, d.Instructions, d.Helper, d.PageNumber, d.Sequence)
		if err != nil {
			return fmt.Errorf("failed to insert detail %s: %w", d.DetailID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bundle: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAction(ctx context.Context, actionID string) (*questionnaire.Action, error) {
	var action questionnaire.Action
	err := s.db.QueryRowContext(ctx, `
		SELECT action_id, action_text, question_ids, detail_ids
		FROM actions
		WHERE action_id = $1
	`, actionID).Scan(
		&action.ActionID,
		&action.ActionText,
		pq.Array(&action.QuestionIDs),
		pq.Array(&action.DetailIDs),
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("action %s: %w", actionID, questionnaire.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	return &action, nil
}

func (s *PostgresStore) QuestionsByAction(ctx context.Context, actionID string) ([]questionnaire.Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action_id, question_id, text, answer_type, required,
		       sequence, help_text, character_limit, answer_option_ids
		FROM questions
		WHERE action_id = $1
		ORDER BY sequence ASC
	`, actionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	var questions []questionnaire.Question
	for rows.Next() {
		var q questionnaire.Question
		if err := rows.Scan(&q.ActionID, &q.QuestionID, &q.Text, &q.AnswerType, &q.Required,
			&q.Sequence, &q.HelpText, &q.CharacterLimit, pq.Array(&q.AnswerOptionIDs)); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating questions: %w", err)
	}
	return questions, nil
}

func (s *PostgresStore) AnswerOptionsByAction(ctx context.Context, actionID string) ([]questionnaire.AnswerOption, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action_id, question_id, answer_option_id, text, value,
		       sequence, related_question_ids
		FROM answer_options
		WHERE action_id = $1
		ORDER BY question_id, sequence ASC
	`, actionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list answer options: %w", err)
	}
	defer rows.Close()

	var options []questionnaire.AnswerOption
	for rows.Next() {
		var o questionnaire.AnswerOption
		if err := rows.Scan(&o.ActionID, &o.QuestionID, &o.AnswerOptionID, &o.Text, &o.Value,
			&o.Sequence, pq.Array(&o.RelatedQuestionIDs)); err != nil {
			return nil, fmt.Errorf("failed to scan answer option: %w", err)
		}
		options = append(options, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating answer options: %w", err)
	}
	return options, nil
}

func (s *PostgresStore) DetailsByAction(ctx context.Context, actionID string) ([]questionnaire.Detail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action_id, detail_id, title, instructions, helper, page_number, sequence
		FROM details
		WHERE action_id = $1
		ORDER BY sequence ASC
	`, actionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list details: %w", err)
	}
	defer rows.Close()

	var details []questionnaire.Detail
	for rows.Next() {
		var d questionnaire.Detail
		if err := rows.Scan(&d.ActionID, &d.DetailID, &d.Title, &d.Instructions,
			&d.Helper, &d.PageNumber, &d.Sequence); err != nil {
			return nil, fmt.Errorf("failed to scan detail: %w", err)
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating details: %w", err)
	}
	return details, nil
}

func (s *PostgresStore) DeleteAction(ctx context.Context, actionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"questions", "answer_options", "details"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE action_id = $1", table), actionID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM actions WHERE action_id = $1", actionID)
	if err != nil {
		return fmt.Errorf("failed to delete action: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("action %s: %w", actionID, questionnaire.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddRule(ctx context.Context, r *rules.Rule) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM rules WHERE flow = $1 AND rule_id = $2)
	`, r.Flow, r.RuleID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule %s already exists for flow %s", r.RuleID, r.Flow)
	}

	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (flow, rule_id, action_id, condition, salience, active,
		                   created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.Flow, r.RuleID, r.ActionID, r.Condition, r.Salience, r.Active,
		r.CreatedBy, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRule(ctx context.Context, r *rules.Rule) error {
	r.UpdatedAt = time.Now()

	result, err := s.db.ExecContext(ctx, `
		UPDATE rules
		SET action_id = $1, condition = $2, salience = $3, active = $4, updated_at = $5
		WHERE flow = $6 AND rule_id = $7
	`, r.ActionID, r.Condition, r.Salience, r.Active, r.UpdatedAt, r.Flow, r.RuleID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s for flow %s: %w", r.RuleID, r.Flow, questionnaire.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeactivateRule(ctx context.Context, flow, ruleID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE rules SET active = false, updated_at = $1
		WHERE flow = $2 AND rule_id = $3
	`, time.Now(), flow, ruleID)
	if err != nil {
		return fmt.Errorf("failed to deactivate rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s for flow %s: %w", ruleID, flow, questionnaire.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetRule(ctx context.Context, flow, ruleID string) (*rules.Rule, error) {
	var r rules.Rule
	err := s.db.QueryRowContext(ctx, `
		SELECT flow, rule_id, action_id, condition, salience, active,
		       created_by, created_at, updated_at
		FROM rules
		WHERE flow = $1 AND rule_id = $2
	`, flow, ruleID).Scan(&r.Flow, &r.RuleID, &r.ActionID, &r.Condition, &r.Salience,
		&r.Active, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s for flow %s: %w", ruleID, flow, questionnaire.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) RulesByFlow(ctx context.Context, flow string) ([]*rules.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT flow, rule_id, action_id, condition, salience, active,
		       created_by, created_at, updated_at
		FROM rules
		WHERE flow = $1
		ORDER BY created_at ASC
	`, flow)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var ruleSet []*rules.Rule
	for rows.Next() {
		var r rules.Rule
		if err := rows.Scan(&r.Flow, &r.RuleID, &r.ActionID, &r.Condition, &r.Salience,
			&r.Active, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		ruleSet = append(ruleSet, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return ruleSet, nil
}

// Ping runs the trivial liveness query the health monitor probes with.
func (s *PostgresStore) Ping(ctx context.Context) error {
	var now time.Time
	if err := s.db.QueryRowContext(ctx, "SELECT now()").Scan(&now); err != nil {
		return fmt.Errorf("liveness query failed: %w", err)
	}
	return nil
}
