package main

import (
	"time"
)

// resolveRequest selects a questionnaire, either by flow + context
// through the rules or directly by action id. Write requests decode
// straight into questionnaire.Tree; the service validates structure.
type resolveRequest struct {
	Flow     string         `json:"flow" validate:"required_without=ActionID"`
	ActionID string         `json:"actionId"`
	Context  map[string]any `json:"context"`
}

type ruleRequest struct {
	RuleID    string `json:"ruleId"`
	ActionID  string `json:"actionId" validate:"required"`
	Condition string `json:"condition" validate:"required"`
	Salience  int    `json:"salience" validate:"min=0"`
	CreatedBy string `json:"createdBy"`
	Active    *bool  `json:"active"`
}

type ruleResponse struct {
	Flow      string    `json:"flow"`
	RuleID    string    `json:"ruleId"`
	ActionID  string    `json:"actionId"`
	Condition string    `json:"condition"`
	Salience  int       `json:"salience"`
	Active    bool      `json:"active"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
