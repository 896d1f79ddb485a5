package rules

import "time"

// Rule maps a request context onto the action (questionnaire root) that
// serves it. Identity is (Flow, RuleID). Superseded rules are logically
// deactivated, never hard-deleted, so listing endpoints can audit them.
type Rule struct {
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
