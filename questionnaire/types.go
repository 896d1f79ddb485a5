package questionnaire

// Normalized storage records. Each record type is persisted and cached
// independently; the nested tree the caller sees is produced by Assemble
// and consumed by Flatten.

// Action is the root grouping of one questionnaire. It owns an ordered
// list of top-level question references and display details.
type Action struct {
	ActionID    string   `json:"actionId"`
	ActionText  string   `json:"actionText"`
	QuestionIDs []string `json:"questionIds"`
	DetailIDs   []string `json:"detailIds"`
}

// Question belongs to exactly one action. The same question id may also be
// reachable as a related-question target from an answer option; related
// questions are resolved by id lookup, not by separate ownership.
type Question struct {
	ActionID        string   `json:"actionId"`
	QuestionID      string   `json:"questionId"`
	Text            string   `json:"text"`
	AnswerType      string   `json:"answerType"`
	Required        bool     `json:"required"`
	Sequence        int      `json:"sequence"`
	HelpText        string   `json:"helpText,omitempty"`
	CharacterLimit  int      `json:"characterLimit,omitempty"`
	AnswerOptionIDs []string `json:"answerOptionIds"`
}

// AnswerOption may reference further questions through RelatedQuestionIDs,
// forming a directed graph. Well-formed data is a tree but the storage
// layer does not guarantee acyclicity, so traversal is always guarded.
type AnswerOption struct {
	ActionID           string   `json:"actionId"`
	QuestionID         string   `json:"questionId"`
	AnswerOptionID     string   `json:"answerOptionId"`
	Text               string   `json:"text"`
	Value              string   `json:"value"`
	Sequence           int      `json:"sequence"`
	RelatedQuestionIDs []string `json:"relatedQuestionIds"`
}

// Detail is supplementary display content attached to an action,
// independent of the question graph.
type Detail struct {
	ActionID     string `json:"actionId"`
	DetailID     string `json:"detailId"`
	Title        string `json:"title"`
	Instructions string `json:"instructions,omitempty"`
	Helper       string `json:"helper,omitempty"`
	PageNumber   int    `json:"pageNumber"`
	Sequence     int    `json:"sequence"`
}

// Bundle is the flat, normalized form of one questionnaire: everything
// needed to persist or warm-cache it component by component.
type Bundle struct {
	Action        Action         `json:"action"`
	Questions     []Question     `json:"questions"`
	AnswerOptions []AnswerOption `json:"answerOptions"`
	Details       []Detail       `json:"details"`
}

// Tree is the nested questionnaire shape exchanged with callers.
type Tree struct {
	ActionID   string          `json:"actionId"`
	ActionText string          `json:"actionText"`
	Questions  []*QuestionNode `json:"questions"`
	Details    []Detail        `json:"details,omitempty"`
}

// QuestionNode is a question with its answer options expanded in place.
type QuestionNode struct {
	QuestionID     string              `json:"questionId"`
	Text           string              `json:"text"`
	AnswerType     string              `json:"answerType"`
	Required       bool                `json:"required"`
	Sequence       int                 `json:"sequence"`
	HelpText       string              `json:"helpText,omitempty"`
	CharacterLimit int                 `json:"characterLimit,omitempty"`
	AnswerOptions  []*AnswerOptionNode `json:"answerOptions,omitempty"`
}

// AnswerOptionNode carries its related follow-up questions expanded in
// place. A related question whose id was already expanded higher in the
// tree appears only by reference (the branch is truncated).
type AnswerOptionNode struct {
	AnswerOptionID   string          `json:"answerOptionId"`
	Text             string          `json:"text"`
	Value            string          `json:"value"`
	Sequence         int             `json:"sequence"`
	RelatedQuestions []*QuestionNode `json:"relatedQuestions,omitempty"`
}
