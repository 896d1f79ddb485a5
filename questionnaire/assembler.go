package questionnaire

import (
	"sort"

	"github.com/google/uuid"
)

// Assembler converts between the flat storage form (Bundle) and the
// nested tree form (Tree). Both directions carry a visited-id set so a
// related-question edge pointing back at an ancestor truncates that
// branch instead of recursing forever.
type Assembler struct{}

// NewAssembler returns a stateless Assembler. Each call builds its own
// traversal state, so one instance is safe for concurrent use.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Flatten walks the nested tree pre-order and emits the flat records for
// persistence. Missing identifiers are generated, and Sequence is
// assigned 1-based and contiguous within each sibling scope: questions
// under the action, answer options under a question, related questions
// under an answer option, details under the action. A reference to an
// already-emitted question consumes no sequence number.
//
// Flattening is structure preserving: a related question nested under an
// answer option is emitted as its own Question record and referenced by
// id from the parent option's RelatedQuestionIDs. A question id seen a
// second time is kept as a reference only, never re-emitted.
func (a *Assembler) Flatten(tree *Tree) *Bundle {
	actionID := tree.ActionID
	if actionID == "" {
		actionID = uuid.NewString()
	}

	w := &flattenWalk{
		actionID: actionID,
		visited:  make(map[string]bool),
	}

	questionIDs := make([]string, 0, len(tree.Questions))
	var seq int
	for _, qn := range tree.Questions {
		questionIDs = append(questionIDs, w.question(qn, &seq))
	}

	details := make([]Detail, 0, len(tree.Details))
	detailIDs := make([]string, 0, len(tree.Details))
	for i, d := range tree.Details {
		if d.DetailID == "" {
			d.DetailID = uuid.NewString()
		}
		d.ActionID = actionID
		d.Sequence = i + 1
		details = append(details, d)
		detailIDs = append(detailIDs, d.DetailID)
	}

	return &Bundle{
		Action: Action{
			ActionID:    actionID,
			ActionText:  tree.ActionText,
			QuestionIDs: questionIDs,
			DetailIDs:   detailIDs,
		},
		Questions:     w.questions,
		AnswerOptions: w.options,
		Details:       details,
	}
}

type flattenWalk struct {
	actionID  string
	visited   map[string]bool
	questions []Question
	options   []AnswerOption
}

// question emits one question record, advancing seq only when a record
// is actually emitted so sequences stay contiguous even when the sibling
// list mixes new questions with references to already-emitted ones.
func (w *flattenWalk) question(qn *QuestionNode, seq *int) string {
	id := qn.QuestionID
	if id == "" {
		id = uuid.NewString()
	}
	if w.visited[id] {
		// Already emitted somewhere above; keep the reference, do not
		// re-expand the subtree.
		return id
	}
	w.visited[id] = true
	*seq++

	w.questions = append(w.questions, Question{
		ActionID:       w.actionID,
		QuestionID:     id,
		Text:           qn.Text,
		AnswerType:     qn.AnswerType,
		Required:       qn.Required,
		Sequence:       *seq,
		HelpText:       qn.HelpText,
		CharacterLimit: qn.CharacterLimit,
	})
	idx := len(w.questions) - 1

	optionIDs := make([]string, 0, len(qn.AnswerOptions))
	for i, opt := range qn.AnswerOptions {
		optionIDs = append(optionIDs, w.option(opt, id, i+1))
	}
	w.questions[idx].AnswerOptionIDs = optionIDs
	return id
}

func (w *flattenWalk) option(opt *AnswerOptionNode, questionID string, seq int) string {
	id := opt.AnswerOptionID
	if id == "" {
		id = uuid.NewString()
	}

	w.options = append(w.options, AnswerOption{
		ActionID:       w.actionID,
		QuestionID:     questionID,
		AnswerOptionID: id,
		Text:           opt.Text,
		Value:          opt.Value,
		Sequence:       seq,
	})
	idx := len(w.options) - 1

	relatedIDs := make([]string, 0, len(opt.RelatedQuestions))
	var relSeq int
	for _, rq := range opt.RelatedQuestions {
		relatedIDs = append(relatedIDs, w.question(rq, &relSeq))
	}
	w.options[idx].RelatedQuestionIDs = relatedIDs
	return id
}

// Assemble rebuilds the nested tree from independently stored records.
// It starts at the action's top-level question ids and expands answer
// options and their related questions by id lookup. A related question
// that cannot be found is omitted (not an error), and a question id that
// was already expanded is skipped, which both tolerates dangling
// references and terminates on cyclic data.
func (a *Assembler) Assemble(action Action, questions []Question, options []AnswerOption, details []Detail) *Tree {
	w := &assembleWalk{
		byQuestion: make(map[string]Question, len(questions)),
		byOption:   make(map[string]AnswerOption, len(options)),
		visited:    make(map[string]bool),
	}
	for _, q := range questions {
		w.byQuestion[q.QuestionID] = q
	}
	for _, o := range options {
		w.byOption[o.AnswerOptionID] = o
	}

	tree := &Tree{
		ActionID:   action.ActionID,
		ActionText: action.ActionText,
		Questions:  make([]*QuestionNode, 0, len(action.QuestionIDs)),
	}

	for _, qid := range action.QuestionIDs {
		if node := w.question(qid); node != nil {
			tree.Questions = append(tree.Questions, node)
		}
	}

	if len(details) > 0 {
		tree.Details = append(tree.Details, details...)
		sort.SliceStable(tree.Details, func(i, j int) bool {
			return tree.Details[i].Sequence < tree.Details[j].Sequence
		})
	}

	return tree
}

type assembleWalk struct {
	byQuestion map[string]Question
	byOption   map[string]AnswerOption
	visited    map[string]bool
}

func (w *assembleWalk) question(id string) *QuestionNode {
	if w.visited[id] {
		return nil
	}
	q, ok := w.byQuestion[id]
	if !ok {
		return nil
	}
	w.visited[id] = true

	node := &QuestionNode{
		QuestionID:     q.QuestionID,
		Text:           q.Text,
		AnswerType:     q.AnswerType,
		Required:       q.Required,
		Sequence:       q.Sequence,
		HelpText:       q.HelpText,
		CharacterLimit: q.CharacterLimit,
	}

	for _, optID := range q.AnswerOptionIDs {
		opt, ok := w.byOption[optID]
		if !ok {
			continue
		}
		optNode := &AnswerOptionNode{
			AnswerOptionID: opt.AnswerOptionID,
			Text:           opt.Text,
			Value:          opt.Value,
			Sequence:       opt.Sequence,
		}
		for _, relID := range opt.RelatedQuestionIDs {
			if rel := w.question(relID); rel != nil {
				optNode.RelatedQuestions = append(optNode.RelatedQuestions, rel)
			}
		}
		node.AnswerOptions = append(node.AnswerOptions, optNode)
	}

	return node
}
