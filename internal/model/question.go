package model

import (
	"regexp"

	"github.com/google/uuid"
)

// QuestionType discriminates the question variants. Answer checking
// switches exhaustively on this tag; unknown types never validate.
type QuestionType string

const (
	QuestionTypeMCQ      QuestionType = "mcq"
	QuestionTypeImageMCQ QuestionType = "image_mcq"
	QuestionTypeMatching QuestionType = "matching"
	QuestionTypeReorder  QuestionType = "reorder"
	QuestionTypeShort    QuestionType = "short"
)

// Option is a single multiple-choice option.
type Option struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// AnswerKey carries the canonical answer for a question. Exactly one of the
// fields is populated, matching the question type.
type AnswerKey struct {
	Correct string            `json:"correct,omitempty"` // mcq / image_mcq
	Map     map[string]string `json:"map,omitempty"`     // matching
	Order   []string          `json:"order,omitempty"`   // reorder
	Pattern string            `json:"pattern,omitempty"` // short (regex, matched case-insensitively)
}

// Question is a single session question. The engine treats its content as
// opaque input from the persistence layer; only Type and AnswerKey drive
// correctness checks.
type Question struct {
	ID          uuid.UUID    `json:"id"`
	SubtopicID  uuid.UUID    `json:"subtopic_id"`
	Type        QuestionType `json:"qtype"`
	Difficulty  int          `json:"difficulty"`
	Prompt      string       `json:"prompt"`
	ImageURL    string       `json:"image_url,omitempty"`
	Hints       []string     `json:"hints,omitempty"`
	Example     string       `json:"example,omitempty"`
	Explanation string       `json:"explanation,omitempty"`
	Options     []Option     `json:"options,omitempty"`
	PairsLeft   []string     `json:"pairs_left,omitempty"`
	PairsRight  []string     `json:"pairs_right,omitempty"`
	Sequence    []string     `json:"sequence,omitempty"`
	AnswerKey   AnswerKey    `json:"answer_key"`
	Enabled     bool         `json:"enabled"`
}

// Answer is a learner's submitted answer. Type selects which field carries
// the payload, mirroring the question variants.
type Answer struct {
	Type     QuestionType      `json:"type" binding:"required"`
	Selected string            `json:"selected,omitempty"`
	Pairs    map[string]string `json:"pairs,omitempty"`
	Order    []string          `json:"order,omitempty"`
	Text     string            `json:"text,omitempty"`
}

// Check reports whether the answer satisfies the question's answer key.
//   - mcq/image_mcq: exact option key match
//   - matching: every submitted pair equals the canonical pair, counts equal
//   - reorder: exact sequence equality
//   - short: case-insensitive regex match
//
// Malformed answers and unknown types are simply incorrect, never errors.
func (q *Question) Check(ans Answer) bool {
	switch q.Type {
	case QuestionTypeMCQ, QuestionTypeImageMCQ:
		return ans.Selected != "" && ans.Selected == q.AnswerKey.Correct

	case QuestionTypeMatching:
		if len(ans.Pairs) == 0 || len(q.AnswerKey.Map) == 0 {
			return false
		}
		if len(ans.Pairs) != len(q.AnswerKey.Map) {
			return false
		}
		for left, right := range ans.Pairs {
			if q.AnswerKey.Map[left] != right {
				return false
			}
		}
		return true

	case QuestionTypeReorder:
		if len(ans.Order) == 0 || len(ans.Order) != len(q.AnswerKey.Order) {
			return false
		}
		for i, item := range ans.Order {
			if q.AnswerKey.Order[i] != item {
				return false
			}
		}
		return true

	case QuestionTypeShort:
		if ans.Text == "" || q.AnswerKey.Pattern == "" {
			return false
		}
		re, err := regexp.Compile("(?i)" + q.AnswerKey.Pattern)
		if err != nil {
			return false
		}
		return re.MatchString(ans.Text)

	default:
		return false
	}
}
