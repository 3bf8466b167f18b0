package models

// Read-models for evaluation form configuration. These are inputs to the
// analysis stages; the form builder itself lives outside this service.

type EvaluationQuestion struct {
	ID           string       `json:"id" db:"id"`
	FormID       string       `json:"form_template_id" db:"form_template_id"`
	CriterionID  *string      `json:"criterion_id,omitempty" db:"criterion_id"`
	Text         string       `json:"text" db:"question_text"`
	Type         QuestionType `json:"type" db:"question_type"`
	IsRequired   bool         `json:"is_required" db:"is_required"`
	MinWordCount *int         `json:"min_word_count,omitempty" db:"min_word_count"`
	MaxWordCount *int         `json:"max_word_count,omitempty" db:"max_word_count"`
	Order        int          `json:"order" db:"question_order"`
}

// EvaluationCriterion is a weighted thematic section of a form. Weights are
// expected to sum to a full 100-point scale per form; an inconsistent form is
// a data-integrity error surfaced at validation time, never renormalized.
type EvaluationCriterion struct {
	ID     string  `json:"id" db:"id"`
	FormID string  `json:"form_template_id" db:"form_template_id"`
	Name   string  `json:"name" db:"name"`
	Weight float64 `json:"weight" db:"weight"`
	Order  int     `json:"order" db:"criterion_order"`
}

type LikertScale struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	MinValue int    `json:"min_value" db:"min_value"`
	MaxValue int    `json:"max_value" db:"max_value"`
}
