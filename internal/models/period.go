package models

import "time"

// EvaluationPeriod is one evaluation window per (university, school term,
// assessment period). At most one non-cancelled period may exist per tuple.
type EvaluationPeriod struct {
	ID                 string       `json:"id" db:"id"`
	UniversityID       string       `json:"university_id" db:"university_id"`
	SchoolTermID       string       `json:"school_term_id" db:"school_term_id"`
	AssessmentPeriodID string       `json:"assessment_period_id" db:"assessment_period_id"`
	FormTemplateID     string       `json:"form_template_id" db:"form_template_id"`
	StartAt            time.Time    `json:"start_at" db:"start_at"`
	EndAt              time.Time    `json:"end_at" db:"end_at"`
	Status             PeriodStatus `json:"status" db:"status"`
	CreatedAt          time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at" db:"updated_at"`
}

// AcceptsSubmissions reports whether new submissions may be created in this
// period. Only an active period whose window contains now accepts intake.
func (p *EvaluationPeriod) AcceptsSubmissions(now time.Time) bool {
	return p.Status == PeriodActive && !now.Before(p.StartAt) && now.Before(p.EndAt)
}
