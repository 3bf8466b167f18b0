package models

import "time"

// EvaluationSubmission is one evaluator -> evaluatee response for one subject
// offering within a period. Unique per (period, evaluator, evaluatee,
// offering) among non-superseded submissions.
type EvaluationSubmission struct {
	ID                   string           `json:"id" db:"id"`
	UniversityID         string           `json:"university_id" db:"university_id"`
	PeriodID             string           `json:"period_id" db:"period_id"`
	EvaluatorID          string           `json:"evaluator_id" db:"evaluator_id"`
	EvaluateeID          string           `json:"evaluatee_id" db:"evaluatee_id"`
	SubjectOfferingID    string           `json:"subject_offering_id" db:"subject_offering_id"`
	Status               SubmissionStatus `json:"status" db:"status"`
	IntegrityStatus      IntegrityStatus  `json:"integrity_check_status" db:"integrity_check_status"`
	AnalysisStatus       AnalysisStatus   `json:"analysis_status" db:"analysis_status"`
	SubmittedAt          time.Time        `json:"submitted_at" db:"submitted_at"`
	IsResubmission       bool             `json:"is_resubmission" db:"is_resubmission"`
	OriginalSubmissionID *string          `json:"original_submission_id,omitempty" db:"original_submission_id"`
	QuantCompletedAt     *time.Time       `json:"quant_completed_at,omitempty" db:"quant_completed_at"`
	QualCompletedAt      *time.Time       `json:"qual_completed_at,omitempty" db:"qual_completed_at"`
	CreatedAt            time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at" db:"updated_at"`
}

// CohortKey identifies the comparison population for normalization: all
// submissions sharing the same evaluatee, period, and subject offering.
type CohortKey struct {
	EvaluateeID       string
	PeriodID          string
	SubjectOfferingID string
}

func (s *EvaluationSubmission) Cohort() CohortKey {
	return CohortKey{
		EvaluateeID:       s.EvaluateeID,
		PeriodID:          s.PeriodID,
		SubjectOfferingID: s.SubjectOfferingID,
	}
}

// LikertAnswer is one Likert response, owned by its submission.
type LikertAnswer struct {
	ID           string    `json:"id" db:"id"`
	SubmissionID string    `json:"submission_id" db:"submission_id"`
	QuestionID   string    `json:"question_id" db:"question_id"`
	Value        int       `json:"value" db:"answer_value"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// OpenEndedAnswer is one free-text response, owned by its submission.
type OpenEndedAnswer struct {
	ID           string    `json:"id" db:"id"`
	SubmissionID string    `json:"submission_id" db:"submission_id"`
	QuestionID   string    `json:"question_id" db:"question_id"`
	Text         string    `json:"text" db:"answer_text"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
