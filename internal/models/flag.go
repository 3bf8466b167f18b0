package models

import (
	"encoding/json"
	"time"
)

// FlaggedEvaluation surfaces a submission for human review. At most one per
// submission. A submission may transition to invalidated_for_resubmission
// only through a resolved flag whose resolution is resubmission_requested,
// and only before its grace period expires.
type FlaggedEvaluation struct {
	ID                string          `json:"id" db:"id"`
	SubmissionID      string          `json:"submission_id" db:"submission_id"`
	Reason            FlagReason      `json:"reason" db:"flag_reason"`
	Details           json.RawMessage `json:"details,omitempty" db:"flag_details"`
	Status            FlagStatus      `json:"status" db:"status"`
	Resolution        *FlagResolution `json:"resolution,omitempty" db:"resolution"`
	ResolvedBy        *string         `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	AdminNotes        *string         `json:"admin_notes,omitempty" db:"admin_notes"`
	GracePeriodEndsAt *time.Time      `json:"resubmission_grace_period_ends_at,omitempty" db:"resubmission_grace_period_ends_at"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// FlagDetails is the structured payload recorded by the integrity check.
type FlagDetails struct {
	MatchedSubmissionID string   `json:"matched_submission_id,omitempty"`
	Similarity          float64  `json:"similarity,omitempty"`
	MissingQuestionIDs  []string `json:"missing_question_ids,omitempty"`
	Message             string   `json:"message,omitempty"`
}
