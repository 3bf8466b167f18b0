package models

import (
	"time"
)

// TaskQueuedEvent is published to the dispatch exchange when a ledger entry
// is enqueued. Workers claim the ledger row on receipt; the event carries
// only the id, the ledger stays the source of truth.
type TaskQueuedEvent struct {
	TaskID       string  `json:"task_id"`
	JobType      JobType `json:"job_type"`
	UniversityID string  `json:"university_id"`
	Timestamp    int64   `json:"timestamp"`
}

type SubmissionAggregatedEvent struct {
	SubmissionID string    `json:"submission_id"`
	PeriodID     string    `json:"period_id"`
	FinalScore   float64   `json:"final_score"`
	CohortN      int       `json:"cohort_n"`
	CompletedAt  time.Time `json:"completed_at"`
}

type SubmissionFlaggedEvent struct {
	SubmissionID string     `json:"submission_id"`
	FlagID       string     `json:"flag_id"`
	Reason       FlagReason `json:"reason"`
	FlaggedAt    time.Time  `json:"flagged_at"`
}

type PeriodCancelledEvent struct {
	PeriodID       string    `json:"period_id"`
	CancelledTasks int       `json:"cancelled_tasks"`
	CancelledAt    time.Time `json:"cancelled_at"`
}
