package models

import (
	"encoding/json"
	"time"
)

// BackgroundTask is one row of the job ledger: the single source of truth for
// what is running. A row is mutated by at most one worker at a time, enforced
// by the lease (locked_by + lease_expires_at) rather than an in-process lock,
// since workers may be separate processes.
type BackgroundTask struct {
	ID                string          `json:"id" db:"id"`
	UniversityID      string          `json:"university_id" db:"university_id"`
	JobType           JobType         `json:"job_type" db:"job_type"`
	Status            TaskStatus      `json:"status" db:"status"`
	SubmittedBy       string          `json:"submitted_by" db:"submitted_by"`
	Parameters        json.RawMessage `json:"parameters,omitempty" db:"parameters"`
	SubmissionID      *string         `json:"submission_id,omitempty" db:"submission_id"`
	PeriodID          *string         `json:"period_id,omitempty" db:"period_id"`
	Progress          int             `json:"progress" db:"progress"`
	RowsTotal         int             `json:"rows_total" db:"rows_total"`
	RowsProcessed     int             `json:"rows_processed" db:"rows_processed"`
	RowsFailed        int             `json:"rows_failed" db:"rows_failed"`
	ResultMessage     *string         `json:"result_message,omitempty" db:"result_message"`
	ResultStoragePath *string         `json:"result_storage_path,omitempty" db:"result_storage_path"`
	LogOutput         *string         `json:"log_output,omitempty" db:"log_output"`
	LockedBy          *string         `json:"locked_by,omitempty" db:"locked_by"`
	LeaseExpiresAt    *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	StartedAt         *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// SubmissionJobParams parameterize the per-submission pipeline stages.
type SubmissionJobParams struct {
	SubmissionID string `json:"submission_id"`
}

// PeriodCancellationParams parameterize a period teardown job.
type PeriodCancellationParams struct {
	PeriodID string `json:"period_id"`
}

// ReportGenerationParams parameterize a report export job.
type ReportGenerationParams struct {
	ReportID          string       `json:"report_id"`
	PeriodID          string       `json:"period_id"`
	ReportType        string       `json:"report_type"`
	Format            ReportFormat `json:"format"`
	EvaluateeID       string       `json:"evaluatee_id,omitempty"`
	SubjectOfferingID string       `json:"subject_offering_id,omitempty"`
	IncludeSuperseded bool         `json:"include_superseded,omitempty"`
}

// StageResult is what a stage handler reports back to the worker, which maps
// it onto the ledger's terminal status: failures during a run that still
// finishes yield completed_partial_failure, never completed_success.
type StageResult struct {
	Total     int
	Processed int
	Failed    int
	Cancelled bool
	Message   string
}
