package models

import (
	"encoding/json"
	"time"
)

// GeneratedReport is the terminal artifact of a REPORT_GENERATION job. The
// expiry makes stale exports reclaimable.
type GeneratedReport struct {
	ID           string          `json:"id" db:"id"`
	UniversityID string          `json:"university_id" db:"university_id"`
	RequestedBy  string          `json:"requested_by" db:"requested_by"`
	ReportType   string          `json:"report_type" db:"report_type"`
	Parameters   json.RawMessage `json:"parameters" db:"parameters"`
	Status       ReportStatus    `json:"status" db:"status"`
	FileFormat   ReportFormat    `json:"file_format" db:"file_format"`
	StoragePath  *string         `json:"storage_path,omitempty" db:"storage_path"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	ExpiresAt    time.Time       `json:"expires_at" db:"expires_at"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// ReportRow is one line of a generated period report: the current final
// snapshot scores for one submission.
type ReportRow struct {
	SubmissionID      string
	EvaluateeID       string
	SubjectOfferingID string
	QuantScoreRaw     float64
	ZQuant            float64
	QualScoreRaw      float64
	ZQual             float64
	FinalScore        float64
	CohortN           int
}
