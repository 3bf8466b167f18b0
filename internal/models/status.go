package models

// PeriodStatus is the lifecycle state of an evaluation period.
type PeriodStatus string

const (
	PeriodScheduled  PeriodStatus = "scheduled"
	PeriodActive     PeriodStatus = "active"
	PeriodClosed     PeriodStatus = "closed"
	PeriodCancelling PeriodStatus = "cancelling"
	PeriodCancelled  PeriodStatus = "cancelled"
)

// Forward-only, except the cancellation branch reachable from active/closed.
var periodTransitions = map[PeriodStatus][]PeriodStatus{
	PeriodScheduled:  {PeriodActive},
	PeriodActive:     {PeriodClosed, PeriodCancelling},
	PeriodClosed:     {PeriodCancelling},
	PeriodCancelling: {PeriodCancelled},
	PeriodCancelled:  {},
}

func (s PeriodStatus) String() string { return string(s) }

func (s PeriodStatus) CanTransition(to PeriodStatus) bool {
	return containsStatus(periodTransitions[s], to)
}

func (s PeriodStatus) IsTerminal() bool {
	return len(periodTransitions[s]) == 0
}

// SubmissionStatus is the lifecycle state of an evaluation submission.
type SubmissionStatus string

const (
	SubmissionSubmitted   SubmissionStatus = "submitted"
	SubmissionProcessing  SubmissionStatus = "processing"
	SubmissionProcessed   SubmissionStatus = "processed"
	SubmissionArchived    SubmissionStatus = "archived"
	SubmissionInvalidated SubmissionStatus = "invalidated_for_resubmission"
	SubmissionCancelled   SubmissionStatus = "cancelled"
)

var submissionTransitions = map[SubmissionStatus][]SubmissionStatus{
	SubmissionSubmitted:   {SubmissionProcessing, SubmissionArchived, SubmissionInvalidated, SubmissionCancelled},
	SubmissionProcessing:  {SubmissionProcessed, SubmissionArchived, SubmissionInvalidated, SubmissionCancelled},
	SubmissionProcessed:   {SubmissionArchived, SubmissionInvalidated},
	SubmissionArchived:    {},
	SubmissionInvalidated: {},
	SubmissionCancelled:   {},
}

func (s SubmissionStatus) String() string { return string(s) }

func (s SubmissionStatus) CanTransition(to SubmissionStatus) bool {
	return containsStatus(submissionTransitions[s], to)
}

func (s SubmissionStatus) IsTerminal() bool {
	return len(submissionTransitions[s]) == 0
}

// IntegrityStatus is the outcome of the integrity check stage.
type IntegrityStatus string

const (
	IntegrityPending   IntegrityStatus = "pending"
	IntegrityCompleted IntegrityStatus = "completed"
	IntegrityFailed    IntegrityStatus = "failed"
)

func (s IntegrityStatus) String() string { return string(s) }

// AnalysisStatus tracks a submission through the analysis pipeline.
// It only ever moves pending -> quant_qual_complete -> aggregation_complete,
// or diverges to failed.
type AnalysisStatus string

const (
	AnalysisPending             AnalysisStatus = "pending"
	AnalysisQuantQualComplete   AnalysisStatus = "quant_qual_complete"
	AnalysisAggregationComplete AnalysisStatus = "aggregation_complete"
	AnalysisFailed              AnalysisStatus = "failed"
)

var analysisTransitions = map[AnalysisStatus][]AnalysisStatus{
	AnalysisPending:             {AnalysisQuantQualComplete, AnalysisFailed},
	AnalysisQuantQualComplete:   {AnalysisAggregationComplete, AnalysisFailed},
	AnalysisAggregationComplete: {},
	AnalysisFailed:              {},
}

func (s AnalysisStatus) String() string { return string(s) }

func (s AnalysisStatus) CanTransition(to AnalysisStatus) bool {
	return containsStatus(analysisTransitions[s], to)
}

// TaskStatus is the state of a job ledger entry.
type TaskStatus string

const (
	TaskQueued                  TaskStatus = "queued"
	TaskProcessing              TaskStatus = "processing"
	TaskCancellationRequested   TaskStatus = "cancellation_requested"
	TaskCompletedSuccess        TaskStatus = "completed_success"
	TaskCompletedPartialFailure TaskStatus = "completed_partial_failure"
	TaskFailed                  TaskStatus = "failed"
	TaskCancelled               TaskStatus = "cancelled"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskQueued:                  {TaskProcessing, TaskCancelled},
	TaskProcessing:              {TaskCancellationRequested, TaskCompletedSuccess, TaskCompletedPartialFailure, TaskFailed, TaskQueued},
	TaskCancellationRequested:   {TaskCancelled, TaskCompletedSuccess, TaskCompletedPartialFailure, TaskFailed},
	TaskCompletedSuccess:        {},
	TaskCompletedPartialFailure: {},
	TaskFailed:                  {},
	TaskCancelled:               {},
}

func (s TaskStatus) String() string { return string(s) }

func (s TaskStatus) CanTransition(to TaskStatus) bool {
	return containsStatus(taskTransitions[s], to)
}

// IsTerminal reports whether no further transition is possible. A processing
// job may return to queued only through orphan reclaim after lease expiry.
func (s TaskStatus) IsTerminal() bool {
	return len(taskTransitions[s]) == 0
}

// JobType identifies the stage handler a task is dispatched to.
type JobType string

const (
	JobIntegrityCheck       JobType = "INTEGRITY_CHECK"
	JobQuantitativeAnalysis JobType = "QUANTITATIVE_ANALYSIS"
	JobQualitativeAnalysis  JobType = "QUALITATIVE_ANALYSIS"
	JobFinalAggregation     JobType = "FINAL_AGGREGATION"
	JobPeriodCancellation   JobType = "PERIOD_CANCELLATION"
	JobReportGeneration     JobType = "REPORT_GENERATION"
)

func (t JobType) String() string { return string(t) }

func (t JobType) Valid() bool {
	switch t {
	case JobIntegrityCheck, JobQuantitativeAnalysis, JobQualitativeAnalysis,
		JobFinalAggregation, JobPeriodCancellation, JobReportGeneration:
		return true
	}
	return false
}

// FlagStatus / FlagReason / FlagResolution drive the review workflow.
type FlagStatus string

const (
	FlagPending  FlagStatus = "pending"
	FlagResolved FlagStatus = "resolved"
)

func (s FlagStatus) String() string { return string(s) }

type FlagReason string

const (
	ReasonRecycledContent      FlagReason = "recycled_content"
	ReasonIncompleteSubmission FlagReason = "incomplete_submission"
	ReasonLowConfidence        FlagReason = "low_confidence"
	ReasonSentimentMismatch    FlagReason = "sentiment_mismatch"
)

func (r FlagReason) String() string { return string(r) }

type FlagResolution string

const (
	ResolutionApproved              FlagResolution = "approved"
	ResolutionArchived              FlagResolution = "archived"
	ResolutionResubmissionRequested FlagResolution = "resubmission_requested"
)

func (r FlagResolution) String() string { return string(r) }

func (r FlagResolution) Valid() bool {
	switch r {
	case ResolutionApproved, ResolutionArchived, ResolutionResubmissionRequested:
		return true
	}
	return false
}

// SentimentLabel is the collaborator's predicted class for an answer.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentNegative SentimentLabel = "negative"
)

func (l SentimentLabel) String() string { return string(l) }

// ReportStatus / ReportFormat describe generated report artifacts.
type ReportStatus string

const (
	ReportQueued     ReportStatus = "queued"
	ReportGenerating ReportStatus = "generating"
	ReportReady      ReportStatus = "ready"
	ReportFailed     ReportStatus = "failed"
)

func (s ReportStatus) String() string { return string(s) }

type ReportFormat string

const (
	FormatCSV ReportFormat = "CSV"
	FormatPDF ReportFormat = "PDF"
)

func (f ReportFormat) String() string { return string(f) }

// QuestionType distinguishes Likert questions from open-ended ones.
type QuestionType string

const (
	QuestionLikert    QuestionType = "likert"
	QuestionOpenEnded QuestionType = "open_ended"
)

func containsStatus[T comparable](list []T, v T) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
