package models

import "testing"

func TestTaskStatusTransitions(t *testing.T) {
	tests := []struct {
		from TaskStatus
		to   TaskStatus
		want bool
	}{
		{TaskQueued, TaskProcessing, true},
		{TaskQueued, TaskCancelled, true},
		{TaskQueued, TaskCompletedSuccess, false},
		{TaskProcessing, TaskCompletedSuccess, true},
		{TaskProcessing, TaskCompletedPartialFailure, true},
		{TaskProcessing, TaskCancellationRequested, true},
		// Orphan reclaim moves a dead worker's task back to queued.
		{TaskProcessing, TaskQueued, true},
		{TaskCancellationRequested, TaskCancelled, true},
		{TaskCancellationRequested, TaskCompletedSuccess, true},
		{TaskCancellationRequested, TaskQueued, false},
		{TaskCompletedSuccess, TaskQueued, false},
		{TaskFailed, TaskProcessing, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTaskStatusIsTerminal(t *testing.T) {
	terminal := []TaskStatus{TaskCompletedSuccess, TaskCompletedPartialFailure, TaskFailed, TaskCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []TaskStatus{TaskQueued, TaskProcessing, TaskCancellationRequested} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestSubmissionStatusTransitions(t *testing.T) {
	tests := []struct {
		from SubmissionStatus
		to   SubmissionStatus
		want bool
	}{
		{SubmissionSubmitted, SubmissionProcessing, true},
		{SubmissionSubmitted, SubmissionInvalidated, true},
		{SubmissionProcessing, SubmissionProcessed, true},
		{SubmissionProcessed, SubmissionInvalidated, true},
		{SubmissionProcessed, SubmissionProcessing, false},
		{SubmissionInvalidated, SubmissionProcessing, false},
		{SubmissionCancelled, SubmissionSubmitted, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestPeriodStatusTransitions(t *testing.T) {
	tests := []struct {
		from PeriodStatus
		to   PeriodStatus
		want bool
	}{
		{PeriodScheduled, PeriodActive, true},
		{PeriodScheduled, PeriodCancelling, false},
		{PeriodActive, PeriodClosed, true},
		{PeriodActive, PeriodCancelling, true},
		{PeriodClosed, PeriodCancelling, true},
		{PeriodCancelling, PeriodCancelled, true},
		{PeriodCancelled, PeriodActive, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestJobTypeValid(t *testing.T) {
	valid := []JobType{
		JobIntegrityCheck, JobQuantitativeAnalysis, JobQualitativeAnalysis,
		JobFinalAggregation, JobPeriodCancellation, JobReportGeneration,
	}
	for _, jt := range valid {
		if !jt.Valid() {
			t.Errorf("%s should be valid", jt)
		}
	}
	if JobType("MAKE_COFFEE").Valid() {
		t.Error("unknown job type should not be valid")
	}
}

func TestFlagResolutionValid(t *testing.T) {
	for _, r := range []FlagResolution{ResolutionApproved, ResolutionArchived, ResolutionResubmissionRequested} {
		if !r.Valid() {
			t.Errorf("%s should be valid", r)
		}
	}
	if FlagResolution("shredded").Valid() {
		t.Error("unknown resolution should not be valid")
	}
}

func TestSentimentCoverageRatio(t *testing.T) {
	tests := []struct {
		coverage SentimentCoverage
		want     float64
	}{
		// No open-ended answers means nothing is missing.
		{SentimentCoverage{Analyzed: 0, Total: 0}, 1},
		{SentimentCoverage{Analyzed: 0, Total: 4}, 0},
		{SentimentCoverage{Analyzed: 3, Total: 4}, 0.75},
		{SentimentCoverage{Analyzed: 4, Total: 4}, 1},
	}

	for _, tt := range tests {
		if got := tt.coverage.Ratio(); got != tt.want {
			t.Errorf("Ratio(%+v) = %v, want %v", tt.coverage, got, tt.want)
		}
	}
}
