package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/facultylens/pipeline-service/internal/models"
	"github.com/facultylens/pipeline-service/internal/service/integration"
)

type qualFixture struct {
	service   QualitativeService
	subs      *fakeSubmissionRepo
	analysis  *fakeAnalysisRepo
	tasks     *fakeTaskRepo
	enqueuer  *fakeEnqueuer
	sentiment *fakeSentimentClient
	task      *models.BackgroundTask
}

func newQualFixture() *qualFixture {
	subs := newFakeSubmissionRepo()
	subs.add(&models.EvaluationSubmission{
		ID:             "sub-1",
		UniversityID:   "uni-1",
		PeriodID:       "period-1",
		Status:         models.SubmissionProcessing,
		AnalysisStatus: models.AnalysisPending,
	})
	subs.open["sub-1"] = []models.OpenEndedAnswer{
		{ID: "a-1", QuestionID: "q-1", Text: "great course"},
		{ID: "a-2", QuestionID: "q-2", Text: "could improve pacing"},
	}

	analysis := newFakeAnalysisRepo()
	tasks := newFakeTaskRepo()
	enqueuer := &fakeEnqueuer{}
	sentiment := newFakeSentimentClient()
	sentiment.responses["great course"] = &integration.SentimentResponse{
		Label:         "positive",
		LabelScore:    0.95,
		PositiveScore: 0.95,
		NeutralScore:  0.04,
		NegativeScore: 0.01,
		Keywords:      []integration.Keyword{{Text: "course", Relevance: 0.8}},
	}

	return &qualFixture{
		service:   NewQualitativeService(subs, analysis, tasks, enqueuer, sentiment, testLogger()),
		subs:      subs,
		analysis:  analysis,
		tasks:     tasks,
		enqueuer:  enqueuer,
		sentiment: sentiment,
		task:      &models.BackgroundTask{ID: "task-1", SubmittedBy: "system"},
	}
}

func TestQualitativeAnalyzesAllAnswers(t *testing.T) {
	fx := newQualFixture()

	result, err := fx.service.Run(context.Background(), fx.task, "sub-1")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if result.Total != 2 || result.Processed != 2 || result.Failed != 0 {
		t.Errorf("result = %+v, want 2 processed of 2", result)
	}
	if len(fx.analysis.savedSentiments) != 2 {
		t.Fatalf("saved %d sentiments, want 2", len(fx.analysis.savedSentiments))
	}
	if fx.analysis.savedSentiments[0].Label != models.SentimentPositive {
		t.Errorf("first label = %s, want positive", fx.analysis.savedSentiments[0].Label)
	}
	if len(fx.analysis.savedKeywords[0]) != 1 || fx.analysis.savedKeywords[0][0].Keyword != "course" {
		t.Errorf("keywords for first answer = %v", fx.analysis.savedKeywords[0])
	}

	if fx.subs.subs["sub-1"].QualCompletedAt == nil {
		t.Error("qual stage not marked complete")
	}
	if fx.tasks.progressCalls != 2 {
		t.Errorf("progress updated %d times, want 2", fx.tasks.progressCalls)
	}
}

func TestQualitativePartialFailureContinues(t *testing.T) {
	fx := newQualFixture()
	fx.sentiment.failFor["could improve pacing"] = models.Transient(errors.New("inference timeout"))

	result, err := fx.service.Run(context.Background(), fx.task, "sub-1")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if result.Processed != 1 || result.Failed != 1 {
		t.Errorf("result = %+v, want 1 processed and 1 failed", result)
	}
	if result.Message != "qualitative analysis finished with 1 of 2 answers failed" {
		t.Errorf("message = %q", result.Message)
	}
	// Per-item failures do not block the stage; coverage gating at
	// aggregation decides what to do with the hole.
	if fx.subs.subs["sub-1"].QualCompletedAt == nil {
		t.Error("qual stage not marked complete despite per-item failure")
	}
}

func TestQualitativeCancellation(t *testing.T) {
	fx := newQualFixture()
	fx.tasks.cancelRequested["task-1"] = true

	result, err := fx.service.Run(context.Background(), fx.task, "sub-1")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Cancelled {
		t.Error("expected a cancelled stage result")
	}
	if fx.subs.subs["sub-1"].QualCompletedAt != nil {
		t.Error("a cancelled run must not mark the stage complete")
	}
}

func TestQualitativeGateEnqueuesAggregation(t *testing.T) {
	fx := newQualFixture()
	done := time.Now()
	fx.subs.subs["sub-1"].QuantCompletedAt = &done

	if _, err := fx.service.Run(context.Background(), fx.task, "sub-1"); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	types := fx.enqueuer.jobTypes()
	if len(types) != 1 || types[0] != models.JobFinalAggregation {
		t.Errorf("enqueued = %v, want exactly one FINAL_AGGREGATION", types)
	}
}
