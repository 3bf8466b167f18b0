package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/facultylens/pipeline-service/internal/models"
)

type submissionFixture struct {
	service  *submissionService
	subs     *fakeSubmissionRepo
	periods  *fakePeriodRepo
	enqueuer *fakeEnqueuer
	now      time.Time
}

func newSubmissionFixture() *submissionFixture {
	subs := newFakeSubmissionRepo()
	periods := newFakePeriodRepo()
	enqueuer := &fakeEnqueuer{}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	periods.periods["period-1"] = &models.EvaluationPeriod{
		ID:           "period-1",
		UniversityID: "uni-1",
		Status:       models.PeriodActive,
		StartAt:      now.Add(-time.Hour),
		EndAt:        now.Add(time.Hour),
	}

	svc := &submissionService{
		submissionRepo: subs,
		periodRepo:     periods,
		taskService:    enqueuer,
		logger:         testLogger(),
		now:            func() time.Time { return now },
	}

	return &submissionFixture{service: svc, subs: subs, periods: periods, enqueuer: enqueuer, now: now}
}

func validProcessRequest() ProcessSubmissionRequest {
	return ProcessSubmissionRequest{
		UniversityID:      "uni-1",
		PeriodID:          "period-1",
		EvaluatorID:       "evaluator-1",
		EvaluateeID:       "evaluatee-1",
		SubjectOfferingID: "offering-1",
		Likert:            []LikertAnswerInput{{QuestionID: "q-1", Value: 4}},
		OpenEnded:         []OpenEndedAnswerInput{{QuestionID: "q-2", Text: "solid teaching"}},
	}
}

func TestProcessSubmissionValidation(t *testing.T) {
	fx := newSubmissionFixture()

	req := validProcessRequest()
	req.EvaluateeID = ""
	_, err := fx.service.Process(context.Background(), "sub-1", req)
	if !models.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestProcessSubmissionOutsidePeriodWindow(t *testing.T) {
	fx := newSubmissionFixture()
	fx.periods.periods["period-1"].EndAt = fx.now.Add(-time.Minute)

	_, err := fx.service.Process(context.Background(), "sub-1", validProcessRequest())
	if !errors.Is(err, models.ErrPeriodNotActive) {
		t.Errorf("expected ErrPeriodNotActive, got %v", err)
	}
}

func TestProcessSubmissionStartsPipeline(t *testing.T) {
	fx := newSubmissionFixture()

	sub, err := fx.service.Process(context.Background(), "sub-1", validProcessRequest())
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if sub.ID != "sub-1" {
		t.Errorf("submission id = %q, want sub-1", sub.ID)
	}
	if sub.Status != models.SubmissionSubmitted ||
		sub.IntegrityStatus != models.IntegrityPending ||
		sub.AnalysisStatus != models.AnalysisPending {
		t.Errorf("initial state = %s/%s/%s", sub.Status, sub.IntegrityStatus, sub.AnalysisStatus)
	}
	if !sub.SubmittedAt.Equal(fx.now) {
		t.Errorf("SubmittedAt = %v, want defaulted to %v", sub.SubmittedAt, fx.now)
	}

	if len(fx.subs.likert["sub-1"]) != 1 || len(fx.subs.open["sub-1"]) != 1 {
		t.Errorf("answers not persisted: %d likert, %d open",
			len(fx.subs.likert["sub-1"]), len(fx.subs.open["sub-1"]))
	}

	types := fx.enqueuer.jobTypes()
	if len(types) != 1 || types[0] != models.JobIntegrityCheck {
		t.Errorf("enqueued = %v, want exactly one INTEGRITY_CHECK", types)
	}
}

func TestProcessSubmissionGeneratesIDWhenMissing(t *testing.T) {
	fx := newSubmissionFixture()

	sub, err := fx.service.Process(context.Background(), "", validProcessRequest())
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if sub.ID == "" {
		t.Error("expected a generated submission id")
	}
}

func TestProcessSubmissionDuplicate(t *testing.T) {
	fx := newSubmissionFixture()
	fx.subs.createErr = &pq.Error{Code: "23505"}

	_, err := fx.service.Process(context.Background(), "sub-1", validProcessRequest())
	if !models.IsValidation(err) {
		t.Errorf("expected validation error for duplicate submission, got %v", err)
	}
}
