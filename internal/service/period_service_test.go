package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/facultylens/pipeline-service/internal/models"
)

type periodFixture struct {
	service  *periodService
	periods  *fakePeriodRepo
	subs     *fakeSubmissionRepo
	tasks    *fakeTaskRepo
	enqueuer *fakeEnqueuer
	rabbit   *fakeRabbitMQ
	now      time.Time
}

func newPeriodFixture() *periodFixture {
	periods := newFakePeriodRepo()
	subs := newFakeSubmissionRepo()
	tasks := newFakeTaskRepo()
	enqueuer := &fakeEnqueuer{}
	rabbit := &fakeRabbitMQ{}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	svc := &periodService{
		periodRepo:     periods,
		submissionRepo: subs,
		taskRepo:       tasks,
		taskService:    enqueuer,
		rabbitMQ:       rabbit,
		config:         PeriodConfig{CancellationPollInterval: time.Millisecond},
		logger:         testLogger(),
		now:            func() time.Time { return now },
	}

	return &periodFixture{service: svc, periods: periods, subs: subs, tasks: tasks, enqueuer: enqueuer, rabbit: rabbit, now: now}
}

func (fx *periodFixture) addPeriod(id string, status models.PeriodStatus, startAt, endAt time.Time) *models.EvaluationPeriod {
	period := &models.EvaluationPeriod{
		ID:                 id,
		UniversityID:       "uni-1",
		SchoolTermID:       "term-1",
		AssessmentPeriodID: "assess-1",
		FormTemplateID:     "form-1",
		StartAt:            startAt,
		EndAt:              endAt,
		Status:             status,
	}
	fx.periods.periods[id] = period
	return period
}

func TestCreatePeriodValidation(t *testing.T) {
	fx := newPeriodFixture()

	_, err := fx.service.Create(context.Background(), CreatePeriodRequest{UniversityID: "uni-1"})
	if !models.IsValidation(err) {
		t.Errorf("expected validation error for missing ids, got %v", err)
	}

	_, err = fx.service.Create(context.Background(), CreatePeriodRequest{
		UniversityID:       "uni-1",
		SchoolTermID:       "term-1",
		AssessmentPeriodID: "assess-1",
		FormTemplateID:     "form-1",
		StartAt:            fx.now,
		EndAt:              fx.now,
	})
	if !models.IsValidation(err) {
		t.Errorf("expected validation error for empty window, got %v", err)
	}
}

func TestCreatePeriodDuplicate(t *testing.T) {
	fx := newPeriodFixture()
	req := CreatePeriodRequest{
		UniversityID:       "uni-1",
		SchoolTermID:       "term-1",
		AssessmentPeriodID: "assess-1",
		FormTemplateID:     "form-1",
		StartAt:            fx.now,
		EndAt:              fx.now.Add(24 * time.Hour),
	}

	period, err := fx.service.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if period.Status != models.PeriodScheduled {
		t.Errorf("new period status = %s, want scheduled", period.Status)
	}

	if _, err := fx.service.Create(context.Background(), req); !errors.Is(err, models.ErrDuplicatePeriod) {
		t.Errorf("expected ErrDuplicatePeriod, got %v", err)
	}
}

func TestActivatePeriod(t *testing.T) {
	fx := newPeriodFixture()
	fx.addPeriod("period-1", models.PeriodScheduled, fx.now.Add(-time.Hour), fx.now.Add(time.Hour))

	period, err := fx.service.Activate(context.Background(), "period-1")
	if err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	if period.Status != models.PeriodActive {
		t.Errorf("status = %s, want active", period.Status)
	}

	// Activating an already-active period is a no-op.
	if _, err := fx.service.Activate(context.Background(), "period-1"); err != nil {
		t.Errorf("re-activation returned error: %v", err)
	}
}

func TestActivatePeriodBeforeStart(t *testing.T) {
	fx := newPeriodFixture()
	fx.addPeriod("period-1", models.PeriodScheduled, fx.now.Add(time.Hour), fx.now.Add(2*time.Hour))

	_, err := fx.service.Activate(context.Background(), "period-1")
	if !models.IsValidation(err) {
		t.Errorf("expected validation error before start, got %v", err)
	}
}

func TestActivatePeriodFromClosed(t *testing.T) {
	fx := newPeriodFixture()
	fx.addPeriod("period-1", models.PeriodClosed, fx.now.Add(-2*time.Hour), fx.now.Add(-time.Hour))

	_, err := fx.service.Activate(context.Background(), "period-1")
	var invalid *models.InvalidTransition
	if !errors.As(err, &invalid) {
		t.Errorf("expected InvalidTransition, got %v", err)
	}
}

func TestClosePeriod(t *testing.T) {
	fx := newPeriodFixture()
	fx.addPeriod("period-1", models.PeriodActive, fx.now.Add(-time.Hour), fx.now.Add(time.Hour))

	period, err := fx.service.Close(context.Background(), "period-1")
	if err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if period.Status != models.PeriodClosed {
		t.Errorf("status = %s, want closed", period.Status)
	}

	if _, err := fx.service.Close(context.Background(), "period-1"); err != nil {
		t.Errorf("re-closing returned error: %v", err)
	}
}

func TestCancelPeriodEnqueuesDrainOnce(t *testing.T) {
	fx := newPeriodFixture()
	fx.addPeriod("period-1", models.PeriodActive, fx.now.Add(-time.Hour), fx.now.Add(time.Hour))

	period, err := fx.service.Cancel(context.Background(), "period-1", "admin-1")
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if period.Status != models.PeriodCancelling {
		t.Errorf("status = %s, want cancelling", period.Status)
	}

	// Cancelling again while the drain runs must not enqueue a second job.
	if _, err := fx.service.Cancel(context.Background(), "period-1", "admin-1"); err != nil {
		t.Fatalf("repeat Cancel returned error: %v", err)
	}

	types := fx.enqueuer.jobTypes()
	if len(types) != 1 || types[0] != models.JobPeriodCancellation {
		t.Errorf("enqueued = %v, want exactly one PERIOD_CANCELLATION", types)
	}
}

func TestCancelPeriodFromScheduled(t *testing.T) {
	fx := newPeriodFixture()
	fx.addPeriod("period-1", models.PeriodScheduled, fx.now, fx.now.Add(time.Hour))

	_, err := fx.service.Cancel(context.Background(), "period-1", "admin-1")
	var invalid *models.InvalidTransition
	if !errors.As(err, &invalid) {
		t.Errorf("expected InvalidTransition, got %v", err)
	}
}

func TestRunCancellationDrainsPeriod(t *testing.T) {
	fx := newPeriodFixture()
	fx.addPeriod("period-1", models.PeriodCancelling, fx.now.Add(-time.Hour), fx.now.Add(time.Hour))

	inFlight := &models.BackgroundTask{ID: "task-running", Status: models.TaskProcessing}
	fx.tasks.tasks["task-running"] = inFlight
	fx.tasks.inFlightSeq = [][]*models.BackgroundTask{{inFlight}}

	fx.subs.add(&models.EvaluationSubmission{ID: "sub-1", PeriodID: "period-1", Status: models.SubmissionProcessing})
	fx.subs.add(&models.EvaluationSubmission{ID: "sub-2", PeriodID: "period-1", Status: models.SubmissionProcessed})

	drainTask := &models.BackgroundTask{ID: "task-drain", SubmittedBy: "admin-1"}
	result, err := fx.service.RunCancellation(context.Background(), drainTask, "period-1")
	if err != nil {
		t.Fatalf("RunCancellation returned error: %v", err)
	}

	if inFlight.Status != models.TaskCancellationRequested {
		t.Errorf("in-flight task status = %s, want cancellation_requested", inFlight.Status)
	}
	if got := fx.subs.subs["sub-1"].Status; got != models.SubmissionCancelled {
		t.Errorf("non-terminal submission status = %s, want cancelled", got)
	}
	// Processed is terminal and must survive the drain.
	if got := fx.subs.subs["sub-2"].Status; got != models.SubmissionProcessed {
		t.Errorf("processed submission status = %s, want untouched", got)
	}
	if got := fx.periods.periods["period-1"].Status; got != models.PeriodCancelled {
		t.Errorf("period status = %s, want cancelled", got)
	}
	if len(fx.rabbit.cancelledEvents) != 1 || fx.rabbit.cancelledEvents[0].CancelledTasks != 1 {
		t.Errorf("cancelled events = %+v", fx.rabbit.cancelledEvents)
	}
	if result.Processed != 2 {
		t.Errorf("Processed = %d, want 1 task + 1 submission", result.Processed)
	}
}

func TestRunCancellationIdempotent(t *testing.T) {
	fx := newPeriodFixture()
	fx.addPeriod("period-1", models.PeriodCancelled, fx.now, fx.now.Add(time.Hour))

	result, err := fx.service.RunCancellation(context.Background(), &models.BackgroundTask{ID: "task-drain"}, "period-1")
	if err != nil {
		t.Fatalf("RunCancellation returned error: %v", err)
	}
	if result.Message != "period already cancelled" {
		t.Errorf("message = %q", result.Message)
	}
}

func TestRunCancellationRequiresCancellingState(t *testing.T) {
	fx := newPeriodFixture()
	fx.addPeriod("period-1", models.PeriodActive, fx.now, fx.now.Add(time.Hour))

	_, err := fx.service.RunCancellation(context.Background(), &models.BackgroundTask{ID: "task-drain"}, "period-1")
	if !models.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestSweepCrossesTimeBoundaries(t *testing.T) {
	fx := newPeriodFixture()
	fx.addPeriod("due-active", models.PeriodScheduled, fx.now.Add(-time.Minute), fx.now.Add(time.Hour))
	fx.addPeriod("due-close", models.PeriodActive, fx.now.Add(-2*time.Hour), fx.now.Add(-time.Minute))
	fx.addPeriod("untouched", models.PeriodScheduled, fx.now.Add(time.Hour), fx.now.Add(2*time.Hour))

	if err := fx.service.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}

	if got := fx.periods.periods["due-active"].Status; got != models.PeriodActive {
		t.Errorf("due-active status = %s, want active", got)
	}
	if got := fx.periods.periods["due-close"].Status; got != models.PeriodClosed {
		t.Errorf("due-close status = %s, want closed", got)
	}
	if got := fx.periods.periods["untouched"].Status; got != models.PeriodScheduled {
		t.Errorf("untouched status = %s, want scheduled", got)
	}
}
