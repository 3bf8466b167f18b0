package service

import (
	"context"
	"fmt"
	"io"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/facultylens/pipeline-service/internal/models"
	"github.com/facultylens/pipeline-service/internal/repository"
	"github.com/facultylens/pipeline-service/internal/service/integration"
)

// In-memory fakes for the repository layer. Each fake keeps just enough
// state to honor the contract the services rely on; anything a test wants
// to assert is recorded on the fake.

func testLogger() zerolog.Logger { return zerolog.Nop() }

type fakeSubmissionRepo struct {
	subs   map[string]*models.EvaluationSubmission
	likert map[string][]models.LikertAnswer
	open   map[string][]models.OpenEndedAnswer

	history      []string
	cohortValues map[string][]int

	supersededID string
	createErr    error
}

func newFakeSubmissionRepo() *fakeSubmissionRepo {
	return &fakeSubmissionRepo{
		subs:         make(map[string]*models.EvaluationSubmission),
		likert:       make(map[string][]models.LikertAnswer),
		open:         make(map[string][]models.OpenEndedAnswer),
		cohortValues: make(map[string][]int),
	}
}

func (r *fakeSubmissionRepo) add(sub *models.EvaluationSubmission) {
	r.subs[sub.ID] = sub
}

func (r *fakeSubmissionRepo) GetByID(_ context.Context, id string) (*models.EvaluationSubmission, error) {
	sub, ok := r.subs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return sub, nil
}

func (r *fakeSubmissionRepo) Create(_ context.Context, sub *models.EvaluationSubmission, likert []models.LikertAnswer, open []models.OpenEndedAnswer) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.subs[sub.ID] = sub
	r.likert[sub.ID] = likert
	r.open[sub.ID] = open
	return nil
}

func (r *fakeSubmissionRepo) LikertAnswers(_ context.Context, submissionID string) ([]models.LikertAnswer, error) {
	return r.likert[submissionID], nil
}

func (r *fakeSubmissionRepo) OpenEndedAnswers(_ context.Context, submissionID string) ([]models.OpenEndedAnswer, error) {
	return r.open[submissionID], nil
}

func (r *fakeSubmissionRepo) EvaluatorAnswerHistory(_ context.Context, _, _ string) ([]string, error) {
	return r.history, nil
}

func (r *fakeSubmissionRepo) SetIntegrityStatus(_ context.Context, id string, status models.IntegrityStatus) error {
	sub, ok := r.subs[id]
	if !ok {
		return models.ErrNotFound
	}
	sub.IntegrityStatus = status
	return nil
}

func (r *fakeSubmissionRepo) SetStatusIf(_ context.Context, id string, from, to models.SubmissionStatus) (bool, error) {
	sub, ok := r.subs[id]
	if !ok {
		return false, models.ErrNotFound
	}
	if sub.Status != from {
		return false, nil
	}
	sub.Status = to
	return true, nil
}

func (r *fakeSubmissionRepo) SetAnalysisStatusIf(_ context.Context, id string, from, to models.AnalysisStatus) (bool, error) {
	sub, ok := r.subs[id]
	if !ok {
		return false, models.ErrNotFound
	}
	if sub.AnalysisStatus != from {
		return false, nil
	}
	sub.AnalysisStatus = to
	return true, nil
}

func (r *fakeSubmissionRepo) MarkAnalysisFailed(_ context.Context, id string) (bool, error) {
	sub, ok := r.subs[id]
	if !ok {
		return false, models.ErrNotFound
	}
	switch sub.AnalysisStatus {
	case models.AnalysisPending, models.AnalysisQuantQualComplete:
		sub.AnalysisStatus = models.AnalysisFailed
		return true, nil
	}
	return false, nil
}

func (r *fakeSubmissionRepo) MarkStageComplete(_ context.Context, id string, stage repository.PipelineStage) error {
	sub, ok := r.subs[id]
	if !ok {
		return models.ErrNotFound
	}
	now := time.Now()
	switch stage {
	case repository.StageQuantitative:
		sub.QuantCompletedAt = &now
	case repository.StageQualitative:
		sub.QualCompletedAt = &now
	}
	return nil
}

func (r *fakeSubmissionRepo) GateQuantQualComplete(_ context.Context, id string) (bool, error) {
	sub, ok := r.subs[id]
	if !ok {
		return false, models.ErrNotFound
	}
	if sub.QuantCompletedAt == nil || sub.QualCompletedAt == nil {
		return false, nil
	}
	if sub.AnalysisStatus != models.AnalysisPending {
		return false, nil
	}
	sub.AnalysisStatus = models.AnalysisQuantQualComplete
	return true, nil
}

func (r *fakeSubmissionRepo) Supersede(_ context.Context, originalID string, replacement *models.EvaluationSubmission, likert []models.LikertAnswer, open []models.OpenEndedAnswer) error {
	original, ok := r.subs[originalID]
	if !ok {
		return models.ErrNotFound
	}
	if original.Status != models.SubmissionInvalidated {
		return models.Consistencyf("submission", originalID, "cannot supersede a %s submission", original.Status)
	}
	r.supersededID = originalID
	r.subs[replacement.ID] = replacement
	r.likert[replacement.ID] = likert
	r.open[replacement.ID] = open
	return nil
}

func (r *fakeSubmissionRepo) Cohort(_ context.Context, key models.CohortKey) ([]*models.EvaluationSubmission, error) {
	var cohort []*models.EvaluationSubmission
	for _, sub := range r.subs {
		if sub.Cohort() == key {
			cohort = append(cohort, sub)
		}
	}
	return cohort, nil
}

func (r *fakeSubmissionRepo) CohortAnswerValues(_ context.Context, _ models.CohortKey, questionID string) ([]int, error) {
	return r.cohortValues[questionID], nil
}

func (r *fakeSubmissionRepo) CancelNonTerminalByPeriod(_ context.Context, periodID string) (int, error) {
	cancelled := 0
	for _, sub := range r.subs {
		if sub.PeriodID != periodID {
			continue
		}
		switch sub.Status {
		case models.SubmissionSubmitted, models.SubmissionProcessing:
			sub.Status = models.SubmissionCancelled
			cancelled++
		}
	}
	return cancelled, nil
}

func (r *fakeSubmissionRepo) Ping(context.Context) error { return nil }

type fakeFormRepo struct {
	questions []models.EvaluationQuestion
	criteria  []models.EvaluationCriterion
	scale     *models.LikertScale
}

func (r *fakeFormRepo) QuestionsForSubmission(context.Context, string) ([]models.EvaluationQuestion, error) {
	return r.questions, nil
}

func (r *fakeFormRepo) CriteriaForSubmission(context.Context, string) ([]models.EvaluationCriterion, error) {
	return r.criteria, nil
}

func (r *fakeFormRepo) LikertScaleForSubmission(context.Context, string) (*models.LikertScale, error) {
	return r.scale, nil
}

type fakeFlagRepo struct {
	flags map[string]*models.FlaggedEvaluation
}

func newFakeFlagRepo() *fakeFlagRepo {
	return &fakeFlagRepo{flags: make(map[string]*models.FlaggedEvaluation)}
}

func (r *fakeFlagRepo) Create(_ context.Context, flag *models.FlaggedEvaluation) error {
	for _, f := range r.flags {
		if f.SubmissionID == flag.SubmissionID {
			return nil
		}
	}
	r.flags[flag.ID] = flag
	return nil
}

func (r *fakeFlagRepo) GetByID(_ context.Context, id string) (*models.FlaggedEvaluation, error) {
	flag, ok := r.flags[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return flag, nil
}

func (r *fakeFlagRepo) GetBySubmission(_ context.Context, submissionID string) (*models.FlaggedEvaluation, error) {
	for _, f := range r.flags {
		if f.SubmissionID == submissionID {
			return f, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *fakeFlagRepo) ListByStatus(_ context.Context, status models.FlagStatus, _, _ int) ([]*models.FlaggedEvaluation, error) {
	var out []*models.FlaggedEvaluation
	for _, f := range r.flags {
		if f.Status == status {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *fakeFlagRepo) Resolve(_ context.Context, id string, resolution models.FlagResolution, resolvedBy, adminNotes string, gracePeriodEndsAt *time.Time) (*models.FlaggedEvaluation, error) {
	flag, ok := r.flags[id]
	if !ok || flag.Status != models.FlagPending {
		return nil, models.ErrNotFound
	}
	now := time.Now()
	flag.Status = models.FlagResolved
	flag.Resolution = &resolution
	flag.ResolvedBy = &resolvedBy
	flag.ResolvedAt = &now
	flag.AdminNotes = &adminNotes
	flag.GracePeriodEndsAt = gracePeriodEndsAt
	return flag, nil
}

type fakePeriodRepo struct {
	periods map[string]*models.EvaluationPeriod
}

func newFakePeriodRepo() *fakePeriodRepo {
	return &fakePeriodRepo{periods: make(map[string]*models.EvaluationPeriod)}
}

func (r *fakePeriodRepo) Create(_ context.Context, period *models.EvaluationPeriod) error {
	for _, p := range r.periods {
		if p.UniversityID == period.UniversityID &&
			p.SchoolTermID == period.SchoolTermID &&
			p.AssessmentPeriodID == period.AssessmentPeriodID &&
			p.Status != models.PeriodCancelled {
			return models.ErrDuplicatePeriod
		}
	}
	r.periods[period.ID] = period
	return nil
}

func (r *fakePeriodRepo) GetByID(_ context.Context, id string) (*models.EvaluationPeriod, error) {
	period, ok := r.periods[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return period, nil
}

func (r *fakePeriodRepo) SetStatusIf(_ context.Context, id string, from, to models.PeriodStatus) (bool, error) {
	period, ok := r.periods[id]
	if !ok {
		return false, models.ErrNotFound
	}
	if period.Status != from {
		return false, nil
	}
	period.Status = to
	return true, nil
}

func (r *fakePeriodRepo) DueForActivation(_ context.Context, now time.Time) ([]*models.EvaluationPeriod, error) {
	var due []*models.EvaluationPeriod
	for _, p := range r.periods {
		if p.Status == models.PeriodScheduled && !now.Before(p.StartAt) {
			due = append(due, p)
		}
	}
	return due, nil
}

func (r *fakePeriodRepo) DueForClose(_ context.Context, now time.Time) ([]*models.EvaluationPeriod, error) {
	var due []*models.EvaluationPeriod
	for _, p := range r.periods {
		if p.Status == models.PeriodActive && !now.Before(p.EndAt) {
			due = append(due, p)
		}
	}
	return due, nil
}

type fakeTaskRepo struct {
	tasks map[string]*models.BackgroundTask

	cancelRequested map[string]bool
	// inFlightSeq is popped per ListInFlightForPeriod call; an exhausted
	// sequence means the period has drained.
	inFlightSeq [][]*models.BackgroundTask

	progressCalls int
	storagePaths  map[string]string
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{
		tasks:           make(map[string]*models.BackgroundTask),
		cancelRequested: make(map[string]bool),
		storagePaths:    make(map[string]string),
	}
}

func (r *fakeTaskRepo) Create(_ context.Context, task *models.BackgroundTask) error {
	r.tasks[task.ID] = task
	return nil
}

func (r *fakeTaskRepo) GetByID(_ context.Context, id string) (*models.BackgroundTask, error) {
	task, ok := r.tasks[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return task, nil
}

func (r *fakeTaskRepo) Claim(_ context.Context, id, workerID string, leaseTimeout time.Duration) (*models.BackgroundTask, error) {
	task, ok := r.tasks[id]
	if !ok || task.Status != models.TaskQueued {
		return nil, nil
	}
	expires := time.Now().Add(leaseTimeout)
	task.Status = models.TaskProcessing
	task.LockedBy = &workerID
	task.LeaseExpiresAt = &expires
	return task, nil
}

func (r *fakeTaskRepo) Complete(_ context.Context, id string, status models.TaskStatus, message string) error {
	task, ok := r.tasks[id]
	if !ok {
		return models.ErrNotFound
	}
	task.Status = status
	task.ResultMessage = &message
	return nil
}

func (r *fakeTaskRepo) RequestCancellation(_ context.Context, id string) (models.TaskStatus, error) {
	task, ok := r.tasks[id]
	if !ok {
		return "", models.ErrNotFound
	}
	switch task.Status {
	case models.TaskQueued:
		task.Status = models.TaskCancelled
	case models.TaskProcessing:
		task.Status = models.TaskCancellationRequested
		r.cancelRequested[id] = true
	}
	return task.Status, nil
}

func (r *fakeTaskRepo) IsCancellationRequested(_ context.Context, id string) (bool, error) {
	return r.cancelRequested[id], nil
}

func (r *fakeTaskRepo) UpdateProgress(_ context.Context, id string, progress, rowsTotal, rowsProcessed, rowsFailed int) error {
	r.progressCalls++
	if task, ok := r.tasks[id]; ok {
		task.Progress = progress
		task.RowsTotal = rowsTotal
		task.RowsProcessed = rowsProcessed
		task.RowsFailed = rowsFailed
	}
	return nil
}

func (r *fakeTaskRepo) SetResultStoragePath(_ context.Context, id, path string) error {
	r.storagePaths[id] = path
	return nil
}

func (r *fakeTaskRepo) AppendLog(context.Context, string, string) error { return nil }

func (r *fakeTaskRepo) ReclaimOrphaned(context.Context) ([]string, error) { return nil, nil }

func (r *fakeTaskRepo) ListInFlightForPeriod(_ context.Context, _ string) ([]*models.BackgroundTask, error) {
	if len(r.inFlightSeq) == 0 {
		return nil, nil
	}
	head := r.inFlightSeq[0]
	r.inFlightSeq = r.inFlightSeq[1:]
	return head, nil
}

func (r *fakeTaskRepo) Ping(context.Context) error { return nil }

type fakeAggregateRepo struct {
	working map[string]*models.NumericalAggregate

	savedNumerical []*models.NumericalAggregate
	savedSentiment []*models.SentimentAggregate
}

func newFakeAggregateRepo() *fakeAggregateRepo {
	return &fakeAggregateRepo{working: make(map[string]*models.NumericalAggregate)}
}

func (r *fakeAggregateRepo) SaveWorkingNumerical(_ context.Context, agg *models.NumericalAggregate) error {
	r.working[agg.SubmissionID] = agg
	return nil
}

func (r *fakeAggregateRepo) SaveSnapshots(_ context.Context, _ models.CohortKey, numerical []*models.NumericalAggregate, sentiment []*models.SentimentAggregate) error {
	r.savedNumerical = numerical
	r.savedSentiment = sentiment
	return nil
}

func (r *fakeAggregateRepo) LatestNumerical(_ context.Context, submissionID string) (*models.NumericalAggregate, error) {
	agg, ok := r.working[submissionID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return agg, nil
}

func (r *fakeAggregateRepo) FinalNumerical(_ context.Context, submissionID string) (*models.NumericalAggregate, error) {
	return r.LatestNumerical(nil, submissionID)
}

func (r *fakeAggregateRepo) FinalSentiment(context.Context, string) (*models.SentimentAggregate, error) {
	return nil, models.ErrNotFound
}

type fakeAnalysisRepo struct {
	savedSentiments []*models.AnswerSentiment
	savedKeywords   [][]models.AnswerKeyword

	coverage      map[string]models.SentimentCoverage
	classAverages map[string][3]float64
}

func newFakeAnalysisRepo() *fakeAnalysisRepo {
	return &fakeAnalysisRepo{
		coverage:      make(map[string]models.SentimentCoverage),
		classAverages: make(map[string][3]float64),
	}
}

func (r *fakeAnalysisRepo) SaveAnswerAnalysis(_ context.Context, sentiment *models.AnswerSentiment, keywords []models.AnswerKeyword) error {
	r.savedSentiments = append(r.savedSentiments, sentiment)
	r.savedKeywords = append(r.savedKeywords, keywords)
	return nil
}

func (r *fakeAnalysisRepo) SentimentCoverage(_ context.Context, submissionID string) (models.SentimentCoverage, error) {
	return r.coverage[submissionID], nil
}

func (r *fakeAnalysisRepo) ClassScoreAverages(_ context.Context, submissionID string) (positive, neutral, negative float64, err error) {
	avg := r.classAverages[submissionID]
	return avg[0], avg[1], avg[2], nil
}

type fakeReportRepo struct {
	reports map[string]*models.GeneratedReport
	rows    []models.ReportRow
	expired []*models.GeneratedReport
	deleted []string
}

func newFakeReportRepo() *fakeReportRepo {
	return &fakeReportRepo{reports: make(map[string]*models.GeneratedReport)}
}

func (r *fakeReportRepo) Create(_ context.Context, report *models.GeneratedReport) error {
	r.reports[report.ID] = report
	return nil
}

func (r *fakeReportRepo) GetByID(_ context.Context, id string) (*models.GeneratedReport, error) {
	report, ok := r.reports[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return report, nil
}

func (r *fakeReportRepo) SetStatus(_ context.Context, id string, status models.ReportStatus, storagePath, errorMessage *string) error {
	report, ok := r.reports[id]
	if !ok {
		return models.ErrNotFound
	}
	report.Status = status
	if storagePath != nil {
		report.StoragePath = storagePath
	}
	report.ErrorMessage = errorMessage
	return nil
}

func (r *fakeReportRepo) ReportRows(context.Context, string, *string, *string, bool) ([]models.ReportRow, error) {
	return r.rows, nil
}

func (r *fakeReportRepo) ListExpired(context.Context, time.Time, int) ([]*models.GeneratedReport, error) {
	return r.expired, nil
}

func (r *fakeReportRepo) Delete(_ context.Context, id string) error {
	r.deleted = append(r.deleted, id)
	return nil
}

type fakeObjectStore struct {
	uploads map[string][]byte
	deleted []string
	url     string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{uploads: make(map[string][]byte), url: "https://store.example/report"}
}

func (s *fakeObjectStore) UploadReport(_ context.Context, storagePath string, content []byte, _ models.ReportFormat) error {
	s.uploads[storagePath] = content
	return nil
}

func (s *fakeObjectStore) DownloadReport(context.Context, string) (io.ReadCloser, int64, error) {
	return nil, 0, models.ErrNotFound
}

func (s *fakeObjectStore) DeleteReport(_ context.Context, storagePath string) error {
	s.deleted = append(s.deleted, storagePath)
	return nil
}

func (s *fakeObjectStore) PresignedURL(context.Context, string, time.Duration) (string, error) {
	return s.url, nil
}

type fakeRabbitMQ struct {
	queuedEvents     []models.TaskQueuedEvent
	aggregatedEvents []models.SubmissionAggregatedEvent
	flaggedEvents    []models.SubmissionFlaggedEvent
	cancelledEvents  []models.PeriodCancelledEvent
}

func (r *fakeRabbitMQ) Publish(context.Context, string, []byte) error { return nil }

func (r *fakeRabbitMQ) Consume(context.Context, string, string) (<-chan amqp.Delivery, error) {
	return nil, nil
}

func (r *fakeRabbitMQ) SetupQueue(string, string) error { return nil }

func (r *fakeRabbitMQ) PublishTaskQueued(_ context.Context, event models.TaskQueuedEvent) error {
	r.queuedEvents = append(r.queuedEvents, event)
	return nil
}

func (r *fakeRabbitMQ) PublishSubmissionAggregated(_ context.Context, event models.SubmissionAggregatedEvent) error {
	r.aggregatedEvents = append(r.aggregatedEvents, event)
	return nil
}

func (r *fakeRabbitMQ) PublishSubmissionFlagged(_ context.Context, event models.SubmissionFlaggedEvent) error {
	r.flaggedEvents = append(r.flaggedEvents, event)
	return nil
}

func (r *fakeRabbitMQ) PublishPeriodCancelled(_ context.Context, event models.PeriodCancelledEvent) error {
	r.cancelledEvents = append(r.cancelledEvents, event)
	return nil
}

func (r *fakeRabbitMQ) Close() error { return nil }

// fakeEnqueuer records what gets enqueued without touching a ledger.
type fakeEnqueuer struct {
	requests   []EnqueueRequest
	enqueueErr error
}

func (s *fakeEnqueuer) Enqueue(_ context.Context, req EnqueueRequest) (*models.BackgroundTask, error) {
	if s.enqueueErr != nil {
		return nil, s.enqueueErr
	}
	s.requests = append(s.requests, req)
	return &models.BackgroundTask{
		ID:           fmt.Sprintf("task-%d", len(s.requests)),
		UniversityID: req.UniversityID,
		JobType:      req.JobType,
		Status:       models.TaskQueued,
		SubmittedBy:  req.SubmittedBy,
	}, nil
}

func (s *fakeEnqueuer) Get(context.Context, string) (*models.BackgroundTask, error) {
	return nil, models.ErrNotFound
}

func (s *fakeEnqueuer) RequestCancellation(context.Context, string) (models.TaskStatus, error) {
	return models.TaskCancelled, nil
}

func (s *fakeEnqueuer) jobTypes() []models.JobType {
	types := make([]models.JobType, 0, len(s.requests))
	for _, req := range s.requests {
		types = append(types, req.JobType)
	}
	return types
}

type fakeSentimentClient struct {
	responses map[string]*integration.SentimentResponse
	failFor   map[string]error
}

func newFakeSentimentClient() *fakeSentimentClient {
	return &fakeSentimentClient{
		responses: make(map[string]*integration.SentimentResponse),
		failFor:   make(map[string]error),
	}
}

func (c *fakeSentimentClient) Analyze(_ context.Context, text string) (*integration.SentimentResponse, error) {
	if err, ok := c.failFor[text]; ok {
		return nil, err
	}
	if resp, ok := c.responses[text]; ok {
		return resp, nil
	}
	return &integration.SentimentResponse{Label: "neutral", NeutralScore: 1}, nil
}
