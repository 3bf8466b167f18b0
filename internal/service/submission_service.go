package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/facultylens/pipeline-service/internal/models"
	"github.com/facultylens/pipeline-service/internal/repository"
)

// SubmissionService is the intake hook: it records a submission handed over
// by the upstream collection system and starts its pipeline.
type SubmissionService interface {
	Process(ctx context.Context, submissionID string, req ProcessSubmissionRequest) (*models.EvaluationSubmission, error)
	Get(ctx context.Context, id string) (*models.EvaluationSubmission, error)
}

type ProcessSubmissionRequest struct {
	UniversityID      string                 `json:"university_id"`
	PeriodID          string                 `json:"period_id"`
	EvaluatorID       string                 `json:"evaluator_id"`
	EvaluateeID       string                 `json:"evaluatee_id"`
	SubjectOfferingID string                 `json:"subject_offering_id"`
	SubmittedAt       time.Time              `json:"submitted_at"`
	Likert            []LikertAnswerInput    `json:"likert_answers"`
	OpenEnded         []OpenEndedAnswerInput `json:"open_ended_answers"`
}

type submissionService struct {
	submissionRepo repository.SubmissionRepository
	periodRepo     repository.PeriodRepository
	taskService    TaskService
	logger         zerolog.Logger
	now            func() time.Time
}

func NewSubmissionService(
	submissionRepo repository.SubmissionRepository,
	periodRepo repository.PeriodRepository,
	taskService TaskService,
	logger zerolog.Logger,
) SubmissionService {
	return &submissionService{
		submissionRepo: submissionRepo,
		periodRepo:     periodRepo,
		taskService:    taskService,
		logger:         logger,
		now:            time.Now,
	}
}

func (s *submissionService) Process(ctx context.Context, submissionID string, req ProcessSubmissionRequest) (*models.EvaluationSubmission, error) {
	if submissionID == "" {
		submissionID = uuid.New().String()
	}
	if req.UniversityID == "" || req.PeriodID == "" || req.EvaluatorID == "" || req.EvaluateeID == "" || req.SubjectOfferingID == "" {
		return nil, models.Validationf("university_id, period_id, evaluator_id, evaluatee_id and subject_offering_id are required")
	}

	period, err := s.periodRepo.GetByID(ctx, req.PeriodID)
	if err != nil {
		return nil, fmt.Errorf("failed to load period: %w", err)
	}
	if !period.AcceptsSubmissions(s.now()) {
		return nil, models.ErrPeriodNotActive
	}

	submittedAt := req.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = s.now()
	}

	submission := &models.EvaluationSubmission{
		ID:                submissionID,
		UniversityID:      req.UniversityID,
		PeriodID:          req.PeriodID,
		EvaluatorID:       req.EvaluatorID,
		EvaluateeID:       req.EvaluateeID,
		SubjectOfferingID: req.SubjectOfferingID,
		Status:            models.SubmissionSubmitted,
		IntegrityStatus:   models.IntegrityPending,
		AnalysisStatus:    models.AnalysisPending,
		SubmittedAt:       submittedAt,
	}

	likert := make([]models.LikertAnswer, 0, len(req.Likert))
	for _, a := range req.Likert {
		likert = append(likert, models.LikertAnswer{
			ID:           uuid.New().String(),
			SubmissionID: submission.ID,
			QuestionID:   a.QuestionID,
			Value:        a.Value,
		})
	}
	open := make([]models.OpenEndedAnswer, 0, len(req.OpenEnded))
	for _, a := range req.OpenEnded {
		open = append(open, models.OpenEndedAnswer{
			ID:           uuid.New().String(),
			SubmissionID: submission.ID,
			QuestionID:   a.QuestionID,
			Text:         a.Text,
		})
	}

	if err := s.submissionRepo.Create(ctx, submission, likert, open); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, models.Validationf("an active submission already exists for this evaluator, evaluatee and offering in period %s", req.PeriodID)
		}
		return nil, fmt.Errorf("failed to create submission: %w", err)
	}

	if _, err := s.taskService.Enqueue(ctx, EnqueueRequest{
		UniversityID: req.UniversityID,
		JobType:      models.JobIntegrityCheck,
		SubmittedBy:  req.EvaluatorID,
		Parameters:   models.SubmissionJobParams{SubmissionID: submission.ID},
	}); err != nil {
		return nil, fmt.Errorf("failed to enqueue integrity check: %w", err)
	}

	s.logger.Info().
		Str("submission_id", submission.ID).
		Str("period_id", req.PeriodID).
		Msg("Submission accepted for processing")

	return submission, nil
}

func (s *submissionService) Get(ctx context.Context, id string) (*models.EvaluationSubmission, error) {
	return s.submissionRepo.GetByID(ctx, id)
}
