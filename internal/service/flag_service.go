package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/facultylens/pipeline-service/internal/models"
	"github.com/facultylens/pipeline-service/internal/repository"
)

// FlagService owns the review workflow: resolving pending flags and
// admitting resubmissions for flags resolved with resubmission_requested.
type FlagService interface {
	Get(ctx context.Context, id string) (*models.FlaggedEvaluation, error)
	ListPending(ctx context.Context, limit, offset int) ([]*models.FlaggedEvaluation, error)
	Resolve(ctx context.Context, flagID string, resolution models.FlagResolution, resolvedBy, adminNotes string) (*models.FlaggedEvaluation, error)
	Resubmit(ctx context.Context, originalSubmissionID string, req ResubmitRequest) (*models.EvaluationSubmission, error)
}

type FlagConfig struct {
	ResubmissionGracePeriod time.Duration
}

// ResubmitRequest carries the replacement submission's answers.
type ResubmitRequest struct {
	SubmittedBy string
	Likert      []LikertAnswerInput
	OpenEnded   []OpenEndedAnswerInput
}

type LikertAnswerInput struct {
	QuestionID string `json:"question_id"`
	Value      int    `json:"value"`
}

type OpenEndedAnswerInput struct {
	QuestionID string `json:"question_id"`
	Text       string `json:"text"`
}

type flagService struct {
	flagRepo       repository.FlagRepository
	submissionRepo repository.SubmissionRepository
	periodRepo     repository.PeriodRepository
	taskService    TaskService
	config         FlagConfig
	logger         zerolog.Logger
	now            func() time.Time
}

func NewFlagService(
	flagRepo repository.FlagRepository,
	submissionRepo repository.SubmissionRepository,
	periodRepo repository.PeriodRepository,
	taskService TaskService,
	config FlagConfig,
	logger zerolog.Logger,
) FlagService {
	return &flagService{
		flagRepo:       flagRepo,
		submissionRepo: submissionRepo,
		periodRepo:     periodRepo,
		taskService:    taskService,
		config:         config,
		logger:         logger,
		now:            time.Now,
	}
}

func (s *flagService) Get(ctx context.Context, id string) (*models.FlaggedEvaluation, error) {
	return s.flagRepo.GetByID(ctx, id)
}

func (s *flagService) ListPending(ctx context.Context, limit, offset int) ([]*models.FlaggedEvaluation, error) {
	return s.flagRepo.ListByStatus(ctx, models.FlagPending, limit, offset)
}

// Resolve applies exactly one resolution to a pending flag, then performs
// the submission-side effect for it: approved resumes the analysis pipeline,
// archived shelves the submission, resubmission_requested invalidates it and
// opens the grace window.
func (s *flagService) Resolve(ctx context.Context, flagID string, resolution models.FlagResolution, resolvedBy, adminNotes string) (*models.FlaggedEvaluation, error) {
	if !resolution.Valid() {
		return nil, models.Validationf("unknown flag resolution %q", resolution)
	}

	var gracePeriodEndsAt *time.Time
	if resolution == models.ResolutionResubmissionRequested {
		deadline := s.now().Add(s.config.ResubmissionGracePeriod)
		gracePeriodEndsAt = &deadline
	}

	flag, err := s.flagRepo.Resolve(ctx, flagID, resolution, resolvedBy, adminNotes, gracePeriodEndsAt)
	if err != nil {
		return nil, err
	}

	submission, err := s.submissionRepo.GetByID(ctx, flag.SubmissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load flagged submission: %w", err)
	}

	switch resolution {
	case models.ResolutionApproved:
		if err := s.approve(ctx, submission, resolvedBy); err != nil {
			return nil, err
		}

	case models.ResolutionArchived:
		if _, err := s.submissionRepo.SetStatusIf(ctx, submission.ID, submission.Status, models.SubmissionArchived); err != nil {
			return nil, fmt.Errorf("failed to archive submission: %w", err)
		}

	case models.ResolutionResubmissionRequested:
		if _, err := s.submissionRepo.SetStatusIf(ctx, submission.ID, submission.Status, models.SubmissionInvalidated); err != nil {
			return nil, fmt.Errorf("failed to invalidate submission: %w", err)
		}
	}

	s.logger.Info().
		Str("flag_id", flagID).
		Str("submission_id", flag.SubmissionID).
		Str("resolution", resolution.String()).
		Msg("Flag resolved")

	return flag, nil
}

// approve overrides the failed integrity verdict and resumes the pipeline
// where a passing check would have left it.
func (s *flagService) approve(ctx context.Context, submission *models.EvaluationSubmission, resolvedBy string) error {
	if err := s.submissionRepo.SetIntegrityStatus(ctx, submission.ID, models.IntegrityCompleted); err != nil {
		return fmt.Errorf("failed to override integrity status: %w", err)
	}
	if submission.Status == models.SubmissionSubmitted {
		if _, err := s.submissionRepo.SetStatusIf(ctx, submission.ID, models.SubmissionSubmitted, models.SubmissionProcessing); err != nil {
			return fmt.Errorf("failed to mark submission processing: %w", err)
		}
	}

	params := models.SubmissionJobParams{SubmissionID: submission.ID}
	for _, jobType := range []models.JobType{models.JobQuantitativeAnalysis, models.JobQualitativeAnalysis} {
		if _, err := s.taskService.Enqueue(ctx, EnqueueRequest{
			UniversityID: submission.UniversityID,
			JobType:      jobType,
			SubmittedBy:  resolvedBy,
			Parameters:   params,
		}); err != nil {
			return fmt.Errorf("failed to enqueue %s: %w", jobType, err)
		}
	}

	return nil
}

// Resubmit creates the replacement for an invalidated submission. Only valid
// while the grace window from the flag resolution is open, and only while
// the period still accepts submissions.
func (s *flagService) Resubmit(ctx context.Context, originalSubmissionID string, req ResubmitRequest) (*models.EvaluationSubmission, error) {
	original, err := s.submissionRepo.GetByID(ctx, originalSubmissionID)
	if err != nil {
		return nil, err
	}

	flag, err := s.flagRepo.GetBySubmission(ctx, originalSubmissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load flag for submission: %w", err)
	}
	if flag.Status != models.FlagResolved || flag.Resolution == nil || *flag.Resolution != models.ResolutionResubmissionRequested {
		return nil, models.Validationf("submission %s has no resubmission request", originalSubmissionID)
	}
	if flag.GracePeriodEndsAt == nil || s.now().After(*flag.GracePeriodEndsAt) {
		return nil, models.ErrGracePeriodExpired
	}

	period, err := s.periodRepo.GetByID(ctx, original.PeriodID)
	if err != nil {
		return nil, fmt.Errorf("failed to load period: %w", err)
	}
	if period.Status != models.PeriodActive {
		return nil, models.ErrPeriodNotActive
	}

	if err := s.validateChain(ctx, original); err != nil {
		return nil, err
	}

	replacement := &models.EvaluationSubmission{
		ID:                   uuid.New().String(),
		UniversityID:         original.UniversityID,
		PeriodID:             original.PeriodID,
		EvaluatorID:          original.EvaluatorID,
		EvaluateeID:          original.EvaluateeID,
		SubjectOfferingID:    original.SubjectOfferingID,
		Status:               models.SubmissionSubmitted,
		IntegrityStatus:      models.IntegrityPending,
		AnalysisStatus:       models.AnalysisPending,
		SubmittedAt:          s.now(),
		IsResubmission:       true,
		OriginalSubmissionID: &originalSubmissionID,
	}

	likert := make([]models.LikertAnswer, 0, len(req.Likert))
	for _, a := range req.Likert {
		likert = append(likert, models.LikertAnswer{
			ID:           uuid.New().String(),
			SubmissionID: replacement.ID,
			QuestionID:   a.QuestionID,
			Value:        a.Value,
		})
	}
	open := make([]models.OpenEndedAnswer, 0, len(req.OpenEnded))
	for _, a := range req.OpenEnded {
		open = append(open, models.OpenEndedAnswer{
			ID:           uuid.New().String(),
			SubmissionID: replacement.ID,
			QuestionID:   a.QuestionID,
			Text:         a.Text,
		})
	}

	if err := s.submissionRepo.Supersede(ctx, originalSubmissionID, replacement, likert, open); err != nil {
		return nil, err
	}

	if _, err := s.taskService.Enqueue(ctx, EnqueueRequest{
		UniversityID: replacement.UniversityID,
		JobType:      models.JobIntegrityCheck,
		SubmittedBy:  req.SubmittedBy,
		Parameters:   models.SubmissionJobParams{SubmissionID: replacement.ID},
	}); err != nil {
		return nil, fmt.Errorf("failed to enqueue integrity check: %w", err)
	}

	s.logger.Info().
		Str("original_submission_id", originalSubmissionID).
		Str("replacement_id", replacement.ID).
		Msg("Resubmission accepted")

	return replacement, nil
}

// validateChain walks the supersession chain from the original backwards,
// refusing a cyclic link. A cycle cannot be created through Supersede, so
// finding one means the data was corrupted externally.
func (s *flagService) validateChain(ctx context.Context, submission *models.EvaluationSubmission) error {
	visited := map[string]bool{submission.ID: true}
	current := submission

	for current.OriginalSubmissionID != nil {
		next := *current.OriginalSubmissionID
		if visited[next] {
			return models.Consistencyf("submission", submission.ID, "cyclic resubmission chain via %s", next)
		}
		visited[next] = true

		prev, err := s.submissionRepo.GetByID(ctx, next)
		if err != nil {
			return fmt.Errorf("failed to walk resubmission chain: %w", err)
		}
		current = prev
	}

	return nil
}
