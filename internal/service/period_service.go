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

// PeriodService drives the evaluation period state machine. Cancellation is
// deliberately a background job, not an inline API call: draining in-flight
// work can take as long as the slowest running task.
type PeriodService interface {
	Create(ctx context.Context, req CreatePeriodRequest) (*models.EvaluationPeriod, error)
	Get(ctx context.Context, id string) (*models.EvaluationPeriod, error)
	Activate(ctx context.Context, id string) (*models.EvaluationPeriod, error)
	Close(ctx context.Context, id string) (*models.EvaluationPeriod, error)
	Cancel(ctx context.Context, id, requestedBy string) (*models.EvaluationPeriod, error)
	RunCancellation(ctx context.Context, task *models.BackgroundTask, periodID string) (*models.StageResult, error)
	Sweep(ctx context.Context) error
}

type CreatePeriodRequest struct {
	UniversityID       string    `json:"university_id"`
	SchoolTermID       string    `json:"school_term_id"`
	AssessmentPeriodID string    `json:"assessment_period_id"`
	FormTemplateID     string    `json:"form_template_id"`
	StartAt            time.Time `json:"start_at"`
	EndAt              time.Time `json:"end_at"`
}

type PeriodConfig struct {
	CancellationPollInterval time.Duration
}

type periodService struct {
	periodRepo     repository.PeriodRepository
	submissionRepo repository.SubmissionRepository
	taskRepo       repository.TaskRepository
	taskService    TaskService
	rabbitMQ       repository.RabbitMQRepository
	config         PeriodConfig
	logger         zerolog.Logger
	now            func() time.Time
}

func NewPeriodService(
	periodRepo repository.PeriodRepository,
	submissionRepo repository.SubmissionRepository,
	taskRepo repository.TaskRepository,
	taskService TaskService,
	rabbitMQ repository.RabbitMQRepository,
	config PeriodConfig,
	logger zerolog.Logger,
) PeriodService {
	return &periodService{
		periodRepo:     periodRepo,
		submissionRepo: submissionRepo,
		taskRepo:       taskRepo,
		taskService:    taskService,
		rabbitMQ:       rabbitMQ,
		config:         config,
		logger:         logger,
		now:            time.Now,
	}
}

func (s *periodService) Create(ctx context.Context, req CreatePeriodRequest) (*models.EvaluationPeriod, error) {
	if req.UniversityID == "" || req.SchoolTermID == "" || req.AssessmentPeriodID == "" || req.FormTemplateID == "" {
		return nil, models.Validationf("university_id, school_term_id, assessment_period_id and form_template_id are required")
	}
	if !req.EndAt.After(req.StartAt) {
		return nil, models.Validationf("period end must come after its start")
	}

	period := &models.EvaluationPeriod{
		ID:                 uuid.New().String(),
		UniversityID:       req.UniversityID,
		SchoolTermID:       req.SchoolTermID,
		AssessmentPeriodID: req.AssessmentPeriodID,
		FormTemplateID:     req.FormTemplateID,
		StartAt:            req.StartAt,
		EndAt:              req.EndAt,
		Status:             models.PeriodScheduled,
	}

	if err := s.periodRepo.Create(ctx, period); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("period_id", period.ID).
		Str("university_id", period.UniversityID).
		Time("start_at", period.StartAt).
		Time("end_at", period.EndAt).
		Msg("Evaluation period created")

	return period, nil
}

func (s *periodService) Get(ctx context.Context, id string) (*models.EvaluationPeriod, error) {
	return s.periodRepo.GetByID(ctx, id)
}

// Activate is time-gated and idempotent: activating an already-active
// period is a no-op, not an error.
func (s *periodService) Activate(ctx context.Context, id string) (*models.EvaluationPeriod, error) {
	period, err := s.periodRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if period.Status == models.PeriodActive {
		return period, nil
	}
	if period.Status != models.PeriodScheduled {
		return nil, &models.InvalidTransition{Entity: "evaluation period", From: period.Status.String(), To: models.PeriodActive.String()}
	}
	if s.now().Before(period.StartAt) {
		return nil, models.Validationf("period %s does not start until %s", id, period.StartAt.Format(time.RFC3339))
	}

	if _, err := s.periodRepo.SetStatusIf(ctx, id, models.PeriodScheduled, models.PeriodActive); err != nil {
		return nil, err
	}

	s.logger.Info().Str("period_id", id).Msg("Evaluation period activated")
	return s.periodRepo.GetByID(ctx, id)
}

func (s *periodService) Close(ctx context.Context, id string) (*models.EvaluationPeriod, error) {
	period, err := s.periodRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if period.Status == models.PeriodClosed {
		return period, nil
	}
	if period.Status != models.PeriodActive {
		return nil, &models.InvalidTransition{Entity: "evaluation period", From: period.Status.String(), To: models.PeriodClosed.String()}
	}

	if _, err := s.periodRepo.SetStatusIf(ctx, id, models.PeriodActive, models.PeriodClosed); err != nil {
		return nil, err
	}

	s.logger.Info().Str("period_id", id).Msg("Evaluation period closed")
	return s.periodRepo.GetByID(ctx, id)
}

// Cancel flips the period to cancelling and enqueues the drain job. Calling
// it again while the drain runs, or after it finished, changes nothing.
func (s *periodService) Cancel(ctx context.Context, id, requestedBy string) (*models.EvaluationPeriod, error) {
	period, err := s.periodRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch period.Status {
	case models.PeriodCancelling, models.PeriodCancelled:
		return period, nil
	case models.PeriodActive, models.PeriodClosed:
	default:
		return nil, &models.InvalidTransition{Entity: "evaluation period", From: period.Status.String(), To: models.PeriodCancelling.String()}
	}

	moved, err := s.periodRepo.SetStatusIf(ctx, id, period.Status, models.PeriodCancelling)
	if err != nil {
		return nil, err
	}
	if moved {
		if _, err := s.taskService.Enqueue(ctx, EnqueueRequest{
			UniversityID: period.UniversityID,
			JobType:      models.JobPeriodCancellation,
			SubmittedBy:  requestedBy,
			Parameters:   models.PeriodCancellationParams{PeriodID: id},
		}); err != nil {
			return nil, fmt.Errorf("failed to enqueue period cancellation: %w", err)
		}
	}

	s.logger.Info().Str("period_id", id).Msg("Evaluation period cancellation started")
	return s.periodRepo.GetByID(ctx, id)
}

// RunCancellation is the drain job: ask every in-flight task touching the
// period to stop, wait for them, cancel the period's non-terminal
// submissions, then flip the period to cancelled. Every step tolerates
// having already happened, so a reclaimed or re-run job converges.
func (s *periodService) RunCancellation(ctx context.Context, task *models.BackgroundTask, periodID string) (*models.StageResult, error) {
	period, err := s.periodRepo.GetByID(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if period.Status == models.PeriodCancelled {
		return &models.StageResult{Message: "period already cancelled"}, nil
	}
	if period.Status != models.PeriodCancelling {
		return nil, models.Validationf("period %s is %s, cancellation drain requires cancelling", periodID, period.Status)
	}

	inFlight, err := s.taskRepo.ListInFlightForPeriod(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to list in-flight tasks: %w", err)
	}

	for _, t := range inFlight {
		if _, err := s.taskRepo.RequestCancellation(ctx, t.ID); err != nil {
			return nil, fmt.Errorf("failed to request cancellation of task %s: %w", t.ID, err)
		}
	}

	cancelledTasks := len(inFlight)
	drained, err := s.waitForDrain(ctx, task, periodID)
	if err != nil {
		return nil, err
	}
	if !drained {
		return &models.StageResult{Cancelled: true, Message: "period cancellation drain was itself cancelled"}, nil
	}

	cancelledSubmissions, err := s.submissionRepo.CancelNonTerminalByPeriod(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel period submissions: %w", err)
	}

	if _, err := s.periodRepo.SetStatusIf(ctx, periodID, models.PeriodCancelling, models.PeriodCancelled); err != nil {
		return nil, fmt.Errorf("failed to mark period cancelled: %w", err)
	}

	event := models.PeriodCancelledEvent{
		PeriodID:       periodID,
		CancelledTasks: cancelledTasks,
		CancelledAt:    s.now(),
	}
	if err := s.rabbitMQ.PublishPeriodCancelled(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("period_id", periodID).Msg("Failed to publish period cancelled event")
	}

	s.logger.Info().
		Str("period_id", periodID).
		Int("cancelled_tasks", cancelledTasks).
		Int("cancelled_submissions", cancelledSubmissions).
		Msg("Evaluation period cancelled")

	return &models.StageResult{
		Total:     cancelledTasks + cancelledSubmissions,
		Processed: cancelledTasks + cancelledSubmissions,
		Message:   fmt.Sprintf("cancelled %d tasks and %d submissions", cancelledTasks, cancelledSubmissions),
	}, nil
}

// waitForDrain polls until no in-flight task remains for the period,
// returning false if the drain job was itself asked to stop.
func (s *periodService) waitForDrain(ctx context.Context, task *models.BackgroundTask, periodID string) (bool, error) {
	interval := s.config.CancellationPollInterval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		inFlight, err := s.taskRepo.ListInFlightForPeriod(ctx, periodID)
		if err != nil {
			return false, fmt.Errorf("failed to poll in-flight tasks: %w", err)
		}
		if len(inFlight) == 0 {
			return true, nil
		}

		cancelled, err := s.taskRepo.IsCancellationRequested(ctx, task.ID)
		if err != nil {
			return false, fmt.Errorf("failed to poll own cancellation: %w", err)
		}
		if cancelled {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep moves periods across time boundaries: scheduled periods whose start
// has passed become active, active periods past their end close.
func (s *periodService) Sweep(ctx context.Context) error {
	now := s.now()

	due, err := s.periodRepo.DueForActivation(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list periods due for activation: %w", err)
	}
	for _, period := range due {
		if _, err := s.periodRepo.SetStatusIf(ctx, period.ID, models.PeriodScheduled, models.PeriodActive); err != nil {
			return err
		}
		s.logger.Info().Str("period_id", period.ID).Msg("Evaluation period activated by sweep")
	}

	closing, err := s.periodRepo.DueForClose(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list periods due for close: %w", err)
	}
	for _, period := range closing {
		if _, err := s.periodRepo.SetStatusIf(ctx, period.ID, models.PeriodActive, models.PeriodClosed); err != nil {
			return err
		}
		s.logger.Info().Str("period_id", period.ID).Msg("Evaluation period closed by sweep")
	}

	return nil
}
