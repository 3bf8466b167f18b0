package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/facultylens/pipeline-service/internal/models"
	"github.com/facultylens/pipeline-service/internal/repository"
)

// TaskService is the front door of the job ledger. Every background job in
// the system enters through Enqueue, which records the ledger row before the
// dispatch event goes out: a worker that receives the event can always find
// the row.
type TaskService interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*models.BackgroundTask, error)
	Get(ctx context.Context, id string) (*models.BackgroundTask, error)
	RequestCancellation(ctx context.Context, id string) (models.TaskStatus, error)
}

type EnqueueRequest struct {
	UniversityID string
	JobType      models.JobType
	SubmittedBy  string
	Parameters   interface{}
}

type taskService struct {
	taskRepo repository.TaskRepository
	rabbitMQ repository.RabbitMQRepository
	logger   zerolog.Logger
}

func NewTaskService(taskRepo repository.TaskRepository, rabbitMQ repository.RabbitMQRepository, logger zerolog.Logger) TaskService {
	return &taskService{
		taskRepo: taskRepo,
		rabbitMQ: rabbitMQ,
		logger:   logger,
	}
}

func (s *taskService) Enqueue(ctx context.Context, req EnqueueRequest) (*models.BackgroundTask, error) {
	if !req.JobType.Valid() {
		return nil, models.Validationf("unknown job type %q", req.JobType)
	}
	if req.UniversityID == "" {
		return nil, models.Validationf("university_id is required")
	}

	task := &models.BackgroundTask{
		ID:           uuid.New().String(),
		UniversityID: req.UniversityID,
		JobType:      req.JobType,
		Status:       models.TaskQueued,
		SubmittedBy:  req.SubmittedBy,
	}

	if err := s.bindParameters(task, req.Parameters); err != nil {
		return nil, err
	}

	if err := s.taskRepo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	event := models.TaskQueuedEvent{
		TaskID:       task.ID,
		JobType:      task.JobType,
		UniversityID: task.UniversityID,
		Timestamp:    time.Now().Unix(),
	}
	if err := s.rabbitMQ.PublishTaskQueued(ctx, event); err != nil {
		// The row exists, so the orphan reclaim loop will still pick the
		// task up; losing the event only delays it.
		s.logger.Error().Err(err).
			Str("task_id", task.ID).
			Str("job_type", task.JobType.String()).
			Msg("Failed to publish task queued event")
	}

	s.logger.Info().
		Str("task_id", task.ID).
		Str("job_type", task.JobType.String()).
		Str("university_id", task.UniversityID).
		Msg("Task enqueued")

	return task, nil
}

// bindParameters validates the payload against the job type and denormalizes
// the target ids onto the ledger row, so period teardown can find in-flight
// work without parsing JSON in SQL.
func (s *taskService) bindParameters(task *models.BackgroundTask, params interface{}) error {
	switch task.JobType {
	case models.JobIntegrityCheck, models.JobQuantitativeAnalysis, models.JobQualitativeAnalysis, models.JobFinalAggregation:
		p, ok := params.(models.SubmissionJobParams)
		if !ok || p.SubmissionID == "" {
			return models.Validationf("%s requires a submission_id parameter", task.JobType)
		}
		task.SubmissionID = &p.SubmissionID

	case models.JobPeriodCancellation:
		p, ok := params.(models.PeriodCancellationParams)
		if !ok || p.PeriodID == "" {
			return models.Validationf("%s requires a period_id parameter", task.JobType)
		}
		task.PeriodID = &p.PeriodID

	case models.JobReportGeneration:
		p, ok := params.(models.ReportGenerationParams)
		if !ok || p.ReportID == "" || p.PeriodID == "" {
			return models.Validationf("%s requires report_id and period_id parameters", task.JobType)
		}
		task.PeriodID = &p.PeriodID

	default:
		return models.Validationf("unknown job type %q", task.JobType)
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal task parameters: %w", err)
	}
	task.Parameters = raw

	return nil
}

func (s *taskService) Get(ctx context.Context, id string) (*models.BackgroundTask, error) {
	return s.taskRepo.GetByID(ctx, id)
}

// RequestCancellation is advisory: a queued task dies immediately, a running
// one is asked to stop and confirms by moving to cancelled itself. The
// returned status tells the caller which of the two happened.
func (s *taskService) RequestCancellation(ctx context.Context, id string) (models.TaskStatus, error) {
	status, err := s.taskRepo.RequestCancellation(ctx, id)
	if err != nil {
		return "", err
	}

	s.logger.Info().
		Str("task_id", id).
		Str("status", status.String()).
		Msg("Task cancellation requested")

	return status, nil
}
