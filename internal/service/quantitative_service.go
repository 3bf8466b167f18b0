package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/facultylens/pipeline-service/internal/models"
	"github.com/facultylens/pipeline-service/internal/repository"
)

// weightSumTolerance absorbs NUMERIC(5,2) rounding when checking that
// criterion weights cover the full 100-point scale.
const weightSumTolerance = 1e-6

// QuantitativeService runs the numeric half of the analysis pipeline:
// per-question cohort medians, per-criterion weighted scores and the raw
// quantitative score for one submission. An inconsistent form (weights not
// summing to 100) fails the task; weights are never renormalized silently.
type QuantitativeService interface {
	Run(ctx context.Context, task *models.BackgroundTask, submissionID string) (*models.StageResult, error)
}

type quantitativeService struct {
	submissionRepo repository.SubmissionRepository
	formRepo       repository.FormRepository
	aggregateRepo  repository.AggregateRepository
	taskRepo       repository.TaskRepository
	taskService    TaskService
	logger         zerolog.Logger
}

func NewQuantitativeService(
	submissionRepo repository.SubmissionRepository,
	formRepo repository.FormRepository,
	aggregateRepo repository.AggregateRepository,
	taskRepo repository.TaskRepository,
	taskService TaskService,
	logger zerolog.Logger,
) QuantitativeService {
	return &quantitativeService{
		submissionRepo: submissionRepo,
		formRepo:       formRepo,
		aggregateRepo:  aggregateRepo,
		taskRepo:       taskRepo,
		taskService:    taskService,
		logger:         logger,
	}
}

func (s *quantitativeService) Run(ctx context.Context, task *models.BackgroundTask, submissionID string) (*models.StageResult, error) {
	startTime := time.Now()

	submission, err := s.submissionRepo.GetByID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load submission: %w", err)
	}

	// A retried task whose previous run already completed the stage is a
	// no-op; the gate below still fires if the other stage finished since.
	if submission.QuantCompletedAt == nil {
		result, err := s.analyze(ctx, task, submission)
		if err != nil || result != nil {
			return result, err
		}

		if err := s.submissionRepo.MarkStageComplete(ctx, submissionID, repository.StageQuantitative); err != nil {
			return nil, fmt.Errorf("failed to mark quantitative stage complete: %w", err)
		}
	}

	if err := s.maybeEnqueueAggregation(ctx, task, submission); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("submission_id", submissionID).
		Dur("duration", time.Since(startTime)).
		Msg("Quantitative analysis complete")

	return &models.StageResult{Total: 1, Processed: 1, Message: "quantitative analysis complete"}, nil
}

// analyze computes and stores the working aggregate. A non-nil StageResult
// with nil error means the run ended early (cancelled).
func (s *quantitativeService) analyze(ctx context.Context, task *models.BackgroundTask, submission *models.EvaluationSubmission) (*models.StageResult, error) {
	questions, err := s.formRepo.QuestionsForSubmission(ctx, submission.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load form questions: %w", err)
	}
	criteria, err := s.formRepo.CriteriaForSubmission(ctx, submission.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load criteria: %w", err)
	}
	scale, err := s.formRepo.LikertScaleForSubmission(ctx, submission.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load likert scale: %w", err)
	}
	answers, err := s.submissionRepo.LikertAnswers(ctx, submission.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load likert answers: %w", err)
	}

	var weightSum float64
	for _, c := range criteria {
		weightSum += c.Weight
	}
	if math.Abs(weightSum-100) > weightSumTolerance {
		return nil, models.Validationf("criterion weights for submission %s sum to %.2f, expected 100", submission.ID, weightSum)
	}

	answerByQuestion := make(map[string]int, len(answers))
	for _, a := range answers {
		answerByQuestion[a.QuestionID] = a.Value
	}

	cohort := submission.Cohort()
	medians := make(map[string]float64)
	perCriterionValues := make(map[string][]float64)

	for _, q := range questions {
		if q.Type != models.QuestionLikert {
			continue
		}

		cancelled, err := s.taskRepo.IsCancellationRequested(ctx, task.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to poll cancellation: %w", err)
		}
		if cancelled {
			return &models.StageResult{Cancelled: true, Message: "quantitative analysis cancelled"}, nil
		}

		values, err := s.submissionRepo.CohortAnswerValues(ctx, cohort, q.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load cohort answers for question %s: %w", q.ID, err)
		}

		normalized := make([]float64, 0, len(values))
		for _, v := range values {
			normalized = append(normalized, normalizeLikert(v, scale))
		}
		medians[q.ID] = median(normalized)

		if v, ok := answerByQuestion[q.ID]; ok && q.CriterionID != nil {
			perCriterionValues[*q.CriterionID] = append(perCriterionValues[*q.CriterionID], normalizeLikert(v, scale))
		}
	}

	perCriterionScores := make(map[string]float64, len(criteria))
	var quantScoreRaw float64
	for _, c := range criteria {
		score := mean(perCriterionValues[c.ID])
		perCriterionScores[c.ID] = score
		quantScoreRaw += score * c.Weight / 100
	}

	working := &models.NumericalAggregate{
		ID:                 uuid.New().String(),
		SubmissionID:       submission.ID,
		PerQuestionMedians: medians,
		PerCriterionScores: perCriterionScores,
		QuantScoreRaw:      quantScoreRaw,
	}
	if err := s.aggregateRepo.SaveWorkingNumerical(ctx, working); err != nil {
		return nil, fmt.Errorf("failed to save working aggregate: %w", err)
	}

	return nil, nil
}

// maybeEnqueueAggregation fires the gate shared with the qualitative stage.
// Exactly one of the two stage runs sees the flip and enqueues aggregation.
func (s *quantitativeService) maybeEnqueueAggregation(ctx context.Context, task *models.BackgroundTask, submission *models.EvaluationSubmission) error {
	flipped, err := s.submissionRepo.GateQuantQualComplete(ctx, submission.ID)
	if err != nil {
		return fmt.Errorf("failed to check stage gate: %w", err)
	}
	if !flipped {
		return nil
	}

	_, err = s.taskService.Enqueue(ctx, EnqueueRequest{
		UniversityID: submission.UniversityID,
		JobType:      models.JobFinalAggregation,
		SubmittedBy:  task.SubmittedBy,
		Parameters:   models.SubmissionJobParams{SubmissionID: submission.ID},
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue final aggregation: %w", err)
	}

	return nil
}

// normalizeLikert maps a raw scale value onto [0,100].
func normalizeLikert(value int, scale *models.LikertScale) float64 {
	if scale.MaxValue == scale.MinValue {
		return 0
	}
	return float64(value-scale.MinValue) / float64(scale.MaxValue-scale.MinValue) * 100
}
