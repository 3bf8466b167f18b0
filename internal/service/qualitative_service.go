package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/facultylens/pipeline-service/internal/models"
	"github.com/facultylens/pipeline-service/internal/repository"
	"github.com/facultylens/pipeline-service/internal/service/integration"
)

// QualitativeService runs sentiment and keyword inference over a
// submission's open-ended answers. Each answer is an independent unit of
// work: one failed inference is recorded and skipped, the rest of the batch
// continues.
type QualitativeService interface {
	Run(ctx context.Context, task *models.BackgroundTask, submissionID string) (*models.StageResult, error)
}

type qualitativeService struct {
	submissionRepo repository.SubmissionRepository
	analysisRepo   repository.AnalysisRepository
	taskRepo       repository.TaskRepository
	taskService    TaskService
	sentiment      integration.SentimentClient
	logger         zerolog.Logger
}

func NewQualitativeService(
	submissionRepo repository.SubmissionRepository,
	analysisRepo repository.AnalysisRepository,
	taskRepo repository.TaskRepository,
	taskService TaskService,
	sentiment integration.SentimentClient,
	logger zerolog.Logger,
) QualitativeService {
	return &qualitativeService{
		submissionRepo: submissionRepo,
		analysisRepo:   analysisRepo,
		taskRepo:       taskRepo,
		taskService:    taskService,
		sentiment:      sentiment,
		logger:         logger,
	}
}

func (s *qualitativeService) Run(ctx context.Context, task *models.BackgroundTask, submissionID string) (*models.StageResult, error) {
	startTime := time.Now()

	submission, err := s.submissionRepo.GetByID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load submission: %w", err)
	}

	result := &models.StageResult{Message: "qualitative analysis complete"}

	if submission.QualCompletedAt == nil {
		answers, err := s.submissionRepo.OpenEndedAnswers(ctx, submissionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load open-ended answers: %w", err)
		}
		result.Total = len(answers)

		for i, answer := range answers {
			cancelled, err := s.taskRepo.IsCancellationRequested(ctx, task.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to poll cancellation: %w", err)
			}
			if cancelled {
				result.Cancelled = true
				result.Message = "qualitative analysis cancelled"
				return result, nil
			}

			if err := s.analyzeAnswer(ctx, answer); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				result.Failed++
				s.logger.Warn().Err(err).
					Str("submission_id", submissionID).
					Str("answer_id", answer.ID).
					Msg("Sentiment analysis failed for answer")
				continue
			}
			result.Processed++

			if err := s.taskRepo.UpdateProgress(ctx, task.ID, (i+1)*100/len(answers), result.Total, result.Processed, result.Failed); err != nil {
				s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to update task progress")
			}
		}

		if result.Failed > 0 {
			result.Message = fmt.Sprintf("qualitative analysis finished with %d of %d answers failed", result.Failed, result.Total)
		}

		if err := s.submissionRepo.MarkStageComplete(ctx, submissionID, repository.StageQualitative); err != nil {
			return nil, fmt.Errorf("failed to mark qualitative stage complete: %w", err)
		}
	}

	if err := s.maybeEnqueueAggregation(ctx, task, submission); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("submission_id", submissionID).
		Int("analyzed", result.Processed).
		Int("failed", result.Failed).
		Dur("duration", time.Since(startTime)).
		Msg("Qualitative analysis complete")

	return result, nil
}

func (s *qualitativeService) analyzeAnswer(ctx context.Context, answer models.OpenEndedAnswer) error {
	resp, err := s.sentiment.Analyze(ctx, answer.Text)
	if err != nil {
		return err
	}

	sentiment := &models.AnswerSentiment{
		ID:            uuid.New().String(),
		AnswerID:      answer.ID,
		Label:         models.SentimentLabel(resp.Label),
		LabelScore:    resp.LabelScore,
		PositiveScore: resp.PositiveScore,
		NeutralScore:  resp.NeutralScore,
		NegativeScore: resp.NegativeScore,
	}

	keywords := make([]models.AnswerKeyword, 0, len(resp.Keywords))
	for _, kw := range resp.Keywords {
		keywords = append(keywords, models.AnswerKeyword{
			ID:        uuid.New().String(),
			AnswerID:  answer.ID,
			Keyword:   kw.Text,
			Relevance: kw.Relevance,
		})
	}

	return s.analysisRepo.SaveAnswerAnalysis(ctx, sentiment, keywords)
}

func (s *qualitativeService) maybeEnqueueAggregation(ctx context.Context, task *models.BackgroundTask, submission *models.EvaluationSubmission) error {
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
