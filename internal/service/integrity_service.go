package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/facultylens/pipeline-service/internal/models"
	"github.com/facultylens/pipeline-service/internal/repository"
	"github.com/facultylens/pipeline-service/internal/service/analyzer"
)

// IntegrityService runs the first pipeline stage: structural and content
// checks that gate a submission's entry into analysis. A failed check flags
// the submission for human review instead of silently dropping it.
type IntegrityService interface {
	Run(ctx context.Context, task *models.BackgroundTask, submissionID string) (*models.StageResult, error)
}

type IntegrityConfig struct {
	RecycledContentThreshold float64
}

type integrityService struct {
	submissionRepo repository.SubmissionRepository
	formRepo       repository.FormRepository
	flagRepo       repository.FlagRepository
	taskService    TaskService
	rabbitMQ       repository.RabbitMQRepository
	similarity     analyzer.TextSimilarity
	config         IntegrityConfig
	logger         zerolog.Logger
}

func NewIntegrityService(
	submissionRepo repository.SubmissionRepository,
	formRepo repository.FormRepository,
	flagRepo repository.FlagRepository,
	taskService TaskService,
	rabbitMQ repository.RabbitMQRepository,
	similarity analyzer.TextSimilarity,
	config IntegrityConfig,
	logger zerolog.Logger,
) IntegrityService {
	return &integrityService{
		submissionRepo: submissionRepo,
		formRepo:       formRepo,
		flagRepo:       flagRepo,
		taskService:    taskService,
		rabbitMQ:       rabbitMQ,
		similarity:     similarity,
		config:         config,
		logger:         logger,
	}
}

func (s *integrityService) Run(ctx context.Context, task *models.BackgroundTask, submissionID string) (*models.StageResult, error) {
	startTime := time.Now()

	submission, err := s.submissionRepo.GetByID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load submission: %w", err)
	}

	// The submission stays submitted until the check passes; a failed check
	// must leave it eligible for re-checking after review.
	if submission.Status != models.SubmissionSubmitted && submission.Status != models.SubmissionProcessing {
		return nil, models.Validationf("submission %s is %s, not eligible for integrity check", submissionID, submission.Status)
	}

	questions, err := s.formRepo.QuestionsForSubmission(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load form questions: %w", err)
	}
	scale, err := s.formRepo.LikertScaleForSubmission(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load likert scale: %w", err)
	}
	likert, err := s.submissionRepo.LikertAnswers(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load likert answers: %w", err)
	}
	open, err := s.submissionRepo.OpenEndedAnswers(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load open-ended answers: %w", err)
	}

	details := s.checkCompleteness(questions, scale, likert, open)
	reason := models.ReasonIncompleteSubmission

	if details == nil {
		details, err = s.checkRecycledContent(ctx, submission, open)
		if err != nil {
			return nil, err
		}
		reason = models.ReasonRecycledContent
	}

	if details != nil {
		if err := s.fail(ctx, submission, reason, details); err != nil {
			return nil, err
		}

		s.logger.Warn().
			Str("submission_id", submissionID).
			Str("reason", reason.String()).
			Dur("duration", time.Since(startTime)).
			Msg("Integrity check failed")

		return &models.StageResult{
			Total:     1,
			Processed: 1,
			Message:   fmt.Sprintf("integrity check failed: %s", reason),
		}, nil
	}

	if err := s.submissionRepo.SetIntegrityStatus(ctx, submissionID, models.IntegrityCompleted); err != nil {
		return nil, fmt.Errorf("failed to record integrity result: %w", err)
	}
	if submission.Status == models.SubmissionSubmitted {
		if _, err := s.submissionRepo.SetStatusIf(ctx, submissionID, models.SubmissionSubmitted, models.SubmissionProcessing); err != nil {
			return nil, fmt.Errorf("failed to mark submission processing: %w", err)
		}
	}

	// Both analysis stages start from a passed check; they run independently
	// and the ledger serializes nothing between them.
	params := models.SubmissionJobParams{SubmissionID: submissionID}
	for _, jobType := range []models.JobType{models.JobQuantitativeAnalysis, models.JobQualitativeAnalysis} {
		if _, err := s.taskService.Enqueue(ctx, EnqueueRequest{
			UniversityID: submission.UniversityID,
			JobType:      jobType,
			SubmittedBy:  task.SubmittedBy,
			Parameters:   params,
		}); err != nil {
			return nil, fmt.Errorf("failed to enqueue %s: %w", jobType, err)
		}
	}

	s.logger.Info().
		Str("submission_id", submissionID).
		Dur("duration", time.Since(startTime)).
		Msg("Integrity check passed")

	return &models.StageResult{Total: 1, Processed: 1, Message: "integrity check passed"}, nil
}

// checkCompleteness verifies required coverage, scale bounds and word-count
// constraints. Returns nil when everything holds.
func (s *integrityService) checkCompleteness(questions []models.EvaluationQuestion, scale *models.LikertScale, likert []models.LikertAnswer, open []models.OpenEndedAnswer) *models.FlagDetails {
	likertByQuestion := make(map[string]models.LikertAnswer, len(likert))
	for _, a := range likert {
		likertByQuestion[a.QuestionID] = a
	}
	openByQuestion := make(map[string]models.OpenEndedAnswer, len(open))
	for _, a := range open {
		openByQuestion[a.QuestionID] = a
	}

	var missing []string
	var messages []string

	for _, q := range questions {
		switch q.Type {
		case models.QuestionLikert:
			answer, ok := likertByQuestion[q.ID]
			if !ok {
				if q.IsRequired {
					missing = append(missing, q.ID)
				}
				continue
			}
			if answer.Value < scale.MinValue || answer.Value > scale.MaxValue {
				messages = append(messages, fmt.Sprintf("question %s: answer %d outside scale [%d,%d]", q.ID, answer.Value, scale.MinValue, scale.MaxValue))
			}

		case models.QuestionOpenEnded:
			answer, ok := openByQuestion[q.ID]
			if !ok || strings.TrimSpace(answer.Text) == "" {
				if q.IsRequired {
					missing = append(missing, q.ID)
				}
				continue
			}
			words := len(strings.Fields(answer.Text))
			if q.MinWordCount != nil && words < *q.MinWordCount {
				messages = append(messages, fmt.Sprintf("question %s: %d words, minimum is %d", q.ID, words, *q.MinWordCount))
			}
			if q.MaxWordCount != nil && words > *q.MaxWordCount {
				messages = append(messages, fmt.Sprintf("question %s: %d words, maximum is %d", q.ID, words, *q.MaxWordCount))
			}
		}
	}

	if len(missing) == 0 && len(messages) == 0 {
		return nil
	}

	return &models.FlagDetails{
		MissingQuestionIDs: missing,
		Message:            strings.Join(messages, "; "),
	}
}

// checkRecycledContent compares each open-ended answer against the
// evaluator's answers in other submissions.
func (s *integrityService) checkRecycledContent(ctx context.Context, submission *models.EvaluationSubmission, open []models.OpenEndedAnswer) (*models.FlagDetails, error) {
	if len(open) == 0 {
		return nil, nil
	}

	history, err := s.submissionRepo.EvaluatorAnswerHistory(ctx, submission.EvaluatorID, submission.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load evaluator answer history: %w", err)
	}
	if len(history) == 0 {
		return nil, nil
	}

	for _, answer := range open {
		_, score := s.similarity.BestMatch(answer.Text, history)
		if score >= s.config.RecycledContentThreshold {
			return &models.FlagDetails{
				Similarity: score,
				Message:    fmt.Sprintf("open-ended answer for question %s matches prior content", answer.QuestionID),
			}, nil
		}
	}

	return nil, nil
}

func (s *integrityService) fail(ctx context.Context, submission *models.EvaluationSubmission, reason models.FlagReason, details *models.FlagDetails) error {
	if err := s.submissionRepo.SetIntegrityStatus(ctx, submission.ID, models.IntegrityFailed); err != nil {
		return fmt.Errorf("failed to record integrity result: %w", err)
	}

	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal flag details: %w", err)
	}

	flag := &models.FlaggedEvaluation{
		ID:           uuid.New().String(),
		SubmissionID: submission.ID,
		Reason:       reason,
		Details:      raw,
		Status:       models.FlagPending,
	}
	if err := s.flagRepo.Create(ctx, flag); err != nil {
		return fmt.Errorf("failed to create flag: %w", err)
	}

	event := models.SubmissionFlaggedEvent{
		SubmissionID: submission.ID,
		FlagID:       flag.ID,
		Reason:       reason,
		FlaggedAt:    time.Now(),
	}
	if err := s.rabbitMQ.PublishSubmissionFlagged(ctx, event); err != nil {
		s.logger.Error().Err(err).
			Str("submission_id", submission.ID).
			Msg("Failed to publish submission flagged event")
	}

	return nil
}
