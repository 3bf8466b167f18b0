package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/facultylens/pipeline-service/internal/models"
	"github.com/facultylens/pipeline-service/internal/repository"
)

// AggregationService computes cohort-normalized final scores. Each run
// recomputes the whole cohort: z-scores shift whenever a member joins, so
// every member's final snapshot is replaced in the same transaction.
type AggregationService interface {
	Run(ctx context.Context, task *models.BackgroundTask, submissionID string) (*models.StageResult, error)
}

type AggregationConfig struct {
	QuantWeight                float64
	QualWeight                 float64
	SentimentCoverageThreshold float64
}

type aggregationService struct {
	submissionRepo repository.SubmissionRepository
	aggregateRepo  repository.AggregateRepository
	analysisRepo   repository.AnalysisRepository
	rabbitMQ       repository.RabbitMQRepository
	config         AggregationConfig
	logger         zerolog.Logger
}

func NewAggregationService(
	submissionRepo repository.SubmissionRepository,
	aggregateRepo repository.AggregateRepository,
	analysisRepo repository.AnalysisRepository,
	rabbitMQ repository.RabbitMQRepository,
	config AggregationConfig,
	logger zerolog.Logger,
) AggregationService {
	return &aggregationService{
		submissionRepo: submissionRepo,
		aggregateRepo:  aggregateRepo,
		analysisRepo:   analysisRepo,
		rabbitMQ:       rabbitMQ,
		config:         config,
		logger:         logger,
	}
}

// memberScores holds one cohort member's raw scores before normalization.
type memberScores struct {
	submission  *models.EvaluationSubmission
	working     *models.NumericalAggregate
	avgPositive float64
	avgNeutral  float64
	avgNegative float64
	qualRaw     float64
	covered     bool
}

func (s *aggregationService) Run(ctx context.Context, task *models.BackgroundTask, submissionID string) (*models.StageResult, error) {
	startTime := time.Now()

	submission, err := s.submissionRepo.GetByID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load submission: %w", err)
	}

	if submission.AnalysisStatus == models.AnalysisAggregationComplete {
		return &models.StageResult{Total: 1, Processed: 1, Message: "aggregation already complete"}, nil
	}
	if submission.AnalysisStatus != models.AnalysisQuantQualComplete {
		return nil, models.Validationf("submission %s is in analysis state %s, aggregation requires %s",
			submissionID, submission.AnalysisStatus, models.AnalysisQuantQualComplete)
	}

	coverage, err := s.analysisRepo.SentimentCoverage(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute sentiment coverage: %w", err)
	}
	finalizeTrigger := coverage.Ratio() >= s.config.SentimentCoverageThreshold

	cohortKey := submission.Cohort()
	cohort, err := s.submissionRepo.Cohort(ctx, cohortKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load cohort: %w", err)
	}

	members, err := s.collectMembers(ctx, cohort)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, models.Consistencyf("submission", submissionID, "cohort has no members with completed analysis stages")
	}

	quantRaws := make([]float64, len(members))
	qualRaws := make([]float64, len(members))
	for i, m := range members {
		quantRaws[i] = m.working.QuantScoreRaw
		qualRaws[i] = m.qualRaw
	}

	quantMean, quantStdDev := mean(quantRaws), sampleStdDev(quantRaws)
	qualMean, qualStdDev := mean(qualRaws), sampleStdDev(qualRaws)
	cohortN := len(members)

	var numerical []*models.NumericalAggregate
	var sentiment []*models.SentimentAggregate
	var triggerFinal float64

	for _, m := range members {
		// Below-threshold coverage yields a visible but non-final snapshot
		// for the triggering submission only; siblings keep their finals.
		if !finalizeTrigger && m.submission.ID != submissionID {
			continue
		}

		// A sibling with its own coverage gap is recomputed but never
		// finalized or advanced: its qualitative retry finishes the job.
		finalize := finalizeTrigger && m.covered

		zQuant := zScore(m.working.QuantScoreRaw, quantMean, quantStdDev)
		zQual := zScore(m.qualRaw, qualMean, qualStdDev)
		finalScore := s.config.QuantWeight*zQuant + s.config.QualWeight*zQual

		numerical = append(numerical, &models.NumericalAggregate{
			ID:                 uuid.New().String(),
			SubmissionID:       m.submission.ID,
			PerQuestionMedians: m.working.PerQuestionMedians,
			PerCriterionScores: m.working.PerCriterionScores,
			QuantScoreRaw:      m.working.QuantScoreRaw,
			ZQuant:             zQuant,
			FinalScore:         finalScore,
			CohortN:            cohortN,
			CohortMean:         quantMean,
			CohortStdDev:       quantStdDev,
			IsFinalSnapshot:    finalize,
		})
		sentiment = append(sentiment, &models.SentimentAggregate{
			ID:              uuid.New().String(),
			SubmissionID:    m.submission.ID,
			AvgPositive:     m.avgPositive,
			AvgNeutral:      m.avgNeutral,
			AvgNegative:     m.avgNegative,
			QualScoreRaw:    m.qualRaw,
			ZQual:           zQual,
			CohortN:         cohortN,
			CohortMean:      qualMean,
			CohortStdDev:    qualStdDev,
			IsFinalSnapshot: finalize,
		})

		if m.submission.ID == submissionID {
			triggerFinal = finalScore
		}
	}

	if err := s.aggregateRepo.SaveSnapshots(ctx, cohortKey, numerical, sentiment); err != nil {
		return nil, fmt.Errorf("failed to save snapshots: %w", err)
	}

	if !finalizeTrigger {
		s.logger.Warn().
			Str("submission_id", submissionID).
			Float64("coverage", coverage.Ratio()).
			Float64("threshold", s.config.SentimentCoverageThreshold).
			Msg("Sentiment coverage below threshold, snapshot written non-final")

		return &models.StageResult{
			Total:     1,
			Processed: 1,
			Message: fmt.Sprintf("sentiment coverage %.2f below threshold %.2f: snapshot written non-final, re-run qualitative analysis to finalize",
				coverage.Ratio(), s.config.SentimentCoverageThreshold),
		}, nil
	}

	for _, m := range members {
		if !m.covered {
			s.logger.Warn().
				Str("submission_id", m.submission.ID).
				Float64("threshold", s.config.SentimentCoverageThreshold).
				Msg("Cohort member below sentiment coverage threshold, left non-final")
			continue
		}
		if _, err := s.submissionRepo.SetAnalysisStatusIf(ctx, m.submission.ID, models.AnalysisQuantQualComplete, models.AnalysisAggregationComplete); err != nil {
			return nil, fmt.Errorf("failed to advance analysis status for %s: %w", m.submission.ID, err)
		}
		if _, err := s.submissionRepo.SetStatusIf(ctx, m.submission.ID, models.SubmissionProcessing, models.SubmissionProcessed); err != nil {
			return nil, fmt.Errorf("failed to mark submission processed for %s: %w", m.submission.ID, err)
		}
	}

	event := models.SubmissionAggregatedEvent{
		SubmissionID: submissionID,
		PeriodID:     submission.PeriodID,
		FinalScore:   triggerFinal,
		CohortN:      cohortN,
		CompletedAt:  time.Now(),
	}
	if err := s.rabbitMQ.PublishSubmissionAggregated(ctx, event); err != nil {
		s.logger.Error().Err(err).
			Str("submission_id", submissionID).
			Msg("Failed to publish submission aggregated event")
	}

	s.logger.Info().
		Str("submission_id", submissionID).
		Int("cohort_n", cohortN).
		Float64("final_score", triggerFinal).
		Dur("duration", time.Since(startTime)).
		Msg("Aggregation complete")

	return &models.StageResult{
		Total:     cohortN,
		Processed: cohortN,
		Message:   fmt.Sprintf("aggregated cohort of %d submissions", cohortN),
	}, nil
}

// collectMembers gathers raw scores for cohort members whose two analysis
// stages have both run. Members still mid-pipeline are left out; they pull
// the cohort's z-scores into shape when their own aggregation fires.
func (s *aggregationService) collectMembers(ctx context.Context, cohort []*models.EvaluationSubmission) ([]memberScores, error) {
	var members []memberScores

	for _, sub := range cohort {
		if sub.QuantCompletedAt == nil || sub.QualCompletedAt == nil {
			continue
		}

		working, err := s.aggregateRepo.LatestNumerical(ctx, sub.ID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil, models.Consistencyf("submission", sub.ID, "quantitative stage is complete but no aggregate row exists")
			}
			return nil, fmt.Errorf("failed to load working aggregate for %s: %w", sub.ID, err)
		}

		avgPos, avgNeu, avgNeg, err := s.analysisRepo.ClassScoreAverages(ctx, sub.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load class score averages for %s: %w", sub.ID, err)
		}

		coverage, err := s.analysisRepo.SentimentCoverage(ctx, sub.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to compute sentiment coverage for %s: %w", sub.ID, err)
		}

		members = append(members, memberScores{
			submission:  sub,
			working:     working,
			avgPositive: avgPos,
			avgNeutral:  avgNeu,
			avgNegative: avgNeg,
			qualRaw:     qualScoreRaw(avgPos, avgNeu),
			covered:     coverage.Ratio() >= s.config.SentimentCoverageThreshold,
		})
	}

	return members, nil
}

// qualScoreRaw maps average class probabilities onto a 0-100 scale. Neutral
// mass counts half: a fully neutral submission lands at 50.
func qualScoreRaw(avgPositive, avgNeutral float64) float64 {
	return (avgPositive + 0.5*avgNeutral) * 100
}
