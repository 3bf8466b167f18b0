package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"hash/fnv"

	"github.com/facultylens/pipeline-service/internal/models"
	"github.com/rs/zerolog"
)

type AggregateRepository interface {
	SaveWorkingNumerical(ctx context.Context, agg *models.NumericalAggregate) error
	SaveSnapshots(ctx context.Context, key models.CohortKey, numerical []*models.NumericalAggregate, sentiment []*models.SentimentAggregate) error
	LatestNumerical(ctx context.Context, submissionID string) (*models.NumericalAggregate, error)
	FinalNumerical(ctx context.Context, submissionID string) (*models.NumericalAggregate, error)
	FinalSentiment(ctx context.Context, submissionID string) (*models.SentimentAggregate, error)
}

type aggregateRepository struct {
	*PostgresRepository
}

func NewAggregateRepository(db *sql.DB, logger zerolog.Logger) AggregateRepository {
	return &aggregateRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

// SaveWorkingNumerical stores the quant stage's per-submission result as a
// non-final row. Cohort-relative fields stay zero until aggregation runs.
func (r *aggregateRepository) SaveWorkingNumerical(ctx context.Context, agg *models.NumericalAggregate) error {
	medians, err := json.Marshal(agg.PerQuestionMedians)
	if err != nil {
		return err
	}
	scores, err := json.Marshal(agg.PerCriterionScores)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO numerical_aggregates (
			id, submission_id, per_question_medians, per_criterion_scores,
			quant_score_raw, z_quant, final_score,
			cohort_n, cohort_mean, cohort_std_dev, is_final_snapshot, created_at
		) VALUES ($1, $2, $3, $4, $5, 0, 0, 0, 0, 0, FALSE, NOW())
	`, agg.ID, agg.SubmissionID, medians, scores, agg.QuantScoreRaw)
	return err
}

// SaveSnapshots writes cohort-normalized aggregates in one transaction under
// a per-cohort advisory lock. For every row marked final, the previous final
// snapshot for that submission is demoted first, so the partial unique index
// never trips and readers always see at most one final snapshot per
// submission. Rows are only ever demoted, never deleted.
func (r *aggregateRepository) SaveSnapshots(ctx context.Context, key models.CohortKey, numerical []*models.NumericalAggregate, sentiment []*models.SentimentAggregate) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.lockCohort(ctx, tx, key); err != nil {
			return err
		}

		for _, agg := range numerical {
			if agg.IsFinalSnapshot {
				if _, err := tx.ExecContext(ctx, `
					UPDATE numerical_aggregates SET is_final_snapshot = FALSE
					WHERE submission_id = $1 AND is_final_snapshot
				`, agg.SubmissionID); err != nil {
					return err
				}
			}

			medians, err := json.Marshal(agg.PerQuestionMedians)
			if err != nil {
				return err
			}
			scores, err := json.Marshal(agg.PerCriterionScores)
			if err != nil {
				return err
			}

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO numerical_aggregates (
					id, submission_id, per_question_medians, per_criterion_scores,
					quant_score_raw, z_quant, final_score,
					cohort_n, cohort_mean, cohort_std_dev, is_final_snapshot, created_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
			`, agg.ID, agg.SubmissionID, medians, scores,
				agg.QuantScoreRaw, agg.ZQuant, agg.FinalScore,
				agg.CohortN, agg.CohortMean, agg.CohortStdDev, agg.IsFinalSnapshot); err != nil {
				return err
			}
		}

		for _, agg := range sentiment {
			if agg.IsFinalSnapshot {
				if _, err := tx.ExecContext(ctx, `
					UPDATE sentiment_aggregates SET is_final_snapshot = FALSE
					WHERE submission_id = $1 AND is_final_snapshot
				`, agg.SubmissionID); err != nil {
					return err
				}
			}

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sentiment_aggregates (
					id, submission_id, avg_positive, avg_neutral, avg_negative,
					qual_score_raw, z_qual,
					cohort_n, cohort_mean, cohort_std_dev, is_final_snapshot, created_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
			`, agg.ID, agg.SubmissionID, agg.AvgPositive, agg.AvgNeutral, agg.AvgNegative,
				agg.QualScoreRaw, agg.ZQual,
				agg.CohortN, agg.CohortMean, agg.CohortStdDev, agg.IsFinalSnapshot); err != nil {
				return err
			}
		}

		return nil
	})
}

// lockCohort takes a transaction-scoped advisory lock derived from the
// cohort key. Released automatically at commit or rollback.
func (r *aggregateRepository) lockCohort(ctx context.Context, tx *sql.Tx, key models.CohortKey) error {
	h := fnv.New64a()
	h.Write([]byte(key.EvaluateeID))
	h.Write([]byte(key.PeriodID))
	h.Write([]byte(key.SubjectOfferingID))

	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(h.Sum64()))
	return err
}

func (r *aggregateRepository) LatestNumerical(ctx context.Context, submissionID string) (*models.NumericalAggregate, error) {
	return r.queryNumerical(ctx, `
		SELECT id, submission_id, per_question_medians, per_criterion_scores,
			quant_score_raw, z_quant, final_score,
			cohort_n, cohort_mean, cohort_std_dev, is_final_snapshot, created_at
		FROM numerical_aggregates
		WHERE submission_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, submissionID)
}

func (r *aggregateRepository) FinalNumerical(ctx context.Context, submissionID string) (*models.NumericalAggregate, error) {
	return r.queryNumerical(ctx, `
		SELECT id, submission_id, per_question_medians, per_criterion_scores,
			quant_score_raw, z_quant, final_score,
			cohort_n, cohort_mean, cohort_std_dev, is_final_snapshot, created_at
		FROM numerical_aggregates
		WHERE submission_id = $1 AND is_final_snapshot
	`, submissionID)
}

func (r *aggregateRepository) queryNumerical(ctx context.Context, query, submissionID string) (*models.NumericalAggregate, error) {
	agg := &models.NumericalAggregate{}
	var medians, scores []byte

	err := r.db.QueryRowContext(ctx, query, submissionID).Scan(
		&agg.ID, &agg.SubmissionID, &medians, &scores,
		&agg.QuantScoreRaw, &agg.ZQuant, &agg.FinalScore,
		&agg.CohortN, &agg.CohortMean, &agg.CohortStdDev,
		&agg.IsFinalSnapshot, &agg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(medians, &agg.PerQuestionMedians); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(scores, &agg.PerCriterionScores); err != nil {
		return nil, err
	}

	return agg, nil
}

func (r *aggregateRepository) FinalSentiment(ctx context.Context, submissionID string) (*models.SentimentAggregate, error) {
	agg := &models.SentimentAggregate{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, submission_id, avg_positive, avg_neutral, avg_negative,
			qual_score_raw, z_qual,
			cohort_n, cohort_mean, cohort_std_dev, is_final_snapshot, created_at
		FROM sentiment_aggregates
		WHERE submission_id = $1 AND is_final_snapshot
	`, submissionID).Scan(
		&agg.ID, &agg.SubmissionID, &agg.AvgPositive, &agg.AvgNeutral, &agg.AvgNegative,
		&agg.QualScoreRaw, &agg.ZQual,
		&agg.CohortN, &agg.CohortMean, &agg.CohortStdDev,
		&agg.IsFinalSnapshot, &agg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	return agg, nil
}
