package repository

import (
	"context"
	"database/sql"

	"github.com/facultylens/pipeline-service/internal/models"
	"github.com/rs/zerolog"
)

type AnalysisRepository interface {
	SaveAnswerAnalysis(ctx context.Context, sentiment *models.AnswerSentiment, keywords []models.AnswerKeyword) error
	SentimentCoverage(ctx context.Context, submissionID string) (models.SentimentCoverage, error)
	ClassScoreAverages(ctx context.Context, submissionID string) (positive, neutral, negative float64, err error)
}

type analysisRepository struct {
	*PostgresRepository
}

func NewAnalysisRepository(db *sql.DB, logger zerolog.Logger) AnalysisRepository {
	return &analysisRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

// SaveAnswerAnalysis upserts one answer's inference and keywords atomically.
// Re-running a failed qualitative task replaces the previous result rather
// than duplicating it.
func (r *analysisRepository) SaveAnswerAnalysis(ctx context.Context, sentiment *models.AnswerSentiment, keywords []models.AnswerKeyword) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO answer_sentiments (
				id, answer_id, label, label_score,
				positive_score, neutral_score, negative_score, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			ON CONFLICT (answer_id) DO UPDATE SET
				label = EXCLUDED.label,
				label_score = EXCLUDED.label_score,
				positive_score = EXCLUDED.positive_score,
				neutral_score = EXCLUDED.neutral_score,
				negative_score = EXCLUDED.negative_score
		`, sentiment.ID, sentiment.AnswerID, sentiment.Label.String(), sentiment.LabelScore,
			sentiment.PositiveScore, sentiment.NeutralScore, sentiment.NegativeScore)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM answer_keywords WHERE answer_id = $1
		`, sentiment.AnswerID); err != nil {
			return err
		}

		for _, kw := range keywords {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO answer_keywords (id, answer_id, keyword, relevance_score)
				VALUES ($1, $2, $3, $4)
			`, kw.ID, kw.AnswerID, kw.Keyword, kw.Relevance); err != nil {
				return err
			}
		}

		return nil
	})
}

func (r *analysisRepository) SentimentCoverage(ctx context.Context, submissionID string) (models.SentimentCoverage, error) {
	var coverage models.SentimentCoverage

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(a.id), COUNT(s.id)
		FROM open_ended_answers a
		LEFT JOIN answer_sentiments s ON s.answer_id = a.id
		WHERE a.submission_id = $1
	`, submissionID).Scan(&coverage.Total, &coverage.Analyzed)

	return coverage, err
}

// ClassScoreAverages averages the per-class probabilities over a
// submission's analyzed answers. Returns zeros when nothing was analyzed.
func (r *analysisRepository) ClassScoreAverages(ctx context.Context, submissionID string) (float64, float64, float64, error) {
	var positive, neutral, negative float64

	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(s.positive_score), 0),
			COALESCE(AVG(s.neutral_score), 0),
			COALESCE(AVG(s.negative_score), 0)
		FROM answer_sentiments s
		JOIN open_ended_answers a ON a.id = s.answer_id
		WHERE a.submission_id = $1
	`, submissionID).Scan(&positive, &neutral, &negative)

	return positive, neutral, negative, err
}
