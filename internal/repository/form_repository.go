package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/facultylens/pipeline-service/internal/models"
	"github.com/rs/zerolog"
)

// FormRepository reads form definitions for the period a submission belongs
// to. The pipeline never writes form data; templates are owned upstream.
type FormRepository interface {
	QuestionsForSubmission(ctx context.Context, submissionID string) ([]models.EvaluationQuestion, error)
	CriteriaForSubmission(ctx context.Context, submissionID string) ([]models.EvaluationCriterion, error)
	LikertScaleForSubmission(ctx context.Context, submissionID string) (*models.LikertScale, error)
}

type formRepository struct {
	*PostgresRepository
}

func NewFormRepository(db *sql.DB, logger zerolog.Logger) FormRepository {
	return &formRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *formRepository) QuestionsForSubmission(ctx context.Context, submissionID string) ([]models.EvaluationQuestion, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT q.id, q.form_template_id, q.criterion_id, q.question_text, q.question_type,
			q.is_required, q.min_word_count, q.max_word_count, q.question_order
		FROM evaluation_questions q
		JOIN evaluation_periods p ON p.form_template_id = q.form_template_id
		JOIN evaluation_submissions s ON s.period_id = p.id
		WHERE s.id = $1
		ORDER BY q.question_order
	`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []models.EvaluationQuestion
	for rows.Next() {
		var q models.EvaluationQuestion
		var qType string
		if err := rows.Scan(&q.ID, &q.FormID, &q.CriterionID, &q.Text, &qType,
			&q.IsRequired, &q.MinWordCount, &q.MaxWordCount, &q.Order); err != nil {
			return nil, err
		}
		q.Type = models.QuestionType(qType)
		questions = append(questions, q)
	}

	return questions, rows.Err()
}

func (r *formRepository) CriteriaForSubmission(ctx context.Context, submissionID string) ([]models.EvaluationCriterion, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.form_template_id, c.name, c.weight, c.criterion_order
		FROM evaluation_criteria c
		JOIN evaluation_periods p ON p.form_template_id = c.form_template_id
		JOIN evaluation_submissions s ON s.period_id = p.id
		WHERE s.id = $1
		ORDER BY c.criterion_order
	`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var criteria []models.EvaluationCriterion
	for rows.Next() {
		var c models.EvaluationCriterion
		if err := rows.Scan(&c.ID, &c.FormID, &c.Name, &c.Weight, &c.Order); err != nil {
			return nil, err
		}
		criteria = append(criteria, c)
	}

	return criteria, rows.Err()
}

func (r *formRepository) LikertScaleForSubmission(ctx context.Context, submissionID string) (*models.LikertScale, error) {
	scale := &models.LikertScale{}
	err := r.db.QueryRowContext(ctx, `
		SELECT l.id, l.name, l.min_value, l.max_value
		FROM likert_scale_templates l
		JOIN evaluation_form_templates f ON f.likert_scale_template_id = l.id
		JOIN evaluation_periods p ON p.form_template_id = f.id
		JOIN evaluation_submissions s ON s.period_id = p.id
		WHERE s.id = $1
	`, submissionID).Scan(&scale.ID, &scale.Name, &scale.MinValue, &scale.MaxValue)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	return scale, nil
}
