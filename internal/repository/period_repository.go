package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/facultylens/pipeline-service/internal/models"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

type PeriodRepository interface {
	Create(ctx context.Context, period *models.EvaluationPeriod) error
	GetByID(ctx context.Context, id string) (*models.EvaluationPeriod, error)
	SetStatusIf(ctx context.Context, id string, from, to models.PeriodStatus) (bool, error)
	DueForActivation(ctx context.Context, now time.Time) ([]*models.EvaluationPeriod, error)
	DueForClose(ctx context.Context, now time.Time) ([]*models.EvaluationPeriod, error)
}

type periodRepository struct {
	*PostgresRepository
}

func NewPeriodRepository(db *sql.DB, logger zerolog.Logger) PeriodRepository {
	return &periodRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

const periodColumns = `
	id, university_id, school_term_id, assessment_period_id, form_template_id,
	start_at, end_at, status, created_at, updated_at
`

func (r *periodRepository) Create(ctx context.Context, period *models.EvaluationPeriod) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO evaluation_periods (
			id, university_id, school_term_id, assessment_period_id,
			form_template_id, start_at, end_at, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`, period.ID, period.UniversityID, period.SchoolTermID, period.AssessmentPeriodID,
		period.FormTemplateID, period.StartAt, period.EndAt, period.Status.String())

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return models.ErrDuplicatePeriod
	}
	return err
}

func (r *periodRepository) GetByID(ctx context.Context, id string) (*models.EvaluationPeriod, error) {
	query := `SELECT ` + periodColumns + ` FROM evaluation_periods WHERE id = $1`

	period, err := scanPeriod(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return period, nil
}

// SetStatusIf applies a lifecycle transition only when the period is still in
// the expected state. Callers treat false as "someone else got there first",
// which makes activation, closing and cancellation idempotent.
func (r *periodRepository) SetStatusIf(ctx context.Context, id string, from, to models.PeriodStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, &models.InvalidTransition{Entity: "evaluation period", From: from.String(), To: to.String()}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE evaluation_periods SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from.String(), to.String())
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	return affected > 0, err
}

func (r *periodRepository) DueForActivation(ctx context.Context, now time.Time) ([]*models.EvaluationPeriod, error) {
	return r.listDue(ctx, models.PeriodScheduled, `start_at <= $2 AND end_at > $2`, now)
}

func (r *periodRepository) DueForClose(ctx context.Context, now time.Time) ([]*models.EvaluationPeriod, error) {
	return r.listDue(ctx, models.PeriodActive, `end_at <= $2`, now)
}

func (r *periodRepository) listDue(ctx context.Context, status models.PeriodStatus, cond string, now time.Time) ([]*models.EvaluationPeriod, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+periodColumns+`
		FROM evaluation_periods
		WHERE status = $1 AND `+cond+`
		ORDER BY start_at
	`, status.String(), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var periods []*models.EvaluationPeriod
	for rows.Next() {
		period, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, period)
	}

	return periods, rows.Err()
}

func scanPeriod(row rowScanner) (*models.EvaluationPeriod, error) {
	period := &models.EvaluationPeriod{}
	var status string

	err := row.Scan(
		&period.ID,
		&period.UniversityID,
		&period.SchoolTermID,
		&period.AssessmentPeriodID,
		&period.FormTemplateID,
		&period.StartAt,
		&period.EndAt,
		&status,
		&period.CreatedAt,
		&period.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	period.Status = models.PeriodStatus(status)
	return period, nil
}
