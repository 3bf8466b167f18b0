package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/facultylens/pipeline-service/internal/models"
	"github.com/rs/zerolog"
)

type FlagRepository interface {
	Create(ctx context.Context, flag *models.FlaggedEvaluation) error
	GetByID(ctx context.Context, id string) (*models.FlaggedEvaluation, error)
	GetBySubmission(ctx context.Context, submissionID string) (*models.FlaggedEvaluation, error)
	ListByStatus(ctx context.Context, status models.FlagStatus, limit, offset int) ([]*models.FlaggedEvaluation, error)
	Resolve(ctx context.Context, id string, resolution models.FlagResolution, resolvedBy, adminNotes string, gracePeriodEndsAt *time.Time) (*models.FlaggedEvaluation, error)
}

type flagRepository struct {
	*PostgresRepository
}

func NewFlagRepository(db *sql.DB, logger zerolog.Logger) FlagRepository {
	return &flagRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

const flagColumns = `
	id, submission_id, flag_reason, flag_details, status, resolution,
	resolved_by, resolved_at, admin_notes, resubmission_grace_period_ends_at,
	created_at, updated_at
`

// Create inserts a flag, tolerating a pre-existing one: a submission is
// flagged at most once, and a second detection is a no-op.
func (r *flagRepository) Create(ctx context.Context, flag *models.FlaggedEvaluation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO flagged_evaluations (
			id, submission_id, flag_reason, flag_details, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (submission_id) DO NOTHING
	`, flag.ID, flag.SubmissionID, flag.Reason.String(), nullableJSON(flag.Details),
		flag.Status.String())
	return err
}

func (r *flagRepository) GetByID(ctx context.Context, id string) (*models.FlaggedEvaluation, error) {
	query := `SELECT ` + flagColumns + ` FROM flagged_evaluations WHERE id = $1`

	flag, err := scanFlag(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return flag, nil
}

func (r *flagRepository) GetBySubmission(ctx context.Context, submissionID string) (*models.FlaggedEvaluation, error) {
	query := `SELECT ` + flagColumns + ` FROM flagged_evaluations WHERE submission_id = $1`

	flag, err := scanFlag(r.db.QueryRowContext(ctx, query, submissionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return flag, nil
}

func (r *flagRepository) ListByStatus(ctx context.Context, status models.FlagStatus, limit, offset int) ([]*models.FlaggedEvaluation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+flagColumns+`
		FROM flagged_evaluations
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, status.String(), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flags []*models.FlaggedEvaluation
	for rows.Next() {
		flag, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		flags = append(flags, flag)
	}

	return flags, rows.Err()
}

// Resolve moves a pending flag to resolved with the given outcome. The
// guarded update makes resolution single-shot: a second reviewer gets
// ErrNotFound instead of overwriting the first decision.
func (r *flagRepository) Resolve(ctx context.Context, id string, resolution models.FlagResolution, resolvedBy, adminNotes string, gracePeriodEndsAt *time.Time) (*models.FlaggedEvaluation, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE flagged_evaluations
		SET status = $2, resolution = $3, resolved_by = $4, resolved_at = NOW(),
			admin_notes = $5, resubmission_grace_period_ends_at = $6, updated_at = NOW()
		WHERE id = $1 AND status = $7
		RETURNING `+flagColumns+`
	`, id, models.FlagResolved.String(), resolution.String(), resolvedBy,
		adminNotes, gracePeriodEndsAt, models.FlagPending.String())

	flag, err := scanFlag(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return flag, nil
}

func scanFlag(row rowScanner) (*models.FlaggedEvaluation, error) {
	flag := &models.FlaggedEvaluation{}
	var reason, status string
	var resolution *string
	var details []byte

	err := row.Scan(
		&flag.ID,
		&flag.SubmissionID,
		&reason,
		&details,
		&status,
		&resolution,
		&flag.ResolvedBy,
		&flag.ResolvedAt,
		&flag.AdminNotes,
		&flag.GracePeriodEndsAt,
		&flag.CreatedAt,
		&flag.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	flag.Details = details
	flag.Reason = models.FlagReason(reason)
	flag.Status = models.FlagStatus(status)
	if resolution != nil {
		res := models.FlagResolution(*resolution)
		flag.Resolution = &res
	}

	return flag, nil
}
