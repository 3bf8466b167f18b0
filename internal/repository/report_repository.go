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

type ReportRepository interface {
	Create(ctx context.Context, report *models.GeneratedReport) error
	GetByID(ctx context.Context, id string) (*models.GeneratedReport, error)
	SetStatus(ctx context.Context, id string, status models.ReportStatus, storagePath, errorMessage *string) error
	ReportRows(ctx context.Context, periodID string, evaluateeID, subjectOfferingID *string, includeSuperseded bool) ([]models.ReportRow, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.GeneratedReport, error)
	Delete(ctx context.Context, id string) error
}

type reportRepository struct {
	*PostgresRepository
}

func NewReportRepository(db *sql.DB, logger zerolog.Logger) ReportRepository {
	return &reportRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

const reportColumns = `
	id, university_id, requested_by, report_type, parameters, status,
	file_format, storage_path, error_message, expires_at, created_at, updated_at
`

func (r *reportRepository) Create(ctx context.Context, report *models.GeneratedReport) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO generated_reports (
			id, university_id, requested_by, report_type, parameters,
			status, file_format, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`, report.ID, report.UniversityID, report.RequestedBy, report.ReportType,
		nullableJSON(report.Parameters), report.Status.String(),
		report.FileFormat.String(), report.ExpiresAt)
	return err
}

func (r *reportRepository) GetByID(ctx context.Context, id string) (*models.GeneratedReport, error) {
	query := `SELECT ` + reportColumns + ` FROM generated_reports WHERE id = $1`

	report, err := scanReport(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return report, nil
}

func (r *reportRepository) SetStatus(ctx context.Context, id string, status models.ReportStatus, storagePath, errorMessage *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE generated_reports
		SET status = $2,
			storage_path = COALESCE($3, storage_path),
			error_message = $4,
			updated_at = NOW()
		WHERE id = $1
	`, id, status.String(), storagePath, errorMessage)
	return err
}

// ReportRows joins final snapshots for every reportable submission in a
// period. Only final snapshots feed reporting; superseded originals are
// excluded unless explicitly requested.
func (r *reportRepository) ReportRows(ctx context.Context, periodID string, evaluateeID, subjectOfferingID *string, includeSuperseded bool) ([]models.ReportRow, error) {
	statuses := []string{models.SubmissionProcessed.String()}
	if includeSuperseded {
		statuses = append(statuses, models.SubmissionInvalidated.String())
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.evaluatee_id, s.subject_offering_id,
			n.quant_score_raw, n.z_quant, q.qual_score_raw, q.z_qual,
			n.final_score, n.cohort_n
		FROM evaluation_submissions s
		JOIN numerical_aggregates n ON n.submission_id = s.id AND n.is_final_snapshot
		JOIN sentiment_aggregates q ON q.submission_id = s.id AND q.is_final_snapshot
		WHERE s.period_id = $1
			AND s.status = ANY($2::text[])
			AND ($3::uuid IS NULL OR s.evaluatee_id = $3)
			AND ($4::uuid IS NULL OR s.subject_offering_id = $4)
		ORDER BY s.evaluatee_id, s.subject_offering_id, s.submitted_at
	`, periodID, pq.Array(statuses), evaluateeID, subjectOfferingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.ReportRow
	for rows.Next() {
		var row models.ReportRow
		if err := rows.Scan(
			&row.SubmissionID, &row.EvaluateeID, &row.SubjectOfferingID,
			&row.QuantScoreRaw, &row.ZQuant, &row.QualScoreRaw, &row.ZQual,
			&row.FinalScore, &row.CohortN,
		); err != nil {
			return nil, err
		}
		result = append(result, row)
	}

	return result, rows.Err()
}

func (r *reportRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.GeneratedReport, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+reportColumns+`
		FROM generated_reports
		WHERE expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*models.GeneratedReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}

	return reports, rows.Err()
}

func (r *reportRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM generated_reports WHERE id = $1`, id)
	return err
}

func scanReport(row rowScanner) (*models.GeneratedReport, error) {
	report := &models.GeneratedReport{}
	var status, format string
	var parameters []byte

	err := row.Scan(
		&report.ID,
		&report.UniversityID,
		&report.RequestedBy,
		&report.ReportType,
		&parameters,
		&status,
		&format,
		&report.StoragePath,
		&report.ErrorMessage,
		&report.ExpiresAt,
		&report.CreatedAt,
		&report.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	report.Parameters = parameters
	report.Status = models.ReportStatus(status)
	report.FileFormat = models.ReportFormat(format)

	return report, nil
}
