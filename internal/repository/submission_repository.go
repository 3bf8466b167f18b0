package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/facultylens/pipeline-service/internal/models"
	"github.com/rs/zerolog"
)

// PipelineStage names the two gated analysis stages for gate bookkeeping.
type PipelineStage string

const (
	StageQuantitative PipelineStage = "quantitative"
	StageQualitative  PipelineStage = "qualitative"
)

type SubmissionRepository interface {
	GetByID(ctx context.Context, id string) (*models.EvaluationSubmission, error)
	Create(ctx context.Context, sub *models.EvaluationSubmission, likert []models.LikertAnswer, open []models.OpenEndedAnswer) error
	LikertAnswers(ctx context.Context, submissionID string) ([]models.LikertAnswer, error)
	OpenEndedAnswers(ctx context.Context, submissionID string) ([]models.OpenEndedAnswer, error)
	EvaluatorAnswerHistory(ctx context.Context, evaluatorID, excludeSubmissionID string) ([]string, error)
	SetIntegrityStatus(ctx context.Context, id string, status models.IntegrityStatus) error
	SetStatusIf(ctx context.Context, id string, from, to models.SubmissionStatus) (bool, error)
	SetAnalysisStatusIf(ctx context.Context, id string, from, to models.AnalysisStatus) (bool, error)
	MarkAnalysisFailed(ctx context.Context, id string) (bool, error)
	MarkStageComplete(ctx context.Context, id string, stage PipelineStage) error
	GateQuantQualComplete(ctx context.Context, id string) (bool, error)
	Supersede(ctx context.Context, originalID string, replacement *models.EvaluationSubmission, likert []models.LikertAnswer, open []models.OpenEndedAnswer) error
	Cohort(ctx context.Context, key models.CohortKey) ([]*models.EvaluationSubmission, error)
	CohortAnswerValues(ctx context.Context, key models.CohortKey, questionID string) ([]int, error)
	CancelNonTerminalByPeriod(ctx context.Context, periodID string) (int, error)
	Ping(ctx context.Context) error
}

type submissionRepository struct {
	*PostgresRepository
}

func NewSubmissionRepository(db *sql.DB, logger zerolog.Logger) SubmissionRepository {
	return &submissionRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

const submissionColumns = `
	id, university_id, period_id, evaluator_id, evaluatee_id, subject_offering_id,
	status, integrity_check_status, analysis_status, submitted_at,
	is_resubmission, original_submission_id, quant_completed_at, qual_completed_at,
	created_at, updated_at
`

func (r *submissionRepository) GetByID(ctx context.Context, id string) (*models.EvaluationSubmission, error) {
	query := `SELECT ` + submissionColumns + ` FROM evaluation_submissions WHERE id = $1`

	sub, err := scanSubmission(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return sub, nil
}

// Create persists a submission together with its answers in one transaction;
// answers never exist without their owning submission.
func (r *submissionRepository) Create(ctx context.Context, sub *models.EvaluationSubmission, likert []models.LikertAnswer, open []models.OpenEndedAnswer) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO evaluation_submissions (
				id, university_id, period_id, evaluator_id, evaluatee_id,
				subject_offering_id, status, integrity_check_status, analysis_status,
				submitted_at, is_resubmission, original_submission_id, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		`,
			sub.ID, sub.UniversityID, sub.PeriodID, sub.EvaluatorID, sub.EvaluateeID,
			sub.SubjectOfferingID, sub.Status.String(), sub.IntegrityStatus.String(),
			sub.AnalysisStatus.String(), sub.SubmittedAt, sub.IsResubmission,
			sub.OriginalSubmissionID,
		)
		if err != nil {
			return err
		}

		for _, a := range likert {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO likert_answers (id, submission_id, question_id, answer_value, created_at)
				VALUES ($1, $2, $3, $4, NOW())
			`, a.ID, sub.ID, a.QuestionID, a.Value); err != nil {
				return err
			}
		}

		for _, a := range open {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO open_ended_answers (id, submission_id, question_id, answer_text, created_at)
				VALUES ($1, $2, $3, $4, NOW())
			`, a.ID, sub.ID, a.QuestionID, a.Text); err != nil {
				return err
			}
		}

		return nil
	})
}

func (r *submissionRepository) LikertAnswers(ctx context.Context, submissionID string) ([]models.LikertAnswer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, submission_id, question_id, answer_value, created_at
		FROM likert_answers
		WHERE submission_id = $1
		ORDER BY created_at
	`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []models.LikertAnswer
	for rows.Next() {
		var a models.LikertAnswer
		if err := rows.Scan(&a.ID, &a.SubmissionID, &a.QuestionID, &a.Value, &a.CreatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}

	return answers, rows.Err()
}

func (r *submissionRepository) OpenEndedAnswers(ctx context.Context, submissionID string) ([]models.OpenEndedAnswer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, submission_id, question_id, answer_text, created_at
		FROM open_ended_answers
		WHERE submission_id = $1
		ORDER BY created_at
	`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []models.OpenEndedAnswer
	for rows.Next() {
		var a models.OpenEndedAnswer
		if err := rows.Scan(&a.ID, &a.SubmissionID, &a.QuestionID, &a.Text, &a.CreatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}

	return answers, rows.Err()
}

// EvaluatorAnswerHistory returns the open-ended texts the evaluator submitted
// in other submissions, the comparison corpus for recycled-content detection.
func (r *submissionRepository) EvaluatorAnswerHistory(ctx context.Context, evaluatorID, excludeSubmissionID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.answer_text
		FROM open_ended_answers a
		JOIN evaluation_submissions s ON s.id = a.submission_id
		WHERE s.evaluator_id = $1 AND s.id != $2
		ORDER BY a.created_at DESC
	`, evaluatorID, excludeSubmissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, err
		}
		texts = append(texts, text)
	}

	return texts, rows.Err()
}

func (r *submissionRepository) SetIntegrityStatus(ctx context.Context, id string, status models.IntegrityStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE evaluation_submissions
		SET integrity_check_status = $2, updated_at = NOW()
		WHERE id = $1
	`, id, status.String())
	return err
}

// SetStatusIf performs a guarded transition; it reports false when the row
// was not in the expected source state, so races lose cleanly.
func (r *submissionRepository) SetStatusIf(ctx context.Context, id string, from, to models.SubmissionStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, &models.InvalidTransition{Entity: "submission", From: from.String(), To: to.String()}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE evaluation_submissions SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from.String(), to.String())
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	return affected > 0, err
}

func (r *submissionRepository) SetAnalysisStatusIf(ctx context.Context, id string, from, to models.AnalysisStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, &models.InvalidTransition{Entity: "analysis pipeline", From: from.String(), To: to.String()}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE evaluation_submissions SET analysis_status = $3, updated_at = NOW()
		WHERE id = $1 AND analysis_status = $2
	`, id, from.String(), to.String())
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	return affected > 0, err
}

// MarkAnalysisFailed diverts a submission still mid-pipeline to failed. A
// submission that already reached aggregation_complete is left alone.
func (r *submissionRepository) MarkAnalysisFailed(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE evaluation_submissions SET analysis_status = $2, updated_at = NOW()
		WHERE id = $1 AND analysis_status IN ($3, $4)
	`, id, models.AnalysisFailed.String(),
		models.AnalysisPending.String(), models.AnalysisQuantQualComplete.String())
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	return affected > 0, err
}

func (r *submissionRepository) MarkStageComplete(ctx context.Context, id string, stage PipelineStage) error {
	column := "quant_completed_at"
	if stage == StageQualitative {
		column = "qual_completed_at"
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE evaluation_submissions SET `+column+` = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

// GateQuantQualComplete flips the analysis status once both stage gates are
// set. The conditional update makes exactly one of two racing stage workers
// see true, so the aggregation job is enqueued once.
func (r *submissionRepository) GateQuantQualComplete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE evaluation_submissions
		SET analysis_status = $3, updated_at = NOW()
		WHERE id = $1 AND analysis_status = $2
			AND quant_completed_at IS NOT NULL
			AND qual_completed_at IS NOT NULL
	`, id, models.AnalysisPending.String(), models.AnalysisQuantQualComplete.String())
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	return affected > 0, err
}

// Supersede records the replacement for an invalidated original in one
// transaction. The partial uniqueness index rejects a second active
// replacement for the same slot, which keeps resubmission chains linear.
func (r *submissionRepository) Supersede(ctx context.Context, originalID string, replacement *models.EvaluationSubmission, likert []models.LikertAnswer, open []models.OpenEndedAnswer) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		var originalStatus string
		err := tx.QueryRowContext(ctx, `
			SELECT status FROM evaluation_submissions WHERE id = $1 FOR UPDATE
		`, originalID).Scan(&originalStatus)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return err
		}
		if models.SubmissionStatus(originalStatus) != models.SubmissionInvalidated {
			return models.Consistencyf("submission", originalID, "cannot be superseded while %s", originalStatus)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO evaluation_submissions (
				id, university_id, period_id, evaluator_id, evaluatee_id,
				subject_offering_id, status, integrity_check_status, analysis_status,
				submitted_at, is_resubmission, original_submission_id, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE, $11, NOW(), NOW())
		`,
			replacement.ID, replacement.UniversityID, replacement.PeriodID,
			replacement.EvaluatorID, replacement.EvaluateeID, replacement.SubjectOfferingID,
			replacement.Status.String(), replacement.IntegrityStatus.String(),
			replacement.AnalysisStatus.String(), replacement.SubmittedAt, originalID,
		)
		if err != nil {
			return err
		}

		for _, a := range likert {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO likert_answers (id, submission_id, question_id, answer_value, created_at)
				VALUES ($1, $2, $3, $4, NOW())
			`, a.ID, replacement.ID, a.QuestionID, a.Value); err != nil {
				return err
			}
		}

		for _, a := range open {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO open_ended_answers (id, submission_id, question_id, answer_text, created_at)
				VALUES ($1, $2, $3, $4, NOW())
			`, a.ID, replacement.ID, a.QuestionID, a.Text); err != nil {
				return err
			}
		}

		return nil
	})
}

// Cohort returns the comparison population: non-superseded, non-archived
// submissions sharing evaluatee, period and subject offering.
func (r *submissionRepository) Cohort(ctx context.Context, key models.CohortKey) ([]*models.EvaluationSubmission, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+submissionColumns+`
		FROM evaluation_submissions
		WHERE evaluatee_id = $1 AND period_id = $2 AND subject_offering_id = $3
			AND status IN ($4, $5)
		ORDER BY submitted_at
	`, key.EvaluateeID, key.PeriodID, key.SubjectOfferingID,
		models.SubmissionProcessing.String(), models.SubmissionProcessed.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*models.EvaluationSubmission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

func (r *submissionRepository) CohortAnswerValues(ctx context.Context, key models.CohortKey, questionID string) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.answer_value
		FROM likert_answers a
		JOIN evaluation_submissions s ON s.id = a.submission_id
		WHERE s.evaluatee_id = $1 AND s.period_id = $2 AND s.subject_offering_id = $3
			AND s.status IN ($5, $6)
			AND a.question_id = $4
	`, key.EvaluateeID, key.PeriodID, key.SubjectOfferingID, questionID,
		models.SubmissionProcessing.String(), models.SubmissionProcessed.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}

	return values, rows.Err()
}

func (r *submissionRepository) CancelNonTerminalByPeriod(ctx context.Context, periodID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE evaluation_submissions
		SET status = $2, updated_at = NOW()
		WHERE period_id = $1 AND status IN ($3, $4)
	`, periodID, models.SubmissionCancelled.String(),
		models.SubmissionSubmitted.String(), models.SubmissionProcessing.String())
	if err != nil {
		return 0, err
	}

	affected, err := res.RowsAffected()
	return int(affected), err
}

func scanSubmission(row rowScanner) (*models.EvaluationSubmission, error) {
	sub := &models.EvaluationSubmission{}
	var status, integrity, analysis string

	err := row.Scan(
		&sub.ID,
		&sub.UniversityID,
		&sub.PeriodID,
		&sub.EvaluatorID,
		&sub.EvaluateeID,
		&sub.SubjectOfferingID,
		&status,
		&integrity,
		&analysis,
		&sub.SubmittedAt,
		&sub.IsResubmission,
		&sub.OriginalSubmissionID,
		&sub.QuantCompletedAt,
		&sub.QualCompletedAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.Status = models.SubmissionStatus(status)
	sub.IntegrityStatus = models.IntegrityStatus(integrity)
	sub.AnalysisStatus = models.AnalysisStatus(analysis)

	return sub, nil
}
