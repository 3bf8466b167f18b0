package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/facultylens/pipeline-service/internal/models"
	"github.com/rs/zerolog"
)

type TaskRepository interface {
	Create(ctx context.Context, task *models.BackgroundTask) error
	GetByID(ctx context.Context, id string) (*models.BackgroundTask, error)
	Claim(ctx context.Context, id, workerID string, leaseTimeout time.Duration) (*models.BackgroundTask, error)
	Complete(ctx context.Context, id string, status models.TaskStatus, message string) error
	RequestCancellation(ctx context.Context, id string) (models.TaskStatus, error)
	IsCancellationRequested(ctx context.Context, id string) (bool, error)
	UpdateProgress(ctx context.Context, id string, progress, rowsTotal, rowsProcessed, rowsFailed int) error
	SetResultStoragePath(ctx context.Context, id, path string) error
	AppendLog(ctx context.Context, id, line string) error
	ReclaimOrphaned(ctx context.Context) ([]string, error)
	ListInFlightForPeriod(ctx context.Context, periodID string) ([]*models.BackgroundTask, error)
	Ping(ctx context.Context) error
}

type taskRepository struct {
	*PostgresRepository
}

func NewTaskRepository(db *sql.DB, logger zerolog.Logger) TaskRepository {
	return &taskRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

const taskColumns = `
	id, university_id, job_type, status, submitted_by, parameters,
	submission_id, period_id, progress, rows_total, rows_processed, rows_failed,
	result_message, result_storage_path, log_output, locked_by, lease_expires_at,
	started_at, completed_at, created_at, updated_at
`

func (r *taskRepository) Create(ctx context.Context, task *models.BackgroundTask) error {
	query := `
		INSERT INTO background_tasks (
			id, university_id, job_type, status, submitted_by, parameters,
			submission_id, period_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`

	_, err := r.db.ExecContext(ctx, query,
		task.ID,
		task.UniversityID,
		task.JobType.String(),
		task.Status.String(),
		task.SubmittedBy,
		nullableJSON(task.Parameters),
		task.SubmissionID,
		task.PeriodID,
	)
	return err
}

func (r *taskRepository) GetByID(ctx context.Context, id string) (*models.BackgroundTask, error) {
	query := `SELECT ` + taskColumns + ` FROM background_tasks WHERE id = $1`

	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return task, nil
}

// Claim takes the single-owner lease on a queued task: an atomic conditional
// update rather than a language-level lock, since workers may be separate
// processes. Returns nil when another worker got there first.
func (r *taskRepository) Claim(ctx context.Context, id, workerID string, leaseTimeout time.Duration) (*models.BackgroundTask, error) {
	query := `
		UPDATE background_tasks
		SET status = $2,
			locked_by = $3,
			lease_expires_at = NOW() + $4 * INTERVAL '1 second',
			started_at = COALESCE(started_at, NOW()),
			updated_at = NOW()
		WHERE id = $1 AND status = $5
		RETURNING ` + taskColumns

	task, err := scanTask(r.db.QueryRowContext(ctx, query,
		id,
		models.TaskProcessing.String(),
		workerID,
		int64(leaseTimeout.Seconds()),
		models.TaskQueued.String(),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return task, nil
}

func (r *taskRepository) Complete(ctx context.Context, id string, status models.TaskStatus, message string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("cannot complete task %s with non-terminal status %s", id, status)
	}

	query := `
		UPDATE background_tasks
		SET status = $2,
			result_message = $3,
			locked_by = NULL,
			lease_expires_at = NULL,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status IN ($4, $5)
	`

	res, err := r.db.ExecContext(ctx, query, id, status.String(), message,
		models.TaskProcessing.String(), models.TaskCancellationRequested.String())
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("task %s not in a completable state", id)
	}
	return nil
}

// RequestCancellation is advisory: a queued task is cancelled outright, a
// processing one is marked so the worker can exit between logical sub-steps.
// Terminal tasks are left as they are and their status is returned.
func (r *taskRepository) RequestCancellation(ctx context.Context, id string) (models.TaskStatus, error) {
	var status models.TaskStatus

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM background_tasks WHERE id = $1 FOR UPDATE`, id,
		).Scan(&current)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return models.ErrNotFound
			}
			return err
		}

		switch models.TaskStatus(current) {
		case models.TaskQueued:
			status = models.TaskCancelled
			_, err = tx.ExecContext(ctx, `
				UPDATE background_tasks
				SET status = $2, completed_at = NOW(), updated_at = NOW()
				WHERE id = $1
			`, id, status.String())
		case models.TaskProcessing:
			status = models.TaskCancellationRequested
			_, err = tx.ExecContext(ctx, `
				UPDATE background_tasks SET status = $2, updated_at = NOW() WHERE id = $1
			`, id, status.String())
		default:
			status = models.TaskStatus(current)
		}
		return err
	})

	return status, err
}

func (r *taskRepository) IsCancellationRequested(ctx context.Context, id string) (bool, error) {
	var status string
	err := r.db.QueryRowContext(ctx,
		`SELECT status FROM background_tasks WHERE id = $1`, id,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, models.ErrNotFound
		}
		return false, err
	}
	return models.TaskStatus(status) == models.TaskCancellationRequested, nil
}

func (r *taskRepository) UpdateProgress(ctx context.Context, id string, progress, rowsTotal, rowsProcessed, rowsFailed int) error {
	query := `
		UPDATE background_tasks
		SET progress = $2, rows_total = $3, rows_processed = $4, rows_failed = $5, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, progress, rowsTotal, rowsProcessed, rowsFailed)
	return err
}

func (r *taskRepository) SetResultStoragePath(ctx context.Context, id, path string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE background_tasks SET result_storage_path = $2, updated_at = NOW() WHERE id = $1`,
		id, path)
	return err
}

func (r *taskRepository) AppendLog(ctx context.Context, id, line string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE background_tasks
		SET log_output = COALESCE(log_output || E'\n', '') || $2, updated_at = NOW()
		WHERE id = $1
	`, id, line)
	return err
}

// ReclaimOrphaned requeues processing tasks whose lease has expired: the
// owning worker died without completing. Reclaimed ids are returned so the
// caller can surface the anomaly to operators.
func (r *taskRepository) ReclaimOrphaned(ctx context.Context) ([]string, error) {
	query := `
		UPDATE background_tasks
		SET status = $1, locked_by = NULL, lease_expires_at = NULL, updated_at = NOW()
		WHERE status = $2 AND lease_expires_at IS NOT NULL AND lease_expires_at < NOW()
		RETURNING id
	`

	rows, err := r.db.QueryContext(ctx, query,
		models.TaskQueued.String(), models.TaskProcessing.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (r *taskRepository) ListInFlightForPeriod(ctx context.Context, periodID string) ([]*models.BackgroundTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM background_tasks
		WHERE status IN ($2, $3, $4)
			AND (period_id = $1
				OR submission_id IN (SELECT id FROM evaluation_submissions WHERE period_id = $1))
			AND job_type != $5
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, periodID,
		models.TaskQueued.String(),
		models.TaskProcessing.String(),
		models.TaskCancellationRequested.String(),
		models.JobPeriodCancellation.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.BackgroundTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.BackgroundTask, error) {
	task := &models.BackgroundTask{}
	var (
		jobType    string
		status     string
		parameters []byte
	)

	err := row.Scan(
		&task.ID,
		&task.UniversityID,
		&jobType,
		&status,
		&task.SubmittedBy,
		&parameters,
		&task.SubmissionID,
		&task.PeriodID,
		&task.Progress,
		&task.RowsTotal,
		&task.RowsProcessed,
		&task.RowsFailed,
		&task.ResultMessage,
		&task.ResultStoragePath,
		&task.LogOutput,
		&task.LockedBy,
		&task.LeaseExpiresAt,
		&task.StartedAt,
		&task.CompletedAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.JobType = models.JobType(jobType)
	task.Status = models.TaskStatus(status)
	task.Parameters = parameters

	return task, nil
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
