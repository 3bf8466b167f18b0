package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/facultylens/pipeline-service/internal/models"
	"github.com/facultylens/pipeline-service/internal/repository"
	"github.com/facultylens/pipeline-service/internal/service"
	"github.com/facultylens/pipeline-service/internal/worker/queue"
)

// PipelineWorker consumes dispatch events, claims the matching ledger row and
// runs the stage handler for its job type. The ledger row is the source of
// truth: the event only says "look at task X", so a lost or duplicated event
// is harmless.
type PipelineWorker interface {
	Start(ctx context.Context) error
	Stop() error
	HandleTask(ctx context.Context, taskID string) error
	Stats() WorkerStats
}

type WorkerStats struct {
	BusyWorkers    int `json:"busy_workers"`
	TotalProcessed int `json:"total_processed"`
	FailedJobs     int `json:"failed_jobs"`
	QueueLength    int `json:"queue_length"`
}

type WorkerConfig struct {
	WorkerID        string
	LeaseTimeout    time.Duration
	ReclaimInterval time.Duration
	SweepInterval   time.Duration
	PurgeInterval   time.Duration
}

// AnalysisStatusStore diverts a submission's pipeline status to failed when
// its stage dies with an unrecoverable error, so nothing sits at an
// intermediate status with no job left to move it.
type AnalysisStatusStore interface {
	MarkAnalysisFailed(ctx context.Context, id string) (bool, error)
}

type pipelineWorker struct {
	cfg                 WorkerConfig
	workerPool          *WorkerPool
	consumer            queue.Consumer
	taskRepo            repository.TaskRepository
	submissions         AnalysisStatusStore
	queueRepo           repository.RabbitMQRepository
	integrityService    service.IntegrityService
	quantitativeService service.QuantitativeService
	qualitativeService  service.QualitativeService
	aggregationService  service.AggregationService
	periodService       service.PeriodService
	reportService       service.ReportService
	logger              zerolog.Logger

	stats      WorkerStats
	statsMutex sync.Mutex
	loops      sync.WaitGroup
	stop       chan struct{}
	stopOnce   sync.Once
	startTime  time.Time
}

func NewPipelineWorker(
	cfg WorkerConfig,
	workerPool *WorkerPool,
	consumer queue.Consumer,
	taskRepo repository.TaskRepository,
	submissions AnalysisStatusStore,
	queueRepo repository.RabbitMQRepository,
	integrityService service.IntegrityService,
	quantitativeService service.QuantitativeService,
	qualitativeService service.QualitativeService,
	aggregationService service.AggregationService,
	periodService service.PeriodService,
	reportService service.ReportService,
	logger zerolog.Logger,
) PipelineWorker {
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 10 * time.Minute
	}
	if cfg.ReclaimInterval <= 0 {
		cfg.ReclaimInterval = time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = time.Hour
	}

	return &pipelineWorker{
		cfg:                 cfg,
		workerPool:          workerPool,
		consumer:            consumer,
		taskRepo:            taskRepo,
		submissions:         submissions,
		queueRepo:           queueRepo,
		integrityService:    integrityService,
		quantitativeService: quantitativeService,
		qualitativeService:  qualitativeService,
		aggregationService:  aggregationService,
		periodService:       periodService,
		reportService:       reportService,
		logger:              logger,
		stop:                make(chan struct{}),
		startTime:           time.Now(),
	}
}

func (w *pipelineWorker) Start(ctx context.Context) error {
	w.logger.Info().Str("worker_id", w.cfg.WorkerID).Msg("Starting pipeline worker...")

	if err := w.workerPool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	msgs, err := w.consumer.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming dispatch events: %w", err)
	}

	go w.processMessages(ctx, msgs)

	w.loops.Add(3)
	go w.reclaimLoop(ctx)
	go w.sweepLoop(ctx)
	go w.purgeLoop(ctx)

	w.logger.Info().Msg("Pipeline worker started successfully")
	return nil
}

func (w *pipelineWorker) Stop() error {
	w.logger.Info().Msg("Stopping pipeline worker...")

	// The maintenance loops watch this channel as well as the start context,
	// so Stop unblocks them even when the caller never cancels.
	w.stopOnce.Do(func() { close(w.stop) })

	if err := w.consumer.Close(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to close dispatch consumer")
	}

	if err := w.workerPool.Stop(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to stop worker pool")
	}

	w.loops.Wait()

	w.statsMutex.Lock()
	defer w.statsMutex.Unlock()
	w.logger.Info().
		Int("total_processed", w.stats.TotalProcessed).
		Int("failed_jobs", w.stats.FailedJobs).
		Dur("uptime", time.Since(w.startTime)).
		Msg("Pipeline worker stopped")

	return nil
}

func (w *pipelineWorker) processMessages(ctx context.Context, msgs <-chan queue.Message) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Stopping dispatch processing")
			return
		case msg, ok := <-msgs:
			if !ok {
				w.logger.Warn().Msg("Dispatch channel closed")
				return
			}

			w.workerPool.Submit(func() {
				if err := w.processMessage(ctx, msg); err != nil {
					w.logger.Error().Err(err).Msg("Failed to process dispatch event")

					w.statsMutex.Lock()
					w.stats.FailedJobs++
					w.statsMutex.Unlock()

					if isPermanentError(err) {
						if ackErr := msg.Ack(false); ackErr != nil {
							w.logger.Error().Err(ackErr).Msg("Failed to ack message")
						}
						return
					}

					if nackErr := msg.Nack(false, true); nackErr != nil {
						w.logger.Error().Err(nackErr).Msg("Failed to nack message")
					}
					return
				}

				if err := msg.Ack(false); err != nil {
					w.logger.Error().Err(err).Msg("Failed to ack message")
				}

				w.statsMutex.Lock()
				w.stats.TotalProcessed++
				w.statsMutex.Unlock()
			})
		}
	}
}

func (w *pipelineWorker) processMessage(ctx context.Context, msg queue.Message) error {
	var event models.TaskQueuedEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return permanent(fmt.Errorf("failed to unmarshal dispatch event: %w", err))
	}

	if strings.TrimSpace(event.TaskID) == "" {
		return permanent(errors.New("empty task_id"))
	}

	return w.HandleTask(ctx, event.TaskID)
}

// HandleTask claims the ledger row and runs its stage. A nil claim means
// another worker won the race (or the task was cancelled while queued); the
// event is simply consumed.
func (w *pipelineWorker) HandleTask(ctx context.Context, taskID string) error {
	task, err := w.taskRepo.Claim(ctx, taskID, w.cfg.WorkerID, w.cfg.LeaseTimeout)
	if err != nil {
		return fmt.Errorf("failed to claim task %s: %w", taskID, err)
	}
	if task == nil {
		w.logger.Debug().Str("task_id", taskID).Msg("Task not claimable, skipping")
		return nil
	}

	w.logger.Info().
		Str("task_id", task.ID).
		Str("job_type", task.JobType.String()).
		Str("university_id", task.UniversityID).
		Msg("Processing task")

	startTime := time.Now()
	result, runErr := w.dispatch(ctx, task)

	status, message := terminalStatus(result, runErr)
	if status == models.TaskFailed {
		w.markSubmissionFailed(ctx, task)
	}
	if err := w.taskRepo.Complete(ctx, task.ID, status, message); err != nil {
		// The lease still covers the row; the reclaim loop will requeue it
		// if this worker dies before a retry lands.
		w.logger.Error().Err(err).
			Str("task_id", task.ID).
			Str("status", status.String()).
			Msg("Failed to record terminal task status")
	}

	logEvent := w.logger.Info()
	if runErr != nil {
		logEvent = w.logger.Error().Err(runErr)
	}
	logEvent.
		Str("task_id", task.ID).
		Str("job_type", task.JobType.String()).
		Str("status", status.String()).
		Dur("elapsed", time.Since(startTime)).
		Msg("Task finished")

	return nil
}

// markSubmissionFailed moves a submission job's subject to analysis_status
// failed. Non-submission jobs and already-terminal pipelines are left alone.
func (w *pipelineWorker) markSubmissionFailed(ctx context.Context, task *models.BackgroundTask) {
	switch task.JobType {
	case models.JobIntegrityCheck, models.JobQuantitativeAnalysis,
		models.JobQualitativeAnalysis, models.JobFinalAggregation:
	default:
		return
	}

	id, err := w.submissionID(task)
	if err != nil {
		return
	}

	moved, err := w.submissions.MarkAnalysisFailed(ctx, id)
	if err != nil {
		w.logger.Error().Err(err).
			Str("submission_id", id).
			Str("task_id", task.ID).
			Msg("Failed to mark submission analysis failed")
		return
	}
	if moved {
		w.logger.Warn().
			Str("submission_id", id).
			Str("task_id", task.ID).
			Msg("Submission analysis diverted to failed")
	}
}

func (w *pipelineWorker) dispatch(ctx context.Context, task *models.BackgroundTask) (*models.StageResult, error) {
	switch task.JobType {
	case models.JobIntegrityCheck:
		id, err := w.submissionID(task)
		if err != nil {
			return nil, err
		}
		return w.integrityService.Run(ctx, task, id)

	case models.JobQuantitativeAnalysis:
		id, err := w.submissionID(task)
		if err != nil {
			return nil, err
		}
		return w.quantitativeService.Run(ctx, task, id)

	case models.JobQualitativeAnalysis:
		id, err := w.submissionID(task)
		if err != nil {
			return nil, err
		}
		return w.qualitativeService.Run(ctx, task, id)

	case models.JobFinalAggregation:
		id, err := w.submissionID(task)
		if err != nil {
			return nil, err
		}
		return w.aggregationService.Run(ctx, task, id)

	case models.JobPeriodCancellation:
		if task.PeriodID == nil || *task.PeriodID == "" {
			return nil, models.Validationf("period cancellation task %s has no period_id", task.ID)
		}
		return w.periodService.RunCancellation(ctx, task, *task.PeriodID)

	case models.JobReportGeneration:
		var params models.ReportGenerationParams
		if err := json.Unmarshal(task.Parameters, &params); err != nil {
			return nil, models.Validationf("report task %s has malformed parameters: %v", task.ID, err)
		}
		return w.reportService.Run(ctx, task, params)

	default:
		return nil, models.Validationf("unknown job type %q", task.JobType)
	}
}

func (w *pipelineWorker) submissionID(task *models.BackgroundTask) (string, error) {
	if task.SubmissionID != nil && *task.SubmissionID != "" {
		return *task.SubmissionID, nil
	}

	var params models.SubmissionJobParams
	if len(task.Parameters) > 0 {
		if err := json.Unmarshal(task.Parameters, &params); err == nil && params.SubmissionID != "" {
			return params.SubmissionID, nil
		}
	}

	return "", models.Validationf("%s task %s has no submission_id", task.JobType, task.ID)
}

// terminalStatus maps a stage outcome onto the ledger. Item-level failures in
// a run that still finished yield completed_partial_failure, never
// completed_success.
func terminalStatus(result *models.StageResult, runErr error) (models.TaskStatus, string) {
	if runErr != nil {
		return models.TaskFailed, runErr.Error()
	}
	if result == nil {
		return models.TaskCompletedSuccess, ""
	}
	if result.Cancelled {
		return models.TaskCancelled, result.Message
	}
	if result.Failed > 0 {
		msg := result.Message
		if msg == "" {
			msg = fmt.Sprintf("%d of %d items failed", result.Failed, result.Total)
		}
		return models.TaskCompletedPartialFailure, msg
	}
	return models.TaskCompletedSuccess, result.Message
}

// reclaimLoop requeues tasks whose lease expired, which means a worker died
// mid-run. Each reclaimed task gets its dispatch event re-published so an
// alive worker picks it up again.
func (w *pipelineWorker) reclaimLoop(ctx context.Context) {
	defer w.loops.Done()

	ticker := time.NewTicker(w.cfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			ids, err := w.taskRepo.ReclaimOrphaned(ctx)
			if err != nil {
				w.logger.Error().Err(err).Msg("Failed to reclaim orphaned tasks")
				continue
			}

			for _, id := range ids {
				w.logger.Warn().Str("task_id", id).Msg("Reclaimed orphaned task, requeueing")

				task, err := w.taskRepo.GetByID(ctx, id)
				if err != nil {
					w.logger.Error().Err(err).Str("task_id", id).Msg("Failed to load reclaimed task")
					continue
				}

				event := models.TaskQueuedEvent{
					TaskID:       task.ID,
					JobType:      task.JobType,
					UniversityID: task.UniversityID,
					Timestamp:    time.Now().Unix(),
				}
				if err := w.queueRepo.PublishTaskQueued(ctx, event); err != nil {
					// Still queued in the ledger; the next reclaim tick or a
					// manual requeue will retry the publish.
					w.logger.Error().Err(err).Str("task_id", id).Msg("Failed to re-publish reclaimed task")
				}
			}
		}
	}
}

func (w *pipelineWorker) sweepLoop(ctx context.Context) {
	defer w.loops.Done()

	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if err := w.periodService.Sweep(ctx); err != nil {
				w.logger.Error().Err(err).Msg("Period sweep failed")
			}
		}
	}
}

func (w *pipelineWorker) purgeLoop(ctx context.Context) {
	defer w.loops.Done()

	ticker := time.NewTicker(w.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			purged, err := w.reportService.PurgeExpired(ctx)
			if err != nil {
				w.logger.Error().Err(err).Msg("Report purge failed")
				continue
			}
			if purged > 0 {
				w.logger.Info().Int("purged", purged).Msg("Expired reports purged")
			}
		}
	}
}

func (w *pipelineWorker) Stats() WorkerStats {
	w.statsMutex.Lock()
	stats := w.stats
	w.statsMutex.Unlock()

	stats.BusyWorkers = w.workerPool.BusyWorkers()
	stats.QueueLength = w.workerPool.QueueLength()
	return stats
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return permanentError{err: err}
}

func isPermanentError(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
