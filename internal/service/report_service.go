package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/facultylens/pipeline-service/internal/models"
	"github.com/facultylens/pipeline-service/internal/repository"
)

// ReportService is the export boundary: only final snapshots feed reports.
// Generation runs as a background job; the API returns a report id to poll.
type ReportService interface {
	Request(ctx context.Context, req RequestReportRequest) (*models.GeneratedReport, error)
	Get(ctx context.Context, id string) (*models.GeneratedReport, error)
	DownloadURL(ctx context.Context, id string) (string, error)
	Run(ctx context.Context, task *models.BackgroundTask, params models.ReportGenerationParams) (*models.StageResult, error)
	PurgeExpired(ctx context.Context) (int, error)
}

type RequestReportRequest struct {
	UniversityID      string              `json:"university_id"`
	RequestedBy       string              `json:"requested_by"`
	PeriodID          string              `json:"period_id"`
	ReportType        string              `json:"report_type"`
	Format            models.ReportFormat `json:"format"`
	EvaluateeID       string              `json:"evaluatee_id,omitempty"`
	SubjectOfferingID string              `json:"subject_offering_id,omitempty"`
	IncludeSuperseded bool                `json:"include_superseded,omitempty"`
}

type ReportConfig struct {
	Retention   time.Duration
	PurgeBatch  int
	DownloadTTL time.Duration
}

type reportService struct {
	reportRepo  repository.ReportRepository
	objectStore repository.ObjectStoreRepository
	taskRepo    repository.TaskRepository
	taskService TaskService
	config      ReportConfig
	logger      zerolog.Logger
	now         func() time.Time
}

func NewReportService(
	reportRepo repository.ReportRepository,
	objectStore repository.ObjectStoreRepository,
	taskRepo repository.TaskRepository,
	taskService TaskService,
	config ReportConfig,
	logger zerolog.Logger,
) ReportService {
	return &reportService{
		reportRepo:  reportRepo,
		objectStore: objectStore,
		taskRepo:    taskRepo,
		taskService: taskService,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *reportService) Request(ctx context.Context, req RequestReportRequest) (*models.GeneratedReport, error) {
	if req.PeriodID == "" || req.UniversityID == "" {
		return nil, models.Validationf("university_id and period_id are required")
	}
	switch req.Format {
	case models.FormatCSV:
	case models.FormatPDF:
		return nil, models.Validationf("report format %s is not supported yet, use %s", models.FormatPDF, models.FormatCSV)
	default:
		return nil, models.Validationf("unknown report format %q", req.Format)
	}
	if req.ReportType == "" {
		req.ReportType = "period_scores"
	}

	report := &models.GeneratedReport{
		ID:           uuid.New().String(),
		UniversityID: req.UniversityID,
		RequestedBy:  req.RequestedBy,
		ReportType:   req.ReportType,
		Status:       models.ReportQueued,
		FileFormat:   req.Format,
		ExpiresAt:    s.now().Add(s.config.Retention),
	}

	params := models.ReportGenerationParams{
		ReportID:          report.ID,
		PeriodID:          req.PeriodID,
		ReportType:        req.ReportType,
		Format:            req.Format,
		EvaluateeID:       req.EvaluateeID,
		SubjectOfferingID: req.SubjectOfferingID,
		IncludeSuperseded: req.IncludeSuperseded,
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report parameters: %w", err)
	}
	report.Parameters = raw

	if err := s.reportRepo.Create(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to create report: %w", err)
	}

	if _, err := s.taskService.Enqueue(ctx, EnqueueRequest{
		UniversityID: req.UniversityID,
		JobType:      models.JobReportGeneration,
		SubmittedBy:  req.RequestedBy,
		Parameters:   params,
	}); err != nil {
		return nil, fmt.Errorf("failed to enqueue report generation: %w", err)
	}

	s.logger.Info().
		Str("report_id", report.ID).
		Str("period_id", req.PeriodID).
		Str("format", req.Format.String()).
		Msg("Report requested")

	return report, nil
}

func (s *reportService) Get(ctx context.Context, id string) (*models.GeneratedReport, error) {
	return s.reportRepo.GetByID(ctx, id)
}

func (s *reportService) DownloadURL(ctx context.Context, id string) (string, error) {
	report, err := s.reportRepo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if report.Status != models.ReportReady || report.StoragePath == nil {
		return "", models.Validationf("report %s is not ready for download", id)
	}

	return s.objectStore.PresignedURL(ctx, *report.StoragePath, s.config.DownloadTTL)
}

func (s *reportService) Run(ctx context.Context, task *models.BackgroundTask, params models.ReportGenerationParams) (*models.StageResult, error) {
	if err := s.reportRepo.SetStatus(ctx, params.ReportID, models.ReportGenerating, nil, nil); err != nil {
		return nil, fmt.Errorf("failed to mark report generating: %w", err)
	}

	result, err := s.generate(ctx, task, params)
	if err != nil {
		message := err.Error()
		if setErr := s.reportRepo.SetStatus(ctx, params.ReportID, models.ReportFailed, nil, &message); setErr != nil {
			s.logger.Error().Err(setErr).Str("report_id", params.ReportID).Msg("Failed to record report failure")
		}
		return nil, err
	}

	return result, nil
}

func (s *reportService) generate(ctx context.Context, task *models.BackgroundTask, params models.ReportGenerationParams) (*models.StageResult, error) {
	var evaluateeID, subjectOfferingID *string
	if params.EvaluateeID != "" {
		evaluateeID = &params.EvaluateeID
	}
	if params.SubjectOfferingID != "" {
		subjectOfferingID = &params.SubjectOfferingID
	}

	rows, err := s.reportRepo.ReportRows(ctx, params.PeriodID, evaluateeID, subjectOfferingID, params.IncludeSuperseded)
	if err != nil {
		return nil, fmt.Errorf("failed to load report rows: %w", err)
	}

	cancelled, err := s.taskRepo.IsCancellationRequested(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to poll cancellation: %w", err)
	}
	if cancelled {
		return &models.StageResult{Cancelled: true, Message: "report generation cancelled"}, nil
	}

	content, err := renderCSV(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}

	storagePath := fmt.Sprintf("reports/%s/%s.csv", task.UniversityID, params.ReportID)
	if err := s.objectStore.UploadReport(ctx, storagePath, content, models.FormatCSV); err != nil {
		return nil, fmt.Errorf("failed to upload report: %w", err)
	}

	if err := s.reportRepo.SetStatus(ctx, params.ReportID, models.ReportReady, &storagePath, nil); err != nil {
		return nil, fmt.Errorf("failed to mark report ready: %w", err)
	}
	if err := s.taskRepo.SetResultStoragePath(ctx, task.ID, storagePath); err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to record result storage path")
	}

	s.logger.Info().
		Str("report_id", params.ReportID).
		Str("storage_path", storagePath).
		Int("rows", len(rows)).
		Msg("Report generated")

	return &models.StageResult{
		Total:     len(rows),
		Processed: len(rows),
		Message:   fmt.Sprintf("report generated with %d rows", len(rows)),
	}, nil
}

func renderCSV(rows []models.ReportRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"submission_id", "evaluatee_id", "subject_offering_id",
		"quant_score_raw", "z_quant", "qual_score_raw", "z_qual",
		"final_score", "cohort_n",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, row := range rows {
		record := []string{
			row.SubmissionID,
			row.EvaluateeID,
			row.SubjectOfferingID,
			strconv.FormatFloat(row.QuantScoreRaw, 'f', 4, 64),
			strconv.FormatFloat(row.ZQuant, 'f', 4, 64),
			strconv.FormatFloat(row.QualScoreRaw, 'f', 4, 64),
			strconv.FormatFloat(row.ZQual, 'f', 4, 64),
			strconv.FormatFloat(row.FinalScore, 'f', 4, 64),
			strconv.Itoa(row.CohortN),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// PurgeExpired deletes stale report artifacts and their rows.
func (s *reportService) PurgeExpired(ctx context.Context) (int, error) {
	batch := s.config.PurgeBatch
	if batch <= 0 {
		batch = 100
	}

	expired, err := s.reportRepo.ListExpired(ctx, s.now(), batch)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired reports: %w", err)
	}

	purged := 0
	for _, report := range expired {
		if report.StoragePath != nil {
			if err := s.objectStore.DeleteReport(ctx, *report.StoragePath); err != nil {
				s.logger.Warn().Err(err).Str("report_id", report.ID).Msg("Failed to delete report artifact")
				continue
			}
		}
		if err := s.reportRepo.Delete(ctx, report.ID); err != nil {
			return purged, fmt.Errorf("failed to delete report row: %w", err)
		}
		purged++
	}

	if purged > 0 {
		s.logger.Info().Int("purged", purged).Msg("Expired reports purged")
	}

	return purged, nil
}
