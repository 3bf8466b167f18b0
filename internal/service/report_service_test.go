package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/facultylens/pipeline-service/internal/models"
)

type reportFixture struct {
	service  *reportService
	reports  *fakeReportRepo
	store    *fakeObjectStore
	tasks    *fakeTaskRepo
	enqueuer *fakeEnqueuer
	now      time.Time
}

func newReportFixture() *reportFixture {
	reports := newFakeReportRepo()
	store := newFakeObjectStore()
	tasks := newFakeTaskRepo()
	enqueuer := &fakeEnqueuer{}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	svc := &reportService{
		reportRepo:  reports,
		objectStore: store,
		taskRepo:    tasks,
		taskService: enqueuer,
		config: ReportConfig{
			Retention:   7 * 24 * time.Hour,
			PurgeBatch:  100,
			DownloadTTL: 15 * time.Minute,
		},
		logger: testLogger(),
		now:    func() time.Time { return now },
	}

	return &reportFixture{service: svc, reports: reports, store: store, tasks: tasks, enqueuer: enqueuer, now: now}
}

func TestRequestReportValidation(t *testing.T) {
	fx := newReportFixture()

	_, err := fx.service.Request(context.Background(), RequestReportRequest{UniversityID: "uni-1", Format: models.FormatCSV})
	if !models.IsValidation(err) {
		t.Errorf("expected validation error for missing period, got %v", err)
	}

	_, err = fx.service.Request(context.Background(), RequestReportRequest{
		UniversityID: "uni-1", PeriodID: "period-1", Format: models.FormatPDF,
	})
	if !models.IsValidation(err) {
		t.Errorf("expected validation error for PDF, got %v", err)
	}

	_, err = fx.service.Request(context.Background(), RequestReportRequest{
		UniversityID: "uni-1", PeriodID: "period-1", Format: "XLSX",
	})
	if !models.IsValidation(err) {
		t.Errorf("expected validation error for unknown format, got %v", err)
	}
}

func TestRequestReportEnqueuesGeneration(t *testing.T) {
	fx := newReportFixture()

	report, err := fx.service.Request(context.Background(), RequestReportRequest{
		UniversityID: "uni-1",
		RequestedBy:  "admin-1",
		PeriodID:     "period-1",
		Format:       models.FormatCSV,
	})
	if err != nil {
		t.Fatalf("Request returned error: %v", err)
	}

	if report.Status != models.ReportQueued {
		t.Errorf("report status = %s, want queued", report.Status)
	}
	if want := fx.now.Add(7 * 24 * time.Hour); !report.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", report.ExpiresAt, want)
	}
	if report.ReportType != "period_scores" {
		t.Errorf("default report type = %q, want period_scores", report.ReportType)
	}

	if len(fx.enqueuer.requests) != 1 {
		t.Fatalf("enqueued %d jobs, want 1", len(fx.enqueuer.requests))
	}
	req := fx.enqueuer.requests[0]
	if req.JobType != models.JobReportGeneration {
		t.Errorf("job type = %s, want REPORT_GENERATION", req.JobType)
	}
	params, ok := req.Parameters.(models.ReportGenerationParams)
	if !ok || params.ReportID != report.ID || params.PeriodID != "period-1" {
		t.Errorf("parameters = %+v", req.Parameters)
	}
}

func TestRunGeneratesCSV(t *testing.T) {
	fx := newReportFixture()
	fx.reports.reports["report-1"] = &models.GeneratedReport{
		ID: "report-1", UniversityID: "uni-1", Status: models.ReportQueued, FileFormat: models.FormatCSV,
	}
	fx.reports.rows = []models.ReportRow{
		{SubmissionID: "sub-1", EvaluateeID: "evaluatee-1", SubjectOfferingID: "offering-1", QuantScoreRaw: 80, FinalScore: 0.5, CohortN: 2},
		{SubmissionID: "sub-2", EvaluateeID: "evaluatee-1", SubjectOfferingID: "offering-1", QuantScoreRaw: 90, FinalScore: -0.5, CohortN: 2},
	}

	task := &models.BackgroundTask{ID: "task-1", UniversityID: "uni-1"}
	fx.tasks.tasks["task-1"] = task

	result, err := fx.service.Run(context.Background(), task, models.ReportGenerationParams{
		ReportID: "report-1", PeriodID: "period-1", Format: models.FormatCSV,
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Processed != 2 {
		t.Errorf("Processed = %d, want 2", result.Processed)
	}

	wantPath := "reports/uni-1/report-1.csv"
	content, ok := fx.store.uploads[wantPath]
	if !ok {
		t.Fatalf("nothing uploaded at %s, uploads: %v", wantPath, fx.store.uploads)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 3 {
		t.Fatalf("CSV has %d lines, want header + 2 rows", len(lines))
	}
	if !strings.HasPrefix(lines[0], "submission_id,evaluatee_id") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "sub-1,evaluatee-1,offering-1,80.0000") {
		t.Errorf("first row = %q", lines[1])
	}

	report := fx.reports.reports["report-1"]
	if report.Status != models.ReportReady {
		t.Errorf("report status = %s, want ready", report.Status)
	}
	if report.StoragePath == nil || *report.StoragePath != wantPath {
		t.Errorf("storage path = %v, want %s", report.StoragePath, wantPath)
	}
	if fx.tasks.storagePaths["task-1"] != wantPath {
		t.Errorf("task result path = %q, want %s", fx.tasks.storagePaths["task-1"], wantPath)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	fx := newReportFixture()
	fx.reports.reports["report-1"] = &models.GeneratedReport{ID: "report-1", Status: models.ReportQueued}
	task := &models.BackgroundTask{ID: "task-1", UniversityID: "uni-1"}
	fx.tasks.tasks["task-1"] = task
	fx.tasks.cancelRequested["task-1"] = true

	result, err := fx.service.Run(context.Background(), task, models.ReportGenerationParams{ReportID: "report-1", PeriodID: "period-1"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Cancelled {
		t.Error("expected a cancelled stage result")
	}
	if len(fx.store.uploads) != 0 {
		t.Error("a cancelled run must not upload anything")
	}
}

func TestDownloadURL(t *testing.T) {
	fx := newReportFixture()
	path := "reports/uni-1/report-1.csv"
	fx.reports.reports["report-1"] = &models.GeneratedReport{ID: "report-1", Status: models.ReportGenerating}

	if _, err := fx.service.DownloadURL(context.Background(), "report-1"); !models.IsValidation(err) {
		t.Errorf("expected validation error for a report still generating, got %v", err)
	}

	fx.reports.reports["report-1"].Status = models.ReportReady
	fx.reports.reports["report-1"].StoragePath = &path

	url, err := fx.service.DownloadURL(context.Background(), "report-1")
	if err != nil {
		t.Fatalf("DownloadURL returned error: %v", err)
	}
	if url != fx.store.url {
		t.Errorf("url = %q, want %q", url, fx.store.url)
	}
}

func TestPurgeExpired(t *testing.T) {
	fx := newReportFixture()
	path := "reports/uni-1/report-old.csv"
	fx.reports.expired = []*models.GeneratedReport{
		{ID: "report-old", StoragePath: &path},
		{ID: "report-never-generated"},
	}

	purged, err := fx.service.PurgeExpired(context.Background())
	if err != nil {
		t.Fatalf("PurgeExpired returned error: %v", err)
	}
	if purged != 2 {
		t.Errorf("purged = %d, want 2", purged)
	}
	if len(fx.store.deleted) != 1 || fx.store.deleted[0] != path {
		t.Errorf("deleted artifacts = %v", fx.store.deleted)
	}
	if len(fx.reports.deleted) != 2 {
		t.Errorf("deleted rows = %v", fx.reports.deleted)
	}
}

func TestReportParametersRoundTrip(t *testing.T) {
	fx := newReportFixture()

	report, err := fx.service.Request(context.Background(), RequestReportRequest{
		UniversityID: "uni-1",
		PeriodID:     "period-1",
		Format:       models.FormatCSV,
		EvaluateeID:  "evaluatee-1",
	})
	if err != nil {
		t.Fatalf("Request returned error: %v", err)
	}

	var params models.ReportGenerationParams
	if err := json.Unmarshal(report.Parameters, &params); err != nil {
		t.Fatalf("parameters not valid JSON: %v", err)
	}
	if params.EvaluateeID != "evaluatee-1" || params.PeriodID != "period-1" {
		t.Errorf("stored parameters = %+v", params)
	}
}
