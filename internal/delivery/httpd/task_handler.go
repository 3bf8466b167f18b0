package httpd

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/facultylens/pipeline-service/internal/models"
	"github.com/facultylens/pipeline-service/internal/service"
)

func (h *Handler) EnqueueTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UniversityID string          `json:"university_id"`
		JobType      models.JobType  `json:"job_type"`
		SubmittedBy  string          `json:"submitted_by"`
		Parameters   json.RawMessage `json:"parameters"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.UniversityID == "" || req.SubmittedBy == "" {
		writeError(w, http.StatusBadRequest, "university_id and submitted_by are required")
		return
	}

	params, err := decodeJobParameters(req.JobType, req.Parameters)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	task, err := h.taskService.Enqueue(r.Context(), service.EnqueueRequest{
		UniversityID: req.UniversityID,
		JobType:      req.JobType,
		SubmittedBy:  req.SubmittedBy,
		Parameters:   params,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeCreated(w, task)
}

// decodeJobParameters turns the raw parameters payload into the typed params
// for the job type; unknown job types fail validation downstream.
func decodeJobParameters(jobType models.JobType, raw json.RawMessage) (interface{}, error) {
	unmarshal := func(v interface{}) (interface{}, error) {
		if len(raw) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, models.Validationf("malformed parameters for %s: %v", jobType, err)
		}
		return v, nil
	}

	switch jobType {
	case models.JobIntegrityCheck, models.JobQuantitativeAnalysis,
		models.JobQualitativeAnalysis, models.JobFinalAggregation:
		var p models.SubmissionJobParams
		if _, err := unmarshal(&p); err != nil {
			return nil, err
		}
		return p, nil

	case models.JobPeriodCancellation:
		var p models.PeriodCancellationParams
		if _, err := unmarshal(&p); err != nil {
			return nil, err
		}
		return p, nil

	case models.JobReportGeneration:
		var p models.ReportGenerationParams
		if _, err := unmarshal(&p); err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, models.Validationf("unknown job type %q", jobType)
	}
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "Task ID is required")
		return
	}

	task, err := h.taskService.Get(r.Context(), taskID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, task)
}

func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "Task ID is required")
		return
	}

	status, err := h.taskService.RequestCancellation(r.Context(), taskID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"task_id": taskID,
		"status":  status,
	})
}
