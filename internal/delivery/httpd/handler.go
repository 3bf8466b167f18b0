package httpd

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/facultylens/pipeline-service/internal/models"
	"github.com/facultylens/pipeline-service/internal/service"
)

type Handler struct {
	taskService       service.TaskService
	submissionService service.SubmissionService
	flagService       service.FlagService
	periodService     service.PeriodService
	reportService     service.ReportService
	health            HealthChecker
	logger            zerolog.Logger
}

func NewHandler(
	taskService service.TaskService,
	submissionService service.SubmissionService,
	flagService service.FlagService,
	periodService service.PeriodService,
	reportService service.ReportService,
	health HealthChecker,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		taskService:       taskService,
		submissionService: submissionService,
		flagService:       flagService,
		periodService:     periodService,
		reportService:     reportService,
		health:            health,
		logger:            logger,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	// Health check
	router.Get("/health", h.HealthCheck)

	// Versioned API
	router.Route("/api/v1", func(api chi.Router) {
		api.Route("/tasks", func(r chi.Router) {
			r.Post("/", h.EnqueueTask)
			r.Get("/{task_id}", h.GetTask)
			r.Post("/{task_id}/cancel", h.CancelTask)
		})

		api.Route("/submissions", func(r chi.Router) {
			r.Post("/{submission_id}/process", h.ProcessSubmission)
			r.Get("/{submission_id}", h.GetSubmission)
			r.Post("/{submission_id}/resubmit", h.Resubmit)
		})

		api.Route("/flags", func(r chi.Router) {
			r.Get("/", h.ListPendingFlags)
			r.Get("/{flag_id}", h.GetFlag)
			r.Post("/{flag_id}/resolve", h.ResolveFlag)
		})

		api.Route("/periods", func(r chi.Router) {
			r.Post("/", h.CreatePeriod)
			r.Get("/{period_id}", h.GetPeriod)
			r.Post("/{period_id}/activate", h.ActivatePeriod)
			r.Post("/{period_id}/close", h.ClosePeriod)
			r.Post("/{period_id}/cancel", h.CancelPeriod)
		})

		api.Route("/reports", func(r chi.Router) {
			r.Post("/", h.RequestReport)
			r.Get("/{report_id}", h.GetReport)
			r.Get("/{report_id}/download", h.DownloadReport)
		})
	})
}

func getIntQueryParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

func writeCreated(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// handleServiceError maps the domain error taxonomy onto HTTP status codes.
func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	var (
		validation *models.ValidationError
		transition *models.InvalidTransition
	)

	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Reason)
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "Resource not found")
	case errors.Is(err, models.ErrDuplicatePeriod):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrGracePeriodExpired):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrPeriodNotActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
