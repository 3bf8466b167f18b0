package httpd

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/facultylens/pipeline-service/internal/service"
)

func (h *Handler) RequestReport(w http.ResponseWriter, r *http.Request) {
	var req service.RequestReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.UniversityID == "" || req.PeriodID == "" || req.RequestedBy == "" {
		writeError(w, http.StatusBadRequest, "university_id, period_id and requested_by are required")
		return
	}

	report, err := h.reportService.Request(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeCreated(w, report)
}

func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "report_id")
	if reportID == "" {
		writeError(w, http.StatusBadRequest, "Report ID is required")
		return
	}

	report, err := h.reportService.Get(r.Context(), reportID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, report)
}

func (h *Handler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "report_id")
	if reportID == "" {
		writeError(w, http.StatusBadRequest, "Report ID is required")
		return
	}

	url, err := h.reportService.DownloadURL(r.Context(), reportID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"report_id":    reportID,
		"download_url": url,
	})
}
