package httpd

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/facultylens/pipeline-service/internal/service"
)

func (h *Handler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	var req service.CreatePeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	period, err := h.periodService.Create(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeCreated(w, period)
}

func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	periodID := chi.URLParam(r, "period_id")
	if periodID == "" {
		writeError(w, http.StatusBadRequest, "Period ID is required")
		return
	}

	period, err := h.periodService.Get(r.Context(), periodID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, period)
}

func (h *Handler) ActivatePeriod(w http.ResponseWriter, r *http.Request) {
	periodID := chi.URLParam(r, "period_id")
	if periodID == "" {
		writeError(w, http.StatusBadRequest, "Period ID is required")
		return
	}

	period, err := h.periodService.Activate(r.Context(), periodID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, period)
}

func (h *Handler) ClosePeriod(w http.ResponseWriter, r *http.Request) {
	periodID := chi.URLParam(r, "period_id")
	if periodID == "" {
		writeError(w, http.StatusBadRequest, "Period ID is required")
		return
	}

	period, err := h.periodService.Close(r.Context(), periodID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, period)
}

func (h *Handler) CancelPeriod(w http.ResponseWriter, r *http.Request) {
	periodID := chi.URLParam(r, "period_id")
	if periodID == "" {
		writeError(w, http.StatusBadRequest, "Period ID is required")
		return
	}

	var req struct {
		RequestedBy string `json:"requested_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	period, err := h.periodService.Cancel(r.Context(), periodID, req.RequestedBy)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, period)
}
