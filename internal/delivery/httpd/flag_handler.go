package httpd

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/facultylens/pipeline-service/internal/models"
)

func (h *Handler) ListPendingFlags(w http.ResponseWriter, r *http.Request) {
	limit := getIntQueryParam(r, "limit", 50)
	offset := getIntQueryParam(r, "offset", 0)

	flags, err := h.flagService.ListPending(r.Context(), limit, offset)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"flags":  flags,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handler) GetFlag(w http.ResponseWriter, r *http.Request) {
	flagID := chi.URLParam(r, "flag_id")
	if flagID == "" {
		writeError(w, http.StatusBadRequest, "Flag ID is required")
		return
	}

	flag, err := h.flagService.Get(r.Context(), flagID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, flag)
}

func (h *Handler) ResolveFlag(w http.ResponseWriter, r *http.Request) {
	flagID := chi.URLParam(r, "flag_id")
	if flagID == "" {
		writeError(w, http.StatusBadRequest, "Flag ID is required")
		return
	}

	var req struct {
		Resolution models.FlagResolution `json:"resolution"`
		ResolvedBy string                `json:"resolved_by"`
		AdminNotes string                `json:"admin_notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ResolvedBy == "" {
		writeError(w, http.StatusBadRequest, "resolved_by is required")
		return
	}

	flag, err := h.flagService.Resolve(r.Context(), flagID, req.Resolution, req.ResolvedBy, req.AdminNotes)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, flag)
}
