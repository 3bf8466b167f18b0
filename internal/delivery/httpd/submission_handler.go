package httpd

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/facultylens/pipeline-service/internal/service"
)

func (h *Handler) ProcessSubmission(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submission_id")

	var req service.ProcessSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	submission, err := h.submissionService.Process(r.Context(), submissionID, req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeCreated(w, submission)
}

func (h *Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submission_id")
	if submissionID == "" {
		writeError(w, http.StatusBadRequest, "Submission ID is required")
		return
	}

	submission, err := h.submissionService.Get(r.Context(), submissionID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, submission)
}

func (h *Handler) Resubmit(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submission_id")
	if submissionID == "" {
		writeError(w, http.StatusBadRequest, "Submission ID is required")
		return
	}

	var req struct {
		SubmittedBy string                         `json:"submitted_by"`
		Likert      []service.LikertAnswerInput    `json:"likert_answers"`
		OpenEnded   []service.OpenEndedAnswerInput `json:"open_ended_answers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	replacement, err := h.flagService.Resubmit(r.Context(), submissionID, service.ResubmitRequest{
		SubmittedBy: req.SubmittedBy,
		Likert:      req.Likert,
		OpenEnded:   req.OpenEnded,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeCreated(w, replacement)
}
