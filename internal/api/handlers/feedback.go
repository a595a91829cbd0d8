package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/substratelabs/arbiter/internal/service"
)

type FeedbackHandler struct {
	svc *service.FeedbackService
}

func NewFeedbackHandler(svc *service.FeedbackService) *FeedbackHandler {
	return &FeedbackHandler{svc: svc}
}

type reportActualRequest struct {
	TaskID     string  `json:"task_id"`
	ActualCost float64 `json:"actual_cost"`
}

// ReportActual records a task's actual execution cost, once.
func (h *FeedbackHandler) ReportActual(w http.ResponseWriter, r *http.Request) {
	var req reportActualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	taskID, err := uuid.Parse(req.TaskID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task_id")
		return
	}

	outcome, err := h.svc.ReportActual(r.Context(), taskID, req.ActualCost)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOutcomeNotFound):
			writeError(w, http.StatusNotFound, "no outcome recorded for task")
		case errors.Is(err, service.ErrActualAlreadyReported):
			writeError(w, http.StatusConflict, "actual cost already reported")
		default:
			writeError(w, http.StatusInternalServerError, "failed to record actual cost")
		}
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}
