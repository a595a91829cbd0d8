package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/substratelabs/arbiter/internal/domain"
	"github.com/substratelabs/arbiter/internal/service"
	"github.com/substratelabs/arbiter/internal/store"
)

type TaskHandler struct {
	submitter *service.Submitter
}

func NewTaskHandler(submitter *service.Submitter) *TaskHandler {
	return &TaskHandler{submitter: submitter}
}

type submitTaskRequest struct {
	TaskID   string             `json:"task_id,omitempty"`
	Features map[string]float64 `json:"features"`
	// Categorical attributes are folded into the numeric feature space by
	// stable hashing, so "region=eu" contributes the same value on every
	// submission.
	Categorical          map[string]string `json:"categorical,omitempty"`
	DeadlineMS           int64             `json:"deadline_ms,omitempty"`
	RequiredCapabilities []string          `json:"required_capability_tags,omitempty"`
}

func (req *submitTaskRequest) toTask() (*domain.Task, error) {
	task := &domain.Task{
		Features:             map[string]float64{},
		RequiredCapabilities: req.RequiredCapabilities,
	}
	if req.TaskID != "" {
		id, err := uuid.Parse(req.TaskID)
		if err != nil {
			return nil, fmt.Errorf("invalid task_id")
		}
		task.ID = id
	} else {
		task.ID = uuid.New()
	}
	for k, v := range req.Features {
		task.Features[k] = v
	}
	for k, v := range req.Categorical {
		task.Features[k] = hashCategorical(k, v)
	}
	if req.DeadlineMS > 0 {
		task.Deadline = time.Now().Add(time.Duration(req.DeadlineMS) * time.Millisecond)
	}
	return task, nil
}

// hashCategorical maps a categorical attribute to a stable value in [0,1).
func hashCategorical(key, value string) float64 {
	h := fnv.New32a()
	h.Write([]byte(key))
	h.Write([]byte{'='})
	h.Write([]byte(value))
	return float64(h.Sum32()) / float64(1<<32)
}

// Submit arbitrates a task synchronously and returns its outcome.
func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, err := req.toTask()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := h.submitter.Submit(r.Context(), task)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoEligibleBackend):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, store.ErrOutcomeExists):
			writeError(w, http.StatusConflict, "task already arbitrated")
		default:
			writeError(w, http.StatusInternalServerError, "arbitration failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// SubmitAsync starts an arbitration and returns a pollable handle.
func (h *TaskHandler) SubmitAsync(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, err := req.toTask()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	handle := h.submitter.SubmitAsync(task)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"handle_id": handle.ID.String(),
		"task_id":   handle.TaskID.String(),
	})
}

// Poll reports an async arbitration's state.
func (h *TaskHandler) Poll(w http.ResponseWriter, r *http.Request) {
	handleID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid handle id")
		return
	}
	handle, err := h.submitter.Get(handleID)
	if err != nil {
		writeError(w, http.StatusNotFound, "handle not found")
		return
	}

	outcome, done, aerr := handle.Poll()
	if !done {
		writeJSON(w, http.StatusOK, map[string]any{"done": false})
		return
	}
	if aerr != nil {
		status := http.StatusInternalServerError
		if errors.Is(aerr, service.ErrNoEligibleBackend) {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, map[string]any{"done": true, "error": aerr.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"done": true, "outcome": outcome})
}

// Cancel aborts an in-flight async arbitration.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	handleID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid handle id")
		return
	}
	if err := h.submitter.Cancel(handleID); err != nil {
		writeError(w, http.StatusNotFound, "handle not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
