package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/substratelabs/arbiter/internal/domain"
	"github.com/substratelabs/arbiter/internal/service"
)

type BackendHandler struct {
	registry *service.Registry
}

func NewBackendHandler(registry *service.Registry) *BackendHandler {
	return &BackendHandler{registry: registry}
}

type registerBackendRequest struct {
	BackendID      string                 `json:"backend_id"`
	CapabilityTags []string               `json:"capability_tags"`
	CostModel      domain.LinearCostModel `json:"cost_model"`
}

// Register registers (or replaces) a backend described by a declarative
// linear cost model. In-process embedders can register arbitrary cost
// functions through the service API instead.
func (h *BackendHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerBackendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BackendID == "" {
		writeError(w, http.StatusBadRequest, "backend_id is required")
		return
	}

	desc := domain.BackendDescriptor{
		ID:           req.BackendID,
		Capabilities: req.CapabilityTags,
		CostModel:    req.CostModel.Func(),
	}
	if err := h.registry.Register(desc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"backend_id":      desc.ID,
		"capability_tags": desc.Capabilities,
	})
}

func (h *BackendHandler) Deregister(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "backend id is required")
		return
	}
	h.registry.Deregister(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *BackendHandler) List(w http.ResponseWriter, r *http.Request) {
	type backendSummary struct {
		BackendID      string   `json:"backend_id"`
		CapabilityTags []string `json:"capability_tags"`
	}
	var out []backendSummary
	for _, d := range h.registry.Snapshot() {
		out = append(out, backendSummary{BackendID: d.ID, CapabilityTags: d.Capabilities})
	}
	writeJSON(w, http.StatusOK, map[string]any{"backends": out})
}

func (h *BackendHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := h.registry.Get(id)
	if err != nil {
		if errors.Is(err, service.ErrBackendNotFound) {
			writeError(w, http.StatusNotFound, "backend not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to look up backend")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"backend_id":      d.ID,
		"capability_tags": d.Capabilities,
	})
}
