package handlers

import (
	"net/http"
	"strconv"

	"github.com/substratelabs/arbiter/internal/domain"
)

const maxContradictionPage = 500

type ContradictionHandler struct {
	log domain.ContradictionLog
}

func NewContradictionHandler(log domain.ContradictionLog) *ContradictionHandler {
	return &ContradictionHandler{log: log}
}

// List pages through the append-only contradiction log, for external
// analysis and training-data export.
func (h *ContradictionHandler) List(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > maxContradictionPage {
		limit = 100
	}

	records, total, err := h.log.List(r.Context(), offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list contradiction log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"offset":  offset,
		"limit":   limit,
		"total":   total,
	})
}
