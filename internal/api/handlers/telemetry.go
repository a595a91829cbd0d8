package handlers

import (
	"net/http"

	"github.com/substratelabs/arbiter/internal/service"
)

type TelemetryHandler struct {
	monitor  *service.CoherenceMonitor
	adapter  *service.AdaptationEngine
	resolver *service.Resolver
}

func NewTelemetryHandler(monitor *service.CoherenceMonitor, adapter *service.AdaptationEngine, resolver *service.Resolver) *TelemetryHandler {
	return &TelemetryHandler{monitor: monitor, adapter: adapter, resolver: resolver}
}

// Coherence reports the current coherence measure and fragmentation state.
func (h *TelemetryHandler) Coherence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"coherence":    h.monitor.Coherence(),
		"fragmented":   h.monitor.Fragmented(),
		"entropy_cost": h.resolver.EntropyCost(),
	})
}

// Parameters returns the active arbitrator parameter snapshot.
func (h *TelemetryHandler) Parameters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.adapter.Params())
}
