package domain

import (
	"context"
	"sort"
)

// CostModelFunc estimates the cost of executing a task with the given
// features. Implementations must be side-effect free and honor ctx
// cancellation; the arbitrator enforces a timeout on every call.
type CostModelFunc func(ctx context.Context, features map[string]float64) (CostEstimate, error)

// BackendDescriptor describes a registered execution backend. Descriptors
// are immutable for the process lifetime; re-registration replaces the whole
// descriptor.
type BackendDescriptor struct {
	ID           string        `json:"backend_id"`
	Capabilities []string      `json:"capability_tags"`
	CostModel    CostModelFunc `json:"-"`
}

// Satisfies reports whether the backend's capability tags are a superset of
// the required tags.
func (d BackendDescriptor) Satisfies(required []string) bool {
	if len(required) == 0 {
		return true
	}
	tags := make(map[string]struct{}, len(d.Capabilities))
	for _, t := range d.Capabilities {
		tags[t] = struct{}{}
	}
	for _, r := range required {
		if _, ok := tags[r]; !ok {
			return false
		}
	}
	return true
}

// LinearCostModel is a declarative cost model: each dimension is a base
// value plus per-feature coefficients. It is the model shape accepted by the
// HTTP registration surface, where callers cannot supply arbitrary
// functions.
type LinearCostModel struct {
	EnergyBase   float64            `json:"energy_base"`
	EnergyCoef   map[string]float64 `json:"energy_coef,omitempty"`
	LatencyBase  float64            `json:"latency_base"`
	LatencyCoef  map[string]float64 `json:"latency_coef,omitempty"`
	AccuracyBase float64            `json:"accuracy_base"`
	AccuracyCoef map[string]float64 `json:"accuracy_coef,omitempty"`
}

// Func compiles the model into a CostModelFunc. Accuracy is clamped to
// [0,1]; energy and latency are floored at zero.
func (m LinearCostModel) Func() CostModelFunc {
	return func(_ context.Context, features map[string]float64) (CostEstimate, error) {
		est := CostEstimate{
			Energy:   linearEval(m.EnergyBase, m.EnergyCoef, features),
			Latency:  linearEval(m.LatencyBase, m.LatencyCoef, features),
			Accuracy: linearEval(m.AccuracyBase, m.AccuracyCoef, features),
		}
		if est.Energy < 0 {
			est.Energy = 0
		}
		if est.Latency < 0 {
			est.Latency = 0
		}
		if est.Accuracy < 0 {
			est.Accuracy = 0
		}
		if est.Accuracy > 1 {
			est.Accuracy = 1
		}
		return est, nil
	}
}

func linearEval(base float64, coef map[string]float64, features map[string]float64) float64 {
	v := base
	if len(coef) == 0 {
		return v
	}
	// Deterministic iteration keeps floating-point accumulation stable
	// across calls with the same inputs.
	keys := make([]string, 0, len(coef))
	for k := range coef {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if fv, ok := features[k]; ok {
			v += coef[k] * fv
		}
	}
	return v
}
