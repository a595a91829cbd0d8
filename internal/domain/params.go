package domain

import "fmt"

// Weights is the arbitrator's weighting vector over the four score
// dimensions. All weights are non-negative; higher weight means the
// dimension contributes more to a backend's cost score.
type Weights struct {
	Energy     float64 `json:"energy"`
	Latency    float64 `json:"latency"`
	Accuracy   float64 `json:"accuracy"`
	Confidence float64 `json:"confidence"`
}

// ArbitratorParameters is the full tunable parameter snapshot handed to the
// arbitrator. It is owned exclusively by the adaptation engine; readers only
// ever see complete, validated snapshots.
type ArbitratorParameters struct {
	Weights   Weights `json:"weights"`
	Smoothing float64 `json:"smoothing"` // dampens adaptation steps, in (0,1]
	// NegativePenalty inflates the score of backends with negative
	// resolved evidence (> 1); PositiveReward deflates the score of
	// backends with positive evidence (< 1, lower score preferred).
	NegativePenalty float64 `json:"negative_penalty"`
	PositiveReward  float64 `json:"positive_reward"`
	Version         int64   `json:"version"`
}

// ParameterBounds constrains how far adaptation may move any single weight.
type ParameterBounds struct {
	MinWeight float64 `json:"min_weight"`
	MaxWeight float64 `json:"max_weight"`
}

// DefaultParameters returns the starting snapshot: equal weights, mild
// smoothing, and the default evidence multipliers.
func DefaultParameters() ArbitratorParameters {
	return ArbitratorParameters{
		Weights:         Weights{Energy: 1, Latency: 1, Accuracy: 1, Confidence: 1},
		Smoothing:       1.0,
		NegativePenalty: 1.5,
		PositiveReward:  0.75,
		Version:         1,
	}
}

// DefaultBounds keeps every weight within an order of magnitude of the
// default in either direction.
func DefaultBounds() ParameterBounds {
	return ParameterBounds{MinWeight: 0.1, MaxWeight: 10}
}

// Validate rejects snapshots that could destabilize arbitration. Validation
// failures are startup-fatal, never expected during normal operation.
func (p ArbitratorParameters) Validate(b ParameterBounds) error {
	if b.MinWeight < 0 || b.MaxWeight <= b.MinWeight {
		return fmt.Errorf("invalid weight bounds [%g, %g]", b.MinWeight, b.MaxWeight)
	}
	for name, w := range map[string]float64{
		"energy":     p.Weights.Energy,
		"latency":    p.Weights.Latency,
		"accuracy":   p.Weights.Accuracy,
		"confidence": p.Weights.Confidence,
	} {
		if w < b.MinWeight || w > b.MaxWeight {
			return fmt.Errorf("weight %s=%g outside bounds [%g, %g]", name, w, b.MinWeight, b.MaxWeight)
		}
	}
	if p.Smoothing <= 0 || p.Smoothing > 1 {
		return fmt.Errorf("smoothing %g outside (0, 1]", p.Smoothing)
	}
	if p.NegativePenalty <= 1 {
		return fmt.Errorf("negative penalty %g must be > 1", p.NegativePenalty)
	}
	if p.PositiveReward <= 0 || p.PositiveReward >= 1 {
		return fmt.Errorf("positive reward %g must be in (0, 1)", p.PositiveReward)
	}
	return nil
}
