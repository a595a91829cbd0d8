package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Task is a unit of work to be arbitrated to a backend. Tasks are created by
// the caller and read-only to the arbitration core.
type Task struct {
	ID                   uuid.UUID          `json:"id"`
	Features             map[string]float64 `json:"features"`
	Deadline             time.Time          `json:"deadline,omitempty"`
	RequiredCapabilities []string           `json:"required_capabilities,omitempty"`
}

// CostEstimate is a backend's abstract cost triple for a task. Units are
// whatever the backend reports; the arbitrator only compares them relative
// to other backends in the same decision.
type CostEstimate struct {
	Energy   float64 `json:"energy"`
	Latency  float64 `json:"latency"`
	Accuracy float64 `json:"accuracy_estimate"` // expected accuracy in [0,1]
}

// ArbitrationOutcome records a single backend selection. Exactly one outcome
// exists per task. ActualCost is the only mutable slot and is written at
// most once, by the execution feedback path.
type ArbitrationOutcome struct {
	TaskID             uuid.UUID    `json:"task_id"`
	BackendID          string       `json:"chosen_backend_id"`
	Estimate           CostEstimate `json:"estimate"`
	PredictedCost      float64      `json:"predicted_cost"`
	ActualCost         *float64     `json:"actual_cost,omitempty"`
	DecisionConfidence float64      `json:"decision_confidence"`
	Timestamp          time.Time    `json:"timestamp"`
}

// WorkingRecord is the short-lived working-memory entry for an in-flight
// task. It is written only after a backend has been chosen and evicted when
// the task completes or its TTL lapses.
type WorkingRecord struct {
	TaskID    uuid.UUID          `json:"task_id"`
	BackendID string             `json:"backend_id"`
	Features  map[string]float64 `json:"features"`
	StoredAt  time.Time          `json:"stored_at"`
}

// EpisodicRecord is a long-lived record of how a past task of a similar
// shape went on a given backend.
type EpisodicRecord struct {
	Bucket        string             `json:"bucket"`
	TaskID        uuid.UUID          `json:"task_id"`
	BackendID     string             `json:"backend_id"`
	Features      map[string]float64 `json:"features"`
	PredictedCost float64            `json:"predicted_cost"`
	ActualCost    float64            `json:"actual_cost"`
	CreatedAt     time.Time          `json:"created_at"`
}

// DistanceFunc measures dissimilarity between two feature maps. Lower is
// more similar.
type DistanceFunc func(a, b map[string]float64) float64

// EuclideanDistance is the default episodic distance: L2 over the union of
// feature keys, with missing keys treated as zero.
func EuclideanDistance(a, b map[string]float64) float64 {
	var sum float64
	for k, av := range a {
		d := av - b[k]
		sum += d * d
	}
	for k, bv := range b {
		if _, ok := a[k]; !ok {
			sum += bv * bv
		}
	}
	return math.Sqrt(sum)
}

// FeatureBucket quantizes a feature map into a coarse similarity bucket key.
// Values are rounded to one decimal so nearby tasks land in the same bucket;
// keys are sorted so the bucket is order-independent.
func FeatureBucket(features map[string]float64) string {
	if len(features) == 0 {
		return "empty"
	}
	keys := make([]string, 0, len(features))
	for k := range features {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('|')
		}
		fmt.Fprintf(&sb, "%s=%.1f", k, math.Round(features[k]*10)/10)
	}
	return sb.String()
}
