package domain

import (
	"time"

	"github.com/google/uuid"
)

// Assertion is a single piece of trinary evidence about a proposition.
// Assertions are immutable once created; newer evidence supersedes, never
// mutates.
type Assertion struct {
	PropositionID string    `json:"proposition_id"`
	Value         Trinary   `json:"value"`
	Confidence    float64   `json:"confidence"`
	SourceID      string    `json:"source_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// Severity classifies how sharp a contradiction is.
type Severity string

const (
	SeveritySoft   Severity = "soft"   // conflicting uncertainties
	SeverityMedium Severity = "medium" // one side committed, one unknown
	SeverityHard   Severity = "hard"   // direct opposition (+1 vs -1)
)

// EntropyCost is the information loss charged for resolving a contradiction
// of this severity.
func (s Severity) EntropyCost() float64 {
	switch s {
	case SeverityHard:
		return 0.5
	case SeverityMedium:
		return 0.3
	default:
		return 0.0
	}
}

// ClassifySeverity classifies the contradiction between two differing
// trinary values.
func ClassifySeverity(a, b Trinary) Severity {
	switch {
	case a == Neutral && b == Neutral:
		return SeveritySoft
	case a == Neutral || b == Neutral:
		return SeverityMedium
	case a == Not(b):
		return SeverityHard
	default:
		return SeverityMedium
	}
}

// ClassifySet returns the severity of a group of conflicting assertions:
// the sharpest pairwise contradiction among the values present.
func ClassifySet(assertions []Assertion) Severity {
	var hasPos, hasNeg, hasNeutral bool
	for _, a := range assertions {
		switch a.Value {
		case Positive:
			hasPos = true
		case Negative:
			hasNeg = true
		default:
			hasNeutral = true
		}
	}
	switch {
	case hasPos && hasNeg:
		return SeverityHard
	case hasNeutral && (hasPos || hasNeg):
		return SeverityMedium
	default:
		return SeveritySoft
	}
}

// ContradictionRecord captures one resolution of conflicting assertions on a
// proposition. Records are append-only and never deleted.
type ContradictionRecord struct {
	ID            uuid.UUID `json:"id"`
	PropositionID string    `json:"proposition_id"`
	// Assertions holds the conflicting evidence in timestamp order,
	// oldest first. All entries share PropositionID.
	Assertions          []Assertion `json:"assertions"`
	Resolved            bool        `json:"resolved"`
	Resolution          Weighted    `json:"resolution"`
	ResidualUncertainty float64     `json:"residual_uncertainty"`
	Severity            Severity    `json:"severity"`
	ResolvedAt          time.Time   `json:"resolved_at"`
}
