package domain

import "math"

// Trinary is a three-valued logic value over {-1, 0, +1}.
type Trinary int8

const (
	Negative Trinary = -1 // confirmed false
	Neutral  Trinary = 0  // unknown
	Positive Trinary = 1  // confirmed true
)

func (t Trinary) String() string {
	switch t {
	case Negative:
		return "negative"
	case Positive:
		return "positive"
	default:
		return "neutral"
	}
}

// Valid reports whether t is one of the three defined values.
func (t Trinary) Valid() bool {
	return t >= Negative && t <= Positive
}

// Uncertainty quantifies the uncertainty content of a value: 1 for Neutral,
// 0 for either committed value.
func (t Trinary) Uncertainty() float64 {
	if t == Neutral {
		return 1.0
	}
	return 0.0
}

// And is Kleene conjunction: the minimum of the inputs.
func And(a, b Trinary) Trinary {
	if a < b {
		return a
	}
	return b
}

// Or is Kleene disjunction: the maximum of the inputs.
func Or(a, b Trinary) Trinary {
	if a > b {
		return a
	}
	return b
}

// Not negates a value, preserving uncertainty.
func Not(a Trinary) Trinary {
	return -a
}

// Implies is Kleene implication. A false premise implies anything; an
// unknown premise commits only when the consequent is already true.
func Implies(a, b Trinary) Trinary {
	switch a {
	case Negative:
		return Positive
	case Neutral:
		if b == Positive {
			return Positive
		}
		return Neutral
	default:
		return b
	}
}

// Weighted is a trinary value with an attached confidence in [0,1].
type Weighted struct {
	Value      Trinary `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Combine merges two weighted values into one.
//
// Agreement compounds confidence (noisy-or). Direct opposition between two
// committed values collapses to Neutral with confidence equal to the gap
// between the sides. A single Neutral defers to the committed side at half
// its confidence.
func Combine(a, b Weighted) Weighted {
	switch {
	case a.Value == b.Value:
		return Weighted{
			Value:      a.Value,
			Confidence: 1 - (1-a.Confidence)*(1-b.Confidence),
		}
	case a.Value == Neutral:
		return Weighted{Value: b.Value, Confidence: b.Confidence * 0.5}
	case b.Value == Neutral:
		return Weighted{Value: a.Value, Confidence: a.Confidence * 0.5}
	default:
		return Weighted{
			Value:      Neutral,
			Confidence: math.Abs(a.Confidence - b.Confidence),
		}
	}
}
