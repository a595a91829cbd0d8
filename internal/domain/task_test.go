package domain

import (
	"math"
	"testing"
)

func TestEuclideanDistance(t *testing.T) {
	a := map[string]float64{"x": 3, "y": 4}
	b := map[string]float64{"x": 0, "y": 0}
	if got := EuclideanDistance(a, b); math.Abs(got-5) > 1e-9 {
		t.Errorf("distance = %v, want 5", got)
	}
}

func TestEuclideanDistanceDisjointKeys(t *testing.T) {
	a := map[string]float64{"x": 3}
	b := map[string]float64{"y": 4}
	if got := EuclideanDistance(a, b); math.Abs(got-5) > 1e-9 {
		t.Errorf("distance = %v, want 5", got)
	}
}

func TestEuclideanDistanceIdentical(t *testing.T) {
	a := map[string]float64{"x": 1.5, "y": -2}
	if got := EuclideanDistance(a, a); got != 0 {
		t.Errorf("distance = %v, want 0", got)
	}
}

func TestFeatureBucket(t *testing.T) {
	tests := []struct {
		name     string
		features map[string]float64
		want     string
	}{
		{"empty", nil, "empty"},
		{"single", map[string]float64{"size": 0.52}, "size=0.5"},
		{"sorted keys", map[string]float64{"b": 1, "a": 2}, "a=2.0|b=1.0"},
		{"rounding", map[string]float64{"x": 0.449}, "x=0.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FeatureBucket(tt.features); got != tt.want {
				t.Errorf("FeatureBucket(%v) = %q, want %q", tt.features, got, tt.want)
			}
		})
	}
}

func TestFeatureBucketNearbyTasksShareBucket(t *testing.T) {
	a := FeatureBucket(map[string]float64{"complexity": 0.51, "size": 2.04})
	b := FeatureBucket(map[string]float64{"complexity": 0.49, "size": 1.99})
	if a != b {
		t.Errorf("nearby tasks bucketed apart: %q vs %q", a, b)
	}
}
