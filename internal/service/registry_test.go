package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/substratelabs/arbiter/internal/domain"
)

func noopCostModel(context.Context, map[string]float64) (domain.CostEstimate, error) {
	return domain.CostEstimate{}, nil
}

func TestRegistryRegisterValidation(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	if err := r.Register(domain.BackendDescriptor{CostModel: noopCostModel}); err == nil {
		t.Error("missing ID should be rejected")
	}
	if err := r.Register(domain.BackendDescriptor{ID: "b"}); err == nil {
		t.Error("missing cost model should be rejected")
	}
	if err := r.Register(domain.BackendDescriptor{ID: "b", CostModel: noopCostModel}); err != nil {
		t.Errorf("valid descriptor rejected: %v", err)
	}
}

func TestRegistryReplaceOnReregister(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	_ = r.Register(domain.BackendDescriptor{ID: "b", Capabilities: []string{"vision"}, CostModel: noopCostModel})
	_ = r.Register(domain.BackendDescriptor{ID: "b", Capabilities: []string{"audio"}, CostModel: noopCostModel})

	d, err := r.Get("b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Capabilities) != 1 || d.Capabilities[0] != "audio" {
		t.Errorf("capabilities = %v, re-registration must replace the descriptor", d.Capabilities)
	}
}

func TestRegistryDeregister(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	_ = r.Register(domain.BackendDescriptor{ID: "b", CostModel: noopCostModel})

	r.Deregister("b")

	if r.Registered("b") {
		t.Error("backend should be gone after deregister")
	}
	if _, err := r.Get("b"); !errors.Is(err, ErrBackendNotFound) {
		t.Errorf("err = %v, want ErrBackendNotFound", err)
	}
	// Deregistering an absent backend is a no-op.
	r.Deregister("b")
}

func TestRegistrySnapshotSorted(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	for _, id := range []string{"gamma", "alpha", "beta"} {
		_ = r.Register(domain.BackendDescriptor{ID: id, CostModel: noopCostModel})
	}

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot size = %d, want 3", len(snap))
	}
	for i, want := range []string{"alpha", "beta", "gamma"} {
		if snap[i].ID != want {
			t.Errorf("snapshot[%d] = %s, want %s", i, snap[i].ID, want)
		}
	}
}
