package service

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/substratelabs/arbiter/internal/domain"
)

var (
	// ErrBackendNotFound is returned when looking up an unregistered
	// backend ID.
	ErrBackendNotFound = errors.New("backend not registered")

	errBackendIDMissing  = errors.New("backend id is required")
	errCostModelMissing  = errors.New("backend cost model is required")
)

// Registry holds the registered execution backends. Descriptors are
// immutable once registered; Register with an existing ID replaces the whole
// descriptor, never patches it in place.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]domain.BackendDescriptor
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		backends: make(map[string]domain.BackendDescriptor),
		logger:   logger,
	}
}

func (r *Registry) Register(d domain.BackendDescriptor) error {
	if d.ID == "" {
		return errBackendIDMissing
	}
	if d.CostModel == nil {
		return errCostModelMissing
	}

	r.mu.Lock()
	_, replaced := r.backends[d.ID]
	r.backends[d.ID] = d
	r.mu.Unlock()

	r.logger.Info("backend registered",
		zap.String("backend_id", d.ID),
		zap.Strings("capability_tags", d.Capabilities),
		zap.Bool("replaced", replaced))
	return nil
}

// Deregister removes a backend. Arbitrations already holding a snapshot
// treat calls to a deregistered backend as timeouts and exclude it.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	delete(r.backends, id)
	r.mu.Unlock()

	r.logger.Info("backend deregistered", zap.String("backend_id", id))
}

// Registered reports whether a backend is currently registered.
func (r *Registry) Registered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.backends[id]
	return ok
}

func (r *Registry) Get(id string) (domain.BackendDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.backends[id]
	if !ok {
		return domain.BackendDescriptor{}, ErrBackendNotFound
	}
	return d, nil
}

// Snapshot returns the registered backends sorted by ID, so every
// arbitration iterates them in a reproducible order.
func (r *Registry) Snapshot() []domain.BackendDescriptor {
	r.mu.RLock()
	out := make([]domain.BackendDescriptor, 0, len(r.backends))
	for _, d := range r.backends {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
