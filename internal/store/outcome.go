package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/substratelabs/arbiter/internal/domain"
)

// OutcomeStore is the process-local record of arbitration outcomes. An
// outcome is created exactly once per task; the actual cost is the only
// mutable slot and is written at most once.
type OutcomeStore struct {
	mu       sync.RWMutex
	byTask   map[uuid.UUID]*domain.ArbitrationOutcome
	ordered  []*domain.ArbitrationOutcome
	capacity int
}

// NewOutcomeStore creates a store that retains at most capacity outcomes
// for history queries; the per-task index is trimmed with the history.
func NewOutcomeStore(capacity int) *OutcomeStore {
	if capacity <= 0 {
		capacity = 4096
	}
	return &OutcomeStore{
		byTask:   make(map[uuid.UUID]*domain.ArbitrationOutcome),
		capacity: capacity,
	}
}

func (s *OutcomeStore) Create(_ context.Context, o *domain.ArbitrationOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byTask[o.TaskID]; exists {
		return ErrOutcomeExists
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now()
	}
	stored := *o
	s.byTask[o.TaskID] = &stored
	s.ordered = append(s.ordered, &stored)

	if len(s.ordered) > s.capacity {
		evicted := s.ordered[0]
		s.ordered = s.ordered[1:]
		delete(s.byTask, evicted.TaskID)
	}
	return nil
}

func (s *OutcomeStore) Get(_ context.Context, taskID uuid.UUID) (*domain.ArbitrationOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byTask[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *OutcomeStore) FillActual(_ context.Context, taskID uuid.UUID, actual float64) (*domain.ArbitrationOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.byTask[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	if o.ActualCost != nil {
		return nil, ErrActualAlreadyReported
	}
	o.ActualCost = &actual
	cp := *o
	return &cp, nil
}

func (s *OutcomeStore) Since(_ context.Context, t time.Time) ([]domain.ArbitrationOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ArbitrationOutcome
	for _, o := range s.ordered {
		if !o.Timestamp.Before(t) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *OutcomeStore) Recent(_ context.Context, n int) ([]domain.ArbitrationOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.ordered) {
		n = len(s.ordered)
	}
	out := make([]domain.ArbitrationOutcome, 0, n)
	for _, o := range s.ordered[len(s.ordered)-n:] {
		out = append(out, *o)
	}
	return out, nil
}
