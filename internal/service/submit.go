package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/substratelabs/arbiter/internal/domain"
)

// ErrHandleNotFound is returned when polling or cancelling an unknown or
// already-expired async handle.
var ErrHandleNotFound = errors.New("async handle not found")

const handleTTL = 10 * time.Minute

// Submitter is the task submission surface: a thin wrapper over the
// arbitrator offering synchronous and asynchronous entry points.
type Submitter struct {
	arbitrator *Arbitrator
	logger     *zap.Logger

	mu      sync.Mutex
	handles map[uuid.UUID]*Handle
}

// Handle tracks one asynchronous arbitration. Callers poll it for the
// outcome or cancel it before backend selection completes.
type Handle struct {
	ID     uuid.UUID
	TaskID uuid.UUID

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	outcome  *domain.ArbitrationOutcome
	err      error
	finished time.Time
}

func NewSubmitter(arbitrator *Arbitrator, logger *zap.Logger) *Submitter {
	return &Submitter{
		arbitrator: arbitrator,
		logger:     logger,
		handles:    make(map[uuid.UUID]*Handle),
	}
}

// Submit arbitrates a task synchronously.
func (s *Submitter) Submit(ctx context.Context, task *domain.Task) (*domain.ArbitrationOutcome, error) {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	return s.arbitrator.Select(ctx, task)
}

// SubmitAsync starts an arbitration in the background and returns a handle
// the caller polls or cancels. The handle outlives the submission context.
func (s *Submitter) SubmitAsync(task *domain.Task) *Handle {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		ID:     uuid.New(),
		TaskID: task.ID,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.purgeLocked()
	s.handles[h.ID] = h
	s.mu.Unlock()

	go func() {
		outcome, err := s.arbitrator.Select(ctx, task)
		h.mu.Lock()
		h.outcome = outcome
		h.err = err
		h.finished = time.Now()
		h.mu.Unlock()
		close(h.done)
		cancel()
	}()
	return h
}

// Get looks up a live handle by ID.
func (s *Submitter) Get(id uuid.UUID) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	if !ok {
		return nil, ErrHandleNotFound
	}
	return h, nil
}

// Cancel aborts an in-flight arbitration. Cancelling a finished handle is a
// no-op.
func (s *Submitter) Cancel(id uuid.UUID) error {
	h, err := s.Get(id)
	if err != nil {
		return err
	}
	h.cancel()
	return nil
}

// purgeLocked drops handles that finished longer than the TTL ago.
func (s *Submitter) purgeLocked() {
	for id, h := range s.handles {
		h.mu.Lock()
		expired := !h.finished.IsZero() && time.Since(h.finished) > handleTTL
		h.mu.Unlock()
		if expired {
			delete(s.handles, id)
		}
	}
}

// Poll returns the handle's result. done is false while arbitration is
// still in flight.
func (h *Handle) Poll() (outcome *domain.ArbitrationOutcome, done bool, err error) {
	select {
	case <-h.done:
	default:
		return nil, false, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome, true, h.err
}

// Wait blocks until the arbitration finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (*domain.ArbitrationOutcome, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.outcome, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
