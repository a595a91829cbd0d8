package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/substratelabs/arbiter/internal/domain"
	"github.com/substratelabs/arbiter/internal/store"
)

var (
	// ErrOutcomeNotFound is returned when actual cost is reported for a
	// task with no recorded arbitration outcome.
	ErrOutcomeNotFound = errors.New("no outcome recorded for task")

	// ErrActualAlreadyReported is returned on a second actual-cost report
	// for the same task.
	ErrActualAlreadyReported = errors.New("actual cost already reported for task")
)

// FeedbackService closes the loop after execution: it writes the actual
// cost into the matching outcome (at most once), promotes the completed
// task into episodic memory, evicts its working-memory record, and feeds
// the coherence monitor.
type FeedbackService struct {
	outcomes domain.OutcomeStore
	working  domain.WorkingStore
	episodic domain.EpisodicStore
	monitor  *CoherenceMonitor
	logger   *zap.Logger
}

func NewFeedbackService(
	outcomes domain.OutcomeStore,
	working domain.WorkingStore,
	episodic domain.EpisodicStore,
	monitor *CoherenceMonitor,
	logger *zap.Logger,
) *FeedbackService {
	return &FeedbackService{
		outcomes: outcomes,
		working:  working,
		episodic: episodic,
		monitor:  monitor,
		logger:   logger,
	}
}

// ReportActual records the executed task's actual cost. Callable once per
// task; duplicates are rejected.
func (s *FeedbackService) ReportActual(ctx context.Context, taskID uuid.UUID, actual float64) (*domain.ArbitrationOutcome, error) {
	outcome, err := s.outcomes.FillActual(ctx, taskID, actual)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("task %s: %w", taskID, ErrOutcomeNotFound)
	case errors.Is(err, store.ErrActualAlreadyReported):
		return nil, fmt.Errorf("task %s: %w", taskID, ErrActualAlreadyReported)
	case err != nil:
		return nil, err
	}

	s.monitor.ObserveOutcome(outcome)

	// Promote to episodic memory while the working record still has the
	// task's features. A working-memory miss just means the record aged
	// out; the feedback itself still counts.
	if wr, err := s.working.Get(ctx, taskID); err == nil {
		rec := &domain.EpisodicRecord{
			Bucket:        domain.FeatureBucket(wr.Features),
			TaskID:        taskID,
			BackendID:     outcome.BackendID,
			Features:      wr.Features,
			PredictedCost: outcome.PredictedCost,
			ActualCost:    actual,
			CreatedAt:     time.Now(),
		}
		if err := s.episodic.Put(ctx, rec); err != nil {
			s.logger.Warn("episodic write failed",
				zap.String("task_id", taskID.String()), zap.Error(err))
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("working memory read failed",
			zap.String("task_id", taskID.String()), zap.Error(err))
	}

	// Task is complete: working memory eviction is idempotent.
	if err := s.working.Evict(ctx, taskID); err != nil {
		s.logger.Warn("working memory eviction failed",
			zap.String("task_id", taskID.String()), zap.Error(err))
	}

	s.logger.Debug("actual cost recorded",
		zap.String("task_id", taskID.String()),
		zap.String("backend_id", outcome.BackendID),
		zap.Float64("predicted_cost", outcome.PredictedCost),
		zap.Float64("actual_cost", actual))
	return outcome, nil
}
