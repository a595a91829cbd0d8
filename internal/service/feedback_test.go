package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/substratelabs/arbiter/internal/domain"
	"github.com/substratelabs/arbiter/internal/store"
)

type feedbackFixture struct {
	svc      *FeedbackService
	outcomes *store.OutcomeStore
	working  *store.WorkingStore
	episodic *store.EpisodicStore
	monitor  *CoherenceMonitor
}

func newFeedbackFixture(t *testing.T) *feedbackFixture {
	t.Helper()
	f := &feedbackFixture{
		outcomes: store.NewOutcomeStore(64),
		working:  store.NewWorkingStore(time.Minute),
		episodic: store.NewEpisodicStore(64),
		monitor:  NewCoherenceMonitor(zap.NewNop(), CoherenceConfig{WindowSize: 8}),
	}
	f.svc = NewFeedbackService(f.outcomes, f.working, f.episodic, f.monitor, zap.NewNop())
	return f
}

func (f *feedbackFixture) arbitrated(t *testing.T, features map[string]float64, predicted float64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	taskID := uuid.New()
	err := f.outcomes.Create(ctx, &domain.ArbitrationOutcome{
		TaskID:        taskID,
		BackendID:     "b",
		PredictedCost: predicted,
		Timestamp:     time.Now(),
	})
	if err != nil {
		t.Fatalf("create outcome: %v", err)
	}
	err = f.working.Put(ctx, &domain.WorkingRecord{
		TaskID:    taskID,
		BackendID: "b",
		Features:  features,
	})
	if err != nil {
		t.Fatalf("put working record: %v", err)
	}
	return taskID
}

func TestReportActualUnknownTask(t *testing.T) {
	f := newFeedbackFixture(t)
	_, err := f.svc.ReportActual(context.Background(), uuid.New(), 1.0)
	if !errors.Is(err, ErrOutcomeNotFound) {
		t.Errorf("err = %v, want ErrOutcomeNotFound", err)
	}
}

func TestReportActualClosesLoop(t *testing.T) {
	f := newFeedbackFixture(t)
	ctx := context.Background()
	features := map[string]float64{"size": 1}
	taskID := f.arbitrated(t, features, 2.0)

	outcome, err := f.svc.ReportActual(ctx, taskID, 2.4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.ActualCost == nil || *outcome.ActualCost != 2.4 {
		t.Errorf("actual cost = %v, want 2.4", outcome.ActualCost)
	}

	// The completed task is promoted into episodic memory under its
	// feature bucket.
	bucket := domain.FeatureBucket(features)
	recs, err := f.episodic.Query(ctx, bucket, features, 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("episodic records = %d, want 1", len(recs))
	}
	if recs[0].TaskID != taskID || recs[0].ActualCost != 2.4 || recs[0].PredictedCost != 2.0 {
		t.Errorf("episodic record = %+v", recs[0])
	}

	// The working record is evicted once the task completes.
	if _, err := f.working.Get(ctx, taskID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("working record should be evicted, got %v", err)
	}
}

func TestReportActualTwiceRejected(t *testing.T) {
	f := newFeedbackFixture(t)
	ctx := context.Background()
	taskID := f.arbitrated(t, map[string]float64{"size": 1}, 2.0)

	if _, err := f.svc.ReportActual(ctx, taskID, 2.4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := f.svc.ReportActual(ctx, taskID, 9.9)
	if !errors.Is(err, ErrActualAlreadyReported) {
		t.Errorf("err = %v, want ErrActualAlreadyReported", err)
	}

	got, _ := f.outcomes.Get(ctx, taskID)
	if *got.ActualCost != 2.4 {
		t.Errorf("stored actual = %v, first report must win", *got.ActualCost)
	}
}

func TestReportActualAgedOutWorkingRecord(t *testing.T) {
	f := newFeedbackFixture(t)
	ctx := context.Background()
	taskID := uuid.New()
	_ = f.outcomes.Create(ctx, &domain.ArbitrationOutcome{
		TaskID:        taskID,
		BackendID:     "b",
		PredictedCost: 1.0,
	})

	// No working record: the feedback still lands, just without an
	// episodic promotion.
	outcome, err := f.svc.ReportActual(ctx, taskID, 1.1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.ActualCost == nil {
		t.Error("actual cost should be recorded")
	}
	if f.episodic.Len() != 0 {
		t.Error("no episodic record should exist without working features")
	}
}

func TestReportActualFeedsCoherenceMonitor(t *testing.T) {
	f := newFeedbackFixture(t)
	ctx := context.Background()
	taskID := f.arbitrated(t, map[string]float64{"size": 1}, 1.0)

	if _, err := f.svc.ReportActual(ctx, taskID, 100.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := f.monitor.Evaluate(); got >= 1.0 {
		t.Errorf("coherence = %v, a large miss should register", got)
	}
}
