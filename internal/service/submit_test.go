package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/substratelabs/arbiter/internal/domain"
)

func newTestSubmitter(t *testing.T) (*Submitter, *arbitratorFixture) {
	t.Helper()
	f := newArbitratorFixture(t, testParams(), ArbitratorConfig{})
	registerFixed(t, f, "only", nil, domain.CostEstimate{Energy: 1, Latency: 1, Accuracy: 0.9})
	return NewSubmitter(f.arbitrator, zap.NewNop()), f
}

func TestSubmitAssignsTaskID(t *testing.T) {
	s, _ := newTestSubmitter(t)

	task := &domain.Task{Features: map[string]float64{"size": 1}}
	outcome, err := s.Submit(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.ID == uuid.Nil {
		t.Error("submit should assign a task ID")
	}
	if outcome.TaskID != task.ID {
		t.Error("outcome must carry the task's ID")
	}
}

func TestSubmitAsyncPollLifecycle(t *testing.T) {
	s, _ := newTestSubmitter(t)

	h := s.SubmitAsync(&domain.Task{Features: map[string]float64{"size": 1}})

	got, err := s.Get(h.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != h {
		t.Error("Get should return the live handle")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	outcome, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome == nil || outcome.BackendID != "only" {
		t.Errorf("outcome = %+v", outcome)
	}

	polled, done, err := h.Poll()
	if !done || err != nil {
		t.Fatalf("poll after completion: done=%v err=%v", done, err)
	}
	if polled.TaskID != outcome.TaskID {
		t.Error("poll should return the same outcome")
	}
}

func TestSubmitAsyncCancel(t *testing.T) {
	f := newArbitratorFixture(t, testParams(), ArbitratorConfig{CallTimeout: time.Second})
	release := make(chan struct{})
	err := f.registry.Register(domain.BackendDescriptor{
		ID: "slow",
		CostModel: func(ctx context.Context, _ map[string]float64) (domain.CostEstimate, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return domain.CostEstimate{Energy: 1, Latency: 1, Accuracy: 0.9}, ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := NewSubmitter(f.arbitrator, zap.NewNop())

	h := s.SubmitAsync(&domain.Task{})
	if err := s.Cancel(h.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := h.Wait(ctx); err == nil {
		t.Error("cancelled arbitration should report an error")
	}
	close(release)
}

func TestSubmitterGetUnknownHandle(t *testing.T) {
	s, _ := newTestSubmitter(t)
	if _, err := s.Get(uuid.New()); !errors.Is(err, ErrHandleNotFound) {
		t.Errorf("err = %v, want ErrHandleNotFound", err)
	}
	if err := s.Cancel(uuid.New()); !errors.Is(err, ErrHandleNotFound) {
		t.Errorf("cancel err = %v, want ErrHandleNotFound", err)
	}
}

func TestPollBeforeCompletion(t *testing.T) {
	f := newArbitratorFixture(t, testParams(), ArbitratorConfig{CallTimeout: time.Second})
	release := make(chan struct{})
	err := f.registry.Register(domain.BackendDescriptor{
		ID: "gated",
		CostModel: func(ctx context.Context, _ map[string]float64) (domain.CostEstimate, error) {
			<-release
			return domain.CostEstimate{Energy: 1, Latency: 1, Accuracy: 0.9}, nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := NewSubmitter(f.arbitrator, zap.NewNop())

	h := s.SubmitAsync(&domain.Task{})
	if _, done, _ := h.Poll(); done {
		t.Error("poll should report in-flight before the backend answers")
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := h.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
