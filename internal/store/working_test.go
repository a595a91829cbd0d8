package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/substratelabs/arbiter/internal/domain"
)

func TestWorkingStorePutGet(t *testing.T) {
	s := NewWorkingStore(time.Minute)
	ctx := context.Background()

	rec := &domain.WorkingRecord{
		TaskID:    uuid.New(),
		BackendID: "backend-a",
		Features:  map[string]float64{"size": 1},
	}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.Get(ctx, rec.TaskID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.BackendID != "backend-a" {
		t.Errorf("backend = %q, want backend-a", got.BackendID)
	}
	if got.StoredAt.IsZero() {
		t.Error("StoredAt should be set on Put")
	}
}

func TestWorkingStoreGetMissing(t *testing.T) {
	s := NewWorkingStore(time.Minute)
	if _, err := s.Get(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestWorkingStoreTTLExpiry(t *testing.T) {
	s := NewWorkingStore(10 * time.Millisecond)
	ctx := context.Background()

	rec := &domain.WorkingRecord{
		TaskID:   uuid.New(),
		StoredAt: time.Now().Add(-time.Second),
	}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.Get(ctx, rec.TaskID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired record should be ErrNotFound, got %v", err)
	}
}

func TestWorkingStoreZeroTTLNeverExpires(t *testing.T) {
	s := NewWorkingStore(0)
	ctx := context.Background()

	rec := &domain.WorkingRecord{
		TaskID:   uuid.New(),
		StoredAt: time.Now().Add(-24 * time.Hour),
	}
	_ = s.Put(ctx, rec)

	if _, err := s.Get(ctx, rec.TaskID); err != nil {
		t.Errorf("zero TTL should never expire, got %v", err)
	}
}

func TestWorkingStoreEvictIdempotent(t *testing.T) {
	s := NewWorkingStore(time.Minute)
	ctx := context.Background()

	rec := &domain.WorkingRecord{TaskID: uuid.New()}
	_ = s.Put(ctx, rec)

	if err := s.Evict(ctx, rec.TaskID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Evict(ctx, rec.TaskID); err != nil {
		t.Fatalf("second evict should be a no-op, got %v", err)
	}
	if _, err := s.Get(ctx, rec.TaskID); !errors.Is(err, ErrNotFound) {
		t.Errorf("evicted record should be gone, got %v", err)
	}
}

func TestWorkingStoreSweep(t *testing.T) {
	s := NewWorkingStore(10 * time.Millisecond)
	ctx := context.Background()

	old := &domain.WorkingRecord{TaskID: uuid.New(), StoredAt: time.Now().Add(-time.Second)}
	fresh := &domain.WorkingRecord{TaskID: uuid.New()}
	_ = s.Put(ctx, old)
	_ = s.Put(ctx, fresh)

	s.sweep()

	sh := s.shard(old.TaskID)
	sh.mu.RLock()
	_, stillThere := sh.records[old.TaskID]
	sh.mu.RUnlock()
	if stillThere {
		t.Error("sweep should remove expired records")
	}
	if _, err := s.Get(ctx, fresh.TaskID); err != nil {
		t.Errorf("fresh record should survive sweep, got %v", err)
	}
}
