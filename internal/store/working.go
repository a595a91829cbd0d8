package store

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/substratelabs/arbiter/internal/domain"
)

const workingShards = 16

// WorkingStore is a process-local, TTL-bounded store of in-flight task
// records. Access is striped so reads and writes for different task IDs do
// not contend on a single lock.
type WorkingStore struct {
	ttl    time.Duration
	shards [workingShards]workingShard

	sweepEvery time.Duration
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

type workingShard struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*domain.WorkingRecord
}

// NewWorkingStore creates a working store whose entries expire after ttl.
// A ttl of zero disables expiry.
func NewWorkingStore(ttl time.Duration) *WorkingStore {
	s := &WorkingStore{
		ttl:        ttl,
		sweepEvery: time.Minute,
		stopCh:     make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i].records = make(map[uuid.UUID]*domain.WorkingRecord)
	}
	return s
}

func (s *WorkingStore) shard(taskID uuid.UUID) *workingShard {
	h := fnv.New32a()
	h.Write(taskID[:])
	return &s.shards[h.Sum32()%workingShards]
}

func (s *WorkingStore) expired(rec *domain.WorkingRecord) bool {
	return s.ttl > 0 && time.Since(rec.StoredAt) > s.ttl
}

func (s *WorkingStore) Put(_ context.Context, rec *domain.WorkingRecord) error {
	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now()
	}
	sh := s.shard(rec.TaskID)
	sh.mu.Lock()
	sh.records[rec.TaskID] = rec
	sh.mu.Unlock()
	return nil
}

func (s *WorkingStore) Get(_ context.Context, taskID uuid.UUID) (*domain.WorkingRecord, error) {
	sh := s.shard(taskID)
	sh.mu.RLock()
	rec, ok := sh.records[taskID]
	sh.mu.RUnlock()
	if !ok || s.expired(rec) {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Evict removes a task's record. Evicting an absent key is a no-op.
func (s *WorkingStore) Evict(_ context.Context, taskID uuid.UUID) error {
	sh := s.shard(taskID)
	sh.mu.Lock()
	delete(sh.records, taskID)
	sh.mu.Unlock()
	return nil
}

// Start runs the background TTL sweeper.
func (s *WorkingStore) Start() {
	if s.ttl <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop stops the sweeper and waits for it to exit.
func (s *WorkingStore) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *WorkingStore) sweep() {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, rec := range sh.records {
			if s.expired(rec) {
				delete(sh.records, id)
			}
		}
		sh.mu.Unlock()
	}
}
