package store

import (
	"container/list"
	"context"
	"sort"
	"sync"

	"github.com/substratelabs/arbiter/internal/domain"
)

// EpisodicStore is a process-local, capacity-bounded episodic memory keyed
// by feature-similarity bucket. When an insert would exceed capacity the
// least-recently-used entry is evicted, whichever bucket it lives in.
//
// Record access takes the buckets lock; LRU bookkeeping takes its own short
// exclusive section so eviction accounting never blocks concurrent reads of
// unrelated buckets longer than necessary.
type EpisodicStore struct {
	capacity int

	mu      sync.RWMutex
	buckets map[string][]*episodicEntry

	lruMu sync.Mutex
	lru   *list.List // of *episodicEntry, front = most recent
	size  int
}

type episodicEntry struct {
	rec  domain.EpisodicRecord
	elem *list.Element
}

// NewEpisodicStore creates a store that holds at most capacity records.
func NewEpisodicStore(capacity int) *EpisodicStore {
	if capacity <= 0 {
		capacity = 1024
	}
	return &EpisodicStore{
		capacity: capacity,
		buckets:  make(map[string][]*episodicEntry),
		lru:      list.New(),
	}
}

func (s *EpisodicStore) Put(_ context.Context, rec *domain.EpisodicRecord) error {
	entry := &episodicEntry{rec: *rec}

	s.mu.Lock()
	s.buckets[rec.Bucket] = append(s.buckets[rec.Bucket], entry)
	s.mu.Unlock()

	s.lruMu.Lock()
	entry.elem = s.lru.PushFront(entry)
	s.size++
	var victim *episodicEntry
	if s.size > s.capacity {
		if back := s.lru.Back(); back != nil {
			victim = back.Value.(*episodicEntry)
			s.lru.Remove(back)
			s.size--
		}
	}
	s.lruMu.Unlock()

	if victim != nil {
		s.removeFromBucket(victim)
	}
	return nil
}

func (s *EpisodicStore) removeFromBucket(victim *episodicEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.buckets[victim.rec.Bucket]
	for i, e := range entries {
		if e == victim {
			s.buckets[victim.rec.Bucket] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(s.buckets[victim.rec.Bucket]) == 0 {
		delete(s.buckets, victim.rec.Bucket)
	}
}

// Query returns up to k records from the bucket, nearest first by dist.
// Queried entries are touched in the LRU so frequently consulted evidence
// survives eviction pressure.
func (s *EpisodicStore) Query(_ context.Context, bucket string, features map[string]float64, k int, dist domain.DistanceFunc) ([]domain.EpisodicRecord, error) {
	if k <= 0 {
		return nil, nil
	}
	if dist == nil {
		dist = domain.EuclideanDistance
	}

	s.mu.RLock()
	entries := make([]*episodicEntry, len(s.buckets[bucket]))
	copy(entries, s.buckets[bucket])
	s.mu.RUnlock()

	if len(entries) == 0 {
		return nil, nil
	}

	type scored struct {
		entry *episodicEntry
		d     float64
	}
	ranked := make([]scored, 0, len(entries))
	for _, e := range entries {
		ranked = append(ranked, scored{entry: e, d: dist(features, e.rec.Features)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].d < ranked[j].d })

	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]domain.EpisodicRecord, 0, k)

	s.lruMu.Lock()
	for _, r := range ranked[:k] {
		out = append(out, r.entry.rec)
		if r.entry.elem != nil {
			s.lru.MoveToFront(r.entry.elem)
		}
	}
	s.lruMu.Unlock()

	return out, nil
}

// Len reports the number of stored records.
func (s *EpisodicStore) Len() int {
	s.lruMu.Lock()
	defer s.lruMu.Unlock()
	return s.size
}
