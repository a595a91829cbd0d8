package store

import (
	"context"
	"sync"

	"github.com/substratelabs/arbiter/internal/domain"
)

// ContradictionLog is the process-local append-only contradiction log.
// Records are never deleted; external consumers page through them for
// analysis and training-data export.
type ContradictionLog struct {
	mu      sync.RWMutex
	records []domain.ContradictionRecord
}

func NewContradictionLog() *ContradictionLog {
	return &ContradictionLog{}
}

func (l *ContradictionLog) Append(_ context.Context, rec *domain.ContradictionRecord) error {
	l.mu.Lock()
	l.records = append(l.records, *rec)
	l.mu.Unlock()
	return nil
}

func (l *ContradictionLog) List(_ context.Context, offset, limit int) ([]domain.ContradictionRecord, int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := len(l.records)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	out := make([]domain.ContradictionRecord, end-offset)
	copy(out, l.records[offset:end])
	return out, total, nil
}
