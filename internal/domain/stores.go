package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// WorkingStore holds short-lived per-task records. A miss (evicted or never
// written) is reported as a not-found error and means "no evidence
// available", never a hard failure.
type WorkingStore interface {
	Put(ctx context.Context, rec *WorkingRecord) error
	Get(ctx context.Context, taskID uuid.UUID) (*WorkingRecord, error)
	// Evict is idempotent; evicting an absent key is a no-op.
	Evict(ctx context.Context, taskID uuid.UUID) error
}

// EpisodicStore holds long-lived outcome records keyed by feature-similarity
// bucket, with bounded capacity and LRU eviction.
type EpisodicStore interface {
	Put(ctx context.Context, rec *EpisodicRecord) error
	// Query returns up to k records from the bucket, nearest first by the
	// caller-supplied distance over the record features.
	Query(ctx context.Context, bucket string, features map[string]float64, k int, dist DistanceFunc) ([]EpisodicRecord, error)
}

// ContradictionLog is the append-only record of contradiction resolutions.
// Entries are never deleted; compaction by age is an external concern.
type ContradictionLog interface {
	Append(ctx context.Context, rec *ContradictionRecord) error
	// List pages through the log in resolution order and returns the page
	// plus the total record count.
	List(ctx context.Context, offset, limit int) ([]ContradictionRecord, int, error)
}

// OutcomeStore records arbitration outcomes: exactly one per task, with the
// actual cost filled in at most once afterwards.
type OutcomeStore interface {
	Create(ctx context.Context, o *ArbitrationOutcome) error
	Get(ctx context.Context, taskID uuid.UUID) (*ArbitrationOutcome, error)
	FillActual(ctx context.Context, taskID uuid.UUID, actual float64) (*ArbitrationOutcome, error)
	// Since returns outcomes recorded at or after t, oldest first.
	Since(ctx context.Context, t time.Time) ([]ArbitrationOutcome, error)
	// Recent returns up to n of the most recent outcomes, oldest first.
	Recent(ctx context.Context, n int) ([]ArbitrationOutcome, error)
}
