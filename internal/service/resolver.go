package service

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/substratelabs/arbiter/internal/domain"
)

var (
	// ErrUnresolved is returned by Resolve when the latest resolution for
	// a proposition fell below the confidence floor. Callers fall back to
	// their own default, typically Neutral with zero confidence.
	ErrUnresolved = errors.New("contradiction unresolved: confidence below floor")
)

const (
	defaultResolutionWindow = 500 * time.Millisecond
	defaultConfidenceFloor  = 0.2
	resolverShardCount      = 32
	appendQueueSize         = 256
)

// ResolverConfig controls contradiction resolution.
type ResolverConfig struct {
	// Window is the sliding time window within which assertions on the
	// same proposition are grouped; defaults to one decision cycle.
	Window time.Duration
	// ConfidenceFloor is the minimum folded confidence for a resolution
	// to commit; below it the record is marked unresolved.
	ConfidenceFloor float64
}

func (c *ResolverConfig) withDefaults() ResolverConfig {
	out := *c
	if out.Window <= 0 {
		out.Window = defaultResolutionWindow
	}
	if out.ConfidenceFloor <= 0 {
		out.ConfidenceFloor = defaultConfidenceFloor
	}
	return out
}

// Resolver reconciles conflicting trinary assertions per proposition.
// Assertions for different propositions never contend: state is striped by
// proposition ID and each stripe has its own lock.
type Resolver struct {
	cfg    ResolverConfig
	log    domain.ContradictionLog
	logger *zap.Logger

	shards [resolverShardCount]resolverShard

	// onResidual, when set, receives the residual uncertainty of every
	// resolution. The coherence monitor hooks in here.
	onResidual func(float64)

	entropyMu   sync.Mutex
	entropyCost float64

	appendCh chan *domain.ContradictionRecord
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type resolverShard struct {
	mu           sync.Mutex
	propositions map[string]*propositionState
}

type propositionState struct {
	pending []domain.Assertion
	// base is the fold of all assertions that have slid out of the
	// window. It seeds every later fold so old evidence stays
	// foundational without ever being counted twice.
	base       domain.Weighted
	hasBase    bool
	current    domain.Weighted
	hasCurrent bool
	unresolved bool
}

func NewResolver(log domain.ContradictionLog, logger *zap.Logger, cfg ResolverConfig) *Resolver {
	r := &Resolver{
		cfg:      cfg.withDefaults(),
		log:      log,
		logger:   logger,
		appendCh: make(chan *domain.ContradictionRecord, appendQueueSize),
		stopCh:   make(chan struct{}),
	}
	for i := range r.shards {
		r.shards[i].propositions = make(map[string]*propositionState)
	}
	return r
}

// SetResidualObserver registers a callback receiving every resolution's
// residual uncertainty. Must be called before Start.
func (r *Resolver) SetResidualObserver(fn func(float64)) {
	r.onResidual = fn
}

// Start runs the background log-append worker.
func (r *Resolver) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case rec := <-r.appendCh:
				r.appendRecord(rec)
			case <-r.stopCh:
				// Drain whatever is queued before exiting.
				for {
					select {
					case rec := <-r.appendCh:
						r.appendRecord(rec)
					default:
						return
					}
				}
			}
		}
	}()
}

// Stop flushes pending log appends and stops the worker.
func (r *Resolver) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Resolver) appendRecord(rec *domain.ContradictionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.log.Append(ctx, rec); err != nil {
		r.logger.Error("contradiction log append failed",
			zap.String("proposition_id", rec.PropositionID),
			zap.Error(err))
	}
}

func (r *Resolver) shard(propositionID string) *resolverShard {
	h := fnv.New32a()
	h.Write([]byte(propositionID))
	return &r.shards[h.Sum32()%resolverShardCount]
}

// Submit buffers an assertion and, when the window holds conflicting
// evidence, resolves it immediately. It never blocks on the contradiction
// log: records are handed to the append worker.
func (r *Resolver) Submit(a domain.Assertion) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}

	sh := r.shard(a.PropositionID)
	sh.mu.Lock()
	st, ok := sh.propositions[a.PropositionID]
	if !ok {
		st = &propositionState{}
		sh.propositions[a.PropositionID] = st
	}

	st.pending = append(st.pending, a)
	r.pruneLocked(st)

	rec := r.resolveLocked(a.PropositionID, st)
	sh.mu.Unlock()

	if rec == nil {
		return
	}

	if r.onResidual != nil {
		r.onResidual(rec.ResidualUncertainty)
	}
	r.entropyMu.Lock()
	r.entropyCost += rec.Severity.EntropyCost()
	r.entropyMu.Unlock()

	select {
	case r.appendCh <- rec:
	default:
		// Queue full: append synchronously rather than lose the record.
		r.appendRecord(rec)
	}
}

// pruneLocked drops pending assertions that slid out of the window, folding
// each one into the base exactly once, oldest first.
func (r *Resolver) pruneLocked(st *propositionState) {
	cutoff := time.Now().Add(-r.cfg.Window)
	var kept []domain.Assertion
	for _, a := range st.pending {
		if a.Timestamp.Before(cutoff) {
			w := domain.Weighted{Value: a.Value, Confidence: a.Confidence}
			if st.hasBase {
				st.base = domain.Combine(st.base, w)
			} else {
				st.base = w
				st.hasBase = true
			}
			continue
		}
		kept = append(kept, a)
	}
	st.pending = kept
}

// resolveLocked folds the pending window oldest-first, seeded by the base,
// and produces a record for the log when the window holds a contradiction.
// Older evidence is foundational; newer evidence adjusts it.
func (r *Resolver) resolveLocked(propositionID string, st *propositionState) *domain.ContradictionRecord {
	if len(st.pending) == 0 {
		return nil
	}

	ordered := make([]domain.Assertion, len(st.pending))
	copy(ordered, st.pending)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	folded := st.base
	started := st.hasBase
	conflicting := false
	for _, a := range ordered {
		if a.Value != ordered[0].Value {
			conflicting = true
		}
		w := domain.Weighted{Value: a.Value, Confidence: a.Confidence}
		if !started {
			folded = w
			started = true
			continue
		}
		folded = domain.Combine(folded, w)
	}

	if !conflicting {
		// Agreement only: compound into the current value, no record.
		st.current = folded
		st.hasCurrent = true
		st.unresolved = false
		return nil
	}

	resolved := folded.Confidence >= r.cfg.ConfidenceFloor
	if resolved {
		st.current = folded
		st.hasCurrent = true
		st.unresolved = false
	} else {
		st.unresolved = true
	}

	return &domain.ContradictionRecord{
		ID:                  uuid.New(),
		PropositionID:       propositionID,
		Assertions:          ordered,
		Resolved:            resolved,
		Resolution:          folded,
		ResidualUncertainty: 1 - folded.Confidence,
		Severity:            domain.ClassifySet(ordered),
		ResolvedAt:          time.Now(),
	}
}

// Resolve returns the current best-known value for a proposition. With no
// assertions it returns Neutral with confidence 0. When the latest
// resolution fell below the confidence floor it returns ErrUnresolved and
// the caller must apply its own default.
func (r *Resolver) Resolve(propositionID string) (domain.Weighted, error) {
	sh := r.shard(propositionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.propositions[propositionID]
	if !ok {
		return domain.Weighted{Value: domain.Neutral, Confidence: 0}, nil
	}

	if st.unresolved {
		return domain.Weighted{Value: domain.Neutral, Confidence: 0}, ErrUnresolved
	}
	if !st.hasCurrent {
		return domain.Weighted{Value: domain.Neutral, Confidence: 0}, nil
	}
	return st.current, nil
}

// EntropyCost reports the accumulated information loss charged across all
// resolutions so far.
func (r *Resolver) EntropyCost() float64 {
	r.entropyMu.Lock()
	defer r.entropyMu.Unlock()
	return r.entropyCost
}
