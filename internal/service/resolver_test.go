package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/substratelabs/arbiter/internal/domain"
)

type mockContradictionLog struct {
	mu      sync.Mutex
	records []domain.ContradictionRecord
}

func (m *mockContradictionLog) Append(_ context.Context, rec *domain.ContradictionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *mockContradictionLog) List(_ context.Context, offset, limit int) ([]domain.ContradictionRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ContradictionRecord, len(m.records))
	copy(out, m.records)
	return out, len(out), nil
}

func (m *mockContradictionLog) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func newTestResolver(log domain.ContradictionLog) *Resolver {
	return NewResolver(log, zap.NewNop(), ResolverConfig{Window: time.Minute})
}

func assertion(prop string, v domain.Trinary, conf float64, ts time.Time) domain.Assertion {
	return domain.Assertion{
		PropositionID: prop,
		Value:         v,
		Confidence:    conf,
		SourceID:      "test",
		Timestamp:     ts,
	}
}

func TestResolverNoAssertions(t *testing.T) {
	r := newTestResolver(&mockContradictionLog{})

	got, err := r.Resolve("unknown")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Value != domain.Neutral || got.Confidence != 0 {
		t.Errorf("empty proposition = %+v, want Neutral/0", got)
	}
}

func TestResolverSingleAssertion(t *testing.T) {
	log := &mockContradictionLog{}
	r := newTestResolver(log)

	r.Submit(assertion("p", domain.Positive, 0.8, time.Now()))

	got, err := r.Resolve("p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Value != domain.Positive || got.Confidence != 0.8 {
		t.Errorf("got %+v, want Positive/0.8", got)
	}
	if log.count() != 0 {
		t.Error("agreement must not produce a contradiction record")
	}
}

func TestResolverAgreementCompounds(t *testing.T) {
	r := newTestResolver(&mockContradictionLog{})
	now := time.Now()

	r.Submit(assertion("p", domain.Positive, 0.8, now))
	r.Submit(assertion("p", domain.Positive, 0.6, now.Add(time.Millisecond)))

	got, err := r.Resolve("p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Value != domain.Positive {
		t.Fatalf("value = %v, want Positive", got.Value)
	}
	if got.Confidence <= 0.8 {
		t.Errorf("agreement should raise confidence, got %v", got.Confidence)
	}
	if math.Abs(got.Confidence-0.92) > 1e-9 {
		t.Errorf("confidence = %v, want 0.92", got.Confidence)
	}
}

// Strong opposed evidence plus a weak neutral observation collapses to a
// moderately confident Neutral, folded oldest first.
func TestResolverOpposedFold(t *testing.T) {
	log := &mockContradictionLog{}
	r := newTestResolver(log)
	now := time.Now()

	r.Submit(assertion("p", domain.Positive, 0.9, now))
	r.Submit(assertion("p", domain.Negative, 0.85, now.Add(time.Millisecond)))
	r.Submit(assertion("p", domain.Neutral, 0.5, now.Add(2*time.Millisecond)))

	got, err := r.Resolve("p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Value != domain.Neutral {
		t.Fatalf("value = %v, want Neutral", got.Value)
	}
	if math.Abs(got.Confidence-0.525) > 1e-9 {
		t.Errorf("confidence = %v, want 0.525", got.Confidence)
	}
}

func TestResolverBelowFloorUnresolved(t *testing.T) {
	log := &mockContradictionLog{}
	r := NewResolver(log, zap.NewNop(), ResolverConfig{Window: time.Minute, ConfidenceFloor: 0.2})
	now := time.Now()

	// Equal-confidence opposition folds to Neutral with confidence 0.
	r.Submit(assertion("p", domain.Positive, 0.7, now))
	r.Submit(assertion("p", domain.Negative, 0.7, now.Add(time.Millisecond)))

	got, err := r.Resolve("p")
	if !errors.Is(err, ErrUnresolved) {
		t.Fatalf("err = %v, want ErrUnresolved", err)
	}
	if got.Value != domain.Neutral || got.Confidence != 0 {
		t.Errorf("unresolved default = %+v, want Neutral/0", got)
	}
}

func TestResolverContradictionLogged(t *testing.T) {
	log := &mockContradictionLog{}
	r := newTestResolver(log)
	r.Start()

	now := time.Now()
	r.Submit(assertion("p", domain.Positive, 0.9, now))
	r.Submit(assertion("p", domain.Negative, 0.4, now.Add(time.Millisecond)))

	// Stop drains the append queue before returning.
	r.Stop()

	if log.count() != 1 {
		t.Fatalf("log has %d records, want 1", log.count())
	}
	rec := log.records[0]
	if rec.PropositionID != "p" {
		t.Errorf("proposition = %q, want p", rec.PropositionID)
	}
	if !rec.Resolved {
		t.Error("record should be marked resolved")
	}
	if rec.Severity != domain.SeverityHard {
		t.Errorf("severity = %v, want hard", rec.Severity)
	}
	if len(rec.Assertions) != 2 || !rec.Assertions[0].Timestamp.Before(rec.Assertions[1].Timestamp) {
		t.Error("assertions should be recorded oldest first")
	}
	if math.Abs(rec.ResidualUncertainty-(1-rec.Resolution.Confidence)) > 1e-9 {
		t.Error("residual uncertainty should complement resolution confidence")
	}
}

func TestResolverEntropyAccumulates(t *testing.T) {
	r := newTestResolver(&mockContradictionLog{})
	now := time.Now()

	r.Submit(assertion("p", domain.Positive, 0.9, now))
	r.Submit(assertion("p", domain.Negative, 0.4, now.Add(time.Millisecond)))

	if got := r.EntropyCost(); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("entropy after hard contradiction = %v, want 0.5", got)
	}

	r.Submit(assertion("q", domain.Positive, 0.9, now))
	r.Submit(assertion("q", domain.Neutral, 0.4, now.Add(time.Millisecond)))

	if got := r.EntropyCost(); math.Abs(got-0.8) > 1e-9 {
		t.Errorf("entropy after medium contradiction = %v, want 0.8", got)
	}
}

func TestResolverResidualObserver(t *testing.T) {
	r := newTestResolver(&mockContradictionLog{})

	var residuals []float64
	r.SetResidualObserver(func(v float64) { residuals = append(residuals, v) })

	now := time.Now()
	r.Submit(assertion("p", domain.Positive, 0.9, now))
	r.Submit(assertion("p", domain.Negative, 0.4, now.Add(time.Millisecond)))

	if len(residuals) != 1 {
		t.Fatalf("observer called %d times, want 1", len(residuals))
	}
	if residuals[0] < 0 || residuals[0] > 1 {
		t.Errorf("residual %v outside [0,1]", residuals[0])
	}
}

func TestResolverExpiredEvidenceFoldsOnce(t *testing.T) {
	r := NewResolver(&mockContradictionLog{}, zap.NewNop(), ResolverConfig{Window: 50 * time.Millisecond})
	old := time.Now().Add(-time.Second)

	// An assertion already outside the window becomes foundational base
	// evidence on the next submit.
	r.Submit(assertion("p", domain.Positive, 0.8, old))
	r.Submit(assertion("p", domain.Positive, 0.5, time.Now()))

	first, err := r.Resolve("p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Re-submitting fresh agreement must fold against the same base, not
	// double count the expired assertion.
	r.Submit(assertion("p", domain.Positive, 0.0, time.Now()))
	second, err := r.Resolve("p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Confidence < first.Confidence-1e-9 {
		t.Errorf("confidence regressed from %v to %v", first.Confidence, second.Confidence)
	}
	if second.Value != domain.Positive {
		t.Errorf("value = %v, want Positive", second.Value)
	}
}

func TestResolverPropositionIsolation(t *testing.T) {
	r := newTestResolver(&mockContradictionLog{})
	now := time.Now()

	r.Submit(assertion("a", domain.Positive, 0.9, now))
	r.Submit(assertion("b", domain.Negative, 0.9, now))

	got, err := r.Resolve("a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Value != domain.Positive {
		t.Errorf("proposition a = %v, want Positive (no cross-talk)", got.Value)
	}
}
