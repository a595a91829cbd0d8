package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/substratelabs/arbiter/internal/domain"
)

var (
	// ErrNoEligibleBackend is returned when no registered backend
	// satisfies the task's capability requirements, or when every
	// eligible backend failed to produce a cost estimate in time. It is
	// surfaced to the caller and never retried internally.
	ErrNoEligibleBackend = errors.New("no eligible backend")

	// ErrBackendTimeout marks a single backend's cost query exceeding its
	// deadline. It is recovered locally by excluding the backend from the
	// current decision.
	ErrBackendTimeout = errors.New("backend cost query timed out")
)

const (
	defaultCallTimeout   = 250 * time.Millisecond
	defaultEvidenceK     = 5
	evidenceConfidence   = 0.6
	episodicOverrunSlack = 1.05
)

// ArbitratorConfig controls per-decision behavior.
type ArbitratorConfig struct {
	// CallTimeout bounds every backend cost-model call. Mandatory; a
	// zero value falls back to the default.
	CallTimeout time.Duration
	// EvidenceK is how many similar past tasks are consulted per
	// decision.
	EvidenceK int
}

func (c *ArbitratorConfig) withDefaults() ArbitratorConfig {
	out := *c
	if out.CallTimeout <= 0 {
		out.CallTimeout = defaultCallTimeout
	}
	if out.EvidenceK <= 0 {
		out.EvidenceK = defaultEvidenceK
	}
	return out
}

// ParameterSource supplies the arbitrator with a consistent, fully-validated
// parameter snapshot per decision. The adaptation engine implements it.
type ParameterSource interface {
	Params() domain.ArbitratorParameters
}

// Arbitrator selects an execution backend per task from live cost estimates
// and accumulated trinary evidence.
type Arbitrator struct {
	cfg      ArbitratorConfig
	registry *Registry
	working  domain.WorkingStore
	episodic domain.EpisodicStore
	outcomes domain.OutcomeStore
	resolver *Resolver
	params   ParameterSource
	logger   *zap.Logger
}

func NewArbitrator(
	registry *Registry,
	working domain.WorkingStore,
	episodic domain.EpisodicStore,
	outcomes domain.OutcomeStore,
	resolver *Resolver,
	params ParameterSource,
	logger *zap.Logger,
	cfg ArbitratorConfig,
) *Arbitrator {
	return &Arbitrator{
		cfg:      cfg.withDefaults(),
		registry: registry,
		working:  working,
		episodic: episodic,
		outcomes: outcomes,
		resolver: resolver,
		params:   params,
		logger:   logger,
	}
}

// candidate is one backend still in the running for the current decision.
type candidate struct {
	desc     domain.BackendDescriptor
	estimate domain.CostEstimate
	resolved domain.Weighted
	score    float64
}

// Select arbitrates a task to a backend. Every call terminates in either an
// ArbitrationOutcome or a reported error; nothing is dropped silently.
// No state is written before a backend has been chosen, so cancellation
// mid-decision leaves no partial records behind.
func (a *Arbitrator) Select(ctx context.Context, task *domain.Task) (*domain.ArbitrationOutcome, error) {
	eligible := a.eligibleBackends(task)
	if len(eligible) == 0 {
		return nil, fmt.Errorf("task %s: %w", task.ID, ErrNoEligibleBackend)
	}

	candidates := a.queryEstimates(ctx, task, eligible)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("task %s: all eligible backends excluded: %w", task.ID, ErrNoEligibleBackend)
	}

	a.submitEpisodicEvidence(ctx, task, candidates)

	params := a.params.Params()
	a.scoreCandidates(task, candidates, params)

	winner := pickWinner(candidates)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	outcome := &domain.ArbitrationOutcome{
		TaskID:             task.ID,
		BackendID:          winner.desc.ID,
		Estimate:           winner.estimate,
		PredictedCost:      predictedCost(params.Weights, winner.estimate, winner.resolved.Confidence),
		DecisionConfidence: winner.resolved.Confidence,
		Timestamp:          time.Now(),
	}
	if err := a.outcomes.Create(ctx, outcome); err != nil {
		return nil, fmt.Errorf("record outcome for task %s: %w", task.ID, err)
	}

	// Working memory is written only after the backend is chosen.
	if err := a.working.Put(ctx, &domain.WorkingRecord{
		TaskID:    task.ID,
		BackendID: winner.desc.ID,
		Features:  task.Features,
		StoredAt:  outcome.Timestamp,
	}); err != nil {
		a.logger.Warn("working memory write failed",
			zap.String("task_id", task.ID.String()), zap.Error(err))
	}

	a.logger.Debug("backend selected",
		zap.String("task_id", task.ID.String()),
		zap.String("backend_id", winner.desc.ID),
		zap.Float64("score", winner.score),
		zap.Float64("decision_confidence", outcome.DecisionConfidence))
	return outcome, nil
}

func (a *Arbitrator) eligibleBackends(task *domain.Task) []domain.BackendDescriptor {
	var eligible []domain.BackendDescriptor
	for _, d := range a.registry.Snapshot() {
		if d.Satisfies(task.RequiredCapabilities) {
			eligible = append(eligible, d)
		}
	}
	return eligible
}

// queryEstimates fans out cost-model calls concurrently, one bounded call
// per backend. Timeouts and mid-flight deregistrations exclude the backend
// from this decision; they are logged, never fatal.
func (a *Arbitrator) queryEstimates(ctx context.Context, task *domain.Task, eligible []domain.BackendDescriptor) []*candidate {
	results := make([]*domain.CostEstimate, len(eligible))

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range eligible {
		i, d := i, d
		g.Go(func() error {
			est, err := a.estimateWithTimeout(gctx, d, task.Features)
			if err != nil {
				a.logger.Warn("backend excluded from decision",
					zap.String("task_id", task.ID.String()),
					zap.String("backend_id", d.ID),
					zap.Error(err))
				return nil
			}
			if !a.registry.Registered(d.ID) {
				a.logger.Warn("backend deregistered mid-arbitration, excluded",
					zap.String("task_id", task.ID.String()),
					zap.String("backend_id", d.ID))
				return nil
			}
			results[i] = &est
			return nil
		})
	}
	_ = g.Wait()

	var candidates []*candidate
	for i, est := range results {
		if est != nil {
			candidates = append(candidates, &candidate{desc: eligible[i], estimate: *est})
		}
	}
	return candidates
}

// estimateWithTimeout runs one cost-model call under the mandatory timeout.
// The call runs in its own goroutine so a model that ignores ctx still
// cannot stall the decision.
func (a *Arbitrator) estimateWithTimeout(ctx context.Context, d domain.BackendDescriptor, features map[string]float64) (domain.CostEstimate, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	type result struct {
		est domain.CostEstimate
		err error
	}
	ch := make(chan result, 1)
	go func() {
		est, err := d.CostModel(callCtx, features)
		ch <- result{est: est, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return domain.CostEstimate{}, fmt.Errorf("backend %s: %w", d.ID, res.err)
		}
		return res.est, nil
	case <-callCtx.Done():
		return domain.CostEstimate{}, fmt.Errorf("backend %s after %s: %w", d.ID, a.cfg.CallTimeout, ErrBackendTimeout)
	}
}

// backendProposition names the proposition "this backend suits tasks of this
// shape" for the resolver.
func backendProposition(backendID, bucket string) string {
	return "backend/" + backendID + "/shape/" + bucket
}

// submitEpisodicEvidence folds similar past outcomes into trinary
// assertions per backend: a task that came in at or under its prediction is
// positive evidence, a meaningful overrun is negative. A memory miss is "no
// evidence", never an error.
func (a *Arbitrator) submitEpisodicEvidence(ctx context.Context, task *domain.Task, candidates []*candidate) {
	bucket := domain.FeatureBucket(task.Features)
	records, err := a.episodic.Query(ctx, bucket, task.Features, a.cfg.EvidenceK, domain.EuclideanDistance)
	if err != nil {
		a.logger.Warn("episodic query failed, proceeding without evidence",
			zap.String("task_id", task.ID.String()), zap.Error(err))
		return
	}

	for _, rec := range records {
		value := domain.Positive
		if rec.PredictedCost > 0 && rec.ActualCost > rec.PredictedCost*episodicOverrunSlack {
			value = domain.Negative
		}
		a.resolver.Submit(domain.Assertion{
			PropositionID: backendProposition(rec.BackendID, bucket),
			Value:         value,
			Confidence:    evidenceConfidence,
			SourceID:      "episodic/" + rec.TaskID.String(),
			Timestamp:     time.Now(),
		})
	}

	for _, c := range candidates {
		resolved, err := a.resolver.Resolve(backendProposition(c.desc.ID, bucket))
		if err != nil {
			// Unresolved contradiction: fall back to the neutral
			// default rather than forcing a decision.
			a.logger.Debug("unresolved evidence, using neutral default",
				zap.String("backend_id", c.desc.ID),
				zap.String("bucket", bucket))
			resolved = domain.Weighted{Value: domain.Neutral, Confidence: 0}
		}
		c.resolved = resolved
	}
}

// scoreCandidates computes each candidate's scalar cost score: the weighted
// sum of the min-max normalized dimensions, then adjusted by the resolved
// evidence sign. Lower is preferred.
func (a *Arbitrator) scoreCandidates(task *domain.Task, candidates []*candidate, params domain.ArbitratorParameters) {
	norm := func(get func(*candidate) float64) func(*candidate) float64 {
		lo, hi := get(candidates[0]), get(candidates[0])
		for _, c := range candidates[1:] {
			v := get(c)
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		span := hi - lo
		return func(c *candidate) float64 {
			if span == 0 {
				return 0
			}
			return (get(c) - lo) / span
		}
	}

	energy := norm(func(c *candidate) float64 { return c.estimate.Energy })
	latency := norm(func(c *candidate) float64 { return c.estimate.Latency })
	accuracy := norm(func(c *candidate) float64 { return c.estimate.Accuracy })
	confidence := norm(func(c *candidate) float64 { return c.resolved.Confidence })

	for _, c := range candidates {
		score := params.Weights.Energy*energy(c) +
			params.Weights.Latency*latency(c) +
			params.Weights.Accuracy*accuracy(c) +
			params.Weights.Confidence*confidence(c)

		switch c.resolved.Value {
		case domain.Negative:
			score *= params.NegativePenalty
		case domain.Positive:
			score *= params.PositiveReward
		}
		c.score = score
	}
}

// pickWinner takes the minimum score; ties break by lowest latency, then
// lexicographically by backend ID. Deterministic and reproducible.
func pickWinner(candidates []*candidate) *candidate {
	winner := candidates[0]
	for _, c := range candidates[1:] {
		switch {
		case c.score < winner.score:
			winner = c
		case c.score == winner.score && c.estimate.Latency < winner.estimate.Latency:
			winner = c
		case c.score == winner.score && c.estimate.Latency == winner.estimate.Latency && c.desc.ID < winner.desc.ID:
			winner = c
		}
	}
	return winner
}

// predictedCost is the raw (unnormalized) weighted cost recorded with the
// outcome. The coherence monitor compares it against the actual cost
// reported after execution, and adaptation replays it under perturbed
// weights.
func predictedCost(w domain.Weights, est domain.CostEstimate, decisionConfidence float64) float64 {
	return w.Energy*est.Energy + w.Latency*est.Latency + w.Accuracy*est.Accuracy + w.Confidence*decisionConfidence
}
