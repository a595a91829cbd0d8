package service

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/substratelabs/arbiter/internal/domain"
)

const (
	defaultAdaptationInterval  = 30 * time.Second
	defaultStepSize            = 0.05
	defaultMinOutcomes         = 10
	defaultRollbackTicks       = 3
	defaultRegressionThreshold = 0.1
)

// AdaptationConfig controls the periodic parameter tuning loop.
type AdaptationConfig struct {
	Interval time.Duration
	// StepSize is the bounded per-tick adjustment, as a fraction of the
	// current weight value.
	StepSize float64
	Bounds   domain.ParameterBounds
	// MinOutcomes is the minimum completed outcomes in the window before
	// the engine acts.
	MinOutcomes int
	// RollbackTicks is how many ticks after a change the engine watches
	// for a coherence regression before considering it settled.
	RollbackTicks int
	// RegressionThreshold is the coherence drop that triggers an
	// automatic rollback of the last change.
	RegressionThreshold float64
	// HistoryWindow is how many recent outcomes the replay considers.
	HistoryWindow int
}

func (c *AdaptationConfig) withDefaults() AdaptationConfig {
	out := *c
	if out.Interval <= 0 {
		out.Interval = defaultAdaptationInterval
	}
	if out.StepSize <= 0 {
		out.StepSize = defaultStepSize
	}
	if out.Bounds == (domain.ParameterBounds{}) {
		out.Bounds = domain.DefaultBounds()
	}
	if out.MinOutcomes <= 0 {
		out.MinOutcomes = defaultMinOutcomes
	}
	if out.RollbackTicks <= 0 {
		out.RollbackTicks = defaultRollbackTicks
	}
	if out.RegressionThreshold <= 0 {
		out.RegressionThreshold = defaultRegressionThreshold
	}
	if out.HistoryWindow <= 0 {
		out.HistoryWindow = defaultCoherenceWindow
	}
	return out
}

// AdaptationEngine retunes the arbitrator's weighting parameters from
// recorded outcome history, on its own cadence, never on the request path.
// It owns the parameter snapshot; readers only ever see a complete,
// validated version published atomically.
type AdaptationEngine struct {
	cfg      AdaptationConfig
	outcomes domain.OutcomeStore
	monitor  *CoherenceMonitor
	logger   *zap.Logger

	current atomic.Pointer[domain.ArbitratorParameters]

	mu                sync.Mutex
	tick              int64
	previous          *domain.ArbitratorParameters
	changeTick        int64
	coherenceAtChange float64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewAdaptationEngine(
	outcomes domain.OutcomeStore,
	monitor *CoherenceMonitor,
	logger *zap.Logger,
	initial domain.ArbitratorParameters,
	cfg AdaptationConfig,
) (*AdaptationEngine, error) {
	c := cfg.withDefaults()
	if err := initial.Validate(c.Bounds); err != nil {
		return nil, err
	}
	e := &AdaptationEngine{
		cfg:      c,
		outcomes: outcomes,
		monitor:  monitor,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	e.current.Store(&initial)
	return e, nil
}

// Params returns the active parameter snapshot. Readers always see either
// the old or the new complete snapshot, never a partial update.
func (e *AdaptationEngine) Params() domain.ArbitratorParameters {
	return *e.current.Load()
}

// Start runs the tuning loop on a fixed cadence.
func (e *AdaptationEngine) Start() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.Interval)
		defer ticker.Stop()

		e.logger.Info("adaptation engine started",
			zap.Duration("interval", e.cfg.Interval),
			zap.Float64("step_size", e.cfg.StepSize))
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := e.Tick(ctx); err != nil {
					e.logger.Error("adaptation tick failed", zap.Error(err))
				}
				cancel()
			case <-e.stopCh:
				e.logger.Info("adaptation engine stopped")
				return
			}
		}
	}()
}

func (e *AdaptationEngine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

// Tick runs one adaptation cycle: rollback check, fragmentation gate, then
// a gradient-free coordinate adjustment replayed against recorded outcomes.
// It reads a snapshot of history and never holds a lock across the replay.
func (e *AdaptationEngine) Tick(ctx context.Context) error {
	e.mu.Lock()
	e.tick++
	tick := e.tick
	e.mu.Unlock()

	if e.rollbackIfRegressed(tick) {
		return nil
	}

	// Tuning into a diverging state makes fragmentation worse; hold
	// parameters until coherence recovers.
	if e.monitor.Fragmented() {
		e.logger.Info("adaptation suspended: fragmentation signal active")
		return nil
	}

	history, err := e.outcomes.Recent(ctx, e.cfg.HistoryWindow)
	if err != nil {
		return err
	}
	completed := history[:0:0]
	for _, o := range history {
		if o.ActualCost != nil {
			completed = append(completed, o)
		}
	}
	if len(completed) < e.cfg.MinOutcomes {
		return nil
	}

	cur := e.Params()
	proposed := e.adjustWeights(cur, completed)
	if proposed.Weights == cur.Weights {
		return nil
	}

	proposed.Version = cur.Version + 1
	if err := proposed.Validate(e.cfg.Bounds); err != nil {
		// A clipped proposal should always validate; treat failure as
		// a no-change tick rather than publishing a bad snapshot.
		e.logger.Error("rejected invalid parameter proposal", zap.Error(err))
		return nil
	}

	e.mu.Lock()
	prev := cur
	e.previous = &prev
	e.changeTick = tick
	e.coherenceAtChange = e.monitor.Coherence()
	e.mu.Unlock()

	e.current.Store(&proposed)
	e.logger.Info("arbitrator parameters adjusted",
		zap.Int64("version", proposed.Version),
		zap.Float64("w_energy", proposed.Weights.Energy),
		zap.Float64("w_latency", proposed.Weights.Latency),
		zap.Float64("w_accuracy", proposed.Weights.Accuracy),
		zap.Float64("w_confidence", proposed.Weights.Confidence))
	return nil
}

// rollbackIfRegressed reverts the last parameter change when coherence
// dropped measurably within the watch window after it was applied.
func (e *AdaptationEngine) rollbackIfRegressed(tick int64) bool {
	e.mu.Lock()
	prev := e.previous
	changeTick := e.changeTick
	coherenceAtChange := e.coherenceAtChange
	e.mu.Unlock()

	if prev == nil {
		return false
	}
	if tick-changeTick > int64(e.cfg.RollbackTicks) {
		// Change survived its watch window.
		e.mu.Lock()
		e.previous = nil
		e.mu.Unlock()
		return false
	}
	if coherenceAtChange-e.monitor.Coherence() <= e.cfg.RegressionThreshold {
		return false
	}

	cur := e.Params()
	restored := *prev
	restored.Version = cur.Version + 1
	e.current.Store(&restored)

	e.mu.Lock()
	e.previous = nil
	e.mu.Unlock()

	e.logger.Warn("parameter change rolled back after coherence regression",
		zap.Int64("reverted_version", cur.Version),
		zap.Int64("restored_as_version", restored.Version),
		zap.Float64("coherence_at_change", coherenceAtChange),
		zap.Float64("coherence_now", e.monitor.Coherence()))
	return true
}

// adjustWeights tests, per dimension, whether nudging the weight up or down
// by the bounded step would have reduced historical prediction error, using
// outcomes already recorded; no re-execution happens. The better direction
// is applied, dampened by the smoothing factor and clipped to bounds.
func (e *AdaptationEngine) adjustWeights(p domain.ArbitratorParameters, history []domain.ArbitrationOutcome) domain.ArbitratorParameters {
	out := p
	dims := []struct {
		name string
		get  func(*domain.Weights) *float64
	}{
		{"energy", func(w *domain.Weights) *float64 { return &w.Energy }},
		{"latency", func(w *domain.Weights) *float64 { return &w.Latency }},
		{"accuracy", func(w *domain.Weights) *float64 { return &w.Accuracy }},
		{"confidence", func(w *domain.Weights) *float64 { return &w.Confidence }},
	}

	for _, dim := range dims {
		base := p.Weights
		cur := *dim.get(&base)
		step := e.cfg.StepSize * cur
		if step == 0 {
			continue
		}

		up := base
		*dim.get(&up) += step
		down := base
		*dim.get(&down) -= step

		baseErr := replayError(base, history)
		upErr := replayError(up, history)
		downErr := replayError(down, history)

		target := cur
		switch {
		case upErr < baseErr && upErr <= downErr:
			target = cur + step
		case downErr < baseErr:
			target = cur - step
		default:
			continue
		}

		// Smoothing dampens the move; clipping keeps it in bounds.
		next := cur + p.Smoothing*(target-cur)
		next = math.Max(e.cfg.Bounds.MinWeight, math.Min(e.cfg.Bounds.MaxWeight, next))
		*dim.get(&out.Weights) = next
	}
	return out
}

// replayError is the mean absolute prediction error the weight vector would
// have produced over the recorded window.
func replayError(w domain.Weights, history []domain.ArbitrationOutcome) float64 {
	var sum float64
	for _, o := range history {
		predicted := w.Energy*o.Estimate.Energy +
			w.Latency*o.Estimate.Latency +
			w.Accuracy*o.Estimate.Accuracy +
			w.Confidence*o.DecisionConfidence
		sum += math.Abs(*o.ActualCost - predicted)
	}
	return sum / float64(len(history))
}
