package service

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/substratelabs/arbiter/internal/domain"
)

const (
	defaultCoherenceWindow   = 200
	defaultCoherenceLowWater = 0.4
	defaultConsecutiveLimit  = 5
	defaultEvalInterval      = 2 * time.Second
)

// CoherenceConfig controls degradation detection.
type CoherenceConfig struct {
	WindowSize int     // rolling window of observations
	LowWater   float64 // coherence below this is degraded
	// ConsecutiveLimit is how many consecutive degraded evaluation cycles
	// raise the fragmentation signal.
	ConsecutiveLimit int
	Interval         time.Duration
}

func (c *CoherenceConfig) withDefaults() CoherenceConfig {
	out := *c
	if out.WindowSize <= 0 {
		out.WindowSize = defaultCoherenceWindow
	}
	if out.LowWater <= 0 {
		out.LowWater = defaultCoherenceLowWater
	}
	if out.ConsecutiveLimit <= 0 {
		out.ConsecutiveLimit = defaultConsecutiveLimit
	}
	if out.Interval <= 0 {
		out.Interval = defaultEvalInterval
	}
	return out
}

// CoherenceMonitor watches prediction error and resolver residuals and
// raises a fragmentation signal when coherence stays below the low-water
// mark. It is strictly observe-only: it never mutates arbitration state.
type CoherenceMonitor struct {
	cfg    CoherenceConfig
	logger *zap.Logger

	mu             sync.Mutex
	errWindow      *ringWindow
	residualWindow *ringWindow
	consecutiveLow int

	coherenceBits atomic.Uint64 // math.Float64bits of the last coherence
	fragmented    atomic.Bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewCoherenceMonitor(logger *zap.Logger, cfg CoherenceConfig) *CoherenceMonitor {
	c := cfg.withDefaults()
	m := &CoherenceMonitor{
		cfg:            c,
		logger:         logger,
		errWindow:      newRingWindow(c.WindowSize),
		residualWindow: newRingWindow(c.WindowSize),
		stopCh:         make(chan struct{}),
	}
	m.coherenceBits.Store(math.Float64bits(1.0))
	return m
}

// ObserveOutcome records a completed outcome's prediction error. The delta
// is normalized by the larger magnitude so coherence stays bounded
// regardless of how large the abstract cost scalars are.
func (m *CoherenceMonitor) ObserveOutcome(o *domain.ArbitrationOutcome) {
	if o == nil || o.ActualCost == nil {
		return
	}
	scale := math.Max(math.Abs(*o.ActualCost), math.Abs(o.PredictedCost))
	var delta float64
	if scale > 0 {
		delta = math.Abs(*o.ActualCost-o.PredictedCost) / scale
	}

	m.mu.Lock()
	m.errWindow.push(delta)
	m.mu.Unlock()
}

// ObserveResidual records a resolution's residual uncertainty.
func (m *CoherenceMonitor) ObserveResidual(v float64) {
	m.mu.Lock()
	m.residualWindow.push(clamp01(v))
	m.mu.Unlock()
}

// Evaluate recomputes coherence from a snapshot of the windows and updates
// the fragmentation signal. Safe to call concurrently with observations.
func (m *CoherenceMonitor) Evaluate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	meanErr := m.errWindow.mean()
	meanResidual := m.residualWindow.mean()

	coherence := clamp01(1 - (meanErr+meanResidual)/2)
	m.coherenceBits.Store(math.Float64bits(coherence))

	if coherence < m.cfg.LowWater {
		m.consecutiveLow++
		if m.consecutiveLow >= m.cfg.ConsecutiveLimit && !m.fragmented.Load() {
			m.fragmented.Store(true)
			m.logger.Warn("fragmentation signal raised",
				zap.Float64("coherence", coherence),
				zap.Float64("low_water", m.cfg.LowWater),
				zap.Int("consecutive_low_cycles", m.consecutiveLow))
		}
	} else {
		if m.fragmented.Load() {
			m.logger.Info("fragmentation signal cleared",
				zap.Float64("coherence", coherence))
		}
		m.consecutiveLow = 0
		m.fragmented.Store(false)
	}
	return coherence
}

// Coherence returns the most recently evaluated coherence value in [0,1].
func (m *CoherenceMonitor) Coherence() float64 {
	return math.Float64frombits(m.coherenceBits.Load())
}

// Fragmented reports whether the fragmentation signal is active.
func (m *CoherenceMonitor) Fragmented() bool {
	return m.fragmented.Load()
}

// Start runs periodic evaluation on the monitor's own cadence, decoupled
// from the per-task path.
func (m *CoherenceMonitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		m.logger.Info("coherence monitor started",
			zap.Duration("interval", m.cfg.Interval),
			zap.Int("window", m.cfg.WindowSize))
		for {
			select {
			case <-ticker.C:
				m.Evaluate()
			case <-m.stopCh:
				m.logger.Info("coherence monitor stopped")
				return
			}
		}
	}()
}

func (m *CoherenceMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ringWindow is a fixed-size rolling window of float64 observations.
type ringWindow struct {
	values []float64
	next   int
	filled int
}

func newRingWindow(size int) *ringWindow {
	return &ringWindow{values: make([]float64, size)}
}

func (r *ringWindow) push(v float64) {
	r.values[r.next] = v
	r.next = (r.next + 1) % len(r.values)
	if r.filled < len(r.values) {
		r.filled++
	}
}

func (r *ringWindow) mean() float64 {
	if r.filled == 0 {
		return 0
	}
	var sum float64
	for _, v := range r.values[:r.filled] {
		sum += v
	}
	return sum / float64(r.filled)
}
