package signalcore

import (
	"sync"

	"alpha-core/internal/featuretypes"
)

// GateReasonCounter tallies decision codes and gate reasons observed across
// a run, the raw counts MetricsAggregator's scenario/gate breakdown reads
// (spec.md §4.9).
type GateReasonCounter struct {
	mu           sync.Mutex
	byDecision   map[featuretypes.DecisionCode]int64
	byGateReason map[string]int64
	confirmed    int64
	total        int64
}

// NewGateReasonCounter creates an empty counter.
func NewGateReasonCounter() *GateReasonCounter {
	return &GateReasonCounter{
		byDecision:   make(map[featuretypes.DecisionCode]int64),
		byGateReason: make(map[string]int64),
	}
}

// Observe records one signal's outcome.
func (g *GateReasonCounter) Observe(sig featuretypes.Signal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.total++
	g.byDecision[sig.DecisionCode]++
	if sig.Confirm {
		g.confirmed++
	}
	if sig.GateReason != "" {
		g.byGateReason[sig.GateReason]++
	}
}

// Snapshot returns a point-in-time copy of the counters.
func (g *GateReasonCounter) Snapshot() (total, confirmed int64, byDecision map[featuretypes.DecisionCode]int64, byGateReason map[string]int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	byDecision = make(map[featuretypes.DecisionCode]int64, len(g.byDecision))
	for k, v := range g.byDecision {
		byDecision[k] = v
	}
	byGateReason = make(map[string]int64, len(g.byGateReason))
	for k, v := range g.byGateReason {
		byGateReason[k] = v
	}
	return g.total, g.confirmed, byDecision, byGateReason
}
