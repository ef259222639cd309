// Package signalcore implements the per-symbol, per-second state machine
// that converts feature rows into confirmed buy/sell/quiet signals,
// enforcing gating, regime-aware thresholds, deduplication, cooldown,
// anti-flip discipline and scenario overrides (spec.md §4.4).
package signalcore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"alpha-core/internal/config"
	"alpha-core/internal/featuretypes"
)

// Sink receives every emitted Signal (confirmed or gated), per spec.md §4.4's
// sink contract. Implementations: JSONLSink, SQLiteSink, and MultiSink for
// sink=dual mode.
type Sink interface {
	Write(signal featuretypes.Signal) error
}

type consecutiveState struct {
	dir   featuretypes.Side
	count int
}

// Core is the Signal Core state machine. It is not safe for concurrent use
// across symbols that share the same instance without external
// synchronisation per spec.md §5 ("per-symbol counters are single-writer").
type Core struct {
	cfg        config.Config
	runID      string
	configHash string
	sinks      []Sink

	lastConfirmedTSMs map[string]int64
	lastExitTSMs      map[string]int64
	seenSignalIDs     map[string]bool
	consecutive       map[string]consecutiveState
	openPositionSide  map[string]featuretypes.Side

	GateReasons *GateReasonCounter
}

// New creates a Core bound to cfg, stamping runID (or a generated one if
// empty) and a config_hash derived from the effective parameter snapshot
// onto every emitted signal, and writing each decision to every sink.
func New(cfg config.Config, runID string, sinks ...Sink) *Core {
	if runID == "" {
		runID = cfg.RunID
	}
	return &Core{
		cfg:               cfg,
		runID:             runID,
		configHash:        computeConfigHash(cfg),
		sinks:             sinks,
		lastConfirmedTSMs: make(map[string]int64),
		lastExitTSMs:      make(map[string]int64),
		seenSignalIDs:     make(map[string]bool),
		consecutive:       make(map[string]consecutiveState),
		openPositionSide:  make(map[string]featuretypes.Side),
		GateReasons:       NewGateReasonCounter(),
	}
}

// ConfigHash returns the resolved parameter snapshot hash stamped on every
// signal this Core emits during its lifetime.
func (c *Core) ConfigHash() string { return c.configHash }

func computeConfigHash(cfg config.Config) string {
	// The effective-parameters snapshot: only the fields that influence a
	// decision, so an unrelated config change (e.g. executor sink mode)
	// does not perturb config_hash.
	snapshot := struct {
		Core     config.CoreConfig
		Fusion   config.FusionConfig
		Signal   config.SignalConfig
		Strategy config.StrategyConfig
	}{cfg.Core, cfg.Fusion, cfg.Signal, cfg.Strategy}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return "unknown"
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}

// RecordExit arms the post-exit cooldown for symbol at tsMs. Called back by
// TradeSimulator/Executor on position close (spec.md §4.4 step 6). This is
// the one-direction callback spec.md §9 requires so Core and simulator
// remain independently testable.
func (c *Core) RecordExit(symbol string, tsMs int64) {
	c.lastExitTSMs[symbol] = tsMs
	delete(c.openPositionSide, symbol)
}

// SetOpenPosition records that symbol currently holds an open position on
// side, used by the anti-flip reversal threshold/min-consecutive check.
func (c *Core) SetOpenPosition(symbol string, side featuretypes.Side) {
	c.openPositionSide[symbol] = side
}

func scenarioOverride(cfg config.SignalConfig, scenario featuretypes.Scenario2x2) config.ScenarioOverride {
	if o, ok := cfg.ScenarioOverrides[string(scenario)]; ok {
		return o
	}
	return config.ScenarioOverride{}
}

// regimeOf derives active/quiet from the row's activity axis of
// scenario_2x2. Not specified explicitly in spec.md; documented as a
// judgment call in DESIGN.md.
func regimeOf(scenario featuretypes.Scenario2x2) featuretypes.Regime {
	switch scenario {
	case featuretypes.ScenarioActiveHighVol, featuretypes.ScenarioActiveLowVol:
		return featuretypes.RegimeActive
	default:
		return featuretypes.RegimeQuiet
	}
}

// Evaluate runs one feature row through the ordered decision chain
// (spec.md §4.4) and writes the resulting Signal to every configured sink.
// It never returns an error: ungated or gated, a decision is always
// produced (spec.md §7).
func (c *Core) Evaluate(row featuretypes.FeatureRow) featuretypes.Signal {
	sig := c.evaluate(row)
	for _, sink := range c.sinks {
		_ = sink.Write(sig) // sink write errors are discarded here, never fatal
	}
	if sig.Confirm {
		c.lastConfirmedTSMs[row.Symbol] = row.TSMs
		c.seenSignalIDs[sig.SignalID] = true
	}
	c.GateReasons.Observe(sig)
	return sig
}

func (c *Core) evaluate(row featuretypes.FeatureRow) featuretypes.Signal {
	base := featuretypes.Signal{
		Symbol:      row.Symbol,
		TSMs:        row.TSMs,
		Regime:      regimeOf(row.Scenario2x2),
		Scenario2x2: row.Scenario2x2,
		RunID:       c.runID,
		ConfigHash:  c.configHash,
	}

	// 1. Warmup
	if row.Warmup {
		base.DecisionCode = featuretypes.DecisionFailWarmup
		base.GateReason = featuretypes.GateComponentWarmup
		return base
	}

	// 2. Gating (data quality)
	override := scenarioOverride(c.cfg.Signal, row.Scenario2x2)
	consistencyMin := c.cfg.Signal.ConsistencyMin + override.ConsistencyMinOffset
	if row.Consistency < consistencyMin {
		base.DecisionCode = featuretypes.DecisionFailGating
		base.GateReason = featuretypes.GateLowConsistency
		return base
	}
	if row.SpreadBps > c.cfg.Aligner.SpreadThreshold*10 { // spread cap is a multiple of the alignment threshold
		base.DecisionCode = featuretypes.DecisionFailGating
		base.GateReason = featuretypes.GateSpreadBpsExceeded
		return base
	}
	lagSec := float64(max64(row.LagMsPrice, row.LagMsOrderbook)) / 1000.0
	lagCapSec := float64(c.cfg.Aligner.LagThresholdMs) / 1000.0
	if lagSec > lagCapSec {
		base.DecisionCode = featuretypes.DecisionFailGating
		base.GateReason = featuretypes.GateLagSecExceeded
		return base
	}
	if !c.cfg.Core.Gating.EnableDivergenceAlt {
		if divergent(row.ZOFI, row.ZCVD, c.cfg.Core.Gating.OFIz, c.cfg.Core.Gating.CVDz) {
			base.DecisionCode = featuretypes.DecisionFailGating
			base.GateReason = featuretypes.GateDegradedOFIOnly
			return base
		}
	}

	// 3. Threshold
	score := c.cfg.Fusion.WOFI*row.ZOFI + c.cfg.Fusion.WCVD*row.ZCVD
	base.Score = score
	side, hasDir := featuretypes.DirectionOf(score)

	weakThreshold := c.cfg.Signal.WeakSignalThreshold + override.WeakSignalThresholdOffset
	if !hasDir || math.Abs(score) < weakThreshold {
		base.DecisionCode = featuretypes.DecisionFailThreshold
		base.GateReason = featuretypes.GateWeakSignal
		return base
	}

	reversing := isReversal(c.openPositionSide[row.Symbol], side)
	entryThreshold := entryThresholdFor(c.cfg.Core.Threshold, base.Regime, reversing)
	if math.Abs(score) < entryThreshold {
		base.DecisionCode = featuretypes.DecisionFailThreshold
		base.GateReason = featuretypes.GateWeakSignal
		return base
	}

	// 4. Regime gate
	regimeThreshold := c.cfg.Core.Regime.Zt
	if base.Regime == featuretypes.RegimeQuiet {
		regimeThreshold = c.cfg.Core.Regime.Zr
		if !c.cfg.Core.AllowQuiet {
			base.DecisionCode = featuretypes.DecisionFailRegime
			base.GateReason = featuretypes.GateUnknown
			return base
		}
	}
	if math.Abs(score) < regimeThreshold {
		base.DecisionCode = featuretypes.DecisionFailRegime
		base.GateReason = featuretypes.GateUnknown
		return base
	}

	// 5. Anti-flip / min-consecutive
	minConsecutive := c.cfg.Signal.MinConsecutiveSameDir + override.MinConsecutiveOffset
	state := c.consecutive[row.Symbol]
	if state.dir == side {
		state.count++
	} else {
		state = consecutiveState{dir: side, count: 1}
	}
	c.consecutive[row.Symbol] = state

	if reversing && state.count < minConsecutive {
		base.DecisionCode = featuretypes.DecisionFailAntiFlip
		base.GateReason = featuretypes.GateReverseCooldown
		return base
	}

	// 6. Cooldown
	if last, ok := c.lastConfirmedTSMs[row.Symbol]; ok && row.TSMs-last < c.cfg.Core.CooldownMs {
		base.DecisionCode = featuretypes.DecisionFailCooldown
		base.GateReason = featuretypes.GateCooldownAfterExit
		return base
	}
	if lastExit, ok := c.lastExitTSMs[row.Symbol]; ok {
		elapsedSec := (row.TSMs - lastExit) / 1000
		if elapsedSec < c.cfg.Strategy.CooldownAfterExitSec {
			base.DecisionCode = featuretypes.DecisionFailCooldown
			base.GateReason = featuretypes.GateCooldownAfterExit
			return base
		}
	}

	// 7. Dedup
	signalID := computeSignalID(row.Symbol, row.TSMs, score, base.Regime, "primary")
	if c.seenSignalIDs[signalID] {
		base.SignalID = signalID
		base.DecisionCode = featuretypes.DecisionFailDedup
		base.GateReason = featuretypes.GateUnknown
		return base
	}

	// 8. OK
	base.SignalID = signalID
	base.Gating = 1
	base.DecisionCode = featuretypes.DecisionOK
	base.Confirm = true
	base.GateReason = ""
	base.SignalType = classify(side, math.Abs(score), regimeThreshold)
	return base
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func divergent(zOFI, zCVD, ofiThreshold, cvdThreshold float64) bool {
	ofiSign, ofiStrong := featuretypes.DirectionOf(zOFI)
	cvdSign, cvdStrong := featuretypes.DirectionOf(zCVD)
	if !ofiStrong || !cvdStrong {
		return false
	}
	return ofiSign != cvdSign && math.Abs(zOFI) > ofiThreshold && math.Abs(zCVD) > cvdThreshold
}

func isReversal(openSide featuretypes.Side, candidateSide featuretypes.Side) bool {
	if openSide == "" {
		return false
	}
	return openSide != candidateSide
}

func entryThresholdFor(t config.ThresholdEntryConfig, regime featuretypes.Regime, reversing bool) float64 {
	if reversing {
		return t.Revert
	}
	if regime == featuretypes.RegimeActive {
		return t.Trend
	}
	return t.Quiet
}

func classify(side featuretypes.Side, magnitude, regimeThreshold float64) featuretypes.SignalType {
	strong := magnitude >= regimeThreshold*1.5
	switch {
	case side == featuretypes.SideBuy && strong:
		return featuretypes.SignalStrongBuy
	case side == featuretypes.SideBuy:
		return featuretypes.SignalBuy
	case side == featuretypes.SideSell && strong:
		return featuretypes.SignalStrongSell
	default:
		return featuretypes.SignalSell
	}
}

// computeSignalID is the stable hash of (symbol, ts_ms, quantised score,
// regime, div_type) spec.md §3 requires: equal inputs produce equal ids.
func computeSignalID(symbol string, tsMs int64, score float64, regime featuretypes.Regime, divType string) string {
	quantised := math.Round(score*100) / 100
	raw := fmt.Sprintf("%s|%d|%.2f|%s|%s", symbol, tsMs, quantised, regime, divType)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:32]
}
