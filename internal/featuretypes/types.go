// Package featuretypes holds the vocabulary shared by Reader, Aligner,
// Feeder and Signal Core: the FeatureRow each second produces and the
// Signal each confirmed (or gated) decision emits.
package featuretypes

// Scenario2x2 crosses activity (spread) against volatility (|return_1s|).
type Scenario2x2 string

const (
	ScenarioActiveHighVol Scenario2x2 = "A_H"
	ScenarioActiveLowVol  Scenario2x2 = "A_L"
	ScenarioQuietHighVol  Scenario2x2 = "Q_H"
	ScenarioQuietLowVol   Scenario2x2 = "Q_L"
	ScenarioUnknown       Scenario2x2 = "unknown"
)

// Regime is the market-mode label used to pick an entry threshold set.
type Regime string

const (
	RegimeActive Regime = "active"
	RegimeQuiet  Regime = "quiet"
)

// DecisionCode is the Signal Core's evaluation outcome for one row.
type DecisionCode string

const (
	DecisionOK             DecisionCode = "OK"
	DecisionFailGating     DecisionCode = "FAIL_GATING"
	DecisionFailThreshold  DecisionCode = "FAIL_THRESHOLD"
	DecisionFailRegime     DecisionCode = "FAIL_REGIME"
	DecisionFailCooldown   DecisionCode = "FAIL_COOLDOWN"
	DecisionFailDedup      DecisionCode = "FAIL_DEDUP"
	DecisionFailWarmup     DecisionCode = "FAIL_WARMUP"
	DecisionFailAntiFlip   DecisionCode = "FAIL_ANTIFLIP"
)

// SignalType is the directional classification of an emitted signal.
type SignalType string

const (
	SignalBuy        SignalType = "buy"
	SignalSell       SignalType = "sell"
	SignalStrongBuy  SignalType = "strong_buy"
	SignalStrongSell SignalType = "strong_sell"
	SignalQuiet      SignalType = "quiet"
	SignalNeutral    SignalType = "neutral"
)

// Canonical gate-reason vocabulary (spec.md §7).
const (
	GateWeakSignal        = "weak_signal"
	GateLowConsistency    = "low_consistency"
	GateLagSecExceeded    = "lag_sec_exceeded"
	GateSpreadBpsExceeded = "spread_bps_exceeded"
	GateComponentWarmup   = "component_warmup"
	GateDegradedOFIOnly   = "degraded_ofi_only"
	GateDegradedCVDOnly   = "degraded_cvd_only"
	GateReverseCooldown   = "reverse_cooldown"
	GateCooldownAfterExit = "cooldown_after_exit"
	GateLagBadPrice       = "lag_bad_price"
	GateLagBadOrderbook   = "lag_bad_orderbook"
	GateIsGapSecond       = "is_gap_second"
	GateUnknown           = "unknown"
)

// FeatureRow is a single second of market state for one symbol, the unit
// the Aligner produces and the Feeder/Signal Core consume.
type FeatureRow struct {
	SecondTS int64 // epoch seconds
	TSMs     int64 // SecondTS * 1000
	Symbol   string

	Mid       float64
	BestBid   float64
	BestAsk   float64
	SpreadBps float64

	Return1s float64 // bps vs prior second's mid
	VolBps   float64 // |Return1s|

	ZOFI        float64
	ZCVD        float64
	FusionScore float64
	Consistency float64

	Warmup bool

	LagMsPrice      int64
	LagMsOrderbook  int64
	LagBadPrice     bool
	LagBadOrderbook bool
	IsGapSecond     bool

	Scenario2x2 Scenario2x2

	// Optional passthrough fields not required for alignment but used by
	// downstream cost/attribution logic.
	FeeTier string
	Session string
}

// FeatureData is the opaque attribution payload attached to every emitted
// Signal so TradeSimulator/MetricsAggregator need not re-read FeatureRows.
type FeatureData struct {
	LagBadPrice     bool        `json:"lag_bad_price"`
	LagBadOrderbook bool        `json:"lag_bad_orderbook"`
	IsGapSecond     bool        `json:"is_gap_second"`
	SpreadBps       float64     `json:"spread_bps"`
	VolBps          float64     `json:"vol_bps"`
	Scenario2x2     Scenario2x2 `json:"scenario_2x2"`
	FeeTier         string      `json:"fee_tier"`
	Session         string      `json:"session"`
	Return1s        float64     `json:"return_1s"`
}

// Signal is the decision the Signal Core emits for at most one
// (Symbol, TSMs) pair.
type Signal struct {
	SignalID     string       `json:"signal_id"`
	Symbol       string       `json:"symbol"`
	TSMs         int64        `json:"ts_ms"`
	Score        float64      `json:"score"`
	SignalType   SignalType   `json:"signal_type"`
	Confirm      bool         `json:"confirm"`
	Gating       int          `json:"gating"` // 1 = passed, 0 = blocked
	DecisionCode DecisionCode `json:"decision_code"`
	GateReason   string       `json:"gate_reason"` // comma-separated tags
	Regime       Regime       `json:"regime"`
	Scenario2x2  Scenario2x2  `json:"scenario_2x2"`
	ConfigHash   string       `json:"config_hash"`
	RunID        string       `json:"run_id"`
	FeatureData  *FeatureData `json:"_feature_data,omitempty"`
}

// Side is a trade direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// DirectionOf maps a non-zero score to a Side via its sign. ok is false for
// a zero score (no direction).
func DirectionOf(score float64) (side Side, ok bool) {
	switch {
	case score > 0:
		return SideBuy, true
	case score < 0:
		return SideSell, true
	default:
		return "", false
	}
}
