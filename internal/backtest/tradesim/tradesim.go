// Package tradesim implements the entry/exit state machine that turns
// confirmed Signal Core decisions into simulated Trades with a
// configurable cost model, mirroring original_source/backtest/trade_sim.py
// (spec.md §4.8).
package tradesim

import (
	"math"
	"sort"
	"strings"
	"time"

	"alpha-core/internal/config"
	"alpha-core/internal/featuretypes"
	"alpha-core/libs/microstructure"
)

// Reason is the exit (or entry) tag stamped on a Trade.
type Reason string

const (
	ReasonEntry         Reason = "entry"
	ReasonReverse       Reason = "reverse"
	ReasonReverseSignal Reason = "reverse_signal"
	ReasonStopLoss      Reason = "stop_loss"
	ReasonTakeProfit    Reason = "take_profit"
	ReasonTimeout       Reason = "timeout"
	ReasonRolloverClose Reason = "rollover_close"
)

// exitReasons is the set of reasons that close a position, used to count
// total_trades without double-counting the paired entry row.
var exitReasons = map[Reason]bool{
	ReasonReverse: true, ReasonReverseSignal: true, ReasonStopLoss: true,
	ReasonTakeProfit: true, ReasonTimeout: true, ReasonRolloverClose: true,
}

// Trade is one entry or exit row (spec.md §3's Trade type).
type Trade struct {
	TSMs        int64
	Symbol      string
	Side        featuretypes.Side
	Price       float64
	Qty         float64
	Fee         float64
	SlippageBps float64
	Reason      Reason
	PosAfter    int
	GrossPnL    float64
	NetPnL      float64
	Scenario    featuretypes.Scenario2x2
	Session     string
	Ret1sBps    float64
}

// DailyPnL is one (business_date, symbol) PnL row (spec.md §3).
type DailyPnL struct {
	Date      string
	Symbol    string
	GrossPnL  float64
	Fee       float64
	Slippage  float64
	NetPnL    float64
	Turnover  float64
	Trades    int
	Wins      int
	Losses    int
	WinRate   float64
	RR        float64 // avg win / avg loss over this bucket's exit rows
}

type position struct {
	symbol           string
	side             featuretypes.Side
	entryTSMs        int64
	entryPx          float64
	qty              float64
	entryFee         float64
	entryNotional    float64
	makerProbability float64
	feeTier          string
}

// PositionNotifier is the one-direction callback into Signal Core
// (spec.md §9 "cyclic references" note): the simulator tells Core about
// position state, Core never reaches back into the simulator.
type PositionNotifier interface {
	SetOpenPosition(symbol string, side featuretypes.Side)
	RecordExit(symbol string, tsMs int64)
}

// Stats is the subset of simulator counters MetricsAggregator folds into
// its own output (trade_sim_stats in the Python original).
type Stats struct {
	TotalSignalCount     int
	InvalidScenarioCount int
	InvalidFeeTierCount  int
	TurnoverMaker        float64
	TurnoverTaker        float64
	FeeTierDistribution  map[string]float64
	NotionalPerTrade     float64
}

// Simulator is the per-run trade simulator. Not safe for concurrent use
// across symbols sharing one instance, matching Signal Core's single-writer
// discipline (spec.md §5).
type Simulator struct {
	cfg      config.BacktestConfig
	loc      *time.Location
	notifier PositionNotifier

	positions           map[string]*position
	lastSignalPerSymbol map[string]featuretypes.Signal
	trades              []Trade
	dailyPnL            map[string]*DailyPnL // "<date>_<symbol>" -> row
	slippageModel       *microstructure.SlippageModel

	invalidScenarioCount int
	invalidFeeTierCount  int
	totalSignalCount     int
	turnoverMaker        float64
	turnoverTaker        float64
	feeTierDistribution  map[string]float64
}

// New creates a Simulator. notifier may be nil (tests that don't exercise
// Signal Core's anti-flip/cooldown wiring).
func New(cfg config.BacktestConfig, loc *time.Location, notifier PositionNotifier) *Simulator {
	if loc == nil {
		loc = time.UTC
	}
	return &Simulator{
		cfg:                 cfg,
		loc:                 loc,
		notifier:            notifier,
		positions:           make(map[string]*position),
		lastSignalPerSymbol: make(map[string]featuretypes.Signal),
		dailyPnL:            make(map[string]*DailyPnL),
		feeTierDistribution: make(map[string]float64),
	}
}

// Trades returns every recorded row (entries and exits) in emission order.
func (s *Simulator) Trades() []Trade { return append([]Trade(nil), s.trades...) }

// SetSlippageModel attaches a rolling realized-slippage model: every entry
// and exit feeds it a FillObservation (bucketed by symbol and scenario, the
// closest this pipeline has to microstructure.FillObservation's EventPhase),
// so model.EstimateBps can be compared against the cost model's assumption
// at the end of a run. Nil (the default) disables the cross-check.
func (s *Simulator) SetSlippageModel(m *microstructure.SlippageModel) { s.slippageModel = m }

// SlippageModel returns the attached model, or nil if none was set.
func (s *Simulator) SlippageModel() *microstructure.SlippageModel { return s.slippageModel }

func (s *Simulator) recordSlippage(symbol string, scenario featuretypes.Scenario2x2, slipBps, qty float64, tsMs int64) {
	if s.slippageModel == nil {
		return
	}
	phase := string(scenario)
	if phase == "" {
		phase = string(featuretypes.ScenarioUnknown)
	}
	s.slippageModel.Record(microstructure.FillObservation{
		Symbol: symbol, SlippageBps: slipBps, Quantity: qty, EventPhase: phase,
		ObservedAt: time.UnixMilli(tsMs),
	})
}

// DailyPnLRows returns the accumulated daily PnL rows, sorted by
// (date, symbol), with win_rate and RR (risk/reward, from this bucket's
// exit rows) filled in.
func (s *Simulator) DailyPnLRows() []DailyPnL {
	exitsByKey := make(map[string][]Trade)
	for _, t := range s.trades {
		if !exitReasons[t.Reason] {
			continue
		}
		key := bizDate(t.TSMs, s.loc, s.cfg.RolloverHour) + "_" + t.Symbol
		exitsByKey[key] = append(exitsByKey[key], t)
	}

	rows := make([]DailyPnL, 0, len(s.dailyPnL))
	for key, row := range s.dailyPnL {
		out := *row
		if out.Trades > 0 {
			out.WinRate = float64(out.Wins) / float64(out.Trades)
		}
		out.RR = riskRewardRatio(exitsByKey[key])
		rows = append(rows, out)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Date != rows[j].Date {
			return rows[i].Date < rows[j].Date
		}
		return rows[i].Symbol < rows[j].Symbol
	})
	return rows
}

func riskRewardRatio(exits []Trade) float64 {
	var winSum, lossSum float64
	var winN, lossN int
	for _, t := range exits {
		switch {
		case t.NetPnL > 0:
			winSum += t.NetPnL
			winN++
		case t.NetPnL < 0:
			lossSum += t.NetPnL
			lossN++
		}
	}
	if lossN == 0 {
		if winN > 0 {
			return math.Inf(1)
		}
		return 0
	}
	avgWin := winSum / float64(winN)
	avgLoss := math.Abs(lossSum) / float64(lossN)
	if avgLoss == 0 {
		if avgWin > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return avgWin / avgLoss
}

// Stats returns the quality counters MetricsAggregator merges into its
// output.
func (s *Simulator) Stats() Stats {
	dist := make(map[string]float64, len(s.feeTierDistribution))
	for k, v := range s.feeTierDistribution {
		dist[k] = v
	}
	return Stats{
		TotalSignalCount:     s.totalSignalCount,
		InvalidScenarioCount: s.invalidScenarioCount,
		InvalidFeeTierCount:  s.invalidFeeTierCount,
		TurnoverMaker:        s.turnoverMaker,
		TurnoverTaker:        s.turnoverTaker,
		FeeTierDistribution:  dist,
		NotionalPerTrade:     s.cfg.NotionalPerTrade,
	}
}

// bizDate computes the business date in loc with an optional rollover_hour
// shift (spec.md §4.8 Rollover): shift left by rollover_hour, take the
// date, shift back.
func bizDate(tsMs int64, loc *time.Location, rolloverHour int) string {
	t := time.UnixMilli(tsMs).In(loc)
	if rolloverHour == 0 {
		return t.Format("2006-01-02")
	}
	shift := time.Duration(rolloverHour) * time.Hour
	shifted := t.Add(-shift)
	y, m, d := shifted.Date()
	combined := time.Date(y, m, d, 0, 0, 0, 0, loc).Add(shift)
	return combined.Format("2006-01-02")
}

func sideFromSignalType(st featuretypes.SignalType) (featuretypes.Side, bool) {
	switch st {
	case featuretypes.SignalBuy, featuretypes.SignalStrongBuy:
		return featuretypes.SideBuy, true
	case featuretypes.SignalSell, featuretypes.SignalStrongSell:
		return featuretypes.SideSell, true
	default:
		return "", false
	}
}

func opposite(side featuretypes.Side) featuretypes.Side {
	if side == featuretypes.SideBuy {
		return featuretypes.SideSell
	}
	return featuretypes.SideBuy
}

func posAfter(side featuretypes.Side) int {
	if side == featuretypes.SideBuy {
		return 1
	}
	return -1
}

func signedSlippage(bps float64, side featuretypes.Side) float64 {
	if side == featuretypes.SideBuy {
		return bps
	}
	return -bps
}

// ProcessSignal evaluates one confirmed (or gated) Signal against midPrice
// and returns the Trade it produced, or nil. Unconfirmed signals (any
// gate/threshold/regime/antiflip/cooldown/dedup failure) never trade,
// matching spec.md §7's "TradeSimulator never raises on a bad signal"
// propagation policy.
func (s *Simulator) ProcessSignal(sig featuretypes.Signal, midPrice float64) *Trade {
	if !sig.Confirm {
		return nil
	}
	s.totalSignalCount++
	s.lastSignalPerSymbol[sig.Symbol] = sig

	side, ok := sideFromSignalType(sig.SignalType)
	if !ok {
		return nil
	}

	pos, open := s.positions[sig.Symbol]
	if !open {
		return s.enterPosition(sig.Symbol, side, sig.TSMs, midPrice, sig)
	}

	if exit := s.checkExit(pos, sig, sig.TSMs, midPrice); exit != nil {
		return exit
	}

	if s.cfg.ReverseOnSignal && side != pos.side {
		if exit := s.exitPosition(pos, sig.TSMs, midPrice, ReasonReverse, sig); exit != nil {
			entry := s.enterPosition(sig.Symbol, side, sig.TSMs, midPrice, sig)
			return entry
		}
	}
	return nil
}

// checkExit implements spec.md §4.8's ordered exit evaluation: max-hold
// timeout, then stop-loss (regardless of min-hold), then the min-hold
// guard, then deadband, then take-profit, then reverse-signal, then an
// optional force-timeout.
func (s *Simulator) checkExit(pos *position, sig featuretypes.Signal, tsMs int64, midPrice float64) *Trade {
	holdSec := float64(tsMs-pos.entryTSMs) / 1000.0

	if s.cfg.MaxHoldTimeSec > 0 && holdSec >= float64(s.cfg.MaxHoldTimeSec) {
		return s.exitPosition(pos, tsMs, midPrice, ReasonTimeout, sig)
	}

	var pnlBps float64
	if pos.side == featuretypes.SideBuy {
		pnlBps = (midPrice - pos.entryPx) / pos.entryPx * 10000
	} else {
		pnlBps = (pos.entryPx - midPrice) / pos.entryPx * 10000
	}

	if s.cfg.StopLossBps > 0 && pnlBps <= -s.cfg.StopLossBps {
		return s.exitPosition(pos, tsMs, midPrice, ReasonStopLoss, sig)
	}

	if s.cfg.MinHoldTimeSec > 0 && holdSec < float64(s.cfg.MinHoldTimeSec) {
		return nil
	}

	if s.cfg.DeadbandBps > 0 && math.Abs(pnlBps) < s.cfg.DeadbandBps {
		return nil
	}

	if s.cfg.TakeProfitBps > 0 && pnlBps >= s.cfg.TakeProfitBps {
		return s.exitPosition(pos, tsMs, midPrice, ReasonTakeProfit, sig)
	}

	if pos.side == featuretypes.SideBuy && (sig.SignalType == featuretypes.SignalSell || sig.SignalType == featuretypes.SignalStrongSell) {
		return s.exitPosition(pos, tsMs, midPrice, ReasonReverseSignal, sig)
	}
	if pos.side == featuretypes.SideSell && (sig.SignalType == featuretypes.SignalBuy || sig.SignalType == featuretypes.SignalStrongBuy) {
		return s.exitPosition(pos, tsMs, midPrice, ReasonReverseSignal, sig)
	}

	if s.cfg.ForceTimeoutExit && s.cfg.MinHoldTimeSec > 0 && holdSec >= float64(s.cfg.MinHoldTimeSec) {
		return s.exitPosition(pos, tsMs, midPrice, ReasonTimeout, sig)
	}

	return nil
}

func (s *Simulator) enterPosition(symbol string, side featuretypes.Side, tsMs int64, midPrice float64, sig featuretypes.Signal) *Trade {
	slipBps := s.slippageBps(sig.FeatureData)
	execPx := midPrice * (1 + float64(signSign(side))*slipBps/10000)

	qty := s.cfg.NotionalPerTrade / execPx
	notional := execPx * qty

	feeBps, makerProb := s.feeBps(sig.FeatureData, side)
	fee := notional * feeBps / 10000

	feeTier := "TM"
	var scenario featuretypes.Scenario2x2
	var session string
	if sig.FeatureData != nil {
		if sig.FeatureData.FeeTier != "" {
			feeTier = sig.FeatureData.FeeTier
		}
		scenario = sig.FeatureData.Scenario2x2
		session = sig.FeatureData.Session
	}

	s.positions[symbol] = &position{
		symbol: symbol, side: side, entryTSMs: tsMs, entryPx: execPx, qty: qty,
		entryFee: fee, entryNotional: notional, makerProbability: makerProb, feeTier: feeTier,
	}
	if s.notifier != nil {
		s.notifier.SetOpenPosition(symbol, side)
	}

	trade := Trade{
		TSMs: tsMs, Symbol: symbol, Side: side, Price: execPx, Qty: qty, Fee: fee,
		SlippageBps: signedSlippage(slipBps, side), Reason: ReasonEntry, PosAfter: posAfter(side),
		Scenario: scenario, Session: session,
	}
	s.recordSlippage(symbol, scenario, slipBps, qty, tsMs)
	s.trades = append(s.trades, trade)
	return &trade
}

func signSign(side featuretypes.Side) int {
	if side == featuretypes.SideBuy {
		return 1
	}
	return -1
}

func (s *Simulator) exitPosition(pos *position, tsMs int64, midPrice float64, reason Reason, sig featuretypes.Signal) *Trade {
	exitSide := opposite(pos.side)
	slipBps := s.slippageBps(sig.FeatureData)
	execPx := midPrice * (1 + float64(signSign(exitSide))*slipBps/10000)

	var grossPnL float64
	if pos.side == featuretypes.SideBuy {
		grossPnL = (execPx - pos.entryPx) * pos.qty
	} else {
		grossPnL = (pos.entryPx - execPx) * pos.qty
	}

	notional := execPx * pos.qty
	feeBps, exitMakerProb := s.feeBps(sig.FeatureData, exitSide)
	exitFee := notional * feeBps / 10000
	slippageCost := math.Abs(midPrice-execPx) * pos.qty
	netPnL := grossPnL - pos.entryFee - exitFee

	var scenario featuretypes.Scenario2x2
	var session, exitFeeTier string
	if sig.FeatureData != nil {
		scenario = sig.FeatureData.Scenario2x2
		session = sig.FeatureData.Session
		exitFeeTier = sig.FeatureData.FeeTier
	}
	if exitFeeTier == "" {
		exitFeeTier = "TM"
	}

	trade := Trade{
		TSMs: tsMs, Symbol: pos.symbol, Side: exitSide, Price: execPx, Qty: pos.qty, Fee: exitFee,
		SlippageBps: signedSlippage(slipBps, exitSide), Reason: reason, PosAfter: 0,
		GrossPnL: grossPnL, NetPnL: netPnL, Scenario: scenario, Session: session,
	}
	s.recordSlippage(pos.symbol, scenario, slipBps, pos.qty, tsMs)

	date := bizDate(tsMs, s.loc, s.cfg.RolloverHour)
	key := date + "_" + pos.symbol
	daily, ok := s.dailyPnL[key]
	if !ok {
		daily = &DailyPnL{Date: date, Symbol: pos.symbol}
		s.dailyPnL[key] = daily
	}
	daily.GrossPnL += grossPnL
	daily.Fee += pos.entryFee + exitFee
	daily.Slippage += slippageCost
	daily.NetPnL += netPnL
	daily.Turnover += pos.entryNotional + notional
	daily.Trades++
	switch {
	case netPnL > 0:
		daily.Wins++
	case netPnL < 0:
		daily.Losses++
	}

	s.turnoverMaker += pos.entryNotional*pos.makerProbability + notional*exitMakerProb
	s.turnoverTaker += pos.entryNotional*(1-pos.makerProbability) + notional*(1-exitMakerProb)
	s.feeTierDistribution[pos.feeTier] += pos.entryNotional
	s.feeTierDistribution[exitFeeTier] += notional

	delete(s.positions, pos.symbol)
	if s.notifier != nil {
		s.notifier.RecordExit(pos.symbol, tsMs)
	}
	s.trades = append(s.trades, trade)
	return &trade
}

// CloseAllPositions technically closes every still-open position at the
// given mark prices, stamped at lastDataTSMs (never time.Now — spec.md
// §4.8's Rollover note: "technical close at the last observed market
// timestamp"). If force_timeout_exit is set and a position has already
// cleared min_hold_time_sec, it exits with reason timeout instead of
// rollover_close.
func (s *Simulator) CloseAllPositions(currentPrices map[string]float64, lastDataTSMs int64) {
	symbols := make([]string, 0, len(s.positions))
	for symbol := range s.positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		pos := s.positions[symbol]
		midPrice, ok := currentPrices[symbol]
		if !ok {
			midPrice = pos.entryPx
		}

		lastSig, ok := s.lastSignalPerSymbol[symbol]
		if !ok {
			lastSig = featuretypes.Signal{Symbol: symbol, TSMs: lastDataTSMs, Confirm: true}
		}

		reason := ReasonRolloverClose
		if s.cfg.ForceTimeoutExit && s.cfg.MinHoldTimeSec > 0 {
			holdSec := float64(lastDataTSMs-pos.entryTSMs) / 1000.0
			if holdSec >= float64(s.cfg.MinHoldTimeSec) {
				reason = ReasonTimeout
			}
		}
		s.exitPosition(pos, lastDataTSMs, midPrice, reason, lastSig)
	}
}

var validScenarios = map[featuretypes.Scenario2x2]bool{
	featuretypes.ScenarioActiveHighVol: true, featuretypes.ScenarioActiveLowVol: true,
	featuretypes.ScenarioQuietHighVol: true, featuretypes.ScenarioQuietLowVol: true,
}

func (s *Simulator) slippageBps(fd *featuretypes.FeatureData) float64 {
	switch s.cfg.SlippageModel {
	case "linear":
		var spread, vol float64
		if fd != nil {
			spread = fd.SpreadBps
			vol = fd.VolBps
			if vol == 0 {
				vol = math.Abs(fd.Return1s)
			}
		}
		return math.Max(s.cfg.SlippageBps, 0.5*spread+0.3*vol)
	case "piecewise":
		var spread float64
		scenario := featuretypes.ScenarioUnknown
		if fd != nil {
			spread = fd.SpreadBps
			scenario = fd.Scenario2x2
		}
		if !validScenarios[scenario] {
			s.invalidScenarioCount++
			return s.cfg.SlippageBps
		}
		baseMultiplier := s.cfg.SlippagePiecewise.SpreadBaseMultiplier
		if baseMultiplier == 0 {
			baseMultiplier = 1.0
		}
		base := spread * baseMultiplier
		if mult, ok := s.cfg.SlippagePiecewise.ScenarioMultiplier[string(scenario)]; ok {
			base *= mult
		}
		return math.Max(base, s.cfg.SlippageBps)
	default: // static
		return s.cfg.SlippageBps
	}
}

var defaultScenarioProbs = map[string]float64{
	"Q_H": 0.2, "A_L": 0.8, "A_H": 0.4, "Q_L": 0.6,
}

var tierFeeDefault = map[string]float64{
	"TM": 1.0, "MM": 0.5, "TT": 1.0, "MT": 0.5, "TK": 1.0, "MK": 0.5,
}

var tierMakerProb = map[string]float64{
	"MM": 1.0, "MK": 1.0, "MT": 0.5, "TK": 0.5,
}

var validFeeTiers = map[string]bool{
	"TM": true, "MM": true, "TT": true, "MT": true, "TK": true, "MK": true,
}

// feeBps computes the fee (bps) and the maker-fill probability used for
// turnover attribution (spec.md §4.8's fee_model: taker_static|tiered|
// maker_taker).
func (s *Simulator) feeBps(fd *featuretypes.FeatureData, side featuretypes.Side) (feeBps, makerProb float64) {
	switch s.cfg.FeeModel {
	case "tiered":
		tier := "TM"
		if fd != nil && fd.FeeTier != "" {
			tier = strings.ToUpper(fd.FeeTier)
		}
		if !validFeeTiers[tier] {
			s.invalidFeeTierCount++
			return s.cfg.TakerFeeBps, 0
		}
		if v, ok := s.cfg.FeeTiered.TierMapping[tier]; ok {
			feeBps = v
		} else {
			feeBps = s.cfg.TakerFeeBps * tierFeeDefault[tier]
		}
		return feeBps, tierMakerProb[tier]

	case "maker_taker":
		var spread float64
		scenario := featuretypes.ScenarioUnknown
		if fd != nil {
			spread = fd.SpreadBps
			scenario = fd.Scenario2x2
		}
		probs := s.cfg.FeeMakerTaker.ScenarioProbs
		if probs == nil {
			probs = defaultScenarioProbs
		}
		prob, ok := probs[string(scenario)]
		if !ok {
			prob = probs["default"]
			if prob == 0 {
				prob = 0.5
			}
		}

		spreadSlope := orDefault(s.cfg.FeeMakerTaker.SpreadSlope, 0.7)
		wide := orDefault(s.cfg.FeeMakerTaker.SpreadThresholdWide, 5.0)
		narrow := orDefault(s.cfg.FeeMakerTaker.SpreadThresholdNarrow, 1.0)
		switch {
		case spread > wide:
			prob *= spreadSlope
		case spread < narrow:
			prob *= 1.0 / spreadSlope
			prob = math.Min(prob, 1.0)
		}

		bias := 1.0
		if s.cfg.FeeMakerTaker.SideBias != nil {
			if v, ok := s.cfg.FeeMakerTaker.SideBias[string(side)]; ok {
				bias = v
			}
		}
		prob = clamp01(prob * bias)

		makerRatio := orDefault(s.cfg.FeeMakerTaker.MakerFeeRatio, 0.5)
		makerFee := s.cfg.TakerFeeBps * makerRatio
		return prob*makerFee + (1-prob)*s.cfg.TakerFeeBps, prob

	default: // taker_static
		return s.cfg.TakerFeeBps, 0
	}
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
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
