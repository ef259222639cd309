// Package metrics implements MetricsAggregator (spec.md §4.9): it folds a
// backtest run's trades and daily PnL rows into totals, win-rate/cost/risk
// ratios, a scenario breakdown, and a per-symbol rollup, then optionally
// pushes a subset to a Pushgateway over plain net/http.
package metrics

import (
	"math"
	"sort"

	"alpha-core/internal/backtest/tradesim"
	"alpha-core/internal/featuretypes"
)

const tradingDaysPerYear = 252

// Totals is the run-wide sum across every completed (exit) trade.
type Totals struct {
	GrossPnL float64 `json:"gross_pnl"`
	NetPnL   float64 `json:"net_pnl"`
	Fees     float64 `json:"fees"`
	Slippage float64 `json:"slippage"`
	Turnover float64 `json:"turnover"`
	Trades   int     `json:"trades"`
}

// WinRates holds the two flavours spec.md §4.9 names: a winning day is one
// whose daily net PnL is positive; a winning trade is one exit record whose
// net PnL is positive.
type WinRates struct {
	Daily    float64 `json:"daily"`
	PerTrade float64 `json:"per_trade"`
}

// HoldTimeStats is the avg/count hold-time summary for one side (long or
// short), in seconds.
type HoldTimeStats struct {
	AvgSec float64 `json:"avg_sec"`
	Count  int     `json:"count"`
}

// ScenarioBucket is one (scenario_2x2, session) breakdown row, keyed by the
// scenario/session captured at entry (spec.md §4.9: "entry/exit are paired
// inside the scenario bucket").
type ScenarioBucket struct {
	Scenario   featuretypes.Scenario2x2 `json:"scenario_2x2"`
	Session    string                   `json:"session"`
	Trades     int                      `json:"trades"`
	PnL        float64                  `json:"pnl"`
	Wins       int                      `json:"wins"`
	Losses     int                      `json:"losses"`
	WinRate    float64                  `json:"win_rate"`
	AvgPnL     float64                  `json:"avg_pnl"`
	AvgHoldSec float64                  `json:"avg_hold_sec"`
}

// SymbolBucket is the equal-weight-friendly per-symbol subtotal.
type SymbolBucket struct {
	Trades   int     `json:"trades"`
	GrossPnL float64 `json:"gross_pnl"`
	NetPnL   float64 `json:"net_pnl"`
	Fees     float64 `json:"fees"`
	Slippage float64 `json:"slippage"`
	Turnover float64 `json:"turnover"`
	WinRate  float64 `json:"win_rate"`
}

// Metrics is MetricsAggregator's output object (spec.md §4.9). An empty
// backtest run still produces one of these with every numeric field at its
// zero value and BySymbol as an empty (non-nil) map, so a downstream reader
// can tell "no data" apart from "missing run".
type Metrics struct {
	RunID                string                   `json:"run_id"`
	Totals               Totals                   `json:"totals"`
	WinRates             WinRates                 `json:"win_rates"`
	CostBpsOnTurnover    float64                  `json:"cost_bps_on_turnover"`
	Sharpe               float64                  `json:"sharpe"`
	Sortino              float64                  `json:"sortino"`
	MaxDrawdown          float64                  `json:"max_drawdown"`
	MAR                  float64                  `json:"mar"`
	HoldTimeLong         HoldTimeStats            `json:"hold_time_long"`
	HoldTimeShort        HoldTimeStats            `json:"hold_time_short"`
	ScenarioBreakdown    []ScenarioBucket         `json:"scenario_breakdown"`
	BySymbol             map[string]SymbolBucket  `json:"by_symbol"`
	InvalidScenarioCount int                      `json:"invalid_scenario_count"`
	InvalidFeeTierCount  int                      `json:"invalid_fee_tier_count"`
	GateReasons          map[string]int64         `json:"gate_reasons,omitempty"`
	DecisionCodes        map[featuretypes.DecisionCode]int64 `json:"decision_codes,omitempty"`
}

// pairedTrade is one entry matched to its closing exit, the unit every
// breakdown below is computed from.
type pairedTrade struct {
	symbol     string
	entry      tradesim.Trade
	exit       tradesim.Trade
	holdSec    float64
	isLong     bool
	entryNotl  float64
	exitNotl   float64
}

func pairTrades(trades []tradesim.Trade) []pairedTrade {
	open := make(map[string]tradesim.Trade)
	var out []pairedTrade
	for _, t := range trades {
		if t.Reason == tradesim.ReasonEntry {
			open[t.Symbol] = t
			continue
		}
		entry, ok := open[t.Symbol]
		if !ok {
			continue
		}
		delete(open, t.Symbol)
		out = append(out, pairedTrade{
			symbol:    t.Symbol,
			entry:     entry,
			exit:      t,
			holdSec:   float64(t.TSMs-entry.TSMs) / 1000.0,
			isLong:    entry.Side == featuretypes.SideBuy,
			entryNotl: entry.Price * entry.Qty,
			exitNotl:  t.Price * t.Qty,
		})
	}
	return out
}

// Compute aggregates one run's trades and daily PnL rows into Metrics.
// basis is the denominator used to turn a day's dollar NetPnL into a return
// for Sharpe/Sortino (spec.md §4.9: "normalised by initial_equity or
// notional_per_trade"); pass stats.NotionalPerTrade when no explicit equity
// base is tracked. gateReasons/decisionCodes may be nil.
func Compute(
	runID string,
	trades []tradesim.Trade,
	daily []tradesim.DailyPnL,
	stats tradesim.Stats,
	basis float64,
	gateReasons map[string]int64,
	decisionCodes map[featuretypes.DecisionCode]int64,
) Metrics {
	m := Metrics{
		RunID:                runID,
		BySymbol:             map[string]SymbolBucket{},
		InvalidScenarioCount: stats.InvalidScenarioCount,
		InvalidFeeTierCount:  stats.InvalidFeeTierCount,
		GateReasons:          gateReasons,
		DecisionCodes:        decisionCodes,
	}

	pairs := pairTrades(trades)
	if len(pairs) == 0 {
		m.Sharpe, m.Sortino, m.MaxDrawdown, m.MAR = computeRiskRatios(daily, basis)
		m.WinRates.Daily = dailyWinRate(daily)
		return m
	}

	symbolOrder := make([]string, 0)
	scenarioOrder := make([]string, 0)
	scenarioBuckets := map[string]*ScenarioBucket{}
	symbolBuckets := map[string]*SymbolBucket{}
	symbolWins := map[string]int{}

	var tradeWins int
	var longHoldSum, shortHoldSum float64
	var longHoldN, shortHoldN int

	for _, p := range pairs {
		m.Totals.GrossPnL += p.exit.GrossPnL
		m.Totals.NetPnL += p.exit.NetPnL
		m.Totals.Fees += p.entry.Fee + p.exit.Fee
		m.Totals.Slippage += math.Abs(p.entry.SlippageBps)/10000*p.entryNotl + math.Abs(p.exit.SlippageBps)/10000*p.exitNotl
		m.Totals.Turnover += p.entryNotl + p.exitNotl
		m.Totals.Trades++

		if p.exit.NetPnL > 0 {
			tradeWins++
		}

		if p.isLong {
			longHoldSum += p.holdSec
			longHoldN++
		} else {
			shortHoldSum += p.holdSec
			shortHoldN++
		}

		sb, ok := symbolBuckets[p.symbol]
		if !ok {
			sb = &SymbolBucket{}
			symbolBuckets[p.symbol] = sb
			symbolOrder = append(symbolOrder, p.symbol)
		}
		sb.Trades++
		sb.GrossPnL += p.exit.GrossPnL
		sb.NetPnL += p.exit.NetPnL
		sb.Fees += p.entry.Fee + p.exit.Fee
		sb.Slippage += math.Abs(p.entry.SlippageBps)/10000*p.entryNotl + math.Abs(p.exit.SlippageBps)/10000*p.exitNotl
		sb.Turnover += p.entryNotl + p.exitNotl
		if p.exit.NetPnL > 0 {
			symbolWins[p.symbol]++
		}

		scenario := p.entry.Scenario
		session := p.entry.Session
		key := string(scenario) + "|" + session
		bucket, ok := scenarioBuckets[key]
		if !ok {
			bucket = &ScenarioBucket{Scenario: scenario, Session: session}
			scenarioBuckets[key] = bucket
			scenarioOrder = append(scenarioOrder, key)
		}
		bucket.Trades++
		bucket.PnL += p.exit.NetPnL
		bucket.AvgHoldSec += p.holdSec
		switch {
		case p.exit.NetPnL > 0:
			bucket.Wins++
		case p.exit.NetPnL < 0:
			bucket.Losses++
		}
	}

	if m.Totals.Turnover > 0 {
		m.CostBpsOnTurnover = (m.Totals.Fees + m.Totals.Slippage) / m.Totals.Turnover * 10000
	}
	if m.Totals.Trades > 0 {
		m.WinRates.PerTrade = float64(tradeWins) / float64(m.Totals.Trades)
	}
	m.WinRates.Daily = dailyWinRate(daily)

	if longHoldN > 0 {
		m.HoldTimeLong = HoldTimeStats{AvgSec: longHoldSum / float64(longHoldN), Count: longHoldN}
	}
	if shortHoldN > 0 {
		m.HoldTimeShort = HoldTimeStats{AvgSec: shortHoldSum / float64(shortHoldN), Count: shortHoldN}
	}

	sort.Strings(scenarioOrder)
	for _, key := range scenarioOrder {
		b := scenarioBuckets[key]
		if b.Trades > 0 {
			b.WinRate = float64(b.Wins) / float64(b.Trades)
			b.AvgPnL = b.PnL / float64(b.Trades)
			b.AvgHoldSec /= float64(b.Trades)
		}
		m.ScenarioBreakdown = append(m.ScenarioBreakdown, *b)
	}

	sort.Strings(symbolOrder)
	for _, symbol := range symbolOrder {
		b := symbolBuckets[symbol]
		if b.Trades > 0 {
			b.WinRate = float64(symbolWins[symbol]) / float64(b.Trades)
		}
		m.BySymbol[symbol] = *b
	}

	m.Sharpe, m.Sortino, m.MaxDrawdown, m.MAR = computeRiskRatios(daily, basis)
	return m
}

func dailyWinRate(daily []tradesim.DailyPnL) float64 {
	var activeDays, winningDays int
	for _, d := range daily {
		if d.Trades == 0 {
			continue
		}
		activeDays++
		if d.NetPnL > 0 {
			winningDays++
		}
	}
	if activeDays == 0 {
		return 0
	}
	return float64(winningDays) / float64(activeDays)
}

// computeRiskRatios derives Sharpe/Sortino (annualised by sqrt(252)),
// max_drawdown (dollar terms, from cumulative daily NetPnL), and MAR
// (annualised return / max_drawdown) from the daily PnL series. daily need
// not be pre-sorted; it is sorted by date here.
func computeRiskRatios(daily []tradesim.DailyPnL, basis float64) (sharpe, sortino, maxDrawdown, mar float64) {
	if len(daily) == 0 || basis <= 0 {
		return 0, 0, 0, 0
	}
	rows := append([]tradesim.DailyPnL(nil), daily...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })

	returns := make([]float64, len(rows))
	for i, d := range rows {
		returns[i] = d.NetPnL / basis
	}

	meanRet := mean(returns)
	sd := stddev(returns, meanRet)
	if sd > 0 {
		sharpe = meanRet / sd * math.Sqrt(tradingDaysPerYear)
	}

	downside := downsideStddev(returns)
	if downside > 0 {
		sortino = meanRet / downside * math.Sqrt(tradingDaysPerYear)
	}

	var cumulative, peak, maxDD float64
	for _, d := range rows {
		cumulative += d.NetPnL
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > maxDD {
			maxDD = dd
		}
	}
	maxDrawdown = maxDD

	annualizedReturn := meanRet * basis * tradingDaysPerYear
	if maxDrawdown > 0 {
		mar = annualizedReturn / maxDrawdown
	}
	return sharpe, sortino, maxDrawdown, mar
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sq float64
	for _, x := range xs {
		d := x - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)-1))
}

// downsideStddev is the standard deviation of only the negative returns,
// the denominator Sortino uses in place of total volatility.
func downsideStddev(returns []float64) float64 {
	var sq float64
	var n int
	for _, r := range returns {
		if r < 0 {
			sq += r * r
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sq / float64(n))
}
