// Package feeder drives the Signal Core from an aligned feature stream and
// attaches _feature_data to every emitted signal (spec.md §4.3). It also
// provides NormalizeAliases for z_ofi/z_cvd aliases and an ActivityTracker
// that derives trade/quote rates; Feed records each row as a quote event
// but writes no activity rate onto the row or the signal.
package feeder

import (
	"alpha-core/internal/featuretypes"
)

// Evaluator is satisfied by the Signal Core: one feature row in, at most
// one signal decision out.
type Evaluator interface {
	Evaluate(row featuretypes.FeatureRow) featuretypes.Signal
}

// ActivityTracker maintains per-symbol sliding windows of recent trade and
// quote timestamps (<= 60s) to derive trade_rate (per minute) and
// quote_rate (per second).
type ActivityTracker struct {
	trades map[string][]int64
	quotes map[string][]int64
}

// NewActivityTracker creates an empty tracker.
func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{trades: make(map[string][]int64), quotes: make(map[string][]int64)}
}

const activityWindowMs = 60_000

// RecordTrade records a trade event timestamp for symbol.
func (a *ActivityTracker) RecordTrade(symbol string, tsMs int64) {
	a.trades[symbol] = trimWindow(append(a.trades[symbol], tsMs), tsMs)
}

// RecordQuote records a quote/book-update event timestamp for symbol.
func (a *ActivityTracker) RecordQuote(symbol string, tsMs int64) {
	a.quotes[symbol] = trimWindow(append(a.quotes[symbol], tsMs), tsMs)
}

func trimWindow(ts []int64, now int64) []int64 {
	cutoff := now - activityWindowMs
	i := 0
	for ; i < len(ts); i++ {
		if ts[i] >= cutoff {
			break
		}
	}
	return ts[i:]
}

// TradeRate returns trades per minute observed for symbol in the trailing
// 60s window as of tsMs.
func (a *ActivityTracker) TradeRate(symbol string, tsMs int64) float64 {
	events := trimWindow(a.trades[symbol], tsMs)
	a.trades[symbol] = events
	return float64(len(events))
}

// QuoteRate returns quote updates per second observed for symbol in the
// trailing 60s window as of tsMs.
func (a *ActivityTracker) QuoteRate(symbol string, tsMs int64) float64 {
	events := trimWindow(a.quotes[symbol], tsMs)
	a.quotes[symbol] = events
	return float64(len(events)) / 60.0
}

// Feeder drives feature rows through an Evaluator.
type Feeder struct {
	eval     Evaluator
	activity *ActivityTracker
}

// New creates a Feeder driving eval. When activity is non-nil, Feed records
// every row in it as a quote event (pass nil to disable recording).
func New(eval Evaluator, activity *ActivityTracker) *Feeder {
	return &Feeder{eval: eval, activity: activity}
}

// NormalizeAliases fills canonical field values from their documented
// aliases (ofi_z<->z_ofi, cvd_z<->z_cvd) when the canonical field is zero
// and an alias value was supplied out-of-band by the raw source.
func NormalizeAliases(row featuretypes.FeatureRow, ofiAlias, cvdAlias *float64) featuretypes.FeatureRow {
	if row.ZOFI == 0 && ofiAlias != nil {
		row.ZOFI = *ofiAlias
	}
	if row.ZCVD == 0 && cvdAlias != nil {
		row.ZCVD = *cvdAlias
	}
	return row
}

// Feed drives one FeatureRow through the Signal Core, recording it as a
// quote event when an ActivityTracker is set, and attaches _feature_data to
// the resulting Signal. No activity rate is added to the row or the Signal.
func (f *Feeder) Feed(row featuretypes.FeatureRow) featuretypes.Signal {
	if f.activity != nil {
		f.activity.RecordQuote(row.Symbol, row.TSMs)
	}

	signal := f.eval.Evaluate(row)

	signal.FeatureData = &featuretypes.FeatureData{
		LagBadPrice:     row.LagBadPrice,
		LagBadOrderbook: row.LagBadOrderbook,
		IsGapSecond:     row.IsGapSecond,
		SpreadBps:       row.SpreadBps,
		VolBps:          row.VolBps,
		Scenario2x2:     row.Scenario2x2,
		FeeTier:         row.FeeTier,
		Session:         row.Session,
		Return1s:        row.Return1s,
	}
	return signal
}
