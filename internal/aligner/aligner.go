// Package aligner consumes per-event price and orderbook streams and
// yields one FeatureRow per second per symbol (spec.md §4.2).
package aligner

import (
	"math"
	"sort"
	"time"

	"alpha-core/internal/config"
	"alpha-core/internal/featuretypes"
	"alpha-core/libs/microstructure"
)

// PriceEvent is one trade/price update.
type PriceEvent struct {
	TSMs        int64
	Symbol      string
	Price       float64
	Consistency float64 // 0 = not reported
}

// BookEvent is one order-book top-of-book update.
type BookEvent struct {
	TSMs        int64
	Symbol      string
	BestBid     float64
	BestAsk     float64
	Consistency float64 // 0 = not reported
}

type secondMid struct {
	second int64
	mid    float64
}

type symbolState struct {
	priceEvents []PriceEvent
	bookEvents  []BookEvent
	history     []secondMid // trimmed to 2 entries
	lastSecond  int64
	hasLast     bool
	lastMidSeen float64
}

// Stats tracks the Aligner's counters across a run.
type Stats struct {
	FallbackUsed int
	MissingData  int
	GapSeconds   int
}

// Aligner converts ingested price/book events into per-second FeatureRows.
type Aligner struct {
	cfg    config.AlignerConfig
	states map[string]*symbolState
	ticks  *microstructure.TickStore
	Stats  Stats
}

// New creates an Aligner with the given config. ticks may be nil; if
// provided, every accepted second also records a Tick for rolling spread
// diagnostics (SPEC_FULL.md §4.2).
func New(cfg config.AlignerConfig, ticks *microstructure.TickStore) *Aligner {
	return &Aligner{cfg: cfg, states: make(map[string]*symbolState), ticks: ticks}
}

func (a *Aligner) state(symbol string) *symbolState {
	s, ok := a.states[symbol]
	if !ok {
		s = &symbolState{}
		a.states[symbol] = s
	}
	return s
}

// IngestPrice records a price event for later alignment.
func (a *Aligner) IngestPrice(ev PriceEvent) {
	s := a.state(ev.Symbol)
	s.priceEvents = append(s.priceEvents, ev)
	trimPriceEvents(s)
}

// IngestBook records a book event for later alignment.
func (a *Aligner) IngestBook(ev BookEvent) {
	s := a.state(ev.Symbol)
	s.bookEvents = append(s.bookEvents, ev)
	trimBookEvents(s)
}

const maxBufferedEvents = 4096

func trimPriceEvents(s *symbolState) {
	if len(s.priceEvents) > maxBufferedEvents {
		s.priceEvents = s.priceEvents[len(s.priceEvents)-maxBufferedEvents:]
	}
}

func trimBookEvents(s *symbolState) {
	if len(s.bookEvents) > maxBufferedEvents {
		s.bookEvents = s.bookEvents[len(s.bookEvents)-maxBufferedEvents:]
	}
}

func latestAtOrBefore(tsMs int64) func(candidateTS int64) bool {
	return func(candidateTS int64) bool { return candidateTS <= tsMs }
}

func freshestPrice(events []PriceEvent, tsMs int64) (PriceEvent, bool) {
	var best PriceEvent
	found := false
	for _, e := range events {
		if e.TSMs <= tsMs && (!found || e.TSMs > best.TSMs) {
			best = e
			found = true
		}
	}
	return best, found
}

func freshestBook(events []BookEvent, tsMs int64) (BookEvent, bool) {
	var best BookEvent
	found := false
	for _, e := range events {
		if e.TSMs <= tsMs && (!found || e.TSMs > best.TSMs) {
			best = e
			found = true
		}
	}
	return best, found
}

// Align computes the FeatureRow for (symbol, second), handling gap-fill for
// any seconds skipped since the symbol's last processed second. The
// returned slice is in chronological order and ends with `second` itself
// (or is empty if second could not be aligned and there was no prior gap).
func (a *Aligner) Align(symbol string, second int64) []featuretypes.FeatureRow {
	s := a.state(symbol)

	var rows []featuretypes.FeatureRow

	if s.hasLast && second > s.lastSecond+1 {
		// Zippered back-fill: synthesize one row per missing second using
		// the previous valid mid, so return_1s stays continuous.
		for missing := s.lastSecond + 1; missing < second; missing++ {
			row, ok := a.buildRow(s, symbol, missing, true)
			if ok {
				rows = append(rows, row)
				a.Stats.GapSeconds++
			}
		}
	}

	row, ok := a.buildRow(s, symbol, second, false)
	if ok {
		rows = append(rows, row)
	}

	s.lastSecond = second
	s.hasLast = true
	return rows
}

func (a *Aligner) buildRow(s *symbolState, symbol string, second int64, isGap bool) (featuretypes.FeatureRow, bool) {
	tsMs := second * 1000

	var mid, bid, ask float64
	var lagPrice, lagBook int64
	var consistency float64
	fellBack := false

	if isGap {
		mid = s.lastMidSeen
		bid, ask = mid, mid
	} else {
		priceEv, priceOK := freshestPrice(s.priceEvents, tsMs)
		bookEv, bookOK := freshestBook(s.bookEvents, tsMs)

		maxLagSec := a.cfg.LagThresholdMs / 1000
		if maxLagSec <= 0 {
			maxLagSec = 5
		}

		if !priceOK || tsMs-priceEv.TSMs > maxLagSec*1000 {
			if !bookOK {
				a.Stats.MissingData++
				return featuretypes.FeatureRow{}, false
			}
		}
		if priceOK && tsMs-priceEv.TSMs > a.cfg.LagThresholdMs {
			fellBack = true
		}

		if priceOK {
			mid = priceEv.Price
			lagPrice = max64(0, tsMs-priceEv.TSMs)
			if priceEv.Consistency != 0 {
				consistency = priceEv.Consistency
			}
		}
		if bookOK {
			bid, ask = bookEv.BestBid, bookEv.BestAsk
			lagBook = max64(0, tsMs-bookEv.TSMs)
			// Open question (spec.md §9): price row wins over orderbook row
			// when both report consistency. Decided in DESIGN.md.
			if consistency == 0 && bookEv.Consistency != 0 {
				consistency = bookEv.Consistency
			}
			if !priceOK {
				mid = (bid + ask) / 2
			}
		} else if priceOK {
			bid, ask = mid, mid
		}

		if !priceOK && !bookOK {
			a.Stats.MissingData++
			return featuretypes.FeatureRow{}, false
		}
		if fellBack {
			a.Stats.FallbackUsed++
		}
	}

	if mid <= 0 || bid <= 0 || ask <= 0 {
		a.Stats.MissingData++
		return featuretypes.FeatureRow{}, false
	}

	spreadBps := 0.0
	if mid != 0 {
		spreadBps = (ask - bid) / mid * 10000
	}

	return1s := 0.0
	if len(s.history) > 0 {
		prev := s.history[len(s.history)-1]
		if prev.mid != 0 {
			return1s = (mid - prev.mid) / prev.mid * 10000
		}
	}
	s.history = append(s.history, secondMid{second: second, mid: mid})
	if len(s.history) > 2 {
		s.history = s.history[len(s.history)-2:]
	}
	s.lastMidSeen = mid

	volBps := math.Abs(return1s)
	isActive := spreadBps > a.cfg.SpreadThreshold
	isHighVol := volBps >= a.cfg.VolatilityThreshold
	scenario := scenarioFor(isActive, isHighVol)

	row := featuretypes.FeatureRow{
		SecondTS:        second,
		TSMs:            tsMs,
		Symbol:          symbol,
		Mid:             mid,
		BestBid:         bid,
		BestAsk:         ask,
		SpreadBps:       spreadBps,
		Return1s:        return1s,
		VolBps:          volBps,
		Consistency:     consistency,
		LagMsPrice:      lagPrice,
		LagMsOrderbook:  lagBook,
		LagBadPrice:     lagPrice > a.cfg.LagThresholdMs,
		LagBadOrderbook: lagBook > a.cfg.LagThresholdMs,
		IsGapSecond:     isGap,
		Scenario2x2:     scenario,
	}

	if a.ticks != nil {
		a.ticks.Record(microstructure.Tick{Symbol: symbol, Bid: bid, Ask: ask, Timestamp: time.UnixMilli(tsMs)})
	}

	return row, true
}

// SpreadStats summarises the rolling spread diagnostics ticks has captured
// for symbol (SPEC_FULL.md §4.2's "cross-check spread_bps against a rolling
// AnalyseSpread summary"). Returns a zero SpreadStats if no ticks sink was
// configured or nothing has been recorded yet.
func (a *Aligner) SpreadStats(symbol string) microstructure.SpreadStats {
	if a.ticks == nil {
		return microstructure.SpreadStats{Symbol: symbol}
	}
	return microstructure.AnalyseSpread(symbol, a.ticks.Recent(symbol, 0))
}

// TrackedSymbols returns every symbol this Aligner holds state for (any
// symbol it has ingested an event for or been asked to align), sorted, so callers can iterate end-of-run diagnostics
// without keeping a parallel symbol list.
func (a *Aligner) TrackedSymbols() []string {
	out := make([]string, 0, len(a.states))
	for symbol := range a.states {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func scenarioFor(isActive, isHighVol bool) featuretypes.Scenario2x2 {
	switch {
	case isActive && isHighVol:
		return featuretypes.ScenarioActiveHighVol
	case isActive && !isHighVol:
		return featuretypes.ScenarioActiveLowVol
	case !isActive && isHighVol:
		return featuretypes.ScenarioQuietHighVol
	default:
		return featuretypes.ScenarioQuietLowVol
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// SortEventsBySymbol orders events by symbol, then by TSMs, for building
// deterministic fixtures; not required by production ingestion paths.
func SortEventsBySymbol(events []PriceEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Symbol != events[j].Symbol {
			return events[i].Symbol < events[j].Symbol
		}
		return events[i].TSMs < events[j].TSMs
	})
}
