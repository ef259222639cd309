package main

import (
	"sort"

	"alpha-core/internal/aligner"
	"alpha-core/internal/reader"
)

// ingest feeds every raw price/orderbook row into al and returns, per
// symbol, the sorted distinct set of epoch seconds spanned by either
// stream. The caller drives al.Align(symbol, second) over that list in
// order, which is what produces FeatureRows (spec.md §4.2).
func ingest(al *aligner.Aligner, priceRows, bookRows []reader.Row) map[string][]int64 {
	seconds := map[string]map[int64]bool{}
	mark := func(symbol string, tsMs int64) {
		set, ok := seconds[symbol]
		if !ok {
			set = map[int64]bool{}
			seconds[symbol] = set
		}
		set[tsMs/1000] = true
	}

	for _, row := range priceRows {
		ev, ok := toPriceEvent(row)
		if !ok {
			continue
		}
		al.IngestPrice(ev)
		mark(ev.Symbol, ev.TSMs)
	}
	for _, row := range bookRows {
		ev, ok := toBookEvent(row)
		if !ok {
			continue
		}
		al.IngestBook(ev)
		mark(ev.Symbol, ev.TSMs)
	}

	out := make(map[string][]int64, len(seconds))
	for symbol, set := range seconds {
		list := make([]int64, 0, len(set))
		for second := range set {
			list = append(list, second)
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		out[symbol] = list
	}
	return out
}

func toPriceEvent(row reader.Row) (aligner.PriceEvent, bool) {
	tsMs, ok := asInt64(row.Fields["ts_ms"])
	if !ok {
		return aligner.PriceEvent{}, false
	}
	price, ok := firstFloat(row.Fields, "mid", "price")
	if !ok {
		return aligner.PriceEvent{}, false
	}
	consistency, _ := firstFloat(row.Fields, "consistency")
	return aligner.PriceEvent{
		TSMs: tsMs, Symbol: row.Symbol, Price: price, Consistency: consistency,
	}, true
}

func toBookEvent(row reader.Row) (aligner.BookEvent, bool) {
	tsMs, ok := asInt64(row.Fields["ts_ms"])
	if !ok {
		return aligner.BookEvent{}, false
	}

	bid, bidOK := firstFloat(row.Fields, "best_bid")
	ask, askOK := firstFloat(row.Fields, "best_ask")
	if !bidOK || !askOK {
		bid, bidOK = bestOfSide(row.Fields["bids"])
		ask, askOK = bestOfSide(row.Fields["asks"])
	}
	if !bidOK || !askOK {
		return aligner.BookEvent{}, false
	}

	consistency, _ := firstFloat(row.Fields, "consistency")
	return aligner.BookEvent{
		TSMs: tsMs, Symbol: row.Symbol, BestBid: bid, BestAsk: ask, Consistency: consistency,
	}, true
}

// bestOfSide reads the top-of-book price from a raw `bids`/`asks` level
// array of `[price, qty]` pairs, the fallback format spec.md §4.2
// documents for rows that do not carry explicit best_bid/best_ask fields.
func bestOfSide(raw any) (float64, bool) {
	levels, ok := raw.([]any)
	if !ok || len(levels) == 0 {
		return 0, false
	}
	level, ok := levels[0].([]any)
	if !ok || len(level) == 0 {
		return 0, false
	}
	return asFloat(level[0])
}

func firstFloat(fields map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := asFloat(fields[k]); ok {
			return v, true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	f, ok := asFloat(v)
	if !ok {
		return 0, false
	}
	return int64(f), true
}
