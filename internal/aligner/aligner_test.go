package aligner

import (
	"testing"

	"alpha-core/internal/config"
)

func defaultCfg() config.AlignerConfig {
	return config.AlignerConfig{LagThresholdMs: 5000, SpreadThreshold: 2.0, VolatilityThreshold: 5.0}
}

func TestAlign_BasicRow(t *testing.T) {
	a := New(defaultCfg(), nil)
	a.IngestPrice(PriceEvent{TSMs: 0, Symbol: "BTCUSDT", Price: 100})
	a.IngestBook(BookEvent{TSMs: 0, Symbol: "BTCUSDT", BestBid: 99.9, BestAsk: 100.1})

	rows := a.Align("BTCUSDT", 0)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.Mid != 100 {
		t.Errorf("mid = %v, want 100", row.Mid)
	}
	if row.BestBid > row.Mid || row.Mid > row.BestAsk {
		t.Errorf("invariant best_bid <= mid <= best_ask violated: %+v", row)
	}
	if row.SpreadBps < 0 {
		t.Errorf("spread_bps must be >= 0, got %v", row.SpreadBps)
	}
}

func TestAlign_GapFill_InsertsSyntheticRows(t *testing.T) {
	a := New(defaultCfg(), nil)
	a.IngestPrice(PriceEvent{TSMs: 0, Symbol: "BTCUSDT", Price: 100})
	a.IngestBook(BookEvent{TSMs: 0, Symbol: "BTCUSDT", BestBid: 99.9, BestAsk: 100.1})
	a.Align("BTCUSDT", 0)

	a.IngestPrice(PriceEvent{TSMs: 3000, Symbol: "BTCUSDT", Price: 101})
	a.IngestBook(BookEvent{TSMs: 3000, Symbol: "BTCUSDT", BestBid: 100.9, BestAsk: 101.1})

	rows := a.Align("BTCUSDT", 3)
	if len(rows) != 3 {
		t.Fatalf("expected 2 gap rows + 1 real row = 3, got %d", len(rows))
	}
	if !rows[0].IsGapSecond || !rows[1].IsGapSecond {
		t.Error("expected first two rows to be flagged as gap seconds")
	}
	if rows[2].IsGapSecond {
		t.Error("the real row at second 3 should not be flagged as gap")
	}
	if a.Stats.GapSeconds != 2 {
		t.Errorf("expected GapSeconds=2, got %d", a.Stats.GapSeconds)
	}
}

func TestAlign_Return1s_ComputedAgainstPriorSecond(t *testing.T) {
	a := New(defaultCfg(), nil)
	a.IngestPrice(PriceEvent{TSMs: 0, Symbol: "BTCUSDT", Price: 100})
	a.IngestBook(BookEvent{TSMs: 0, Symbol: "BTCUSDT", BestBid: 99.9, BestAsk: 100.1})
	a.Align("BTCUSDT", 0)

	a.IngestPrice(PriceEvent{TSMs: 1000, Symbol: "BTCUSDT", Price: 101})
	a.IngestBook(BookEvent{TSMs: 1000, Symbol: "BTCUSDT", BestBid: 100.9, BestAsk: 101.1})
	rows := a.Align("BTCUSDT", 1)

	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	want := (101.0 - 100.0) / 100.0 * 10000
	if rows[0].Return1s != want {
		t.Errorf("return_1s = %v, want %v", rows[0].Return1s, want)
	}
}

func TestAlign_MissingDataBeyondMaxLag(t *testing.T) {
	a := New(defaultCfg(), nil)
	rows := a.Align("BTCUSDT", 100)
	if len(rows) != 0 {
		t.Fatalf("expected no row with no ingested data, got %d", len(rows))
	}
	if a.Stats.MissingData != 1 {
		t.Errorf("expected MissingData=1, got %d", a.Stats.MissingData)
	}
}

func TestAlign_ScenarioDerivation(t *testing.T) {
	a := New(defaultCfg(), nil)
	a.IngestPrice(PriceEvent{TSMs: 0, Symbol: "BTCUSDT", Price: 100})
	a.IngestBook(BookEvent{TSMs: 0, Symbol: "BTCUSDT", BestBid: 97, BestAsk: 103}) // wide spread -> active
	rows := a.Align("BTCUSDT", 0)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Scenario2x2 != "A_L" {
		t.Errorf("expected A_L (active, low vol on first row), got %s", rows[0].Scenario2x2)
	}
}
