package feeder

import (
	"testing"

	"alpha-core/internal/featuretypes"
)

type stubEvaluator struct {
	signal featuretypes.Signal
}

func (s stubEvaluator) Evaluate(row featuretypes.FeatureRow) featuretypes.Signal {
	sig := s.signal
	sig.Symbol = row.Symbol
	sig.TSMs = row.TSMs
	return sig
}

func TestFeeder_AttachesFeatureData(t *testing.T) {
	f := New(stubEvaluator{signal: featuretypes.Signal{Confirm: true, DecisionCode: featuretypes.DecisionOK}}, nil)

	row := featuretypes.FeatureRow{
		Symbol:      "BTCUSDT",
		TSMs:        1000,
		SpreadBps:   3.5,
		VolBps:      6.0,
		Scenario2x2: featuretypes.ScenarioActiveHighVol,
		Return1s:    12.0,
	}

	sig := f.Feed(row)
	if sig.FeatureData == nil {
		t.Fatal("expected _feature_data to be attached")
	}
	if sig.FeatureData.SpreadBps != 3.5 {
		t.Errorf("spread_bps = %v, want 3.5", sig.FeatureData.SpreadBps)
	}
	if sig.FeatureData.Scenario2x2 != featuretypes.ScenarioActiveHighVol {
		t.Errorf("scenario_2x2 = %v, want A_H", sig.FeatureData.Scenario2x2)
	}
}

func TestActivityTracker_RatesWithinWindow(t *testing.T) {
	tr := NewActivityTracker()
	tr.RecordTrade("BTCUSDT", 0)
	tr.RecordTrade("BTCUSDT", 1000)
	tr.RecordTrade("BTCUSDT", 2000)

	rate := tr.TradeRate("BTCUSDT", 2000)
	if rate != 3 {
		t.Errorf("trade rate = %v, want 3", rate)
	}
}

func TestActivityTracker_EvictsOldEvents(t *testing.T) {
	tr := NewActivityTracker()
	tr.RecordQuote("BTCUSDT", 0)

	rate := tr.QuoteRate("BTCUSDT", 61_000) // 61s later, outside the 60s window
	if rate != 0 {
		t.Errorf("expected rate 0 after window eviction, got %v", rate)
	}
}

func TestNormalizeAliases_FillsFromAlias(t *testing.T) {
	ofi := 1.5
	row := featuretypes.FeatureRow{}
	row = NormalizeAliases(row, &ofi, nil)
	if row.ZOFI != 1.5 {
		t.Errorf("z_ofi = %v, want 1.5", row.ZOFI)
	}
}
