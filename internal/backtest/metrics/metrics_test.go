package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"alpha-core/internal/backtest/tradesim"
	"alpha-core/internal/config"
	"alpha-core/internal/featuretypes"
)

func confirmedSignal(symbol string, tsMs int64, st featuretypes.SignalType, scenario featuretypes.Scenario2x2, session string) featuretypes.Signal {
	return featuretypes.Signal{
		Symbol: symbol, TSMs: tsMs, Confirm: true, SignalType: st,
		FeatureData: &featuretypes.FeatureData{Scenario2x2: scenario, Session: session},
	}
}

func baseConfig() config.BacktestConfig {
	return config.BacktestConfig{
		TakerFeeBps:      2.0,
		SlippageBps:      1.0,
		NotionalPerTrade: 1000,
		TakeProfitBps:    20,
		StopLossBps:      10,
		SlippageModel:    "static",
		FeeModel:         "taker_static",
		RolloverTimezone: "UTC",
	}
}

func TestComputeEmptyRunYieldsZeroValuedMetrics(t *testing.T) {
	sim := tradesim.New(baseConfig(), time.UTC, nil)
	m := Compute("run-1", sim.Trades(), sim.DailyPnLRows(), sim.Stats(), 1000, nil, nil)

	if m.Totals.Trades != 0 || m.Totals.NetPnL != 0 {
		t.Errorf("expected zero totals for an empty run, got %+v", m.Totals)
	}
	if m.BySymbol == nil || len(m.BySymbol) != 0 {
		t.Errorf("expected a non-nil, empty by_symbol map, got %+v", m.BySymbol)
	}
	if m.ScenarioBreakdown != nil {
		t.Errorf("expected no scenario breakdown rows, got %+v", m.ScenarioBreakdown)
	}
}

func TestComputeSingleWinningTrade(t *testing.T) {
	sim := tradesim.New(baseConfig(), time.UTC, nil)
	sim.ProcessSignal(confirmedSignal("BTCUSDT", 0, featuretypes.SignalBuy, featuretypes.ScenarioActiveHighVol, "ny"), 100.0)
	sim.ProcessSignal(confirmedSignal("BTCUSDT", 1000, featuretypes.SignalBuy, featuretypes.ScenarioActiveHighVol, "ny"), 100.25)

	m := Compute("run-2", sim.Trades(), sim.DailyPnLRows(), sim.Stats(), 1000, nil, nil)

	if m.Totals.Trades != 1 {
		t.Fatalf("expected 1 completed trade, got %d", m.Totals.Trades)
	}
	if m.Totals.NetPnL <= 0 {
		t.Errorf("expected positive net pnl, got %v", m.Totals.NetPnL)
	}
	if m.WinRates.PerTrade != 1.0 {
		t.Errorf("expected per-trade win rate 1.0, got %v", m.WinRates.PerTrade)
	}
	if len(m.ScenarioBreakdown) != 1 {
		t.Fatalf("expected one scenario bucket, got %d", len(m.ScenarioBreakdown))
	}
	bucket := m.ScenarioBreakdown[0]
	if bucket.Scenario != featuretypes.ScenarioActiveHighVol || bucket.Session != "ny" {
		t.Errorf("unexpected scenario bucket key: %+v", bucket)
	}
	if bucket.Wins != 1 || bucket.Trades != 1 {
		t.Errorf("expected one winning trade in the bucket, got %+v", bucket)
	}
	sym, ok := m.BySymbol["BTCUSDT"]
	if !ok {
		t.Fatalf("expected a BTCUSDT by_symbol bucket, got %+v", m.BySymbol)
	}
	if sym.Trades != 1 || sym.WinRate != 1.0 {
		t.Errorf("unexpected by_symbol bucket: %+v", sym)
	}
	if m.HoldTimeLong.Count != 1 {
		t.Errorf("expected one long hold-time sample, got %+v", m.HoldTimeLong)
	}
	if m.CostBpsOnTurnover <= 0 {
		t.Errorf("expected positive cost_bps_on_turnover, got %v", m.CostBpsOnTurnover)
	}
}

func TestDailyWinRateCountsWinningDays(t *testing.T) {
	daily := []tradesim.DailyPnL{
		{Date: "2026-01-01", Symbol: "BTCUSDT", Trades: 3, NetPnL: 10},
		{Date: "2026-01-02", Symbol: "BTCUSDT", Trades: 2, NetPnL: -5},
		{Date: "2026-01-03", Symbol: "BTCUSDT", Trades: 0, NetPnL: 0},
	}
	if got := dailyWinRate(daily); got != 0.5 {
		t.Errorf("expected 0.5 daily win rate (1 winning day of 2 active), got %v", got)
	}
}

func TestPushNoOpWithEmptyBaseURL(t *testing.T) {
	e := NewExporter("")
	if err := e.Push(context.Background(), Metrics{}, "BTCUSDT", "ny"); err != nil {
		t.Errorf("expected no-op push to succeed, got %v", err)
	}
}

func TestPushPostsExpositionFormat(t *testing.T) {
	var gotBody string
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := NewExporter(srv.URL)
	m := Metrics{RunID: "run-3", Totals: Totals{NetPnL: 42}}
	if err := e.Push(context.Background(), m, "BTCUSDT", "ny"); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if gotPath == "" {
		t.Fatal("expected the pushgateway to receive a request")
	}
	if !strings.Contains(gotBody, `run_id="run-3"`) || !strings.Contains(gotBody, "alpha_core_net_pnl") {
		t.Errorf("expected exposition body to contain run_id and metric name, got %q", gotBody)
	}
}
