package tradesim

import (
	"testing"
	"time"

	"alpha-core/internal/config"
	"alpha-core/internal/featuretypes"
)

type fakeNotifier struct {
	opened map[string]featuretypes.Side
	exited map[string]int64
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{opened: map[string]featuretypes.Side{}, exited: map[string]int64{}}
}
func (f *fakeNotifier) SetOpenPosition(symbol string, side featuretypes.Side) { f.opened[symbol] = side }
func (f *fakeNotifier) RecordExit(symbol string, tsMs int64)                  { f.exited[symbol] = tsMs }

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

func confirmedSignal(symbol string, tsMs int64, st featuretypes.SignalType) featuretypes.Signal {
	return featuretypes.Signal{Symbol: symbol, TSMs: tsMs, Confirm: true, SignalType: st}
}

func TestEntryThenTakeProfit(t *testing.T) {
	notifier := newFakeNotifier()
	sim := New(baseConfig(), time.UTC, notifier)

	entry := sim.ProcessSignal(confirmedSignal("BTCUSDT", 0, featuretypes.SignalBuy), 100.0)
	if entry == nil || entry.Reason != ReasonEntry {
		t.Fatalf("expected entry trade, got %+v", entry)
	}
	if notifier.opened["BTCUSDT"] != featuretypes.SideBuy {
		t.Error("expected SetOpenPosition(buy) to have been called")
	}

	// price advances by more than take_profit_bps (20bps on a 100 mid is +0.2)
	exit := sim.ProcessSignal(confirmedSignal("BTCUSDT", 1000, featuretypes.SignalBuy), 100.25)
	if exit == nil || exit.Reason != ReasonTakeProfit {
		t.Fatalf("expected take_profit exit, got %+v", exit)
	}
	if exit.NetPnL <= 0 {
		t.Errorf("expected positive net pnl, got %v", exit.NetPnL)
	}
	if notifier.exited["BTCUSDT"] != 1000 {
		t.Error("expected RecordExit to fire at the exit timestamp")
	}
}

func TestStopLossBeatsMinHold(t *testing.T) {
	cfg := baseConfig()
	cfg.MinHoldTimeSec = 60
	cfg.StopLossBps = 10
	sim := New(cfg, time.UTC, nil)

	sim.ProcessSignal(confirmedSignal("ETHUSDT", 0, featuretypes.SignalBuy), 100.0)
	// 12bps drop at t=30s, below min_hold_time_sec=60 -- stop-loss must still fire
	exit := sim.ProcessSignal(confirmedSignal("ETHUSDT", 30_000, featuretypes.SignalBuy), 99.88)
	if exit == nil || exit.Reason != ReasonStopLoss {
		t.Fatalf("expected stop_loss exit regardless of min-hold, got %+v", exit)
	}
}

func TestMinHoldSuppressesTakeProfitAndReverse(t *testing.T) {
	cfg := baseConfig()
	cfg.MinHoldTimeSec = 60
	sim := New(cfg, time.UTC, nil)

	sim.ProcessSignal(confirmedSignal("BTCUSDT", 0, featuretypes.SignalBuy), 100.0)
	// TP-worthy move at t=10s, before min_hold_time_sec elapses
	exit := sim.ProcessSignal(confirmedSignal("BTCUSDT", 10_000, featuretypes.SignalBuy), 100.5)
	if exit != nil {
		t.Errorf("expected no exit before min-hold elapses, got %+v", exit)
	}
	// opposite-side signal at t=20s, still inside min-hold: no reverse exit either
	exit = sim.ProcessSignal(confirmedSignal("BTCUSDT", 20_000, featuretypes.SignalSell), 100.5)
	if exit != nil {
		t.Errorf("expected no reverse exit before min-hold elapses, got %+v", exit)
	}
}

func TestReverseOnSignal(t *testing.T) {
	cfg := baseConfig()
	cfg.ReverseOnSignal = true
	cfg.TakeProfitBps = 1000 // disable TP
	cfg.StopLossBps = 1000   // disable SL
	// A wide deadband suppresses checkExit's own TP/reverse-signal paths
	// (spec.md §4.8 step 4), leaving only the reverse_on_signal block in
	// ProcessSignal to react to the opposing signal.
	cfg.DeadbandBps = 1000
	sim := New(cfg, time.UTC, nil)

	sim.ProcessSignal(confirmedSignal("BTCUSDT", 0, featuretypes.SignalBuy), 100.0)
	entry := sim.ProcessSignal(confirmedSignal("BTCUSDT", 1000, featuretypes.SignalSell), 100.0)
	if entry == nil || entry.Reason != ReasonEntry || entry.Side != featuretypes.SideSell {
		t.Fatalf("expected a fresh sell entry after reversal, got %+v", entry)
	}

	trades := sim.Trades()
	if len(trades) != 3 {
		t.Fatalf("expected entry, reverse-exit, re-entry = 3 trades, got %d", len(trades))
	}
	if trades[1].Reason != ReasonReverse {
		t.Errorf("expected middle trade to be the reverse exit, got %+v", trades[1])
	}
}

func TestCloseAllPositionsUsesLastDataTimestampNotNow(t *testing.T) {
	sim := New(baseConfig(), time.UTC, nil)
	sim.ProcessSignal(confirmedSignal("BTCUSDT", 0, featuretypes.SignalBuy), 100.0)

	lastDataTSMs := int64(5_000)
	sim.CloseAllPositions(map[string]float64{"BTCUSDT": 100.1}, lastDataTSMs)

	trades := sim.Trades()
	exit := trades[len(trades)-1]
	if exit.Reason != ReasonRolloverClose {
		t.Errorf("expected rollover_close, got %v", exit.Reason)
	}
	if exit.TSMs != lastDataTSMs {
		t.Errorf("expected technical close stamped at last data ts %d, got %d", lastDataTSMs, exit.TSMs)
	}
}

func TestBusinessDateMonotonicWithRolloverHour(t *testing.T) {
	loc := time.UTC
	d1 := bizDate(0, loc, 8)                    // 1970-01-01T00:00 shifted by -8h -> 1969-12-31
	d2 := bizDate(8*3600_000, loc, 8)            // 1970-01-01T08:00 -> rolls into 1970-01-01
	d3 := bizDate(8*3600_000-1000, loc, 8)       // one second before rollover -> still prior day
	if d1 >= d2 {
		t.Errorf("expected %s < %s", d1, d2)
	}
	if d3 != d1 {
		t.Errorf("expected %s == %s (still before rollover hour)", d3, d1)
	}
}

func TestEntryQtyEqualsExitQtyAfterFullClose(t *testing.T) {
	sim := New(baseConfig(), time.UTC, nil)
	sim.ProcessSignal(confirmedSignal("BTCUSDT", 0, featuretypes.SignalBuy), 100.0)
	sim.CloseAllPositions(map[string]float64{"BTCUSDT": 100.0}, 1000)

	var entryQty, exitQty float64
	for _, tr := range sim.Trades() {
		if tr.Reason == ReasonEntry {
			entryQty += tr.Qty
		} else {
			exitQty += tr.Qty
		}
	}
	if entryQty != exitQty {
		t.Errorf("entry qty %v != exit qty %v", entryQty, exitQty)
	}
}

func TestUnconfirmedSignalNeverTrades(t *testing.T) {
	sim := New(baseConfig(), time.UTC, nil)
	sig := confirmedSignal("BTCUSDT", 0, featuretypes.SignalBuy)
	sig.Confirm = false
	if trade := sim.ProcessSignal(sig, 100.0); trade != nil {
		t.Errorf("expected no trade for an unconfirmed signal, got %+v", trade)
	}
}

func TestMakerTakerFeeModelProducesMakerProbability(t *testing.T) {
	cfg := baseConfig()
	cfg.FeeModel = "maker_taker"
	sim := New(cfg, time.UTC, nil)

	fd := &featuretypes.FeatureData{Scenario2x2: featuretypes.ScenarioActiveLowVol, SpreadBps: 0.5}
	feeBps, prob := sim.feeBps(fd, featuretypes.SideBuy)
	if prob <= 0 || prob > 1 {
		t.Errorf("expected maker probability in (0,1], got %v", prob)
	}
	if feeBps <= 0 {
		t.Errorf("expected a positive fee, got %v", feeBps)
	}
}
