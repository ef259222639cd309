package signalcore

import (
	"testing"

	"alpha-core/internal/config"
	"alpha-core/internal/featuretypes"
)

type recordingSink struct {
	signals []featuretypes.Signal
}

func (r *recordingSink) Write(sig featuretypes.Signal) error {
	r.signals = append(r.signals, sig)
	return nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Core.Threshold = config.ThresholdEntryConfig{Trend: 1.0, Revert: 0.6, Quiet: 0.8}
	cfg.Core.Regime = config.RegimeConfig{Zt: 1.0, Zr: 0.5}
	cfg.Core.AllowQuiet = true
	cfg.Fusion.WOFI = 1.0
	cfg.Fusion.WCVD = 0.0
	cfg.Signal.WeakSignalThreshold = 0.2
	cfg.Signal.ConsistencyMin = 0.3
	cfg.Signal.MinConsecutiveSameDir = 1
	cfg.Core.CooldownMs = 500
	return cfg
}

func strongRow(symbol string, tsMs int64, zOFI float64) featuretypes.FeatureRow {
	return featuretypes.FeatureRow{
		Symbol:      symbol,
		TSMs:        tsMs,
		ZOFI:        zOFI,
		Consistency: 0.9,
		SpreadBps:   1.0,
		Scenario2x2: featuretypes.ScenarioActiveHighVol,
	}
}

func TestEvaluate_ConfirmsStrongSignal(t *testing.T) {
	c := New(testConfig(), "run1")
	sig := c.Evaluate(strongRow("BTCUSDT", 0, 2.0))

	if !sig.Confirm {
		t.Fatalf("expected confirm=true, got decision=%s reason=%s", sig.DecisionCode, sig.GateReason)
	}
	if sig.DecisionCode != featuretypes.DecisionOK {
		t.Errorf("decision_code = %s, want OK", sig.DecisionCode)
	}
	if sig.Gating != 1 {
		t.Errorf("gating = %d, want 1", sig.Gating)
	}
	if sig.ConfigHash == "" {
		t.Error("expected non-empty config_hash")
	}
}

func TestEvaluate_WarmupFailsFirst(t *testing.T) {
	c := New(testConfig(), "run1")
	row := strongRow("BTCUSDT", 0, 2.0)
	row.Warmup = true

	sig := c.Evaluate(row)
	if sig.DecisionCode != featuretypes.DecisionFailWarmup {
		t.Errorf("decision_code = %s, want FAIL_WARMUP", sig.DecisionCode)
	}
	if sig.Confirm {
		t.Error("warmup row must never confirm")
	}
}

func TestEvaluate_LowConsistencyGated(t *testing.T) {
	c := New(testConfig(), "run1")
	row := strongRow("BTCUSDT", 0, 2.0)
	row.Consistency = 0.1

	sig := c.Evaluate(row)
	if sig.DecisionCode != featuretypes.DecisionFailGating {
		t.Errorf("decision_code = %s, want FAIL_GATING", sig.DecisionCode)
	}
	if sig.GateReason != featuretypes.GateLowConsistency {
		t.Errorf("gate_reason = %s, want low_consistency", sig.GateReason)
	}
}

func TestEvaluate_WeakScoreFailsThreshold(t *testing.T) {
	c := New(testConfig(), "run1")
	sig := c.Evaluate(strongRow("BTCUSDT", 0, 0.05))
	if sig.DecisionCode != featuretypes.DecisionFailThreshold {
		t.Errorf("decision_code = %s, want FAIL_THRESHOLD", sig.DecisionCode)
	}
}

func TestEvaluate_CooldownBlocksRapidReentry(t *testing.T) {
	c := New(testConfig(), "run1")
	first := c.Evaluate(strongRow("BTCUSDT", 0, 2.0))
	if !first.Confirm {
		t.Fatalf("expected first signal to confirm, got %s", first.DecisionCode)
	}

	second := c.Evaluate(strongRow("BTCUSDT", 100, 2.0))
	if second.DecisionCode != featuretypes.DecisionFailCooldown {
		t.Errorf("decision_code = %s, want FAIL_COOLDOWN", second.DecisionCode)
	}
}

func TestEvaluate_DedupBlocksIdenticalSecond(t *testing.T) {
	cfg := testConfig()
	cfg.Core.CooldownMs = 0
	c := New(cfg, "run1")

	first := c.Evaluate(strongRow("BTCUSDT", 0, 2.0))
	if !first.Confirm {
		t.Fatalf("expected first signal to confirm, got %s", first.DecisionCode)
	}

	// Re-evaluating the exact same row (e.g. replay) must land on dedup,
	// not re-confirm a second trade at the same (symbol, ts_ms, score).
	c.lastConfirmedTSMs["BTCUSDT"] = -1_000_000 // bypass cooldown to isolate dedup
	second := c.Evaluate(strongRow("BTCUSDT", 0, 2.0))
	if second.DecisionCode != featuretypes.DecisionFailDedup {
		t.Errorf("decision_code = %s, want FAIL_DEDUP", second.DecisionCode)
	}
}

func TestEvaluate_WritesToSink(t *testing.T) {
	sink := &recordingSink{}
	c := New(testConfig(), "run1", sink)
	c.Evaluate(strongRow("BTCUSDT", 0, 2.0))

	if len(sink.signals) != 1 {
		t.Fatalf("expected 1 signal written to sink, got %d", len(sink.signals))
	}
}

func TestEvaluate_AntiFlipBlocksImmediateReversal(t *testing.T) {
	cfg := testConfig()
	cfg.Core.CooldownMs = 0
	cfg.Signal.MinConsecutiveSameDir = 3
	c := New(cfg, "run1")
	c.SetOpenPosition("BTCUSDT", featuretypes.SideBuy)

	sig := c.Evaluate(strongRow("BTCUSDT", 0, -2.0))
	if sig.DecisionCode != featuretypes.DecisionFailAntiFlip {
		t.Errorf("decision_code = %s, want FAIL_ANTIFLIP", sig.DecisionCode)
	}
}

func TestRecordExit_ArmsCooldown(t *testing.T) {
	c := New(testConfig(), "run1")
	c.RecordExit("BTCUSDT", 0)

	sig := c.Evaluate(strongRow("BTCUSDT", 1000, 2.0)) // 1s after exit, cooldown_after_exit_sec=30
	if sig.DecisionCode != featuretypes.DecisionFailCooldown {
		t.Errorf("decision_code = %s, want FAIL_COOLDOWN (post-exit)", sig.DecisionCode)
	}
}
