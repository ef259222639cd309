package executor

import (
	"context"
	"testing"

	"alpha-core/internal/execution/adapter"
)

func newShadowExecutor(t *testing.T) *Executor {
	t.Helper()
	adp := adapter.NewBacktestAdapter()
	sink := newTestSink(t)
	return New(ModeTestnet, adp, sink, Config{})
}

func TestShadowExecutor_MatchingResultsYieldFullParity(t *testing.T) {
	main := newShadowExecutor(t)
	shadowExec := NewShadowExecutor(newShadowExecutor(t), true)

	order := testOrder("cid-shadow-1")
	mainResult, err := main.Submit(context.Background(), order)
	if err != nil {
		t.Fatalf("main Submit: %v", err)
	}

	comparison := shadowExec.ExecuteShadow(context.Background(), order, mainResult)
	if comparison.StatusPar == nil || *comparison.StatusPar != 1.0 {
		t.Errorf("expected status parity 1.0, got %v", comparison.StatusPar)
	}
	if ratio := shadowExec.GetParityRatio(); ratio != 1.0 {
		t.Errorf("parity ratio = %v, want 1.0", ratio)
	}
}

func TestShadowExecutor_DisabledSkipsComparison(t *testing.T) {
	shadowExec := NewShadowExecutor(newShadowExecutor(t), false)
	comparison := shadowExec.ExecuteShadow(context.Background(), testOrder("cid-shadow-2"), adapter.ExecResult{Status: adapter.ExecStatusAccepted})
	if comparison.ShadowResult != nil {
		t.Error("expected no shadow result when disabled")
	}
}

func TestShadowExecutorWrapper_SubmitReturnsMainResult(t *testing.T) {
	main := newShadowExecutor(t)
	shadowExec := NewShadowExecutor(newShadowExecutor(t), true)
	wrapper := NewShadowExecutorWrapper(main, shadowExec)

	var alerted bool
	wrapper.OnLowParity(func(ratio float64, mainRes, shadowRes adapter.ExecResult) { alerted = true })

	res, err := wrapper.Submit(context.Background(), testOrder("cid-shadow-3"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Status != adapter.ExecStatusAccepted {
		t.Errorf("status = %v, want accepted", res.Status)
	}
	if alerted {
		t.Error("did not expect a low-parity alert for matching results")
	}

	count, _, _, _, ratio, ok := wrapper.ShadowStats()
	if !ok {
		t.Fatal("expected shadow stats to be available")
	}
	if count != 1 || ratio != 1.0 {
		t.Errorf("unexpected shadow stats: count=%d ratio=%v", count, ratio)
	}
}
