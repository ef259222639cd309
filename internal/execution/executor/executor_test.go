package executor

import (
	"context"
	"testing"

	"alpha-core/internal/execution/adapter"
	"alpha-core/internal/execution/execlog"
	"alpha-core/internal/featuretypes"
)

func newTestSink(t *testing.T) *execlog.Sink {
	t.Helper()
	dir := t.TempDir()
	sink, err := execlog.New(dir, 10, execlog.SamplePolicy{SampleRate: 1.0, Rand: func() float64 { return 0 }})
	if err != nil {
		t.Fatalf("execlog.New: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func testOrder(clientOrderID string) adapter.OrderCtx {
	return adapter.OrderCtx{
		Order: adapter.Order{
			ClientOrderID: clientOrderID, Symbol: "BTCUSDT",
			Side: featuretypes.SideBuy, Qty: 1, Price: 100,
		},
	}
}

func TestExecutor_SubmitAccepted(t *testing.T) {
	adp := adapter.NewBacktestAdapter()
	sink := newTestSink(t)
	ex := New(ModeBacktest, adp, sink, Config{})

	res, err := ex.Submit(context.Background(), testOrder("cid-1"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Status != adapter.ExecStatusAccepted {
		t.Errorf("status = %v, want accepted", res.Status)
	}
}

func TestExecutor_PrecheckRejectsWarmup(t *testing.T) {
	adp := adapter.NewBacktestAdapter()
	sink := newTestSink(t)
	precheck := NewPrecheck(DefaultPrecheckConfig())
	ex := New(ModeBacktest, adp, sink, Config{Precheck: precheck})

	order := testOrder("cid-2")
	order.Warmup = true
	res, err := ex.Submit(context.Background(), order)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Status != adapter.ExecStatusRejected || res.RejectReason != "warmup" {
		t.Errorf("expected warmup rejection, got %+v", res)
	}
}

func TestExecutor_IdempotencyReturnsCachedResult(t *testing.T) {
	adp := adapter.NewBacktestAdapter()
	sink := newTestSink(t)
	tracker := NewIdempotencyTracker(10)
	ex := New(ModeBacktest, adp, sink, Config{Idempotency: tracker})

	order := testOrder("cid-3")
	first, err := ex.Submit(context.Background(), order)
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	second, err := ex.Submit(context.Background(), order)
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if second.ExchangeOrderID != first.ExchangeOrderID {
		t.Errorf("expected replayed submit to return the cached result, got %+v vs %+v", first, second)
	}
}

func TestExecutor_SimulateFillsUpdatesPosition(t *testing.T) {
	adp := adapter.NewBacktestAdapter()
	sink := newTestSink(t)
	ex := New(ModeBacktest, adp, sink, Config{SimulateFills: true, SlippageBps: 1, FeeBps: 1})

	_, err := ex.Submit(context.Background(), testOrder("cid-4"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := ex.GetPosition("BTCUSDT"); got != 1 {
		t.Errorf("position = %v, want 1", got)
	}
}

func TestExecutor_CancelRefusesFilledOrder(t *testing.T) {
	adp := adapter.NewBacktestAdapter()
	sink := newTestSink(t)
	ex := New(ModeBacktest, adp, sink, Config{SimulateFills: true})

	order := testOrder("cid-5")
	if _, err := ex.Submit(context.Background(), order); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := ex.Cancel(context.Background(), "cid-5"); err == nil {
		t.Error("expected Cancel to refuse a filled order")
	}
}
