package adapter

import (
	"context"
	"testing"

	"alpha-core/internal/featuretypes"
)

func TestBacktestAdapter_SubmitAccepts(t *testing.T) {
	a := NewBacktestAdapter()
	res, err := a.Submit(context.Background(), OrderCtx{
		Order: Order{ClientOrderID: "cid-1", Symbol: "BTCUSDT", Side: featuretypes.SideBuy, Qty: 1},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Status != ExecStatusAccepted {
		t.Errorf("status = %v, want accepted", res.Status)
	}
	if res.ExchangeOrderID == "" {
		t.Error("expected a synthesized exchange order id")
	}
}

func TestBacktestAdapter_RejectsInvalidQty(t *testing.T) {
	a := NewBacktestAdapter()
	_, err := a.Submit(context.Background(), OrderCtx{
		Order: Order{ClientOrderID: "cid-2", Symbol: "BTCUSDT", Side: featuretypes.SideBuy, Qty: 0},
	})
	if err == nil {
		t.Fatal("expected an error for non-positive qty")
	}
	if CodeOf(err) != CodeParams {
		t.Errorf("expected CodeParams, got %v", CodeOf(err))
	}
}

func TestBacktestAdapter_CancelUnknownOrder(t *testing.T) {
	a := NewBacktestAdapter()
	res, err := a.Cancel(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if res.Success {
		t.Error("expected cancel of unknown order to fail")
	}
}

func TestBacktestAdapter_CancelKnownOrder(t *testing.T) {
	a := NewBacktestAdapter()
	ctx := context.Background()
	order := OrderCtx{Order: Order{ClientOrderID: "cid-3", Symbol: "ETHUSDT", Side: featuretypes.SideSell, Qty: 2}}
	if _, err := a.Submit(ctx, order); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	res, err := a.Cancel(ctx, "cid-3")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !res.Success {
		t.Error("expected cancel of known order to succeed")
	}
}
