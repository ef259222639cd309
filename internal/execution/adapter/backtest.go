package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"alpha-core/internal/featuretypes"
)

// BacktestAdapter is an in-process Adapter that accepts every well-formed
// order immediately with no network call, the backtest-mode analogue of
// original_source/executors/execution_adapters.py's DryRunExecutionAdapter.
// It does not itself synthesize fills; Executor.Config.SimulateFills (or,
// for a full cost-model replay, internal/backtest/tradesim) owns that.
type BacktestAdapter struct {
	mu     sync.Mutex
	orders map[string]Order
}

// NewBacktestAdapter creates a BacktestAdapter.
func NewBacktestAdapter() *BacktestAdapter {
	return &BacktestAdapter{orders: make(map[string]Order)}
}

func (a *BacktestAdapter) Kind() string { return "backtest" }

// Submit accepts any order with qty > 0 and a recognized side, mirroring
// DryRunExecutionAdapter's validation.
func (a *BacktestAdapter) Submit(ctx context.Context, order OrderCtx) (ExecResult, error) {
	now := time.Now().UnixMilli()

	if order.Qty <= 0 {
		return ExecResult{}, New(CodeParams, "submit", fmt.Errorf("invalid_quantity"))
	}
	switch order.Side {
	case featuretypes.SideBuy, featuretypes.SideSell:
	default:
		return ExecResult{}, New(CodeParams, "submit", fmt.Errorf("invalid_side"))
	}

	a.mu.Lock()
	a.orders[order.ClientOrderID] = order.Order
	a.mu.Unlock()

	return ExecResult{
		Status:          ExecStatusAccepted,
		ClientOrderID:   order.ClientOrderID,
		ExchangeOrderID: "backtest-" + order.ClientOrderID,
		SentTSMs:        now,
		AckTSMs:         now,
		LatencyMs:       0,
	}, nil
}

func (a *BacktestAdapter) Cancel(ctx context.Context, orderID string) (CancelResult, error) {
	a.mu.Lock()
	_, known := a.orders[orderID]
	delete(a.orders, orderID)
	a.mu.Unlock()

	if !known {
		return CancelResult{Success: false, ClientOrderID: orderID, Reason: "unknown_order"}, nil
	}
	return CancelResult{Success: true, ClientOrderID: orderID, CancelTSMs: time.Now().UnixMilli()}, nil
}

// FetchFills always returns empty: the backtest adapter never produces
// fills itself, those come from Executor's SimulateFills path or
// TradeSimulator.
func (a *BacktestAdapter) FetchFills(ctx context.Context, sinceTSMs int64) ([]Fill, error) {
	return nil, nil
}
