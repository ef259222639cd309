package main

import (
	"context"
	"log"

	"golang.org/x/sync/semaphore"

	"alpha-core/internal/config"
	"alpha-core/internal/execution/adapter"
	"alpha-core/internal/execution/executor"
	"alpha-core/internal/execution/store"
	"alpha-core/internal/feeder"
	"alpha-core/internal/featuretypes"
	"alpha-core/internal/livefeed"
	"alpha-core/internal/signalcore"
	"alpha-core/libs/observability"
)

// symbolWorker drains the feature-row stream, drives it through the Signal
// Core, and submits an order for every confirmed signal. One instance
// serves every symbol in the stream; per-symbol state lives in the Core
// and ActivityTracker it shares (spec.md §5's "per-symbol counters are
// single-writer" invariant holds because rows from one websocket
// connection are processed sequentially here).
type symbolWorker struct {
	cfg   config.Config
	core  *signalcore.Core
	exec  *executor.Executor
	cache *livefeed.PriceBookCache
	qps   *semaphore.Weighted
	store store.Store
}

func (w *symbolWorker) run(ctx context.Context, rows <-chan featuretypes.FeatureRow) error {
	activity := feeder.NewActivityTracker()
	feed := feeder.New(w.core, activity)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case row, ok := <-rows:
			if !ok {
				return nil
			}
			w.handleRow(ctx, feed, row)
		}
	}
}

func (w *symbolWorker) handleRow(ctx context.Context, feed *feeder.Feeder, row featuretypes.FeatureRow) {
	if w.cache != nil {
		if err := w.cache.SetLatest(ctx, row); err != nil {
			observability.LogEvent(ctx, "warn", "price_cache_set_failed", map[string]any{"symbol": row.Symbol, "error": err.Error()})
		}
	}

	sig := feed.Feed(row)
	if !sig.Confirm {
		return
	}

	side, ok := featuretypes.DirectionOf(sig.Score)
	if !ok {
		return
	}

	order := w.buildOrder(sig, side, row.Mid)

	if w.qps != nil {
		if err := w.qps.Acquire(ctx, 1); err != nil {
			return
		}
		defer w.qps.Release(1)
	}

	result, err := w.exec.Submit(ctx, order)
	if err != nil {
		log.Printf("submit failed for %s: %v", order.Symbol, err)
		return
	}

	w.core.SetOpenPosition(order.Symbol, side)

	rec := store.ExecutionRecord{
		Symbol:        order.Symbol,
		SignalID:      sig.SignalID,
		ClientOrderID: order.ClientOrderID,
		Side:          side,
		Qty:           order.Qty,
		Status:        result.Status,
		RejectReason:  result.RejectReason,
		SubmittedTSMs: result.SentTSMs,
		AckTSMs:       result.AckTSMs,
	}
	if err := w.store.Insert(ctx, rec); err != nil && err != store.ErrDuplicate {
		observability.LogEvent(ctx, "error", "execution_record_insert_failed", map[string]any{"symbol": order.Symbol, "error": err.Error()})
	}
}

func (w *symbolWorker) buildOrder(sig featuretypes.Signal, side featuretypes.Side, mid float64) adapter.OrderCtx {
	qty := 0.0
	if mid > 0 {
		qty = w.cfg.Backtest.NotionalPerTrade / mid
	}

	id := clientOrderID(sig.SignalID, sig.TSMs, side, qty, mid)

	order := adapter.Order{
		ClientOrderID: id,
		Symbol:        sig.Symbol,
		Side:          side,
		Qty:           qty,
		OrderType:     adapter.OrderTypeMarket,
		Price:         mid,
		TIF:           adapter.TIFImmediateOrCancel,
		TSMs:          sig.TSMs,
	}

	return adapter.OrderCtx{
		Order:       order,
		EventTSMs:   sig.TSMs,
		SignalRowID: sig.SignalID,
		Regime:      sig.Regime,
		Scenario:    sig.Scenario2x2,
	}
}
